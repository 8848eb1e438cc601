package meeting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhealth/bedside/internal/extractor"
	"github.com/meridianhealth/bedside/internal/planner"
)

// Planner is the external planning service: plan generation, contextual
// reactive replies, final summarization.
type Planner interface {
	GeneratePlan(ctx context.Context, patientID string, questions []extractor.DischargeQuestion) ([]extractor.ConversationStep, error)
	React(ctx context.Context, patientID string, transcript []extractor.ConversationMessage, lastPatientMessage, contextStep string) (planner.Reaction, error)
	Summarize(ctx context.Context, patientID string, transcript []extractor.ConversationMessage, questions []extractor.DischargeQuestion) (planner.Summary, error)
}

// Voice is the speech I/O coordinator surface the runner drives.
type Voice interface {
	Speak(ctx context.Context, text string) error
	Speaking() bool
	Stop()
}

// Recorder is the persistence collaborator. All calls are best-effort; the
// conversation never blocks on storage.
type Recorder interface {
	UpsertPartialAnswers(ctx context.Context, patientID string, answers map[string]string) error
	SaveCompletedMeeting(ctx context.Context, patientID string, transcript []extractor.ConversationMessage, summary string, answers map[string]string) (uuid.UUID, error)
}

// Broadcaster mirrors bot utterances to the patient-facing view.
type Broadcaster interface {
	BotMessage(text string)
}

// Runner drives one patient's discharge meeting: a linear walk through the
// generated plan, pausing on question steps until the patient answers.
//
// All conversation state (transcript, cursor, answers) is owned and mutated
// exclusively by the runner under its mutex; collaborators communicate
// through the Voice flag and Broadcaster signals, and callers receive copies
// via Snapshot. Every asynchronous continuation re-checks the meeting
// generation before touching state, so results that arrive after the meeting
// moved on are dropped.
type Runner struct {
	patientID    string
	planner      Planner
	voice        Voice
	recorder     Recorder
	broadcast    Broadcaster
	advanceDelay time.Duration
	logger       *slog.Logger

	mu               sync.Mutex
	status           Status
	gen              uint64
	questions        []extractor.DischargeQuestion
	plan             []extractor.ConversationStep
	transcript       []extractor.ConversationMessage
	answers          map[string]string
	stepIndex        int
	waitingForAnswer bool
	advancing        bool
	summary          string
}

func NewRunner(patientID string, pl Planner, voice Voice, rec Recorder, bcast Broadcaster, advanceDelay time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		patientID:    patientID,
		planner:      pl,
		voice:        voice,
		recorder:     rec,
		broadcast:    bcast,
		advanceDelay: advanceDelay,
		logger:       logger.With("patient_id", patientID),
		status:       StatusNotStarted,
		answers:      make(map[string]string),
		stepIndex:    -1,
	}
}

// SetQuestions replaces the question list. Legal only before the meeting
// starts; once in progress the questions are frozen.
func (r *Runner) SetQuestions(questions []extractor.DischargeQuestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusInProgress {
		return fmt.Errorf("questions are frozen while the meeting is in progress")
	}
	r.questions = append([]extractor.DischargeQuestion(nil), questions...)
	return nil
}

// Start fetches a conversation plan and begins the walk. From not-started it
// starts the configured meeting; from completed it starts a fresh meeting
// with a new plan fetch, discarding the previous transcript and answers.
// Starting an in-progress meeting is rejected.
func (r *Runner) Start() error {
	ctx := context.Background()

	r.mu.Lock()
	if r.status == StatusInProgress {
		r.mu.Unlock()
		return fmt.Errorf("meeting already in progress")
	}
	r.gen++
	gen := r.gen
	r.status = StatusInProgress
	r.plan = nil
	r.transcript = nil
	r.answers = make(map[string]string)
	r.summary = ""
	r.stepIndex = -1
	r.waitingForAnswer = false
	r.advancing = true
	for i := range r.questions {
		r.questions[i].Answered = false
		r.questions[i].Answer = ""
	}
	questions := append([]extractor.DischargeQuestion(nil), r.questions...)
	r.mu.Unlock()

	plan, err := r.planner.GeneratePlan(ctx, r.patientID, questions)

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		// Recoverable: surface the failure and let the user retry.
		r.appendLocked(extractor.SpeakerSystem, fmt.Sprintf("Could not start the meeting: %v", err), "")
		r.status = StatusNotStarted
		r.advancing = false
		r.mu.Unlock()
		r.logger.Error("plan generation failed", "error", err)
		return fmt.Errorf("start meeting: %w", err)
	}
	r.plan = plan
	r.mu.Unlock()

	r.logger.Info("meeting started", "steps", len(plan), "questions", len(questions))
	go r.advanceTo(ctx, 0, gen)
	return nil
}

// PatientMessage feeds one recognized patient utterance into the meeting.
// Utterances arriving while the bot is speaking (or inside the echo-tail
// grace window) are discarded before they touch any state.
func (r *Runner) PatientMessage(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if r.voice.Speaking() {
		r.logger.Info("discarding patient utterance while speaking", "length", len(text))
		return
	}

	ctx := context.Background()

	r.mu.Lock()
	if r.status != StatusInProgress {
		r.mu.Unlock()
		r.logger.Info("ignoring patient utterance outside an active meeting")
		return
	}
	gen := r.gen
	r.appendLocked(extractor.SpeakerPatient, text, "")

	matches := extractor.Extract(r.transcript, r.questions, r.answers, text)
	availability := ""
	for _, m := range matches {
		r.answers[m.QuestionID] = m.Answer
		for i := range r.questions {
			if r.questions[i].ID == m.QuestionID {
				r.questions[i].Answered = true
				r.questions[i].Answer = m.Answer
			}
		}
		if m.Availability {
			availability = m.Answer
		}
	}

	shouldAdvance := r.waitingForAnswer && !r.advancing
	var contextStep string
	if shouldAdvance {
		r.waitingForAnswer = false
		r.advancing = true
		contextStep = r.plan[r.stepIndex].Content
	}
	transcript := r.transcriptCopyLocked()
	r.mu.Unlock()

	if availability != "" {
		r.upsertAvailability(ctx, availability)
	}
	if !shouldAdvance {
		return
	}
	r.reactAndAdvance(ctx, gen, transcript, text, contextStep)
}

// reactAndAdvance runs the contextual-reaction sub-step for an answered
// question and then advances, unless the reaction asks to keep waiting.
func (r *Runner) reactAndAdvance(ctx context.Context, gen uint64, transcript []extractor.ConversationMessage, lastMessage, contextStep string) {
	reaction, err := r.planner.React(ctx, r.patientID, transcript, lastMessage, contextStep)
	if err != nil {
		// Best-effort enrichment: advance without the reply.
		r.logger.Warn("reactive reply failed, advancing", "error", err)
		r.advanceFromCurrent(ctx, gen)
		return
	}

	reply := strings.TrimSpace(reaction.Reply)
	if !reaction.FollowUpNeeded {
		// The reply is an acknowledgment, not a new question; strip a
		// trailing question mark so the step classifier cannot mistake
		// it for one.
		reply = stripTrailingQuestion(reply)
	}

	if reply != "" {
		r.mu.Lock()
		if gen != r.gen || r.status != StatusInProgress {
			r.mu.Unlock()
			return
		}
		r.appendLocked(extractor.SpeakerBot, reply, "")
		r.mu.Unlock()

		r.broadcast.BotMessage(reply)
		if err := r.voice.Speak(ctx, reply); err != nil {
			return
		}
	}

	if reaction.FollowUpNeeded {
		// The question still needs an answer; stay on this step.
		r.mu.Lock()
		if gen == r.gen && r.status == StatusInProgress {
			r.waitingForAnswer = true
			r.advancing = false
		}
		r.mu.Unlock()
		return
	}
	r.advanceFromCurrent(ctx, gen)
}

func (r *Runner) advanceFromCurrent(ctx context.Context, gen uint64) {
	r.mu.Lock()
	next := r.stepIndex + 1
	r.mu.Unlock()
	r.advanceTo(ctx, next, gen)
}

// advanceTo emits plan step index: transcript append, then broadcast, then
// playback, in that order. Statement steps chain into the next step after a
// short delay; question steps leave the runner awaiting an answer.
func (r *Runner) advanceTo(ctx context.Context, index int, gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.status != StatusInProgress {
		r.mu.Unlock()
		return
	}
	if index >= len(r.plan) {
		// Out of steps. The meeting stays open until someone completes
		// it; running out of plan is not completion.
		r.advancing = false
		r.mu.Unlock()
		r.logger.Info("plan exhausted, awaiting explicit completion", "steps", len(r.plan))
		return
	}
	if index != r.stepIndex+1 {
		// Stale or duplicate advancement request.
		r.mu.Unlock()
		return
	}
	r.stepIndex = index
	step := r.plan[index]
	isQuestion := stepRequiresAnswer(step)
	if isQuestion {
		r.waitingForAnswer = true
		r.advancing = false
	} else {
		r.advancing = true
	}
	r.appendLocked(extractor.SpeakerBot, step.Content, step.QuestionID)
	r.mu.Unlock()

	r.broadcast.BotMessage(step.Content)
	if err := r.voice.Speak(ctx, step.Content); err != nil {
		return
	}
	if isQuestion {
		return
	}

	// Brief pause between statements so consecutive steps don't stutter
	// into each other. Perceptual, not a correctness mechanism.
	time.Sleep(r.advanceDelay)
	r.advanceTo(ctx, index+1, gen)
}

// Complete ends the meeting and requests the final summary. A no-op unless
// the meeting is in progress. Summarization failure leaves the meeting
// completed; the meeting already happened.
func (r *Runner) Complete() error {
	ctx := context.Background()

	r.mu.Lock()
	if r.status != StatusInProgress {
		r.mu.Unlock()
		r.logger.Info("ignoring complete request", "status", string(r.status))
		return nil
	}
	r.status = StatusCompleted
	r.gen++ // abandon in-flight advancement and reaction results
	gen := r.gen
	r.waitingForAnswer = false
	r.advancing = false
	transcript := r.transcriptCopyLocked()
	questions := append([]extractor.DischargeQuestion(nil), r.questions...)
	r.mu.Unlock()

	r.voice.Stop()
	r.logger.Info("meeting completed", "messages", len(transcript))

	summary, err := r.planner.Summarize(ctx, r.patientID, transcript, questions)
	if err != nil {
		r.logger.Error("summarization failed", "error", err)
		r.mu.Lock()
		if gen == r.gen {
			r.appendLocked(extractor.SpeakerSystem, fmt.Sprintf("Could not generate the meeting summary: %v", err), "")
		}
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	if gen != r.gen {
		// A fresh meeting started while we were summarizing; the result
		// belongs to the finished one and is only persisted, not applied.
		r.mu.Unlock()
		if r.recorder != nil {
			if _, err := r.recorder.SaveCompletedMeeting(ctx, r.patientID, transcript, summary.Summary, summary.ExtractedAnswers); err != nil {
				r.logger.Error("failed to persist meeting", "error", err)
			}
		}
		return nil
	}
	r.summary = summary.Summary
	// Final summarization is authoritative: it may replace answers the live
	// heuristic extracted.
	for qid, ans := range summary.ExtractedAnswers {
		r.answers[qid] = ans
		for i := range r.questions {
			if r.questions[i].ID == qid {
				r.questions[i].Answered = true
				r.questions[i].Answer = ans
			}
		}
	}
	answers := make(map[string]string, len(r.answers))
	for k, v := range r.answers {
		answers[k] = v
	}
	transcript = r.transcriptCopyLocked()
	r.mu.Unlock()

	if r.recorder != nil {
		if _, err := r.recorder.SaveCompletedMeeting(ctx, r.patientID, transcript, summary.Summary, answers); err != nil {
			r.logger.Error("failed to persist meeting", "error", err)
		}
	}
	return nil
}

func (r *Runner) upsertAvailability(ctx context.Context, text string) {
	if r.recorder == nil {
		return
	}
	err := r.recorder.UpsertPartialAnswers(ctx, r.patientID, map[string]string{
		extractor.AvailabilityKey: text,
	})
	if err != nil {
		r.logger.Warn("availability upsert failed", "error", err)
	}
}

// appendLocked adds a transcript entry. Callers hold r.mu. The transcript is
// append-only; nothing else in the process writes it.
func (r *Runner) appendLocked(speaker, content, questionID string) {
	r.transcript = append(r.transcript, extractor.ConversationMessage{
		ID:         uuid.New().String(),
		Speaker:    speaker,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		QuestionID: questionID,
	})
}

func (r *Runner) transcriptCopyLocked() []extractor.ConversationMessage {
	return append([]extractor.ConversationMessage(nil), r.transcript...)
}

// stepRequiresAnswer classifies a plan step. The explicit step type wins;
// the trailing question mark is a fallback for unknown types only.
func stepRequiresAnswer(step extractor.ConversationStep) bool {
	switch step.StepType {
	case extractor.StepQuestion:
		return true
	case extractor.StepIntroduction, extractor.StepSummary, extractor.StepConclusion:
		return false
	}
	return strings.HasSuffix(strings.TrimSpace(step.Content), "?")
}

func stripTrailingQuestion(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasSuffix(trimmed, "?") {
		return trimmed
	}
	return strings.TrimRight(strings.TrimRight(trimmed, "?"), " ") + "."
}
