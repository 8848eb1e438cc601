package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhealth/bedside/internal/extractor"
	"github.com/meridianhealth/bedside/internal/planner"
)

type fakePlanner struct {
	mu         sync.Mutex
	plan       []extractor.ConversationStep
	planErr    error
	planCalls  int
	reactions  []planner.Reaction
	reactErr   error
	reactCalls int
	summary    planner.Summary
	sumErr     error
	sumCalls   int
}

func (f *fakePlanner) GeneratePlan(ctx context.Context, patientID string, questions []extractor.DischargeQuestion) ([]extractor.ConversationStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls++
	if f.planErr != nil {
		return nil, f.planErr
	}
	return f.plan, nil
}

func (f *fakePlanner) React(ctx context.Context, patientID string, transcript []extractor.ConversationMessage, lastPatientMessage, contextStep string) (planner.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactCalls++
	if f.reactErr != nil {
		return planner.Reaction{}, f.reactErr
	}
	if len(f.reactions) == 0 {
		return planner.Reaction{Reply: "Thanks for sharing that."}, nil
	}
	reaction := f.reactions[0]
	if len(f.reactions) > 1 {
		f.reactions = f.reactions[1:]
	}
	return reaction, nil
}

func (f *fakePlanner) Summarize(ctx context.Context, patientID string, transcript []extractor.ConversationMessage, questions []extractor.DischargeQuestion) (planner.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sumCalls++
	if f.sumErr != nil {
		return planner.Summary{}, f.sumErr
	}
	return f.summary, nil
}

func (f *fakePlanner) counts() (plan, react, sum int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.planCalls, f.reactCalls, f.sumCalls
}

type fakeVoice struct {
	mu       sync.Mutex
	speaking bool
	spoken   []string
	log      *eventLog
}

func (v *fakeVoice) Speak(ctx context.Context, text string) error {
	v.mu.Lock()
	v.spoken = append(v.spoken, text)
	v.mu.Unlock()
	if v.log != nil {
		v.log.add("speak:" + text)
	}
	return nil
}

func (v *fakeVoice) Speaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speaking
}

func (v *fakeVoice) Stop() {}

func (v *fakeVoice) setSpeaking(on bool) {
	v.mu.Lock()
	v.speaking = on
	v.mu.Unlock()
}

func (v *fakeVoice) spokenCopy() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.spoken...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	partial []map[string]string
	saved   map[string]string
	summary string
}

func (f *fakeRecorder) UpsertPartialAnswers(ctx context.Context, patientID string, answers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partial = append(f.partial, answers)
	return nil
}

func (f *fakeRecorder) SaveCompletedMeeting(ctx context.Context, patientID string, transcript []extractor.ConversationMessage, summary string, answers map[string]string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = answers
	f.summary = summary
	return uuid.New(), nil
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// orderBroadcaster checks the append-then-broadcast invariant: by the time a
// bot utterance is mirrored, it must already be in the transcript.
type orderBroadcaster struct {
	t      *testing.T
	runner *Runner
	log    *eventLog
}

func (b *orderBroadcaster) BotMessage(text string) {
	if b.log != nil {
		b.log.add("bcast:" + text)
	}
	if b.runner == nil {
		return
	}
	snap := b.runner.Snapshot()
	for _, msg := range snap.Transcript {
		if msg.Speaker == extractor.SpeakerBot && msg.Content == text {
			return
		}
	}
	b.t.Errorf("bot message %q broadcast before transcript append", text)
}

func medicationPlan() []extractor.ConversationStep {
	return []extractor.ConversationStep{
		{StepType: extractor.StepIntroduction, Content: "Hello! I'm here to go over a few things before your discharge."},
		{StepType: extractor.StepQuestion, Content: "Do you have your medications?", QuestionID: "q1"},
		{StepType: extractor.StepConclusion, Content: "That's all my questions. Thank you!"},
	}
}

func newTestRunner(t *testing.T, pl *fakePlanner) (*Runner, *fakeVoice, *fakeRecorder, *eventLog) {
	t.Helper()
	log := &eventLog{}
	voice := &fakeVoice{log: log}
	rec := &fakeRecorder{}
	bcast := &orderBroadcaster{t: t, log: log}
	r := NewRunner("p-123", pl, voice, rec, bcast, 0, slog.Default())
	bcast.runner = r
	return r, voice, rec, log
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func startAndAwaitQuestion(t *testing.T, r *Runner, questionIndex int) {
	t.Helper()
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, fmt.Sprintf("question step %d", questionIndex), func() bool {
		snap := r.Snapshot()
		return snap.StepIndex == questionIndex && snap.WaitingForAnswer
	})
}

func TestStart_WalksToFirstQuestion(t *testing.T) {
	pl := &fakePlanner{plan: medicationPlan()}
	r, voice, _, log := newTestRunner(t, pl)
	if err := r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q1", Text: "Do you have your medications?", Category: extractor.CategoryMedication},
	}); err != nil {
		t.Fatalf("SetQuestions failed: %v", err)
	}

	startAndAwaitQuestion(t, r, 1)

	snap := r.Snapshot()
	if snap.Status != StatusInProgress {
		t.Errorf("expected in-progress, got %s", snap.Status)
	}
	if len(snap.Transcript) != 2 {
		t.Fatalf("expected 2 transcript messages, got %d", len(snap.Transcript))
	}
	if snap.Transcript[1].QuestionID != "q1" {
		t.Errorf("expected question message linked to q1, got %q", snap.Transcript[1].QuestionID)
	}

	spoken := voice.spokenCopy()
	if len(spoken) != 2 {
		t.Fatalf("expected 2 utterances spoken, got %d", len(spoken))
	}

	// Broadcast happens-before playback for each utterance.
	for _, text := range spoken {
		bcastAt, speakAt := -1, -1
		for i, e := range log.snapshot() {
			if e == "bcast:"+text && bcastAt == -1 {
				bcastAt = i
			}
			if e == "speak:"+text && speakAt == -1 {
				speakAt = i
			}
		}
		if bcastAt == -1 || speakAt == -1 || bcastAt > speakAt {
			t.Errorf("expected broadcast before playback for %q (bcast=%d, speak=%d)", text, bcastAt, speakAt)
		}
	}
}

func TestScenarioA_MedicationAnswer(t *testing.T) {
	pl := &fakePlanner{
		plan:      medicationPlan(),
		reactions: []planner.Reaction{{Reply: "Great, glad to hear it.", FollowUpNeeded: false}},
	}
	r, _, _, _ := newTestRunner(t, pl)
	r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q1", Text: "Do you have your medications?", Category: extractor.CategoryMedication},
	})
	startAndAwaitQuestion(t, r, 1)

	r.PatientMessage("Yes, I have them all")

	snap := r.Snapshot()
	if snap.ExtractedAnswers["q1"] != "Yes, I have them all" {
		t.Errorf("expected live extraction, got %q", snap.ExtractedAnswers["q1"])
	}
	if snap.WaitingForAnswer {
		t.Error("expected waitingForAnswer cleared after answer")
	}
	if snap.StepIndex != 2 {
		t.Errorf("expected advancement to the conclusion step, got %d", snap.StepIndex)
	}
	if !snap.Questions[0].Answered {
		t.Error("expected question marked answered")
	}
}

func TestScenarioB_AvailabilityUpsert(t *testing.T) {
	pl := &fakePlanner{plan: []extractor.ConversationStep{
		{StepType: extractor.StepQuestion, Content: "When are you available for a follow-up?", QuestionID: "q2"},
	}}
	r, _, rec, _ := newTestRunner(t, pl)
	r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q2", Text: "When are you available for a follow-up?", Category: extractor.CategoryFollowUp},
	})
	startAndAwaitQuestion(t, r, 0)

	r.PatientMessage("Tuesday and Wednesday mornings work best")

	snap := r.Snapshot()
	if snap.ExtractedAnswers["q2"] != "Tuesday and Wednesday mornings work best" {
		t.Errorf("expected answer extracted, got %q", snap.ExtractedAnswers["q2"])
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.partial) != 1 {
		t.Fatalf("expected 1 availability upsert, got %d", len(rec.partial))
	}
	if rec.partial[0][extractor.AvailabilityKey] != "Tuesday and Wednesday mornings work best" {
		t.Errorf("unexpected availability payload: %v", rec.partial[0])
	}
}

func TestScenarioC_ReactiveLoopHoldsStep(t *testing.T) {
	pl := &fakePlanner{
		plan: []extractor.ConversationStep{
			{StepType: extractor.StepQuestion, Content: "Can you explain how to take your new medication?", QuestionID: "q1"},
			{StepType: extractor.StepConclusion, Content: "Thank you."},
		},
		reactions: []planner.Reaction{
			{Reply: "Could you tell me a bit more?", FollowUpNeeded: true},
			{Reply: "Almost there, what about the timing?", FollowUpNeeded: true},
			{Reply: "And with food, or without?", FollowUpNeeded: true},
			{Reply: "That's exactly right, thank you?", FollowUpNeeded: false},
		},
	}
	r, _, _, _ := newTestRunner(t, pl)
	r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q1", Text: "Can you explain how to take your new medication?", Category: extractor.CategoryTeachBack},
	})
	startAndAwaitQuestion(t, r, 0)

	for i := 0; i < 3; i++ {
		r.PatientMessage(fmt.Sprintf("I take one pill when I remember to, attempt %d", i))
		snap := r.Snapshot()
		if snap.StepIndex != 0 {
			t.Fatalf("turn %d: expected runner held on step 0, got %d", i, snap.StepIndex)
		}
		if !snap.WaitingForAnswer {
			t.Fatalf("turn %d: expected still awaiting an answer", i)
		}
	}

	r.PatientMessage("One pill every morning with breakfast")
	snap := r.Snapshot()
	if snap.StepIndex != 1 {
		t.Errorf("expected advancement after follow_up_needed=false, got step %d", snap.StepIndex)
	}
	if snap.WaitingForAnswer {
		t.Error("expected waitingForAnswer cleared")
	}

	// The final acknowledgment had its trailing question mark stripped so it
	// cannot be misread as a new question.
	var lastReply string
	for _, msg := range snap.Transcript {
		if msg.Speaker == extractor.SpeakerBot && strings.HasPrefix(msg.Content, "That's exactly right") {
			lastReply = msg.Content
		}
	}
	if lastReply != "That's exactly right, thank you." {
		t.Errorf("expected stripped acknowledgment, got %q", lastReply)
	}
}

func TestSpeakingGate_DiscardsUtterance(t *testing.T) {
	pl := &fakePlanner{plan: medicationPlan()}
	r, voice, rec, _ := newTestRunner(t, pl)
	r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q1", Text: "Do you have your medications?", Category: extractor.CategoryMedication},
	})
	startAndAwaitQuestion(t, r, 1)

	voice.setSpeaking(true)
	before := r.Snapshot()
	r.PatientMessage("Yes, I have them all")
	after := r.Snapshot()

	if len(after.Transcript) != len(before.Transcript) {
		t.Error("gated utterance must not be appended to the transcript")
	}
	if len(after.ExtractedAnswers) != 0 {
		t.Errorf("gated utterance must not produce extractions, got %v", after.ExtractedAnswers)
	}
	if !after.WaitingForAnswer {
		t.Error("gated utterance must not advance the runner")
	}
	rec.mu.Lock()
	if len(rec.partial) != 0 {
		t.Error("gated utterance must not reach the persistence collaborator")
	}
	rec.mu.Unlock()
}

func TestExtraction_FirstAnswerWins(t *testing.T) {
	pl := &fakePlanner{
		plan: []extractor.ConversationStep{
			{StepType: extractor.StepQuestion, Content: "How are you feeling about going home?", QuestionID: "q1"},
		},
		reactions: []planner.Reaction{{Reply: "Tell me more.", FollowUpNeeded: true}},
	}
	r, _, _, _ := newTestRunner(t, pl)
	r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q1", Text: "How are you feeling about going home?", Category: extractor.CategoryOther},
	})
	startAndAwaitQuestion(t, r, 0)

	first := "I feel pretty confident about managing at home"
	second := "Actually I am quite worried about the stairs"
	r.PatientMessage(first)
	r.PatientMessage(second)

	snap := r.Snapshot()
	if snap.ExtractedAnswers["q1"] != first {
		t.Errorf("live heuristic must keep the first answer, got %q", snap.ExtractedAnswers["q1"])
	}
}

func TestStatus_TerminalMonotonicity(t *testing.T) {
	pl := &fakePlanner{plan: medicationPlan(), summary: planner.Summary{Summary: "done"}}
	r, _, _, _ := newTestRunner(t, pl)

	// completeMeeting before start is a no-op.
	if err := r.Complete(); err != nil {
		t.Fatalf("Complete from not-started should be a no-op, got %v", err)
	}
	if _, _, sum := pl.counts(); sum != 0 {
		t.Error("no summarization may run for a meeting that never started")
	}
	if snap := r.Snapshot(); snap.Status != StatusNotStarted {
		t.Errorf("expected not-started, got %s", snap.Status)
	}

	startAndAwaitQuestion(t, r, 1)
	if err := r.Start(); err == nil {
		t.Error("starting an in-progress meeting must be rejected")
	}

	if err := r.Complete(); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if snap := r.Snapshot(); snap.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", snap.Status)
	}

	// A start from completed begins a fresh meeting with a new plan fetch.
	if err := r.Start(); err != nil {
		t.Fatalf("restart from completed failed: %v", err)
	}
	waitFor(t, "fresh meeting in progress", func() bool {
		snap := r.Snapshot()
		return snap.Status == StatusInProgress && snap.WaitingForAnswer
	})
	snap := r.Snapshot()
	if len(snap.ExtractedAnswers) != 0 || snap.Summary != "" {
		t.Error("restart must discard the previous meeting's answers and summary")
	}
	if plans, _, _ := pl.counts(); plans != 2 {
		t.Errorf("expected 2 plan fetches, got %d", plans)
	}
}

func TestStart_PlanFailureIsRecoverable(t *testing.T) {
	pl := &fakePlanner{planErr: errors.New("planner unreachable")}
	r, _, _, _ := newTestRunner(t, pl)

	if err := r.Start(); err == nil {
		t.Fatal("expected error when plan generation fails")
	}
	snap := r.Snapshot()
	if snap.Status != StatusNotStarted {
		t.Errorf("expected reset to not-started, got %s", snap.Status)
	}
	var sawSystem bool
	for _, msg := range snap.Transcript {
		if msg.Speaker == extractor.SpeakerSystem && strings.Contains(msg.Content, "planner unreachable") {
			sawSystem = true
		}
	}
	if !sawSystem {
		t.Error("expected a system transcript message describing the failure")
	}

	// Retry succeeds.
	pl.mu.Lock()
	pl.planErr = nil
	pl.plan = medicationPlan()
	pl.mu.Unlock()
	if err := r.Start(); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestReactionFailure_AdvancesAnyway(t *testing.T) {
	pl := &fakePlanner{plan: medicationPlan(), reactErr: errors.New("react unavailable")}
	r, _, _, _ := newTestRunner(t, pl)
	r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q1", Text: "Do you have your medications?", Category: extractor.CategoryMedication},
	})
	startAndAwaitQuestion(t, r, 1)

	r.PatientMessage("Yes, I have them all")

	snap := r.Snapshot()
	if snap.StepIndex != 2 {
		t.Errorf("reaction failure must not block advancement, got step %d", snap.StepIndex)
	}
	if snap.ExtractedAnswers["q1"] == "" {
		t.Error("extraction must still run when the reaction fails")
	}
}

func TestComplete_SummaryIsAuthoritative(t *testing.T) {
	pl := &fakePlanner{
		plan:      medicationPlan(),
		reactions: []planner.Reaction{{Reply: "Noted.", FollowUpNeeded: false}},
		summary: planner.Summary{
			Summary:          "Patient is set for discharge.",
			ExtractedAnswers: map[string]string{"q1": "Confirmed full medication supply at home"},
		},
	}
	r, _, rec, _ := newTestRunner(t, pl)
	r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q1", Text: "Do you have your medications?", Category: extractor.CategoryMedication},
	})
	startAndAwaitQuestion(t, r, 1)
	r.PatientMessage("Yes, I have them all")

	if err := r.Complete(); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	snap := r.Snapshot()
	if snap.ExtractedAnswers["q1"] != "Confirmed full medication supply at home" {
		t.Errorf("final summarization must replace the live answer, got %q", snap.ExtractedAnswers["q1"])
	}
	if snap.Summary != "Patient is set for discharge." {
		t.Errorf("unexpected summary %q", snap.Summary)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.saved["q1"] != "Confirmed full medication supply at home" {
		t.Errorf("expected persisted answers, got %v", rec.saved)
	}
	if rec.summary != "Patient is set for discharge." {
		t.Errorf("expected persisted summary, got %q", rec.summary)
	}
}

func TestComplete_SummaryFailureStaysCompleted(t *testing.T) {
	pl := &fakePlanner{plan: medicationPlan(), sumErr: errors.New("summarizer down")}
	r, _, _, _ := newTestRunner(t, pl)
	r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q1", Text: "Do you have your medications?", Category: extractor.CategoryMedication},
	})
	startAndAwaitQuestion(t, r, 1)

	if err := r.Complete(); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	snap := r.Snapshot()
	if snap.Status != StatusCompleted {
		t.Errorf("summary failure must leave the meeting completed, got %s", snap.Status)
	}
	var sawSystem bool
	for _, msg := range snap.Transcript {
		if msg.Speaker == extractor.SpeakerSystem && strings.Contains(msg.Content, "summarizer down") {
			sawSystem = true
		}
	}
	if !sawSystem {
		t.Error("expected a system transcript message for the summary failure")
	}
}

func TestQuestions_FrozenDuringMeeting(t *testing.T) {
	pl := &fakePlanner{plan: medicationPlan()}
	r, _, _, _ := newTestRunner(t, pl)
	r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q1", Text: "Do you have your medications?", Category: extractor.CategoryMedication},
	})
	startAndAwaitQuestion(t, r, 1)

	if err := r.SetQuestions(nil); err == nil {
		t.Error("editing questions during an in-progress meeting must be rejected")
	}
}

func TestAdvancement_NoStepEmittedTwice(t *testing.T) {
	pl := &fakePlanner{
		plan: []extractor.ConversationStep{
			{StepType: extractor.StepQuestion, Content: "First question, how do you feel?", QuestionID: "q1"},
			{StepType: extractor.StepSummary, Content: "Here is a quick summary of your discharge plan."},
			{StepType: extractor.StepQuestion, Content: "Second question, any concerns?", QuestionID: "q2"},
		},
	}
	r, _, _, _ := newTestRunner(t, pl)
	r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q1", Text: "First question, how do you feel?", Category: extractor.CategoryOther},
		{ID: "q2", Text: "Second question, any concerns?", Category: extractor.CategoryOther},
	})
	startAndAwaitQuestion(t, r, 0)

	// A burst of interleaved utterances: only one advancement sequence may
	// run; each plan step is emitted at most once and never skipped.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.PatientMessage(fmt.Sprintf("This is a fairly long answer number %d", i))
		}(i)
	}
	wg.Wait()

	waitFor(t, "runner to settle", func() bool {
		snap := r.Snapshot()
		return !snap.WaitingForAnswer || snap.StepIndex == 2
	})

	snap := r.Snapshot()
	counts := make(map[string]int)
	for _, msg := range snap.Transcript {
		if msg.Speaker != extractor.SpeakerBot {
			continue
		}
		for _, step := range pl.plan {
			if msg.Content == step.Content {
				counts[step.Content]++
			}
		}
	}
	for content, n := range counts {
		if n > 1 {
			t.Errorf("step %q emitted %d times", content, n)
		}
	}
	if counts[pl.plan[1].Content] == 1 && counts[pl.plan[0].Content] != 1 {
		t.Error("runner skipped a step")
	}
	if snap.StepIndex > 2 {
		t.Errorf("cursor advanced past the plan: %d", snap.StepIndex)
	}
}

func TestPlanExhaustion_DoesNotAutoComplete(t *testing.T) {
	pl := &fakePlanner{
		plan: []extractor.ConversationStep{
			{StepType: extractor.StepQuestion, Content: "Do you have your medications?", QuestionID: "q1"},
		},
		reactions: []planner.Reaction{{Reply: "Noted.", FollowUpNeeded: false}},
	}
	r, _, _, _ := newTestRunner(t, pl)
	r.SetQuestions([]extractor.DischargeQuestion{
		{ID: "q1", Text: "Do you have your medications?", Category: extractor.CategoryMedication},
	})
	startAndAwaitQuestion(t, r, 0)

	r.PatientMessage("Yes, I have them all")

	snap := r.Snapshot()
	if snap.Status != StatusInProgress {
		t.Errorf("running out of steps must not auto-complete, got %s", snap.Status)
	}
	if snap.StepIndex != 0 {
		t.Errorf("cursor must stay parked on the last step, got %d", snap.StepIndex)
	}
}
