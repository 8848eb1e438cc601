package extractor

import "time"

// Question categories, matching the planning service's schema.
const (
	CategoryTeachBack  = "teach-back"
	CategoryMedication = "medication"
	CategoryFollowUp   = "follow-up"
	CategoryOther      = "other"
)

// AvailabilityKey is the reserved pseudo-question id under which raw
// scheduling-availability text is stored. The scheduling service polls it
// independently of per-question answers.
const AvailabilityKey = "__availability__"

// DischargeQuestion is one item the meeting must cover. Questions are
// configured before the meeting starts and are read-only during it; only the
// live extraction pass or final summarization may set Answered/Answer.
type DischargeQuestion struct {
	ID       string `json:"id"`
	Text     string `json:"question"`
	Category string `json:"category"`
	Answered bool   `json:"answered"`
	Answer   string `json:"answer,omitempty"`
}

// Step types as produced by the planning service. Everything except
// StepQuestion is a statement from the runner's point of view.
const (
	StepIntroduction = "introduction"
	StepSummary      = "summary"
	StepQuestion     = "question"
	StepConclusion   = "conclusion"
)

// ConversationStep is one planned bot turn.
type ConversationStep struct {
	StepType   string `json:"step_type"`
	Content    string `json:"content"`
	QuestionID string `json:"question_id,omitempty"`
}

// Speakers for transcript entries.
const (
	SpeakerBot     = "bot"
	SpeakerPatient = "patient"
	SpeakerSystem  = "system"
)

// ConversationMessage is one transcript entry. The transcript is an
// append-only log; entries are never mutated or removed.
type ConversationMessage struct {
	ID         string    `json:"id"`
	Speaker    string    `json:"speaker"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	QuestionID string    `json:"question_id,omitempty"`
}

// Match binds a patient utterance to a question it answers.
type Match struct {
	QuestionID   string
	Answer       string
	Availability bool // question category is follow-up; raw text doubles as scheduling availability
}
