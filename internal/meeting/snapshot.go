package meeting

import "github.com/meridianhealth/bedside/internal/extractor"

// Snapshot is a read-only copy of one meeting's state. Views render from
// snapshots; they never hold references into the runner's own state.
type Snapshot struct {
	PatientID        string                          `json:"patient_id"`
	Status           Status                          `json:"status"`
	StepIndex        int                             `json:"step_index"`
	StepCount        int                             `json:"step_count"`
	WaitingForAnswer bool                            `json:"waiting_for_answer"`
	Questions        []extractor.DischargeQuestion   `json:"questions"`
	Transcript       []extractor.ConversationMessage `json:"transcript"`
	ExtractedAnswers map[string]string               `json:"extracted_answers"`
	Summary          string                          `json:"summary,omitempty"`
}

// Snapshot returns a copy of the current meeting state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	answers := make(map[string]string, len(r.answers))
	for k, v := range r.answers {
		answers[k] = v
	}
	return Snapshot{
		PatientID:        r.patientID,
		Status:           r.status,
		StepIndex:        r.stepIndex,
		StepCount:        len(r.plan),
		WaitingForAnswer: r.waitingForAnswer,
		Questions:        append([]extractor.DischargeQuestion(nil), r.questions...),
		Transcript:       r.transcriptCopyLocked(),
		ExtractedAnswers: answers,
		Summary:          r.summary,
	}
}
