package extractor

// candidateWindow is how many recent unanswered bot questions an utterance is
// matched against.
const candidateWindow = 3

// Extract runs the live extraction pass for one accepted patient utterance.
//
// Candidates are the last candidateWindow bot messages that carry a question
// id, scanning the transcript backward, skipping questions that already have
// an extracted answer. The scan only ever looks at messages already in the
// transcript, so extraction never binds an utterance to a question posed
// after it.
//
// Returns at most one Match per candidate question. Existing answers are
// never overwritten: the caller passes the current answer map and Extract
// skips any question id present in it (first accepted utterance wins).
func Extract(transcript []ConversationMessage, questions []DischargeQuestion, answers map[string]string, utterance string) []Match {
	byID := make(map[string]DischargeQuestion, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	var matches []Match
	seen := make(map[string]bool)
	candidates := 0

	for i := len(transcript) - 1; i >= 0 && candidates < candidateWindow; i-- {
		msg := transcript[i]
		if msg.Speaker != SpeakerBot || msg.QuestionID == "" {
			continue
		}
		if seen[msg.QuestionID] {
			continue
		}
		seen[msg.QuestionID] = true

		q, ok := byID[msg.QuestionID]
		if !ok {
			continue
		}
		if _, done := answers[q.ID]; done {
			continue
		}
		candidates++

		answer, ok := ClassifyAnswer(q, utterance)
		if !ok {
			continue
		}
		matches = append(matches, Match{
			QuestionID:   q.ID,
			Answer:       answer,
			Availability: q.Category == CategoryFollowUp,
		})
	}
	return matches
}
