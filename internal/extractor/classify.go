package extractor

import "strings"

// answerKeywords are word-level markers of common answer shapes: yes/no,
// weekday names, times of day. Matched against the lowercased utterance.
var answerKeywords = []string{
	"yes", "yeah", "yep", "no", "nope",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"morning", "afternoon", "evening",
}

// substantialLength is the cutoff above which an utterance is treated as
// substantial free text, presumably responsive to the pending question.
// Coarse and known to over-attribute; the authoritative extraction happens at
// meeting completion via the summarization service.
const substantialLength = 20

// ClassifyAnswer decides whether a patient utterance answers the given
// question. Returns the text to record as the answer and whether it matched.
// Pure; safe to swap for a real NLU classifier without touching the runner.
func ClassifyAnswer(q DischargeQuestion, utterance string) (string, bool) {
	trimmed := strings.TrimSpace(utterance)
	if trimmed == "" {
		return "", false
	}
	if len(trimmed) > substantialLength {
		return trimmed, true
	}
	if containsAnswerKeyword(trimmed) {
		return trimmed, true
	}
	return "", false
}

func containsAnswerKeyword(utterance string) bool {
	words := strings.FieldsFunc(strings.ToLower(utterance), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
	})
	for _, w := range words {
		for _, kw := range answerKeywords {
			if w == kw {
				return true
			}
		}
	}
	return false
}
