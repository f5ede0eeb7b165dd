package provider

import "strings"

// ReinforcedPrompt is sent once when an answer looks like a blanket
// refusal, to steer the model back to general wellness guidance.
const ReinforcedPrompt = `The patient is asking for general health information, not a diagnosis
or a prescription. Provide safe, general guidance with the standard advice to
consult a doctor. Do not refuse.`

// Phrases that mark a blanket refusal rather than an answer. Matching
// is case-insensitive and only consulted on full responses.
var refusalMarkers = []string{
	"i cannot provide medical advice",
	"i can't provide medical advice",
	"i'm not able to provide medical",
	"i am not able to provide medical",
	"i cannot help with that",
	"i can't help with that",
	"unable to assist with medical",
	"as an ai, i cannot",
	"as an ai language model",
	"consult a licensed professional instead",
}

// IsRefusal reports whether a generated answer is a refusal shell with
// no usable guidance. Short answers containing a marker are refusals;
// long answers are kept even when a marker appears, since models often
// hedge mid-answer.
func IsRefusal(answer string) bool {
	lower := strings.ToLower(answer)
	for _, marker := range refusalMarkers {
		if strings.Contains(lower, marker) {
			return len(answer) < 400
		}
	}
	return false
}
