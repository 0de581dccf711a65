package chat

import "strings"

// DefaultModelSentinel is the model identifier a caller sends to ask the
// pipeline to pick one (spec §4.5 step 2).
const DefaultModelSentinel = "default"

const (
	koreanRatioThreshold = 0.3

	koreanModel  = "korean-default"
	codeModel    = "code-default"
	generalModel = "general-default"
)

// codeKeywords are checked in order; presence of any one is sufficient.
var codeKeywords = []string{"func", "class", "import", "SELECT", "def", "=>", "{", ";"}

// selectModel resolves the sentinel default model id from the message
// text: a Korean-character ratio at or above the threshold selects a
// Korean-tuned model; otherwise the presence of a programming keyword
// selects a code-tuned model; otherwise a general default.
func selectModel(message string) string {
	if koreanRatio(message) >= koreanRatioThreshold {
		return koreanModel
	}
	if containsCodeKeyword(message) {
		return codeModel
	}
	return generalModel
}

// koreanRatio is the fraction of runes in message that fall in the Hangul
// syllable block (U+AC00-U+D7A3).
func koreanRatio(message string) float64 {
	total := 0
	korean := 0
	for _, r := range message {
		total++
		if r >= 0xAC00 && r <= 0xD7A3 {
			korean++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(korean) / float64(total)
}

func containsCodeKeyword(message string) bool {
	for _, kw := range codeKeywords {
		if strings.Contains(message, kw) {
			return true
		}
	}
	return false
}
