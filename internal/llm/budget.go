package llm

import "unicode/utf16"

// DefaultBudget is the maximum combined content length, in UTF-16 code
// units, of the turns sent to the model.
const DefaultBudget = 8000

// ContentLength returns the combined length of all turns in UTF-16
// code units, so a character outside the BMP counts as two. It stands
// in for a token count and must stay a plain character count.
func ContentLength(turns []Message) int {
	n := 0
	for _, t := range turns {
		n += len(utf16.Encode([]rune(t.Content)))
	}
	return n
}

// TrimToBudget drops the oldest user/assistant pair, repeatedly, until
// the total length fits within budget. A leading system message and
// the final (newest) turn are always kept; once nothing else remains
// the result is returned even if still over budget. The input slice is
// not modified.
func TrimToBudget(turns []Message, budget int) []Message {
	out := append([]Message(nil), turns...)

	start := 0
	if len(out) > 0 && out[0].Role == RoleSystem {
		start = 1
	}

	for ContentLength(out) > budget {
		removable := len(out) - start - 1
		if removable <= 0 {
			break
		}
		n := min(2, removable)
		out = append(out[:start], out[start+n:]...)
	}
	return out
}
