package intent

import (
	"regexp"
	"strings"
	"unicode"
)

// FallbackReply is used when nothing readable survives fallback extraction.
const FallbackReply = "抱歉，我无法理解您的请求。能否请您重新表述一下？"

var (
	fenceRE      = regexp.MustCompile("```json\n?|```\n?")
	firstBraceRE = regexp.MustCompile(`(?s)\{.*?\}`)
)

// StripFences removes markdown code fences and trims surrounding space.
func StripFences(s string) string {
	return strings.TrimSpace(fenceRE.ReplaceAllString(s, ""))
}

// LeadingObject returns the JSON object that starts at position 0 of s
// and the text following it. Braces inside string literals are ignored.
// ok is false if s does not start with '{' or the braces never balance.
func LeadingObject(s string) (obj, rest string, ok bool) {
	if !strings.HasPrefix(s, "{") {
		return "", s, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], s[i+1:], true
			}
		}
	}
	return "", s, false
}

// Fallback strips the first brace-delimited span from raw and returns
// what is left, or FallbackReply when nothing is left. It never fails.
func Fallback(raw string) string {
	cleaned := raw
	if loc := firstBraceRE.FindStringIndex(raw); loc != nil {
		cleaned = raw[:loc[0]] + raw[loc[1]:]
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return FallbackReply
	}
	return cleaned
}

// Segment inserts a space wherever an ASCII digit meets a character
// that is neither a digit nor space, so "支付宝1000" becomes
// "支付宝 1000". Signs and decimal points are not digits: "信用卡-500"
// becomes "信用卡- 500" and "1000.50" becomes "1000 . 50".
func Segment(entry string) string {
	runes := []rune(entry)
	if len(runes) < 2 {
		return entry
	}

	var b strings.Builder
	b.Grow(len(entry) + 4)
	b.WriteRune(runes[0])
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		if !unicode.IsSpace(prev) && !unicode.IsSpace(cur) && isDigit(prev) != isDigit(cur) {
			b.WriteByte(' ')
		}
		b.WriteRune(cur)
	}
	return b.String()
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
