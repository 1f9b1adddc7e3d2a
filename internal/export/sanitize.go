package export

import (
	"strings"
	"unicode"
)

// SanitizeName makes free text safe for an EDL comment or title line:
// control characters are dropped, anything outside a conservative set is
// replaced with '_', runs of whitespace collapse to one space, and the
// result is cut to maxLen runes.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsControl(r):
			continue
		}
		if space {
			b.WriteRune(' ')
			space = false
		}
		if allowedRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	out := b.String()
	if maxLen > 0 {
		if runes := []rune(out); len(runes) > maxLen {
			out = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return out
}

func allowedRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return strings.ContainsRune("-_.,()!?'&", r)
}
