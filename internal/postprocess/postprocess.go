package postprocess

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Normalize collapses whitespace, capitalizes the first rune, and
// ensures terminal punctuation. An all-whitespace input yields "".
func Normalize(input string) string {
	collapsed := strings.Join(strings.Fields(input), " ")
	if collapsed == "" {
		return ""
	}

	first, size := utf8.DecodeRuneInString(collapsed)
	sentence := string(unicode.ToUpper(first)) + collapsed[size:]

	switch sentence[len(sentence)-1] {
	case '.', '!', '?':
	default:
		sentence += "."
	}
	return sentence
}

// IsDuplicate reports whether current repeats the previous transcript,
// case-insensitively. Empty transcripts are always duplicates so they
// never reach the insertion path.
func IsDuplicate(previous, current string) bool {
	normalized := strings.ToLower(strings.TrimSpace(current))
	if normalized == "" {
		return true
	}
	return strings.ToLower(strings.TrimSpace(previous)) == normalized
}
