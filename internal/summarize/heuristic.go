package summarize

import (
	"strings"
	"unicode"
)

const ellipsis = "..."

// Heuristic returns a deterministic local summary of body that is at most
// maxLength runes long. It prefers to cut after the last sentence terminator
// inside the window and otherwise hard-truncates with an ellipsis.
func Heuristic(body string, maxLength int) string {
	body = strings.TrimSpace(body)
	if body == "" || maxLength <= 0 {
		return ""
	}
	runes := []rune(body)
	if len(runes) <= maxLength {
		return body
	}
	window := runes[:maxLength]
	if cut := lastTerminator(runes, maxLength); cut > 0 {
		if out := strings.TrimRightFunc(string(window[:cut]), unicode.IsSpace); out != "" {
			return out
		}
	}
	if maxLength <= len(ellipsis) {
		return string(window)
	}
	head := strings.TrimRightFunc(string(runes[:maxLength-len(ellipsis)]), unicode.IsSpace)
	return head + ellipsis
}

// Clip truncates s to at most maxLength runes without adding a marker.
func Clip(s string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	return string(runes[:maxLength])
}

// lastTerminator returns the rune count just past the last sentence
// terminator within the first limit runes, or 0 when there is none.
func lastTerminator(runes []rune, limit int) int {
	for i := limit - 1; i >= 0; i-- {
		switch runes[i] {
		case '。', '！', '？', '；', '\n':
			return i + 1
		case '.', '!', '?', ';':
			// ASCII punctuation only ends a sentence before whitespace or the end,
			// which keeps decimals and URLs intact.
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				return i + 1
			}
		}
	}
	return 0
}
