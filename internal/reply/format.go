package reply

import (
	"regexp"
	"strings"
)

var (
	citationPattern = regexp.MustCompile(`【.*?】`)
	boldPattern     = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

// FormatText adapts model output to WhatsApp markup: citation markers such
// as 【4:0†source】 are dropped and **bold** becomes *bold*.
func FormatText(text string) string {
	text = citationPattern.ReplaceAllString(text, "")
	text = boldPattern.ReplaceAllString(text, "*$1*")
	return strings.TrimSpace(text)
}
