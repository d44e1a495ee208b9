package request

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/verdandi-labs/reverie/pkg/model"
)

var (
	markdownLink   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	markdownMarks  = regexp.MustCompile("[*_`]+")
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

// Flatten strips markdown emphasis, code markers, and links from s and
// collapses all whitespace runs into single spaces.
func Flatten(s string) string {
	s = markdownLink.ReplaceAllString(s, "$1")
	s = markdownMarks.ReplaceAllString(s, "")
	s = whitespaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// FormatAsQuote renders a quote or voice sample as a single line:
// an optional session tag, an optional speaker initial, the flattened
// nonverbal behaviour in parentheses, then the flattened body.
//
// The speaker part is omitted when the speaker is blank or "Multiple"
// (case-insensitive).
func FormatAsQuote(d *model.ContextData) string {
	var b strings.Builder

	if d.SourceSessionID != 0 {
		fmt.Fprintf(&b, "[s%d] ", d.SourceSessionID)
	}

	speaker := strings.TrimSpace(d.Speaker)
	if speaker != "" && !strings.EqualFold(speaker, "Multiple") {
		b.WriteString(initial(speaker))
		b.WriteString(": ")
	}

	if nv := Flatten(d.NonverbalBehavior); nv != "" {
		fmt.Fprintf(&b, "(%s) ", nv)
	}

	b.WriteString(Flatten(d.DisplayText()))
	return b.String()
}

// initial returns the first rune of s as a string. s must be non-empty.
func initial(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}
