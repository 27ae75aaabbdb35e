package hotctx

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxPageChars caps the page text included in the system prompt.
const DefaultMaxPageChars = 4000

// ellipsis marks truncated page text.
const ellipsis = "…"

// preamble lists the action categories the agent can take. It opens every
// system prompt.
const preamble = `You are PagePilot, an assistant that works inside the user's browser tab.
You can act on the page the user is looking at by calling tools:

- Navigation: open URLs and scroll the page.
- Interaction: click elements, type into fields and submit forms.
- Reading: read the visible text, list links and inspect page details.
- Shortcuts: look up and manage the user's saved instructions.
- Challenge solving: detect and solve verification challenges on the page.
- External tools: call tools provided by connected servers.

Prefer acting over describing how the user could act. Call one tool at a time
and look at its result before deciding the next step. When you are done,
answer briefly in plain text.`

type formatOptions struct {
	maxPageChars int
}

// FormatOption configures [FormatSystemPrompt].
type FormatOption func(*formatOptions)

// WithMaxPageChars sets the page text cap in characters. Non-positive values
// keep [DefaultMaxPageChars].
func WithMaxPageChars(n int) FormatOption {
	return func(o *formatOptions) {
		if n > 0 {
			o.maxPageChars = n
		}
	}
}

// FormatSystemPrompt builds the system instruction for one model step.
//
// The prompt is the fixed preamble, then a "Current page URL:" line when url
// is non-empty, then a "Page content:" section when pageText is non-empty.
// Page text longer than the cap is cut to exactly the cap in characters (not
// bytes) and marked with "…".
//
// The formatter is pure and safe for concurrent use.
func FormatSystemPrompt(url, pageText string, opts ...FormatOption) string {
	o := formatOptions{maxPageChars: DefaultMaxPageChars}
	for _, fn := range opts {
		fn(&o)
	}

	var sb strings.Builder
	sb.WriteString(preamble)

	if url = strings.TrimSpace(url); url != "" {
		sb.WriteString("\n\nCurrent page URL: ")
		sb.WriteString(url)
	}

	if strings.TrimSpace(pageText) != "" {
		sb.WriteString("\n\nPage content:\n")
		sb.WriteString(Truncate(pageText, o.maxPageChars))
	}

	return sb.String()
}

// Truncate returns s unchanged when it has at most max runes. Otherwise it
// returns the first max runes followed by "…".
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + ellipsis
		}
		n++
	}
	return s
}
