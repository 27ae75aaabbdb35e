// Package mock provides a recording [agent.Listener] for use in unit tests.
//
// The listener is safe for concurrent use and records every callback in
// order, so tests can assert both which events fired and their sequence.
//
// Example:
//
//	l := &mock.Listener{}
//	turn, err := a.Converse(ctx, "Click the login button", l)
//	if got := l.Kinds(); !slices.Equal(got, []string{"tool_call", "tool_result", "text_delta", "turn_complete"}) {
//	    ...
//	}
package mock

import (
	"strings"
	"sync"

	"github.com/MrWong99/pagepilot/internal/agent"
	"github.com/MrWong99/pagepilot/internal/tool"
)

// Call is one recorded listener callback.
type Call struct {
	// Kind is "text_delta", "tool_call", "tool_result" or "turn_complete".
	Kind string

	// Text is the delta or the full text of the turn.
	Text string

	// Tool and Args are set for tool callbacks.
	Tool string
	Args string

	// Result is set for "tool_result".
	Result tool.Result
}

// Listener is a mock implementation of [agent.Listener].
type Listener struct {
	mu    sync.Mutex
	calls []Call
}

var _ agent.Listener = (*Listener)(nil)

func (l *Listener) record(c Call) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

// OnTextDelta records a text delta.
func (l *Listener) OnTextDelta(text string) {
	l.record(Call{Kind: "text_delta", Text: text})
}

// OnToolCall records a tool call.
func (l *Listener) OnToolCall(name, args string) {
	l.record(Call{Kind: "tool_call", Tool: name, Args: args})
}

// OnToolResult records a tool result.
func (l *Listener) OnToolResult(name string, result tool.Result) {
	l.record(Call{Kind: "tool_result", Tool: name, Result: result})
}

// OnTurnComplete records the end of a turn.
func (l *Listener) OnTurnComplete(fullText string) {
	l.record(Call{Kind: "turn_complete", Text: fullText})
}

// Calls returns a copy of all recorded callbacks.
func (l *Listener) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// Kinds returns the kinds of all recorded callbacks, collapsing consecutive
// text deltas into one entry.
func (l *Listener) Kinds() []string {
	var out []string
	for _, c := range l.Calls() {
		if c.Kind == "text_delta" && len(out) > 0 && out[len(out)-1] == "text_delta" {
			continue
		}
		out = append(out, c.Kind)
	}
	return out
}

// Count returns how many callbacks of kind were recorded.
func (l *Listener) Count(kind string) int {
	n := 0
	for _, c := range l.Calls() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Text returns the concatenated text deltas.
func (l *Listener) Text() string {
	var sb strings.Builder
	for _, c := range l.Calls() {
		if c.Kind == "text_delta" {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

// Completed returns the texts passed to OnTurnComplete.
func (l *Listener) Completed() []string {
	var out []string
	for _, c := range l.Calls() {
		if c.Kind == "turn_complete" {
			out = append(out, c.Text)
		}
	}
	return out
}

// Reset clears the recorded callbacks.
func (l *Listener) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}
