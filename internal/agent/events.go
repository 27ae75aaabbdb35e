// Package agent runs the tool-augmented conversation loop.
//
// The loop has three layers:
//
//   - [Dispatcher] drives one streaming model call, executes the tool calls
//     the model requests and reports everything as a channel of [Event]s.
//   - [Controller] repeats dispatcher rounds while the model keeps asking for
//     tools, up to a step ceiling.
//   - [Agent] is the session object: it owns the conversation history, the
//     tool registry and the page context, and serializes turns.
//
// No failure inside a turn is fatal. Tool failures are fed back to the model
// as data and model backend failures end the turn with a user-facing text.
package agent

import (
	"github.com/MrWong99/pagepilot/internal/tool"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// EventKind discriminates an [Event].
type EventKind int

const (
	// EventTextDelta carries a fragment of assistant text in Text.
	EventTextDelta EventKind = iota + 1

	// EventToolCall announces a tool call in Call before it executes.
	EventToolCall

	// EventToolResult carries the outcome of the preceding tool call.
	EventToolResult

	// EventError ends the round. Err is a *TransportError.
	EventError

	// EventDone ends the round normally.
	EventDone
)

// String returns the wire name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventToolCall:
		return "tool_call"
	case EventToolResult:
		return "tool_result"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one unit of a dispatcher round.
type Event struct {
	Kind EventKind

	// Text is the fragment for EventTextDelta and the round's full text for
	// EventDone.
	Text string

	// Call is set for EventToolCall and EventToolResult.
	Call types.ToolCall

	// Result is set for EventToolResult.
	Result tool.Result

	// Err is set for EventError.
	Err error

	// ToolCalls is the number of tools the round executed. Set for EventDone.
	ToolCalls int
}

// Listener receives the progress of a turn. Methods are called from the
// goroutine running the turn, in order.
type Listener interface {
	OnTextDelta(text string)
	OnToolCall(name, args string)
	OnToolResult(name string, result tool.Result)
	OnTurnComplete(fullText string)
}

// ListenerFuncs adapts optional functions to a [Listener]. Nil fields are
// skipped.
type ListenerFuncs struct {
	TextDelta    func(text string)
	ToolCall     func(name, args string)
	ToolResult   func(name string, result tool.Result)
	TurnComplete func(fullText string)
}

var _ Listener = ListenerFuncs{}

func (f ListenerFuncs) OnTextDelta(text string) {
	if f.TextDelta != nil {
		f.TextDelta(text)
	}
}

func (f ListenerFuncs) OnToolCall(name, args string) {
	if f.ToolCall != nil {
		f.ToolCall(name, args)
	}
}

func (f ListenerFuncs) OnToolResult(name string, result tool.Result) {
	if f.ToolResult != nil {
		f.ToolResult(name, result)
	}
}

func (f ListenerFuncs) OnTurnComplete(fullText string) {
	if f.TurnComplete != nil {
		f.TurnComplete(fullText)
	}
}

// multiListener fans out to several listeners in order.
type multiListener []Listener

func (m multiListener) OnTextDelta(text string) {
	for _, l := range m {
		l.OnTextDelta(text)
	}
}

func (m multiListener) OnToolCall(name, args string) {
	for _, l := range m {
		l.OnToolCall(name, args)
	}
}

func (m multiListener) OnToolResult(name string, result tool.Result) {
	for _, l := range m {
		l.OnToolResult(name, result)
	}
}

func (m multiListener) OnTurnComplete(fullText string) {
	for _, l := range m {
		l.OnTurnComplete(fullText)
	}
}
