// Package session holds the conversation history of one agent session.
//
// The [Store] is an ordered, append-only list of messages. The only in-place
// change is the amendment of the assistant message that is currently being
// streamed (the "in-flight" entry), which is always the last element.
//
// History lives in memory only and is lost when the process exits.
package session

import (
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/pagepilot/pkg/types"
)

// ErrNoInFlight is returned when an amendment is attempted while the last
// message is not an in-flight assistant message.
var ErrNoInFlight = errors.New("session: no in-flight assistant message")

// charsPerToken is the heuristic ratio used for token estimation.
// English text averages roughly 4 characters per token across common
// tokenizers.
const charsPerToken = 4

// Store is the ordered conversation history.
//
// All methods are safe for concurrent use, but the store assumes at most one
// turn is in progress at a time: two interleaved turns would interleave their
// appends.
type Store struct {
	mu       sync.Mutex
	messages []types.Message
	inFlight bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append adds msg to the end of the history. An in-flight assistant entry is
// sealed first, since it stops being the last element.
func (s *Store) Append(msg types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealLocked()
	s.messages = append(s.messages, msg.Clone())
}

// BeginAssistant appends an empty in-flight assistant message. A previous
// in-flight entry is sealed first.
func (s *Store) BeginAssistant() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealLocked()
	s.messages = append(s.messages, types.Message{Role: types.RoleAssistant})
	s.inFlight = true
}

// ReplaceLast sets the content of the in-flight assistant message.
func (s *Store) ReplaceLast(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFlight {
		return ErrNoInFlight
	}
	s.messages[len(s.messages)-1].Content = content
	return nil
}

// AttachToolCalls records the tool calls the model requested on the in-flight
// assistant message. It must happen before the matching tool messages are
// appended.
func (s *Store) AttachToolCalls(calls []types.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFlight {
		return ErrNoInFlight
	}
	last := &s.messages[len(s.messages)-1]
	last.ToolCalls = append(last.ToolCalls, calls...)
	return nil
}

// InFlight reports whether the last message is still being streamed.
func (s *Store) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Seal marks the in-flight assistant message complete. An in-flight message
// with neither content nor tool calls is removed. Sealing with nothing in
// flight is a no-op.
func (s *Store) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealLocked()
}

func (s *Store) sealLocked() {
	if !s.inFlight {
		return
	}
	s.inFlight = false
	last := s.messages[len(s.messages)-1]
	if last.Content == "" && len(last.ToolCalls) == 0 {
		s.messages = s.messages[:len(s.messages)-1]
	}
}

// Discard removes the in-flight assistant message, whatever it holds.
// Discarding with nothing in flight is a no-op.
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFlight {
		return
	}
	s.inFlight = false
	s.messages = s.messages[:len(s.messages)-1]
}

// Snapshot returns a deep copy of the history in append order.
func (s *Store) Snapshot() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Last returns the most recent message, if any.
func (s *Store) Last() (types.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return types.Message{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

// Clear removes every message, including an in-flight one.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = slices.Delete(s.messages, 0, len(s.messages))
	s.inFlight = false
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// TokenEstimate returns a rough token count of the whole history using the
// 1-token-per-4-characters heuristic.
func (s *Store) TokenEstimate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, m := range s.messages {
		total += estimateTokens(m)
	}
	return total
}

// estimateTokens returns a rough token count for a single message. Image
// parts are not counted.
func estimateTokens(m types.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name)
	for _, p := range m.Parts {
		chars += len(p.Text)
	}
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Arguments) + len(tc.ID)
	}
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
