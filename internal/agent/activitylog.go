package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/pagepilot/internal/tool"
)

// ActivityStatus is the state of an [ActivityEntry].
type ActivityStatus string

const (
	ActivityCalling  ActivityStatus = "calling"
	ActivityComplete ActivityStatus = "complete"
)

// ActivityEntry is one tool invocation as shown to the user.
type ActivityEntry struct {
	ID          string         `json:"id"`
	Tool        string         `json:"tool"`
	Args        string         `json:"args,omitempty"`
	Status      ActivityStatus `json:"status"`
	Success     bool           `json:"success"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
}

// ActivityLog pairs "tool executing" indicators with their later "tool
// complete" indicators.
//
// A completion is matched most-recent-first: the log is scanned from newest
// to oldest for the nearest entry with the same tool name that is still
// calling. Interleaved calls to the same tool stay correlated, but two
// concurrent calls of one tool that complete out of order are swapped.
//
// It is safe for concurrent use.
type ActivityLog struct {
	mu      sync.Mutex
	entries []ActivityEntry
	now     func() time.Time
}

// NewActivityLog returns an empty log.
func NewActivityLog() *ActivityLog {
	return &ActivityLog{now: time.Now}
}

// Calling records that tool name started and returns the entry's ID.
func (l *ActivityLog) Calling(name, args string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := ActivityEntry{
		ID:        uuid.NewString(),
		Tool:      name,
		Args:      args,
		Status:    ActivityCalling,
		StartedAt: l.clock(),
	}
	l.entries = append(l.entries, e)
	return e.ID
}

// Complete marks the newest still-calling entry of tool name complete. It
// returns that entry's ID, or false when no entry matched.
func (l *ActivityLog) Complete(name string, result tool.Result) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := &l.entries[i]
		if e.Tool != name || e.Status != ActivityCalling {
			continue
		}
		e.Status = ActivityComplete
		e.Success = result.Success
		e.CompletedAt = l.clock()
		return e.ID, true
	}
	return "", false
}

// Entries returns a copy of the log, oldest first.
func (l *ActivityLog) Entries() []ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ActivityEntry(nil), l.entries...)
}

// Reset empties the log.
func (l *ActivityLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

func (l *ActivityLog) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}

// Listener returns a [Listener] that records tool progress in l.
func (l *ActivityLog) Listener() Listener {
	return ListenerFuncs{
		ToolCall:   func(name, args string) { l.Calling(name, args) },
		ToolResult: func(name string, result tool.Result) { l.Complete(name, result) },
	}
}
