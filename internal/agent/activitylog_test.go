package agent

import (
	"testing"
	"time"

	"github.com/MrWong99/pagepilot/internal/tool"
)

func TestActivityLog_MostRecentFirst(t *testing.T) {
	t.Parallel()

	l := NewActivityLog()
	first := l.Calling("toolA", `{"n":1}`)
	second := l.Calling("toolA", `{"n":2}`)

	id, ok := l.Complete("toolA", tool.Result{Success: true})
	if !ok {
		t.Fatal("no entry matched")
	}
	if id != second {
		t.Fatalf("completed %s, want the second call %s", id, second)
	}

	entries := l.Entries()
	if entries[0].ID != first || entries[0].Status != ActivityCalling {
		t.Errorf("first entry = %+v, want still calling", entries[0])
	}
	if entries[1].Status != ActivityComplete || !entries[1].Success {
		t.Errorf("second entry = %+v, want complete", entries[1])
	}

	// The next completion falls through to the older call.
	if id, _ := l.Complete("toolA", tool.Result{}); id != first {
		t.Errorf("second completion matched %s, want %s", id, first)
	}
}

func TestActivityLog_SkipsOtherToolsAndCompletedEntries(t *testing.T) {
	t.Parallel()

	l := NewActivityLog()
	a := l.Calling("toolA", "")
	l.Calling("toolB", "")
	done := l.Calling("toolA", "")
	l.Complete("toolA", tool.Result{Success: true})

	id, ok := l.Complete("toolA", tool.Result{Success: true})
	if !ok || id != a {
		t.Errorf("matched %q (ok=%v), want %q", id, ok, a)
	}
	if id == done {
		t.Error("completed entry matched twice")
	}
}

func TestActivityLog_NoMatch(t *testing.T) {
	t.Parallel()

	l := NewActivityLog()
	if _, ok := l.Complete("toolA", tool.Result{}); ok {
		t.Error("empty log matched")
	}
	l.Calling("toolB", "")
	if _, ok := l.Complete("toolA", tool.Result{}); ok {
		t.Error("matched an entry of a different tool")
	}
}

func TestActivityLog_Timestamps(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := &ActivityLog{now: func() time.Time { return now }}
	l.Calling("toolA", "")
	now = now.Add(time.Second)
	l.Complete("toolA", tool.Result{Success: true})

	e := l.Entries()[0]
	if got := e.CompletedAt.Sub(e.StartedAt); got != time.Second {
		t.Errorf("duration = %v, want 1s", got)
	}
}

func TestActivityLog_ListenerAndReset(t *testing.T) {
	t.Parallel()

	l := NewActivityLog()
	lis := l.Listener()
	lis.OnToolCall("navigate", `{"url":"https://example.com"}`)
	lis.OnToolResult("navigate", tool.Result{Success: true})
	lis.OnTextDelta("ignored")

	entries := l.Entries()
	if len(entries) != 1 || entries[0].Status != ActivityComplete {
		t.Fatalf("entries = %+v", entries)
	}

	l.Reset()
	if len(l.Entries()) != 0 {
		t.Error("Reset left entries")
	}
}
