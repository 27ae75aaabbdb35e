package llm

import (
	"sort"

	"github.com/google/uuid"

	"github.com/MrWong99/pagepilot/pkg/types"
)

// ToolCallAccumulator joins streamed tool-call fragments by index. Providers
// deliver the ID and name on the first fragment and the JSON arguments spread
// over later ones.
//
// A ToolCallAccumulator is not safe for concurrent use.
type ToolCallAccumulator struct {
	calls map[int]*types.ToolCall
}

// NewToolCallAccumulator returns an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*types.ToolCall)}
}

// Add merges one fragment into the call at index. Empty id and name leave the
// existing values untouched; args is appended.
func (a *ToolCallAccumulator) Add(index int, id, name, args string) {
	tc, ok := a.calls[index]
	if !ok {
		tc = &types.ToolCall{}
		a.calls[index] = tc
	}
	if id != "" {
		tc.ID = id
	}
	if name != "" {
		tc.Name = name
	}
	tc.Arguments += args
}

// Len returns the number of calls collected so far.
func (a *ToolCallAccumulator) Len() int { return len(a.calls) }

// Drain returns the collected calls ordered by index and resets the
// accumulator. Calls without an ID get a generated one so tool results can
// always be correlated; empty arguments become "{}".
func (a *ToolCallAccumulator) Drain() []types.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]types.ToolCall, 0, len(idx))
	for _, i := range idx {
		tc := *a.calls[i]
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		if tc.Arguments == "" {
			tc.Arguments = "{}"
		}
		out = append(out, tc)
	}
	clear(a.calls)
	return out
}
