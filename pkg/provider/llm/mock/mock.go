// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the agent loop sends correct
// CompletionRequests and to feed scripted responses without a live backend.
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Multi-step conversations are scripted with StreamScripts: the n-th call to
// StreamCompletion emits StreamScripts[n]. Once the scripts are exhausted the
// last one is replayed, or StreamChunks when no scripts are set.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamScripts: [][]llm.Chunk{
//	        mock.ToolCallTurn(types.ToolCall{ID: "c1", Name: "readPageText", Arguments: "{}"}),
//	        mock.TextTurn("The page shows a login form."),
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pagepilot/pkg/provider/llm"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil errors.
// Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamScripts holds one chunk sequence per StreamCompletion call.
	StreamScripts [][]llm.Chunk

	// StreamChunks is emitted on every StreamCompletion call when
	// StreamScripts is empty.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamCompletion instead
	// of starting a channel.
	StreamErr error

	// CompleteResponses is consumed in order by Complete. Once exhausted,
	// CompleteResponse is returned.
	CompleteResponses []*llm.CompletionResponse

	// CompleteResponse is returned by Complete. May be nil (returns nil, nil).
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// TokenCount is returned by CountTokens.
	TokenCount int

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities types.ModelCapabilities

	// --- Call records (read after test) ---

	StreamCalls   []StreamCall
	CompleteCalls []CompleteCall
}

// StreamCompletion records the call and returns a channel that emits the
// scripted chunks for this call.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	n := len(p.StreamCalls)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: cloneRequest(req)})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	var script []llm.Chunk
	switch {
	case n < len(p.StreamScripts):
		script = p.StreamScripts[n]
	case len(p.StreamScripts) > 0:
		script = p.StreamScripts[len(p.StreamScripts)-1]
	default:
		script = p.StreamChunks
	}
	chunks := append([]llm.Chunk(nil), script...)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: cloneRequest(req)})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.CompleteResponses) > 0 {
		resp := p.CompleteResponses[0]
		p.CompleteResponses = p.CompleteResponses[1:]
		return resp, nil
	}
	return p.CompleteResponse, nil
}

// CountTokens returns TokenCount when set, otherwise [llm.EstimateTokens].
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenCount > 0 {
		return p.TokenCount, nil
	}
	return llm.EstimateTokens(messages), nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// StreamCallCount returns the number of StreamCompletion calls so far.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// LastStreamRequest returns the request of the most recent StreamCompletion
// call. It panics when there was none.
func (p *Provider) LastStreamRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.StreamCalls[len(p.StreamCalls)-1].Req
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
}

// TextTurn returns a script that streams text word by word and stops.
func TextTurn(text string) []llm.Chunk {
	var chunks []llm.Chunk
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == ' ' {
			chunks = append(chunks, llm.Chunk{Text: text[start : i+1]})
			start = i + 1
		}
	}
	if start < len(text) {
		chunks = append(chunks, llm.Chunk{Text: text[start:]})
	}
	return append(chunks, llm.Chunk{FinishReason: "stop"})
}

// ToolCallTurn returns a script whose final chunk requests calls.
func ToolCallTurn(calls ...types.ToolCall) []llm.Chunk {
	return []llm.Chunk{{FinishReason: "tool_calls", ToolCalls: calls}}
}

// ErrorTurn returns a script that fails mid-stream with msg.
func ErrorTurn(msg string) []llm.Chunk {
	return []llm.Chunk{{FinishReason: llm.FinishReasonError, Text: msg}}
}

// cloneRequest copies the message slice so later appends by the caller do not
// alter the recorded request.
func cloneRequest(req llm.CompletionRequest) llm.CompletionRequest {
	msgs := make([]types.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = m.Clone()
	}
	req.Messages = msgs
	req.Tools = append([]types.ToolDefinition(nil), req.Tools...)
	return req
}

var _ llm.Provider = (*Provider)(nil)
