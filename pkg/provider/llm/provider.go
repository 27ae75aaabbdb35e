// Package llm is the boundary between the agent and a model backend.
//
// A [Provider] streams chat completions with tool calls. [StructuredQuery] and
// [TextQuery] build single-shot judgments on top of it for the challenge
// solver. Backends live in the anyllm and openai subpackages; mock holds a
// scripted provider for tests.
package llm

import (
	"context"

	"github.com/MrWong99/pagepilot/pkg/types"
)

// Usage is the token accounting a backend reports for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is one model call.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages as the system message.
	SystemPrompt string

	// Messages is the conversation, oldest first. Messages may carry image
	// parts.
	Messages []types.Message

	// Tools are offered to the model for this call only.
	Tools []types.ToolDefinition

	// Temperature in [0, 2].
	Temperature float64

	// MaxTokens caps the reply. Zero leaves it to the backend.
	MaxTokens int
}

// Chunk is one streamed fragment. Text, ToolCalls and FinishReason may be
// combined in a single chunk.
type Chunk struct {
	Text string

	// FinishReason is empty until the last chunk. [FinishReasonError] marks
	// a stream that broke after it started; Text then holds the error.
	FinishReason string

	// ToolCalls are complete calls. Backends accumulate fragments before
	// emitting them.
	ToolCalls []types.ToolCall
}

// CompletionResponse is the result of [Provider.Complete].
type CompletionResponse struct {
	Content   string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// Provider is a model backend. Implementations are safe for concurrent use.
type Provider interface {
	// StreamCompletion starts a streamed reply. The error return covers
	// failures before the first byte; later failures arrive as a final chunk
	// with [FinishReasonError]. The channel is never nil on success and is
	// closed when the reply ends or ctx is done. Callers drain it.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the whole reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates what messages cost in the context window. It may
	// overcount but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities is constant for the life of the provider. A zero
	// ContextWindow means the model is not recognised.
	Capabilities() types.ModelCapabilities
}
