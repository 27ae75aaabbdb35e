package llm

import "github.com/MrWong99/pagepilot/pkg/types"

// Aliases for the shared conversation types so that callers working only with
// providers do not need to import pkg/types as well.
type (
	Message           = types.Message
	ToolCall          = types.ToolCall
	ToolDefinition    = types.ToolDefinition
	ModelCapabilities = types.ModelCapabilities
)

// FinishReasonError is the FinishReason of the final chunk when the stream
// failed after it was opened. The chunk's Text carries the error message.
const FinishReasonError = "error"
