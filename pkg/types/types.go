// Package types defines the shared types used across all PagePilot packages.
//
// These types form the lingua franca between the model providers, the tool
// registry, the conversation store and the agent loop. Each package defines its
// own domain types; only cross-cutting data structures live here.
package types

import "strings"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// PartType discriminates the content of a [Part].
type PartType string

const (
	// PartText carries plain text in [Part.Text].
	PartText PartType = "text"

	// PartImage carries an image in [Part.ImageURL], usually a data URL.
	PartImage PartType = "image"
)

// Part is one element of a multimodal message body.
type Part struct {
	Type PartType

	// Text is set when Type is PartText.
	Text string

	// ImageURL is set when Type is PartImage. Providers accept both remote
	// URLs and "data:image/png;base64,..." URLs.
	ImageURL string
}

// TextPart returns a text [Part].
func TextPart(s string) Part { return Part{Type: PartText, Text: s} }

// ImagePart returns an image [Part] referencing url.
func ImagePart(url string) Part { return Part{Type: PartImage, ImageURL: url} }

// Message represents a single message in an LLM conversation history.
//
// A message carries either plain Content or an ordered list of Parts. When
// Parts is non-empty, providers send the multimodal form and ignore Content.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Parts is the ordered multimodal body (text and image parts).
	Parts []Part

	// Name is an optional participant name.
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// Text returns the textual content of m. When Content is empty the text parts
// are concatenated in order, separated by newlines.
func (m Message) Text() string {
	if m.Content != "" || len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasImage reports whether m carries at least one image part.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	c := m
	if m.Parts != nil {
		c.Parts = append([]Part(nil), m.Parts...)
	}
	if m.ToolCalls != nil {
		c.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return c
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
