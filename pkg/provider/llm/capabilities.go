package llm

import (
	"strings"

	"github.com/MrWong99/pagepilot/pkg/types"
)

// modelFamily maps a model-name prefix to its capabilities. Entries are
// matched in order, so more specific prefixes must come first.
type modelFamily struct {
	prefix string
	caps   types.ModelCapabilities
}

// vision is shorthand for a streaming, tool-calling, vision-capable model.
func vision(window, output int) types.ModelCapabilities {
	return types.ModelCapabilities{
		ContextWindow:       window,
		MaxOutputTokens:     output,
		SupportsToolCalling: true,
		SupportsVision:      true,
		SupportsStreaming:   true,
	}
}

// textOnly is shorthand for a streaming, tool-calling model without image input.
func textOnly(window, output int) types.ModelCapabilities {
	c := vision(window, output)
	c.SupportsVision = false
	return c
}

var knownFamilies = []modelFamily{
	// ── OpenAI ───────────────────────────────────────────────────────────────
	{"gpt-4.1", vision(1_047_576, 32_768)},
	{"gpt-4o-mini", vision(128_000, 16_384)},
	{"gpt-4o", vision(128_000, 16_384)},
	{"gpt-4-turbo", vision(128_000, 4_096)},
	{"gpt-4", textOnly(8_192, 4_096)},
	{"gpt-3.5-turbo", textOnly(16_385, 4_096)},
	{"gpt-5", vision(400_000, 128_000)},
	{"o1-mini", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536, SupportsStreaming: true}},
	{"o1", vision(200_000, 100_000)},
	{"o3-mini", textOnly(200_000, 100_000)},
	{"o3", vision(200_000, 100_000)},
	{"o4-mini", vision(200_000, 100_000)},

	// ── Anthropic ────────────────────────────────────────────────────────────
	{"claude-3-opus", vision(200_000, 4_096)},
	{"claude-3-haiku", vision(200_000, 4_096)},
	{"claude", vision(200_000, 8_192)},

	// ── Google ───────────────────────────────────────────────────────────────
	{"gemini-1.5-pro", vision(2_097_152, 8_192)},
	{"gemini", vision(1_048_576, 8_192)},

	// ── Local / open-weight ──────────────────────────────────────────────────
	{"llava", vision(4_096, 2_048)},
	{"qwen2.5-vl", vision(32_768, 8_192)},
	{"llama3.2-vision", vision(128_000, 4_096)},
}

// CapabilitiesFor returns the capabilities of a known model family, matched
// case-insensitively by name prefix. Unknown models are assumed to support
// streaming and tool calling but not vision.
func CapabilitiesFor(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range knownFamilies {
		if strings.HasPrefix(lower, f.prefix) {
			return f.caps
		}
	}
	return textOnly(128_000, 4_096)
}

// EstimateTokens approximates the token footprint of messages at roughly four
// characters per token plus a fixed per-message overhead. Image parts count as
// a flat 765 tokens, the cost of one high-detail 512px tile pair.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		chars := len(m.Content)
		for _, p := range m.Parts {
			switch p.Type {
			case types.PartText:
				chars += len(p.Text)
			case types.PartImage:
				total += 765
			}
		}
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.Arguments)
		}
		total += (chars+3)/4 + 4
	}
	return total
}
