package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyReply is returned by [TextQuery] and [StructuredQuery] when the
// model produced no usable content.
var ErrEmptyReply = errors.New("llm: empty reply")

// structuredSuffix is appended to the system prompt of a structured query.
const structuredSuffix = "\n\nRespond with a single JSON object and nothing else. Do not wrap it in Markdown."

// TextQuery performs a single-shot completion and returns the trimmed reply
// text. Tools are never offered.
func TextQuery(ctx context.Context, p Provider, req CompletionRequest) (string, error) {
	req.Tools = nil
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm: text query: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// StructuredQuery asks the model for a JSON object and decodes it into out,
// which must be a pointer. The shape of out is described to the model by the
// caller's prompt; StructuredQuery only enforces that the reply is JSON.
//
// Markdown code fences and any prose around the first JSON object are
// tolerated.
func StructuredQuery(ctx context.Context, p Provider, req CompletionRequest, out any) error {
	req.SystemPrompt += structuredSuffix
	text, err := TextQuery(ctx, p, req)
	if err != nil {
		return err
	}
	obj, ok := extractJSONObject(stripMarkdown(text))
	if !ok {
		return fmt.Errorf("llm: structured query: no JSON object in reply %q", truncate(text, 120))
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return fmt.Errorf("llm: structured query: decode reply: %w", err)
	}
	return nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// extractJSONObject returns the first balanced {...} object in s. Braces
// inside string literals are ignored.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
