package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/pagepilot/pkg/provider/llm"
	"github.com/MrWong99/pagepilot/pkg/provider/llm/mock"
)

type verdict struct {
	Type     string `json:"type"`
	Question string `json:"question"`
}

// ── StructuredQuery ───────────────────────────────────────────────────────────

func TestStructuredQuery_PlainJSON(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"type":"grid","question":"Select buses"}`}}
	var v verdict
	if err := llm.StructuredQuery(context.Background(), p, llm.CompletionRequest{SystemPrompt: "Classify."}, &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Type != "grid" || v.Question != "Select buses" {
		t.Errorf("unexpected verdict: %+v", v)
	}
	sent := p.CompleteCalls[0].Req
	if !strings.HasPrefix(sent.SystemPrompt, "Classify.") || !strings.Contains(sent.SystemPrompt, "JSON") {
		t.Errorf("system prompt should ask for JSON, got %q", sent.SystemPrompt)
	}
}

func TestStructuredQuery_FencedWithProse(t *testing.T) {
	t.Parallel()

	reply := "Sure! Here you go:\n```json\n{\"type\":\"text\",\"question\":\"Type the {word}\"}\n```"
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: reply}}
	var v verdict
	if err := llm.StructuredQuery(context.Background(), p, llm.CompletionRequest{}, &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Question != "Type the {word}" {
		t.Errorf("braces inside strings must not end the object, got %q", v.Question)
	}
}

func TestStructuredQuery_NoJSON(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "I cannot tell."}}
	var v verdict
	if err := llm.StructuredQuery(context.Background(), p, llm.CompletionRequest{}, &v); err == nil {
		t.Fatal("expected error for a reply without JSON")
	}
}

// ── TextQuery ─────────────────────────────────────────────────────────────────

func TestTextQuery_StripsToolsAndTrims(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  x7Kp2  \n"}}
	req := llm.CompletionRequest{Tools: []llm.ToolDefinition{{Name: "navigate"}}}
	got, err := llm.TextQuery(context.Background(), p, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "x7Kp2" {
		t.Errorf("got %q, want x7Kp2", got)
	}
	if len(p.CompleteCalls[0].Req.Tools) != 0 {
		t.Error("TextQuery must not offer tools")
	}
}

func TestTextQuery_Empty(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "   "}}
	if _, err := llm.TextQuery(context.Background(), p, llm.CompletionRequest{}); !errors.Is(err, llm.ErrEmptyReply) {
		t.Errorf("err = %v, want ErrEmptyReply", err)
	}
}

func TestTextQuery_BackendError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := &mock.Provider{CompleteErr: boom}
	if _, err := llm.TextQuery(context.Background(), p, llm.CompletionRequest{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}
