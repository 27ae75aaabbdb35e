package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/pagepilot/pkg/provider/llm"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// ── convertMessage ────────────────────────────────────────────────────────────

func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()

	msgs := map[string]types.Message{
		"system":    {Role: types.RoleSystem, Content: "You are a browsing assistant."},
		"user":      {Role: types.RoleUser, Content: "What's on this page?"},
		"assistant": {Role: types.RoleAssistant, Content: "A login form."},
		"tool":      {Role: types.RoleTool, Content: `{"ok":true}`, ToolCallID: "call_1"},
	}
	for name, msg := range msgs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p, err := convertMessage(msg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var set bool
			switch name {
			case "system":
				set = p.OfSystem != nil
			case "user":
				set = p.OfUser != nil
			case "assistant":
				set = p.OfAssistant != nil
			case "tool":
				set = p.OfTool != nil && p.OfTool.ToolCallID == "call_1"
			}
			if !set {
				t.Errorf("%s: expected matching union member to be set", name)
			}
		})
	}
}

func TestConvertMessage_AssistantWithToolCalls(t *testing.T) {
	t.Parallel()

	msg := types.Message{
		Role: types.RoleAssistant,
		ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "clickElement", Arguments: `{"selector":"#login"}`},
		},
	}
	p, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OfAssistant == nil || len(p.OfAssistant.ToolCalls) != 1 {
		t.Fatal("expected one assistant tool call")
	}
	tc := p.OfAssistant.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "clickElement" || tc.Function.Arguments != `{"selector":"#login"}` {
		t.Errorf("unexpected tool call: %+v", tc)
	}
}

func TestConvertMessage_UserWithImage(t *testing.T) {
	t.Parallel()

	msg := types.Message{
		Role: types.RoleUser,
		Parts: []types.Part{
			types.TextPart("Select all squares with traffic lights."),
			types.ImagePart("data:image/png;base64,AAAA"),
		},
	}
	p, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
	parts := p.OfUser.Content.OfArrayOfContentParts
	if len(parts) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(parts))
	}
	if parts[0].OfText == nil || parts[0].OfText.Text != "Select all squares with traffic lights." {
		t.Errorf("unexpected text part: %+v", parts[0])
	}
	if parts[1].OfImageURL == nil || parts[1].OfImageURL.ImageURL.URL != "data:image/png;base64,AAAA" {
		t.Errorf("unexpected image part: %+v", parts[1])
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()

	if _, err := convertMessage(types.Message{Role: "narrator", Content: "test"}); err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

// ── Provider ──────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("empty key: err = %v", err)
	}
	if _, err := New("sk-test", ""); !errors.Is(err, ErrMissingModel) {
		t.Errorf("empty model: err = %v", err)
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
	if p.String() != "openai/gpt-4o" {
		t.Errorf("String() = %q", p.String())
	}
	if !p.Capabilities().SupportsVision {
		t.Error("gpt-4o should report vision support")
	}
}

func TestBuildParams_SystemPromptAndTools(t *testing.T) {
	t.Parallel()

	p, _ := New("sk-test", "gpt-4o")
	req := llmRequest()
	params, err := p.buildParams(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected system + user message, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message should be the system prompt")
	}
	if len(params.Tools) != 1 || params.Tools[0].Function.Name != "readPageText" {
		t.Errorf("unexpected tools: %+v", params.Tools)
	}
}

func llmRequest() llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: "You are a browsing assistant.",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Tools: []types.ToolDefinition{{
			Name:        "readPageText",
			Description: "Return the visible page text.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
	}
}

// ── Wire ──────────────────────────────────────────────────────────────────────

// sseServer answers chat completion requests with the given SSE events.
func sseServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chunkJSON(delta, finish string) string {
	f := "null"
	if finish != "" {
		f = `"` + finish + `"`
	}
	return `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":` + delta + `,"finish_reason":` + f + `}]}`
}

func TestStreamCompletion_TextAndToolCalls(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		chunkJSON(`{"role":"assistant","content":"Opening "}`, ""),
		chunkJSON(`{"content":"the page."}`, ""),
		chunkJSON(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"navigate","arguments":"{\"url\":"}}]}`, ""),
		chunkJSON(`{"tool_calls":[{"index":0,"function":{"arguments":"\"https://example.com\"}"}}]}`, ""),
		chunkJSON(`{}`, "tool_calls"),
	)
	p, err := New("sk-test", "gpt-4o", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := p.StreamCompletion(context.Background(), llmRequest())
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var (
		text   strings.Builder
		calls  []types.ToolCall
		finish string
	)
	for c := range ch {
		text.WriteString(c.Text)
		calls = append(calls, c.ToolCalls...)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	if text.String() != "Opening the page." {
		t.Errorf("text = %q", text.String())
	}
	if finish != "tool_calls" {
		t.Errorf("finish = %q", finish)
	}
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "navigate" || calls[0].Arguments != `{"url":"https://example.com"}` {
		t.Errorf("tool calls = %+v", calls)
	}
}

func TestComplete_ParsesReply(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c2","object":"chat.completion","created":1,"model":"gpt-4o",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"cells\":[1,4]}"}}],
			"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("sk-test", "gpt-4o", WithBaseURL(srv.URL+"/v1/"))
	resp, err := p.Complete(context.Background(), llmRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"cells":[1,4]}` || resp.Usage.TotalTokens != 17 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c3","object":"chat.completion","created":1,"model":"gpt-4o","choices":[]}`)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("sk-test", "gpt-4o", WithBaseURL(srv.URL+"/v1/"))
	if _, err := p.Complete(context.Background(), llmRequest()); !errors.Is(err, ErrNoChoices) {
		t.Errorf("err = %v, want ErrNoChoices", err)
	}
}
