package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/pagepilot/internal/agent"
	"github.com/MrWong99/pagepilot/internal/health"
	"github.com/MrWong99/pagepilot/internal/observe"
	"github.com/MrWong99/pagepilot/internal/server"
	"github.com/MrWong99/pagepilot/internal/tool"
	"github.com/MrWong99/pagepilot/internal/tool/automation"
	"github.com/MrWong99/pagepilot/internal/tool/shortcut"
	pagemock "github.com/MrWong99/pagepilot/pkg/page/mock"
	"github.com/MrWong99/pagepilot/pkg/provider/llm"
	llmmock "github.com/MrWong99/pagepilot/pkg/provider/llm/mock"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func loginPage() *pagemock.Surface {
	return &pagemock.Surface{
		URL:   "https://example.com/",
		Title: "Example",
		Text:  "Welcome. Log in to continue.",
		Scripts: func(string) (any, error) {
			return map[string]any{"ok": true, "tag": "button", "text": "Log in"}, nil
		},
	}
}

// clickScript makes the model click the login button, then answer.
func clickScript() [][]llm.Chunk {
	return [][]llm.Chunk{
		llmmock.ToolCallTurn(types.ToolCall{ID: "c1", Name: "clickElement", Arguments: `{"selector":"#login"}`}),
		llmmock.TextTurn("I clicked the login button."),
	}
}

func newServer(t *testing.T, p llm.Provider, opts ...server.Option) (*httptest.Server, *agent.Agent) {
	t.Helper()
	s := loginPage()
	m := testMetrics(t)
	a, err := agent.New(context.Background(), agent.Config{
		Provider: p,
		Surface:  s,
		Sources:  []tool.Source{automation.Source(s), shortcut.Source(shortcut.NewMemStore())},
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	opts = append([]server.Option{server.WithMetrics(m)}, opts...)
	ts := httptest.NewServer(server.New(a, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts, a
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, b
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

// ─────────────────────────────────────────────────────────────────────────────
// REST
// ─────────────────────────────────────────────────────────────────────────────

func TestChat_RunsTurn(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &llmmock.Provider{StreamScripts: clickScript()})
	resp, body := postJSON(t, ts.URL+"/v1/chat", `{"message":"click the login button"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var got struct {
		Text      string `json:"text"`
		Steps     int    `json:"steps"`
		ToolCalls int    `json:"tool_calls"`
		Outcome   string `json:"outcome"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Text != "I clicked the login button." || got.Steps != 2 || got.ToolCalls != 1 || got.Outcome != agent.OutcomeComplete {
		t.Errorf("response = %+v", got)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID")
	}
}

func TestChat_BadRequests(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &llmmock.Provider{StreamScripts: clickScript()})
	tests := []struct {
		name, body, want string
	}{
		{"invalid json", `{"message":`, "invalid JSON"},
		{"empty message", `{"message":"   "}`, "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, body := postJSON(t, ts.URL+"/v1/chat", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body = %s, want mention of %q", body, tt.want)
			}
		})
	}
}

func TestChat_TurnTimeout(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StreamScripts: clickScript()}
	ts, a := newServer(t, p, server.WithTurnTimeout(time.Nanosecond))
	resp, _ := postJSON(t, ts.URL+"/v1/chat", `{"message":"hi"}`)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
	if n := len(a.History()); n > 1 {
		t.Errorf("history has %d messages after a timed-out turn", n)
	}
}

func TestReset_ClearsHistory(t *testing.T) {
	t.Parallel()

	ts, a := newServer(t, &llmmock.Provider{StreamScripts: clickScript()})
	postJSON(t, ts.URL+"/v1/chat", `{"message":"click"}`)
	if len(a.History()) == 0 {
		t.Fatal("history empty after a turn")
	}

	resp, _ := postJSON(t, ts.URL+"/v1/reset", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if n := len(a.History()); n != 0 {
		t.Errorf("history has %d messages after reset", n)
	}
}

func TestTools_ListsOrigins(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &llmmock.Provider{})
	var tools []struct {
		Name       string         `json:"name"`
		Origin     string         `json:"origin"`
		Parameters map[string]any `json:"parameters"`
	}
	if code := getJSON(t, ts.URL+"/v1/tools", &tools); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}

	origins := map[string]string{}
	for _, tl := range tools {
		origins[tl.Name] = tl.Origin
	}
	if origins["clickElement"] != "automation" {
		t.Errorf("clickElement origin = %q", origins["clickElement"])
	}
	if origins["saveShortcut"] != "shortcut" {
		t.Errorf("saveShortcut origin = %q", origins["saveShortcut"])
	}
	for i := 1; i < len(tools); i++ {
		if tools[i-1].Name > tools[i].Name {
			t.Errorf("tools not sorted: %q before %q", tools[i-1].Name, tools[i].Name)
		}
	}
}

func TestHistoryAndActivity(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &llmmock.Provider{StreamScripts: clickScript()})
	postJSON(t, ts.URL+"/v1/chat", `{"message":"click the login button"}`)

	var history []struct {
		Role       string `json:"role"`
		Content    string `json:"content"`
		ToolCallID string `json:"tool_call_id"`
		ToolCalls  []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"tool_calls"`
	}
	getJSON(t, ts.URL+"/v1/history", &history)
	var rs []string
	for _, m := range history {
		rs = append(rs, m.Role)
	}
	if strings.Join(rs, ",") != "user,assistant,tool,assistant" {
		t.Fatalf("roles = %v", rs)
	}
	if len(history[1].ToolCalls) != 1 || history[1].ToolCalls[0].Name != "clickElement" {
		t.Errorf("assistant tool calls = %+v", history[1].ToolCalls)
	}
	if history[2].ToolCallID != history[1].ToolCalls[0].ID {
		t.Errorf("tool message answers %q, want %q", history[2].ToolCallID, history[1].ToolCalls[0].ID)
	}

	var activity []agent.ActivityEntry
	getJSON(t, ts.URL+"/v1/activity", &activity)
	if len(activity) != 1 || activity[0].Status != agent.ActivityComplete {
		t.Errorf("activity = %+v", activity)
	}
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &llmmock.Provider{}, server.WithHealth(health.New(health.PageChecker(loginPage()))))
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if code := getJSON(t, ts.URL+"/readyz", &body); code != http.StatusOK || body.Checks["page"] != "ok" {
		t.Errorf("readyz = %d %+v", code, body)
	}
	if code := getJSON(t, ts.URL+"/healthz", nil); code != http.StatusOK {
		t.Errorf("healthz = %d", code)
	}
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	scraped := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pagepilot_agent_turns_total 1\n")
	})
	ts, _ := newServer(t, &llmmock.Provider{}, server.WithMetricsHandler(scraped))
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), "pagepilot_agent_turns_total") {
		t.Errorf("metrics = %d %s", resp.StatusCode, b)
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &llmmock.Provider{})
	if code := getJSON(t, ts.URL+"/v1/nope", nil); code != http.StatusNotFound {
		t.Errorf("status = %d", code)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// WebSocket
// ─────────────────────────────────────────────────────────────────────────────

type event struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Tool      string `json:"tool"`
	Args      string `json:"args"`
	Success   *bool  `json:"success"`
	Error     string `json:"error"`
	Steps     int    `json:"steps"`
	ToolCalls int    `json:"tool_calls"`
	Outcome   string `json:"outcome"`
}

func dial(t *testing.T, ts *httptest.Server) (context.Context, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return ctx, conn
}

// readUntil collects events up to and including the first of type last.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, last string) []event {
	t.Helper()
	var out []event
	for {
		var ev event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read after %d events: %v", len(out), err)
		}
		out = append(out, ev)
		if ev.Type == last {
			return out
		}
	}
}

func TestWS_StreamsTurn(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &llmmock.Provider{StreamScripts: clickScript()})
	ctx, conn := dial(t, ts)

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "message", "text": "click the login button"}); err != nil {
		t.Fatal(err)
	}
	events := readUntil(t, ctx, conn, "turn_complete")

	var kinds []string
	var text strings.Builder
	for _, ev := range events {
		if ev.Type == "text_delta" {
			text.WriteString(ev.Text)
			if len(kinds) > 0 && kinds[len(kinds)-1] == "text_delta" {
				continue
			}
		}
		kinds = append(kinds, ev.Type)
	}
	if strings.Join(kinds, ",") != "tool_call,tool_result,text_delta,turn_complete" {
		t.Fatalf("event kinds = %v", kinds)
	}
	if events[0].Tool != "clickElement" || !strings.Contains(events[0].Args, "#login") {
		t.Errorf("tool_call = %+v", events[0])
	}
	if events[1].Success == nil || !*events[1].Success {
		t.Errorf("tool_result = %+v", events[1])
	}
	done := events[len(events)-1]
	if text.String() != done.Text || done.Text != "I clicked the login button." {
		t.Errorf("deltas %q, final %q", text.String(), done.Text)
	}
	if done.Steps != 2 || done.ToolCalls != 1 || done.Outcome != agent.OutcomeComplete {
		t.Errorf("turn_complete = %+v", done)
	}
}

func TestWS_ResetAndErrors(t *testing.T) {
	t.Parallel()

	ts, a := newServer(t, &llmmock.Provider{StreamScripts: [][]llm.Chunk{llmmock.TextTurn("hello")}})
	ctx, conn := dial(t, ts)

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "message", "text": "hi"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ctx, conn, "turn_complete")

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "reset"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ctx, conn, "reset")
	if n := len(a.History()); n != 0 {
		t.Errorf("history has %d messages after reset", n)
	}

	tests := []struct {
		frame map[string]string
		want  string
	}{
		{map[string]string{"type": "shout"}, "unknown frame type"},
		{map[string]string{"type": "message", "text": ""}, "empty"},
	}
	for _, tt := range tests {
		if err := wsjson.Write(ctx, conn, tt.frame); err != nil {
			t.Fatal(err)
		}
		evs := readUntil(t, ctx, conn, "error")
		if got := evs[len(evs)-1].Error; !strings.Contains(got, tt.want) {
			t.Errorf("frame %v: error = %q, want mention of %q", tt.frame, got, tt.want)
		}
	}
}

func TestWS_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, &llmmock.Provider{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	if err == nil {
		t.Fatal("dial succeeded from a foreign origin")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}
