package app_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/pagepilot/internal/agent"
	"github.com/MrWong99/pagepilot/internal/app"
	"github.com/MrWong99/pagepilot/internal/config"
	"github.com/MrWong99/pagepilot/internal/mcp"
	"github.com/MrWong99/pagepilot/internal/mcp/mcphost"
	"github.com/MrWong99/pagepilot/internal/observe"
	"github.com/MrWong99/pagepilot/internal/resilience"
	"github.com/MrWong99/pagepilot/internal/tool/shortcut"
	pagemock "github.com/MrWong99/pagepilot/pkg/page/mock"
	llmmock "github.com/MrWong99/pagepilot/pkg/provider/llm/mock"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// ─── Helpers ─────────────────────────────────────────────────────────────────

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

// testProviders returns a single mock backend answering "hello".
func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &app.Backend{Name: "primary", Provider: &llmmock.Provider{
			StreamChunks: llmmock.TextTurn("hello"),
		}},
	}
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithSurface(&pagemock.Surface{URL: "https://example.com/"}),
		app.WithShortcutStore(shortcut.NewMemStore()),
		app.WithMetrics(testMetrics(t)),
	}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func toolNames(a *app.App) []string {
	var names []string
	for _, d := range a.Agent().Tools() {
		names = append(names, d.Name())
	}
	return names
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	a := newApp(t, config.Default(), testProviders())

	names := toolNames(a)
	for _, want := range []string{"clickElement", "saveShortcut", "solveChallenge"} {
		if !slices.Contains(names, want) {
			t.Errorf("tool %q missing from %v", want, names)
		}
	}
	if got := a.Agent().MaxSteps(); got != 10 {
		t.Errorf("MaxSteps = %d, want 10", got)
	}

	status := a.Backends()
	if len(status) != 1 || status[0].Name != "primary" || status[0].State != resilience.StateClosed.String() {
		t.Errorf("Backends() = %+v", status)
	}

	turn, err := a.Agent().Converse(context.Background(), "hi", nil)
	if err != nil || turn.Text != "hello" {
		t.Errorf("Converse = %+v, %v", turn, err)
	}
}

func TestNew_NoModel(t *testing.T) {
	t.Parallel()

	a := newApp(t, config.Default(), nil)
	if len(a.Backends()) != 0 {
		t.Errorf("Backends() = %+v, want none", a.Backends())
	}

	turn, err := a.Agent().Converse(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if turn.Text != agent.CategoryUnavailable.UserMessage() || turn.Outcome != agent.OutcomeFailed {
		t.Errorf("turn = %+v", turn)
	}
}

func TestNew_FailsOverToFallback(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{StreamErr: errors.New("401 unauthorized")}
	fallback := &llmmock.Provider{StreamChunks: llmmock.TextTurn("from fallback")}
	a := newApp(t, config.Default(), &app.Providers{
		LLM:          &app.Backend{Name: "primary", Provider: primary},
		LLMFallbacks: []app.Backend{{Name: "fallback", Provider: fallback}},
	})

	turn, err := a.Agent().Converse(context.Background(), "hi", nil)
	if err != nil || turn.Text != "from fallback" {
		t.Fatalf("Converse = %+v, %v", turn, err)
	}
	// Auth failures are not retried.
	if n := primary.StreamCallCount(); n != 1 {
		t.Errorf("primary called %d times, want 1", n)
	}
}

func TestNew_ConfigFlowsIntoAgent(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Agent.MaxSteps = 3
	cfg.Agent.Temperature = 0.7
	cfg.Agent.MaxTokens = 256

	p := &llmmock.Provider{StreamChunks: llmmock.TextTurn("ok")}
	a := newApp(t, cfg, &app.Providers{LLM: &app.Backend{Name: "p", Provider: p}})
	if a.Agent().MaxSteps() != 3 {
		t.Errorf("MaxSteps = %d", a.Agent().MaxSteps())
	}
	if _, err := a.Agent().Converse(context.Background(), "hi", nil); err != nil {
		t.Fatal(err)
	}
	req := p.LastStreamRequest()
	if req.Temperature != 0.7 || req.MaxTokens != 256 {
		t.Errorf("request temperature %v, max tokens %d", req.Temperature, req.MaxTokens)
	}
}

func TestNew_ShortcutFile(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"shortcuts.yaml", "shortcuts.db"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Shortcuts.File = filepath.Join(t.TempDir(), name)
			a, err := app.New(context.Background(), cfg, testProviders(),
				app.WithSurface(&pagemock.Surface{}),
				app.WithMetrics(testMetrics(t)),
			)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer a.Shutdown(context.Background())

			if !slices.Contains(toolNames(a), "listShortcuts") {
				t.Error("shortcut tools missing with a file store")
			}
		})
	}
}

func TestNew_UnreadableShortcutFile(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Shortcuts.File = t.TempDir() // a directory, not a file
	_, err := app.New(context.Background(), cfg, testProviders(),
		app.WithSurface(&pagemock.Surface{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err == nil {
		t.Fatal("New succeeded with a directory as shortcut file")
	}
}

func TestNew_ScreenshotFollowsModelVision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		caps      types.ModelCapabilities
		wantImage bool
	}{
		{"vision model", types.ModelCapabilities{ContextWindow: 128_000, SupportsVision: true}, true},
		{"text-only model", types.ModelCapabilities{ContextWindow: 16_385}, false},
		{"unknown model", types.ModelCapabilities{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			cfg.Agent.AttachScreenshot = true
			p := &llmmock.Provider{StreamChunks: llmmock.TextTurn("ok"), ModelCapabilities: tt.caps}
			a := newApp(t, cfg, &app.Providers{LLM: &app.Backend{Name: "p", Provider: p}},
				app.WithSurface(&pagemock.Surface{URL: "https://example.com/", ScreenshotData: []byte{0x89, 'P', 'N', 'G'}}))

			if _, err := a.Agent().Converse(context.Background(), "what do you see?", nil); err != nil {
				t.Fatal(err)
			}
			msgs := p.LastStreamRequest().Messages
			if got := msgs[len(msgs)-1].HasImage(); got != tt.wantImage {
				t.Errorf("screenshot attached = %v, want %v", got, tt.wantImage)
			}
		})
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

func TestApplyConfig_LogLevel(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	a := newApp(t, config.Default(), testProviders(), app.WithLogLevel(&level))

	next := config.Default()
	next.Server.LogLevel = config.LogDebug
	a.ApplyConfig(context.Background(), config.Default(), next)
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
}

func TestApplyConfig_RemovedMCPServerDropsTools(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "weather", Version: "test"}, nil)
	srv.AddTool(&mcpsdk.Tool{Name: "forecast", Description: "Weather forecast", InputSchema: map[string]any{"type": "object"}},
		func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "clear"}}}, nil
		})
	serverT, clientT := mcpsdk.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	host := mcphost.New()
	if err := host.Connect(ctx, "weather", clientT); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	prev := config.Default()
	prev.MCP.Servers = []mcp.ServerConfig{{Name: "weather", Transport: mcp.TransportStdio, Command: "mcp-weather"}}
	a := newApp(t, config.Default(), testProviders(), app.WithMCPHost(host))
	if !slices.Contains(toolNames(a), "forecast") {
		t.Fatalf("forecast missing before reload: %v", toolNames(a))
	}

	a.ApplyConfig(ctx, prev, config.Default())
	if slices.Contains(toolNames(a), "forecast") {
		t.Errorf("forecast still present after its server was removed: %v", toolNames(a))
	}
	if len(host.Servers()) != 0 {
		t.Errorf("servers = %v", host.Servers())
	}
}

func TestApplyConfig_ColdChangeIsNoop(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	level.Set(slog.LevelWarn)
	a := newApp(t, config.Default(), testProviders(), app.WithLogLevel(&level))
	before := len(a.Agent().Tools())

	next := config.Default()
	next.Agent.MaxSteps = 2
	a.ApplyConfig(context.Background(), config.Default(), next)
	if level.Level() != slog.LevelWarn || len(a.Agent().Tools()) != before || a.Agent().MaxSteps() != 10 {
		t.Error("a cold-only change altered the running app")
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

func TestRun_RequiresListenAddr(t *testing.T) {
	t.Parallel()

	a := newApp(t, config.Default(), testProviders())
	if err := a.Run(context.Background()); !errors.Is(err, app.ErrNoListenAddr) {
		t.Errorf("Run() = %v, want ErrNoListenAddr", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	a := newApp(t, cfg, testProviders())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	// Give Run a moment to start listening.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	// A second call is a no-op.
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}
