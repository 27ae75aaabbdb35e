package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/pagepilot/internal/config"
	"github.com/MrWong99/pagepilot/internal/mcp"
	"github.com/MrWong99/pagepilot/pkg/provider/llm"
	llmmock "github.com/MrWong99/pagepilot/pkg/provider/llm/mock"
)

const fullYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  llm_fallbacks:
    - name: anthropic
      model: claude-sonnet-4
agent:
  max_steps: 6
  temperature: 0.5
  max_page_chars: 2000
  attach_screenshot: true
  retries: 3
  request_timeout: 90s
challenge:
  max_iterations: 5
  settle_delay: 1s
  jitter_min: 100ms
  jitter_max: 200ms
browser:
  remote_url: ws://127.0.0.1:9222/devtools/browser/abc
  headless: false
  width: 1024
  height: 768
  start_url: https://example.com
shortcuts:
  file: /var/lib/pagepilot/shortcuts.yaml
mcp:
  servers:
    - name: weather
      transport: stdio
      command: mcp-weather --units metric
      env:
        UNITS: metric
    - name: search
      transport: streamable-http
      url: https://mcp.example.com/mcp
      headers:
        Authorization: Bearer token
`

// ─────────────────────────────────────────────────────────────────────────────
// Loading
// ─────────────────────────────────────────────────────────────────────────────

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.LLM.Model != "gpt-4o" || len(cfg.Providers.LLMFallbacks) != 1 {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	want := config.AgentConfig{
		MaxSteps:         6,
		Temperature:      0.5,
		MaxPageChars:     2000,
		AttachScreenshot: true,
		Retries:          3,
		RequestTimeout:   90 * time.Second,
	}
	if cfg.Agent != want {
		t.Errorf("agent = %+v, want %+v", cfg.Agent, want)
	}
	if cfg.Challenge.JitterMax != 200*time.Millisecond || cfg.Challenge.MaxIterations != 5 {
		t.Errorf("challenge = %+v", cfg.Challenge)
	}
	if cfg.Browser.Headless || cfg.Browser.Width != 1024 {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if len(cfg.MCP.Servers) != 2 || cfg.MCP.Servers[1].Transport != mcp.TransportStreamableHTTP {
		t.Errorf("mcp = %+v", cfg.MCP)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Agent.MaxSteps != 10 || cfg.Agent.Temperature != 0.2 || cfg.Agent.MaxPageChars != 4000 || cfg.Agent.Retries != 2 {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	c := cfg.Challenge
	if c.MaxIterations != 20 || c.SettleDelay != 2*time.Second || c.JitterMin != 300*time.Millisecond || c.JitterMax != 900*time.Millisecond {
		t.Errorf("challenge defaults = %+v", c)
	}
	if !cfg.Browser.Headless || cfg.Browser.Width != 1280 || cfg.Browser.Height != 800 {
		t.Errorf("browser defaults = %+v", cfg.Browser)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log level default = %q", cfg.Server.LogLevel)
	}
}

func TestLoadFromReader_PartialKeepsOtherDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("agent:\n  max_steps: 3\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Agent.MaxSteps != 3 || cfg.Agent.Temperature != 0.2 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("agent:\n  max_stepz: 3\n"))
	if err == nil || !strings.Contains(err.Error(), "max_stepz") {
		t.Errorf("err = %v, want unknown field error", err)
	}
}

func TestLoadFromReader_ExpandsSecrets(t *testing.T) {
	t.Setenv("PAGEPILOT_TEST_KEY", "sk-from-env")
	t.Setenv("PAGEPILOT_TEST_TOKEN", "secret")

	yaml := `
providers:
  llm:
    name: openai
    api_key: ${PAGEPILOT_TEST_KEY}
mcp:
  servers:
    - name: search
      transport: streamable-http
      url: https://mcp.example.com/mcp
      headers:
        Authorization: Bearer ${PAGEPILOT_TEST_TOKEN}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q", cfg.Providers.LLM.APIKey)
	}
	if got := cfg.MCP.Servers[0].Headers["Authorization"]; got != "Bearer secret" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("PAGEPILOT_A", "alpha")

	tests := []struct {
		in, want string
	}{
		{"${PAGEPILOT_A}", "alpha"},
		{"x-${PAGEPILOT_A}-y", "x-alpha-y"},
		{"$PAGEPILOT_A", "$PAGEPILOT_A"},
		{"${PAGEPILOT_UNSET_VAR}", ""},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := config.ExpandEnv(tt.in); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pagepilot.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Shortcuts.File != "/var/lib/pagepilot/shortcuts.yaml" {
		t.Errorf("shortcuts.file = %q", cfg.Shortcuts.File)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

func TestLoad_ShippedExample(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("configs/example.yaml does not load: %v", err)
	}
	if cfg.Providers.LLM.Name != "openai" || len(cfg.Providers.LLMFallbacks) != 2 {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Agent.RequestTimeout != 2*time.Minute || cfg.Shortcuts.File != "shortcuts.yaml" {
		t.Errorf("agent = %+v, shortcuts = %+v", cfg.Agent, cfg.Shortcuts)
	}
}

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"sample ratio", "server:\n  trace_sample_ratio: 1.5\n", "server.trace_sample_ratio"},
		{"negative steps", "agent:\n  max_steps: -1\n", "agent.max_steps"},
		{"temperature", "agent:\n  temperature: 3\n", "agent.temperature"},
		{"retries", "agent:\n  retries: -2\n", "agent.retries"},
		{"timeout", "agent:\n  request_timeout: -1s\n", "agent.request_timeout"},
		{"jitter order", "challenge:\n  jitter_min: 1s\n  jitter_max: 10ms\n", "jitter_min"},
		{"iterations", "challenge:\n  max_iterations: -5\n", "challenge.max_iterations"},
		{"viewport", "browser:\n  width: -1\n", "viewport"},
		{"remote url", "browser:\n  remote_url: not-a-url\n", "browser.remote_url"},
		{"fallback without primary", "providers:\n  llm_fallbacks:\n    - name: openai\n", "requires providers.llm"},
		{"fallback name", "providers:\n  llm:\n    name: openai\n  llm_fallbacks:\n    - model: x\n", "llm_fallbacks[0].name"},
		{"mcp transport", "mcp:\n  servers:\n    - name: a\n      transport: carrier-pigeon\n", "unknown transport"},
		{"mcp command", "mcp:\n  servers:\n    - name: a\n      transport: stdio\n", "requires a command"},
		{"mcp duplicate", "mcp:\n  servers:\n    - {name: a, transport: stdio, command: x}\n    - {name: a, transport: stdio, command: y}\n", "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.Agent.MaxSteps = -1
	cfg.Agent.Temperature = 5

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"log_level", "max_steps", "temperature"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err lacks %q: %v", want, err)
		}
	}
}

func TestValidate_DefaultIsValid(t *testing.T) {
	t.Parallel()

	if err := config.Validate(config.Default()); err != nil {
		t.Errorf("Validate(Default()) = %v", err)
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for l, want := range tests {
		if got := l.SlogLevel(); got != want {
			t.Errorf("%q.SlogLevel() = %v, want %v", l, got, want)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────────────────────

func TestRegistry_CreateLLM(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterLLM("fake", func(e config.ProviderEntry) (llm.Provider, error) {
		got = e
		return &llmmock.Provider{}, nil
	})

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "fake", Model: "m"})
	if err != nil || p == nil {
		t.Fatalf("CreateLLM = %v, %v", p, err)
	}
	if got.Model != "m" {
		t.Errorf("factory saw %+v", got)
	}

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unregistered err = %v", err)
	}
}

func TestRegistry_LLMNamesSorted(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	for _, n := range []string{"openai", "anthropic", "ollama"} {
		reg.RegisterLLM(n, func(config.ProviderEntry) (llm.Provider, error) { return nil, nil })
	}
	names := reg.LLMNames()
	if strings.Join(names, ",") != "anthropic,ollama,openai" {
		t.Errorf("LLMNames() = %v", names)
	}
}
