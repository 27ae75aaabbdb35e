// Package config provides the configuration schema, loader, provider registry
// and file watcher for PagePilot.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/pagepilot/internal/mcp"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto a [slog.Level]. Unknown and empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. Load it with [Load] or
// [LoadFromReader]; fields absent from the file keep the values of [Default].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Agent     AgentConfig     `yaml:"agent"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Browser   BrowserConfig   `yaml:"browser"`
	Shortcuts ShortcutsConfig `yaml:"shortcuts"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP surface (e.g. ":8080"). When
	// empty the binary runs an interactive terminal session instead.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TraceSampleRatio is the fraction of root traces recorded, in [0, 1].
	// Zero records every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// ProvidersConfig selects the model backend and its fallbacks.
type ProvidersConfig struct {
	// LLM is the primary model backend. An empty name leaves the agent
	// without a backend; every turn then answers with the unavailable message.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary fails or its circuit
	// is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry configures one model backend. Name selects the factory in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "openai", "anthropic",
	// "openai-direct").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. "${VAR}" references are
	// expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the model within the backend (e.g. "gpt-4o").
	Model string `yaml:"model"`

	// Options holds implementation-specific values.
	Options map[string]any `yaml:"options"`
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	// MaxSteps is the ceiling on model calls per user turn. Default: 10.
	MaxSteps int `yaml:"max_steps"`

	// Temperature is passed to every model call. Default: 0.2.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps each model reply. Zero leaves it to the backend.
	MaxTokens int `yaml:"max_tokens"`

	// MaxPageChars caps the page text placed in the system prompt.
	// Default: 4000.
	MaxPageChars int `yaml:"max_page_chars"`

	// AttachScreenshot sends a screenshot of the page with every step.
	AttachScreenshot bool `yaml:"attach_screenshot"`

	// Retries is the number of retries for a failed model request.
	// Default: 2. Zero or -1 disables retries.
	Retries int `yaml:"retries"`

	// RequestTimeout bounds one user turn. Zero means no limit.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ChallengeConfig tunes the challenge solver.
type ChallengeConfig struct {
	// MaxIterations bounds the grid loop. Default: 20.
	MaxIterations int `yaml:"max_iterations"`

	// SettleDelay is waited after the acknowledge click and after each
	// verify. Default: 2s.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// JitterMin and JitterMax bound the random pause after each cell click.
	// Defaults: 300ms and 900ms.
	JitterMin time.Duration `yaml:"jitter_min"`
	JitterMax time.Duration `yaml:"jitter_max"`
}

// BrowserConfig selects the Chrome tab the agent drives.
type BrowserConfig struct {
	// RemoteURL attaches to an already running Chrome via its DevTools
	// websocket URL. When empty a local Chrome is launched.
	RemoteURL string `yaml:"remote_url"`

	// Headless launches Chrome without a window. Default: true.
	Headless bool `yaml:"headless"`

	// NoSandbox disables the Chrome sandbox, needed in most containers.
	NoSandbox bool `yaml:"no_sandbox"`

	// Width and Height set the viewport. Defaults: 1280x800.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// StartURL is opened once the tab is ready.
	StartURL string `yaml:"start_url"`
}

// ShortcutsConfig selects where saved shortcuts live.
type ShortcutsConfig struct {
	// File holds the shortcuts: a SQLite database when it ends in .db,
	// .sqlite or .sqlite3, YAML otherwise. When empty, shortcuts are kept in
	// memory and lost on exit.
	File string `yaml:"file"`
}

// MCPConfig lists the external tool servers.
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Agent: AgentConfig{
			MaxSteps:     10,
			Temperature:  0.2,
			MaxPageChars: 4000,
			Retries:      2,
		},
		Challenge: ChallengeConfig{
			MaxIterations: 20,
			SettleDelay:   2 * time.Second,
			JitterMin:     300 * time.Millisecond,
			JitterMax:     900 * time.Millisecond,
		},
		Browser: BrowserConfig{
			Headless: true,
			Width:    1280,
			Height:   800,
		},
	}
}
