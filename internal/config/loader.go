package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownLLMProviders lists the backend names [Validate] recognises. Unknown
// names only produce a warning since third-party factories may be
// registered.
var KnownLLMProviders = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq",
	"llamacpp", "llamafile", "openai-direct",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], expands
// environment references and validates the result. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${VAR} in s with the value of the environment
// variable VAR. Unset variables expand to the empty string. A bare $VAR is
// left alone.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}

// expandSecrets expands environment references in the fields that usually
// carry credentials or endpoints.
func expandSecrets(cfg *Config) {
	expand := func(e *ProviderEntry) {
		e.APIKey = ExpandEnv(e.APIKey)
		e.BaseURL = ExpandEnv(e.BaseURL)
	}
	expand(&cfg.Providers.LLM)
	for i := range cfg.Providers.LLMFallbacks {
		expand(&cfg.Providers.LLMFallbacks[i])
	}
	cfg.Browser.RemoteURL = ExpandEnv(cfg.Browser.RemoteURL)
	for i := range cfg.MCP.Servers {
		srv := &cfg.MCP.Servers[i]
		srv.URL = ExpandEnv(srv.URL)
		for k, v := range srv.Headers {
			srv.Headers[k] = ExpandEnv(v)
		}
		for k, v := range srv.Env {
			srv.Env[k] = ExpandEnv(v)
		}
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; the agent will answer every message with a setup hint")
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
		}
	}
	warnUnknownProvider("providers.llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		field := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		}
		warnUnknownProvider(field, fb.Name)
	}

	// Agent
	a := cfg.Agent
	if a.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("agent.max_steps %d must not be negative", a.MaxSteps))
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", a.Temperature))
	}
	if a.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tokens %d must not be negative", a.MaxTokens))
	}
	if a.MaxPageChars < 0 {
		errs = append(errs, fmt.Errorf("agent.max_page_chars %d must not be negative", a.MaxPageChars))
	}
	if a.Retries < -1 {
		errs = append(errs, fmt.Errorf("agent.retries %d is invalid; use -1 to disable retries", a.Retries))
	}
	if a.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("agent.request_timeout %v must not be negative", a.RequestTimeout))
	}

	// Challenge
	c := cfg.Challenge
	if c.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("challenge.max_iterations %d must not be negative", c.MaxIterations))
	}
	if c.SettleDelay < 0 || c.JitterMin < 0 || c.JitterMax < 0 {
		errs = append(errs, errors.New("challenge delays must not be negative"))
	}
	if c.JitterMax > 0 && c.JitterMin > c.JitterMax {
		errs = append(errs, fmt.Errorf("challenge.jitter_min %v exceeds jitter_max %v", c.JitterMin, c.JitterMax))
	}

	// Browser
	b := cfg.Browser
	if b.Width < 0 || b.Height < 0 {
		errs = append(errs, fmt.Errorf("browser viewport %dx%d must not be negative", b.Width, b.Height))
	}
	if b.RemoteURL != "" {
		if u, err := url.Parse(b.RemoteURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("browser.remote_url %q is not an absolute URL", b.RemoteURL))
		}
	}

	// MCP servers
	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if err := srv.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if srv.Name == "" {
			continue
		}
		if prev, dup := seen[srv.Name]; dup {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
		}
		seen[srv.Name] = i
	}

	return errors.Join(errs...)
}

func warnUnknownProvider(field, name string) {
	if name == "" || slices.Contains(KnownLLMProviders, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party factory",
		"field", field, "name", name, "known", KnownLLMProviders)
}
