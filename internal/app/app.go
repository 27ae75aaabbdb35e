// Package app wires all PagePilot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, ApplyConfig applies
// hot-reloadable config changes, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSurface, WithShortcutStore, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/pagepilot/internal/agent"
	"github.com/MrWong99/pagepilot/internal/challenge"
	"github.com/MrWong99/pagepilot/internal/config"
	"github.com/MrWong99/pagepilot/internal/health"
	"github.com/MrWong99/pagepilot/internal/hotctx"
	"github.com/MrWong99/pagepilot/internal/mcp/mcphost"
	"github.com/MrWong99/pagepilot/internal/observe"
	"github.com/MrWong99/pagepilot/internal/resilience"
	"github.com/MrWong99/pagepilot/internal/server"
	"github.com/MrWong99/pagepilot/internal/tool"
	"github.com/MrWong99/pagepilot/internal/tool/automation"
	"github.com/MrWong99/pagepilot/internal/tool/shortcut"
	"github.com/MrWong99/pagepilot/pkg/page"
	"github.com/MrWong99/pagepilot/pkg/page/cdp"
	"github.com/MrWong99/pagepilot/pkg/provider/llm"
)

// ErrNoListenAddr is returned by Run when server.listen_addr is empty.
var ErrNoListenAddr = errors.New("app: server.listen_addr is not set")

// Backend is a named model backend.
type Backend struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the model backends built by main.go via the config
// registry. LLM is tried first, then each of LLMFallbacks in order. A nil
// LLM means no model is configured.
type Providers struct {
	LLM          *Backend
	LLMFallbacks []Backend
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar
	surface   page.Surface
	shortcuts shortcut.Store
	mcpHost   *mcphost.Host
	chain     *resilience.Chain
	solver    *challenge.Solver
	agent     *agent.Agent
	server    *server.Server

	// reloadMu serializes ApplyConfig calls.
	reloadMu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSurface injects the page instead of opening a Chrome tab.
func WithSurface(s page.Surface) Option {
	return func(a *App) { a.surface = s }
}

// WithShortcutStore injects a shortcut store instead of creating one from
// config.
func WithShortcutStore(s shortcut.Store) Option {
	return func(a *App) { a.shortcuts = s }
}

// WithMCPHost injects an MCP host instead of creating an empty one.
func WithMCPHost(h *mcphost.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithMetrics records on m instead of the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets ApplyConfig change the log level at runtime.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go (populated via the config registry). Use Option functions to
// inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: browser start, model
// chain assembly, shortcut store opening, MCP server connection and the
// initial tool namespace build. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	// ── 1. Browser ───────────────────────────────────────────────────────
	if err := a.initSurface(ctx); err != nil {
		return nil, fmt.Errorf("app: init browser: %w", err)
	}

	// ── 2. Model backends ────────────────────────────────────────────────
	a.initModels()

	// ── 3. Shortcut store ────────────────────────────────────────────────
	if err := a.initShortcuts(); err != nil {
		return nil, fmt.Errorf("app: init shortcuts: %w", err)
	}

	// ── 4. Challenge solver ──────────────────────────────────────────────
	a.solver = challenge.NewSolver(a.surface, a.model(),
		challenge.WithConfig(challenge.Config{
			MaxIterations: cfg.Challenge.MaxIterations,
			SettleDelay:   cfg.Challenge.SettleDelay,
			JitterMin:     cfg.Challenge.JitterMin,
			JitterMax:     cfg.Challenge.JitterMax,
		}),
		challenge.WithMetrics(a.metrics),
	)

	// ── 5. MCP host ──────────────────────────────────────────────────────
	a.initMCP(ctx)

	// ── 6. Agent ─────────────────────────────────────────────────────────
	if err := a.initAgent(ctx); err != nil {
		return nil, fmt.Errorf("app: init agent: %w", err)
	}

	// ── 7. Transport ─────────────────────────────────────────────────────
	var backend health.Backend
	if a.chain != nil {
		backend = a.chain
	}
	a.server = server.New(a.agent,
		server.WithHealth(health.New(health.LLMChecker(backend), health.PageChecker(a.surface))),
		server.WithMetrics(a.metrics),
		server.WithTurnTimeout(cfg.Agent.RequestTimeout),
	)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSurface opens the Chrome tab unless a surface was injected.
func (a *App) initSurface(ctx context.Context) error {
	if a.surface != nil {
		return nil
	}
	b := a.cfg.Browser
	tab, err := cdp.Open(ctx, cdp.Options{
		RemoteURL: b.RemoteURL,
		Headless:  b.Headless,
		NoSandbox: b.NoSandbox,
		Width:     b.Width,
		Height:    b.Height,
		StartURL:  b.StartURL,
	})
	if err != nil {
		return err
	}
	a.surface = tab
	a.closers = append(a.closers, func() error {
		tab.Close()
		return nil
	})
	return nil
}

// initModels puts every configured backend behind a retry wrapper and chains
// them for failover. With no backend the chain stays nil and turns answer
// that the model is unavailable.
func (a *App) initModels() {
	backends := a.backends()
	if len(backends) == 0 {
		slog.Warn("no model backend configured")
		return
	}

	retry := resilience.RetryConfig{
		Attempts: a.cfg.Agent.Retries,
		RetryIf:  retryable,
	}
	if retry.Attempts == 0 {
		retry.Attempts = -1
	}
	a.chain = resilience.NewChain(resilience.BreakerConfig{Name: "llm"})
	for _, b := range backends {
		a.chain.Add(b.Name, resilience.NewRetry(b.Provider, retry))
		slog.Info("model backend added", "name", b.Name, "position", a.chain.Len())
	}
}

func (a *App) backends() []Backend {
	var out []Backend
	if a.providers.LLM != nil && a.providers.LLM.Provider != nil {
		out = append(out, *a.providers.LLM)
	}
	for _, b := range a.providers.LLMFallbacks {
		if b.Provider != nil {
			out = append(out, b)
		}
	}
	return out
}

// model returns the chain as a provider, or a nil interface without one.
func (a *App) model() llm.Provider {
	if a.chain == nil {
		return nil
	}
	return a.chain
}

// retryable keeps the retry wrapper away from failures another attempt
// cannot fix.
func retryable(err error) bool {
	switch agent.Classify(err) {
	case agent.CategoryAuth, agent.CategoryUnavailable:
		return false
	default:
		return true
	}
}

// initShortcuts opens the shortcut file (YAML, or SQLite for .db/.sqlite
// paths), or keeps shortcuts in memory when none is configured.
func (a *App) initShortcuts() error {
	if a.shortcuts != nil {
		return nil
	}
	path := a.cfg.Shortcuts.File
	if path == "" {
		a.shortcuts = shortcut.NewMemStore()
		return nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		db, err := shortcut.OpenSQLStore(path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.shortcuts = db
	default:
		fs, err := shortcut.OpenFileStore(path)
		if err != nil {
			return err
		}
		a.shortcuts = fs
	}
	slog.Info("shortcut store opened", "path", path)
	return nil
}

// initMCP connects the configured MCP servers. Servers that fail to connect
// are skipped; their tools are simply absent.
func (a *App) initMCP(ctx context.Context) {
	if a.mcpHost == nil {
		a.mcpHost = mcphost.New()
	}
	a.closers = append(a.closers, a.mcpHost.Close)

	if servers := a.cfg.MCP.Servers; len(servers) > 0 {
		n := a.mcpHost.ConnectAll(ctx, servers)
		slog.Info("mcp servers connected", "connected", n, "configured", len(servers))
	}
}

func (a *App) initAgent(ctx context.Context) error {
	var name string
	if b := a.backends(); len(b) > 0 {
		name = b[0].Name
	}
	ac := a.cfg.Agent
	screenshot := ac.AttachScreenshot
	if m := a.model(); screenshot && m != nil {
		// Only a recognised text-only model turns screenshots off; unknown
		// models keep them.
		if caps := m.Capabilities(); caps.ContextWindow > 0 && !caps.SupportsVision {
			slog.Warn("model has no image input, not attaching screenshots", "backend", name)
			screenshot = false
		}
	}
	ag, err := agent.New(ctx, agent.Config{
		Provider:     a.model(),
		ProviderName: name,
		Surface:      a.surface,
		Sources:      a.sources(),
		Assembler: hotctx.NewAssembler(
			hotctx.WithPageCharLimit(ac.MaxPageChars),
			hotctx.WithScreenshot(screenshot),
		),
		MaxSteps:    ac.MaxSteps,
		Temperature: ac.Temperature,
		MaxTokens:   ac.MaxTokens,
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}
	a.agent = ag
	slog.Info("agent ready", "tools", ag.Registry().Len(), "max_steps", ag.MaxSteps())
	return nil
}

// sources lists the tool sources in merge order: automation, shortcuts,
// challenge, then the dynamic MCP tools.
func (a *App) sources() []tool.Source {
	return []tool.Source{
		automation.Source(a.surface),
		shortcut.Source(a.shortcuts),
		challenge.Source(a.solver),
		a.mcpHost,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Agent returns the conversation session.
func (a *App) Agent() *agent.Agent { return a.agent }

// Server returns the HTTP surface.
func (a *App) Server() *server.Server { return a.server }

// Backends reports the circuit state of every model backend. It is empty
// when no backend is configured.
func (a *App) Backends() []resilience.BackendStatus {
	if a.chain == nil {
		return nil
	}
	return a.chain.Status()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on server.listen_addr and blocks until ctx is cancelled.
// It returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		return ErrNoListenAddr
	}
	slog.Info("app running", "addr", addr, "tools", a.agent.Registry().Len())
	return a.server.ListenAndServe(ctx, addr)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change: the log
// level and the MCP server set. Changing the MCP servers rebuilds the tool
// namespace. Every other field takes effect on restart only.
func (a *App) ApplyConfig(ctx context.Context, prev, next *config.Config) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	d := config.Diff(prev, next)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.MCPChanged {
		slog.Info("mcp servers changed",
			"added", d.MCPAdded,
			"removed", d.MCPRemoved,
			"modified", d.MCPModified,
		)
		a.mcpHost.Sync(ctx, next.MCP.Servers)
		if err := a.agent.ReloadTools(ctx); err != nil {
			slog.Warn("tool reload failed, keeping previous namespace", "err", err)
		}
	}
	a.cfg = next
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
