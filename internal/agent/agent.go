package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/pagepilot/internal/hotctx"
	"github.com/MrWong99/pagepilot/internal/observe"
	"github.com/MrWong99/pagepilot/internal/session"
	"github.com/MrWong99/pagepilot/internal/tool"
	"github.com/MrWong99/pagepilot/pkg/page"
	"github.com/MrWong99/pagepilot/pkg/provider/llm"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// Config holds the dependencies of an [Agent].
//
// Surface and Sources are required. Provider may be nil, in which case every
// turn answers with the "backend unavailable" message.
type Config struct {
	// Provider is the model backend.
	Provider llm.Provider

	// ProviderName labels model metrics.
	ProviderName string

	// Surface is the page the agent acts on.
	Surface page.Surface

	// Sources are merged into the tool namespace in the order given; later
	// sources win name collisions. The canonical order is automation,
	// shortcuts, challenge, then dynamic.
	Sources []tool.Source

	// Assembler builds the page context. Defaults to [hotctx.NewAssembler].
	Assembler *hotctx.Assembler

	// MaxSteps is the step ceiling per turn. Defaults to [DefaultMaxSteps].
	MaxSteps int

	// Temperature and MaxTokens are passed to every model call.
	Temperature float64
	MaxTokens   int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Agent is one conversation session bound to one page. It owns the
// conversation history, the tool namespace and the activity log.
//
// Turns are serialized: a second Converse waits for the first to finish.
type Agent struct {
	turnMu sync.Mutex

	store      *session.Store
	registry   *tool.Registry
	sources    []tool.Source
	surface    page.Surface
	assembler  *hotctx.Assembler
	controller *Controller
	activity   *ActivityLog
}

// New builds an agent and its initial tool namespace.
//
// Errors are prefixed with "agent: ".
func New(ctx context.Context, cfg Config) (*Agent, error) {
	if cfg.Surface == nil {
		return nil, errors.New("agent: Surface must not be nil")
	}
	if len(cfg.Sources) == 0 {
		return nil, errors.New("agent: at least one tool source is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Assembler == nil {
		cfg.Assembler = hotctx.NewAssembler()
	}

	a := &Agent{
		store:     session.NewStore(),
		registry:  tool.NewRegistry(tool.WithMetrics(cfg.Metrics)),
		sources:   cfg.Sources,
		surface:   cfg.Surface,
		assembler: cfg.Assembler,
		activity:  NewActivityLog(),
	}
	if err := a.registry.Build(ctx, a.sources...); err != nil {
		return nil, err
	}

	opts := []DispatcherOption{
		WithTemperature(cfg.Temperature),
		WithMaxTokens(cfg.MaxTokens),
		WithDispatcherMetrics(cfg.Metrics),
	}
	if cfg.ProviderName != "" {
		opts = append(opts, WithProviderName(cfg.ProviderName))
	}
	d := NewDispatcher(cfg.Provider, a.registry, a.store, opts...)
	a.controller = NewController(d, a.store,
		func(ctx context.Context) *hotctx.Context { return a.assembler.Assemble(ctx, a.surface) },
		a.registry.Definitions,
		WithMaxSteps(cfg.MaxSteps),
		WithControllerMetrics(cfg.Metrics),
	)
	return a, nil
}

// Converse runs one turn. l may be nil. See [Controller.Converse] for the
// error contract.
func (a *Agent) Converse(ctx context.Context, text string, l Listener) (Turn, error) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	listeners := multiListener{a.activity.Listener()}
	if l != nil {
		listeners = append(listeners, l)
	}
	return a.controller.Converse(ctx, text, listeners)
}

// Reset clears the conversation history and the activity log. It waits for
// a running turn to finish.
func (a *Agent) Reset() {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	a.store.Clear()
	a.activity.Reset()
}

// ReloadTools rebuilds the tool namespace from the configured sources. The
// previous namespace is fully replaced.
func (a *Agent) ReloadTools(ctx context.Context) error {
	if err := a.registry.Build(ctx, a.sources...); err != nil {
		return err
	}
	observe.Logger(ctx).Info("tool namespace rebuilt", "tools", a.registry.Len())
	return nil
}

// Tools returns the current namespace sorted by name.
func (a *Agent) Tools() []tool.Descriptor { return a.registry.Descriptors() }

// Registry exposes the tool namespace.
func (a *Agent) Registry() *tool.Registry { return a.registry }

// History returns a copy of the conversation.
func (a *Agent) History() []types.Message { return a.store.Snapshot() }

// Activity returns the tool activity log.
func (a *Agent) Activity() []ActivityEntry { return a.activity.Entries() }

// MaxSteps returns the step ceiling per turn.
func (a *Agent) MaxSteps() int { return a.controller.MaxSteps() }

// Surface returns the page the agent acts on.
func (a *Agent) Surface() page.Surface { return a.surface }
