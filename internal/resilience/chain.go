package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/pagepilot/pkg/provider/llm"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// ErrAllFailed is returned by a [Chain] when every backend failed or was
// skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all model backends failed")

type backend struct {
	name     string
	provider llm.Provider
	breaker  *Breaker
}

// BackendStatus is a snapshot of one backend in a [Chain].
type BackendStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Chain tries its backends in the order they were added until one accepts
// the request. Each backend sits behind its own [Breaker].
type Chain struct {
	cfg BreakerConfig

	mu       sync.RWMutex
	backends []backend
}

var _ llm.Provider = (*Chain)(nil)

// NewChain returns an empty chain. cfg is copied into every backend's breaker.
func NewChain(cfg BreakerConfig) *Chain {
	return &Chain{cfg: cfg}
}

// Add appends a backend. The first backend added is the primary.
func (c *Chain) Add(name string, p llm.Provider) {
	cfg := c.cfg
	cfg.Name = name
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends = append(c.backends, backend{name: name, provider: p, breaker: NewBreaker(cfg)})
}

// Len returns the number of backends.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.backends)
}

// Status reports every backend's breaker state in chain order.
func (c *Chain) Status() []BackendStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]BackendStatus, len(c.backends))
	for i, b := range c.backends {
		out[i] = BackendStatus{Name: b.name, State: b.breaker.State().String()}
	}
	return out
}

// Healthy reports whether at least one backend would accept a call.
func (c *Chain) Healthy() bool {
	for _, s := range c.Status() {
		if s.State != StateOpen.String() {
			return true
		}
	}
	return false
}

func (c *Chain) snapshot() []backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]backend(nil), c.backends...)
}

// try runs fn against each backend until one succeeds. A cancelled context
// stops the failover.
func try[R any](ctx context.Context, c *Chain, fn func(llm.Provider) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	backends := c.snapshot()
	if len(backends) == 0 {
		return zero, fmt.Errorf("%w: no backends configured", ErrAllFailed)
	}
	for _, b := range backends {
		var out R
		err := b.breaker.Do(func() error {
			var err error
			out, err = fn(b.provider)
			return err
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, err
		}
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping model backend", "backend", b.name, "reason", "circuit open")
			continue
		}
		slog.Warn("model backend failed, trying next", "backend", b.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// StreamCompletion implements [llm.Provider]. Failover covers only the start
// of the stream.
func (c *Chain) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return try(ctx, c, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Complete implements [llm.Provider].
func (c *Chain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return try(ctx, c, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens implements [llm.Provider].
func (c *Chain) CountTokens(messages []types.Message) (int, error) {
	return try(context.Background(), c, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the primary's capabilities.
func (c *Chain) Capabilities() types.ModelCapabilities {
	backends := c.snapshot()
	if len(backends) == 0 {
		return types.ModelCapabilities{}
	}
	return backends[0].provider.Capabilities()
}
