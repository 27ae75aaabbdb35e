package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/pagepilot/pkg/provider/llm"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// RetryConfig tunes a [Retry]. Zero fields take the defaults noted below.
type RetryConfig struct {
	// Attempts is the number of retries after the first failure. Default: 2.
	// A negative value disables retries.
	Attempts int

	// BaseDelay is the wait before the first retry; each further retry doubles
	// it. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Default: 8s.
	MaxDelay time.Duration

	// RetryIf reports whether err is worth another attempt. Context errors are
	// never retried regardless. Default: retry everything else.
	RetryIf func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts == 0 {
		c.Attempts = 2
	}
	if c.Attempts < 0 {
		c.Attempts = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 8 * time.Second
	}
	return c
}

// Retry wraps a provider and re-issues requests that fail before producing
// output. For streams only the start of the stream is retried; errors reported
// inside an open stream reach the caller unchanged.
type Retry struct {
	inner llm.Provider
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

var _ llm.Provider = (*Retry)(nil)

// NewRetry wraps inner.
func NewRetry(inner llm.Provider, cfg RetryConfig) *Retry {
	return &Retry{inner: inner, cfg: cfg.withDefaults(), sleep: sleepCtx}
}

// StreamCompletion implements [llm.Provider].
func (r *Retry) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	var ch <-chan llm.Chunk
	err := r.do(ctx, "stream", func() error {
		var err error
		ch, err = r.inner.StreamCompletion(ctx, req)
		return err
	})
	return ch, err
}

// Complete implements [llm.Provider].
func (r *Retry) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := r.do(ctx, "complete", func() error {
		var err error
		resp, err = r.inner.Complete(ctx, req)
		return err
	})
	return resp, err
}

// CountTokens implements [llm.Provider].
func (r *Retry) CountTokens(messages []types.Message) (int, error) {
	return r.inner.CountTokens(messages)
}

// Capabilities implements [llm.Provider].
func (r *Retry) Capabilities() types.ModelCapabilities { return r.inner.Capabilities() }

func (r *Retry) do(ctx context.Context, kind string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !r.retryable(ctx, err) || attempt >= r.cfg.Attempts {
			return err
		}
		delay := r.delay(attempt)
		slog.Warn("model request failed, retrying",
			"kind", kind, "attempt", attempt+1, "delay", delay, "err", err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

func (r *Retry) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if r.cfg.RetryIf != nil {
		return r.cfg.RetryIf(err)
	}
	return true
}

func (r *Retry) delay(attempt int) time.Duration {
	d := r.cfg.BaseDelay << attempt
	if d <= 0 || d > r.cfg.MaxDelay {
		return r.cfg.MaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
