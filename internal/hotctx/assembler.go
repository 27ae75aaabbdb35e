// Package hotctx assembles the page context injected into every model step.
//
// Before each step the [Assembler] reads the current page through a
// [page.Surface] and turns it into a system prompt with [FormatSystemPrompt].
// The reads run concurrently:
//
//  1. Current URL.
//  2. Document title.
//  3. Plain body text.
//  4. A viewport screenshot, when enabled.
//
// A read that fails is logged and left out of the prompt. Assembly never
// fails.
package hotctx

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pagepilot/internal/observe"
	"github.com/MrWong99/pagepilot/pkg/page"
)

// ─────────────────────────────────────────────────────────────────────────────
// Public types
// ─────────────────────────────────────────────────────────────────────────────

// Context is the assembled page context for one model step.
// Fields other than SystemPrompt may be empty.
type Context struct {
	// SystemPrompt is the full system instruction.
	SystemPrompt string

	// URL and Title describe the loaded document.
	URL   string
	Title string

	// Screenshot is set only when the assembler captures screenshots and the
	// capture succeeded.
	Screenshot *page.Screenshot

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// ─────────────────────────────────────────────────────────────────────────────
// Assembler
// ─────────────────────────────────────────────────────────────────────────────

// Assembler gathers page state and formats the system prompt. It holds no
// per-page state and is safe for concurrent use.
type Assembler struct {
	maxPageChars int
	screenshot   bool
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithPageCharLimit caps the page text in the prompt. Defaults to
// [DefaultMaxPageChars].
func WithPageCharLimit(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxPageChars = n
		}
	}
}

// WithScreenshot makes [Assembler.Assemble] capture a screenshot alongside the
// text.
func WithScreenshot(enabled bool) Option {
	return func(a *Assembler) { a.screenshot = enabled }
}

// NewAssembler creates an [Assembler] with sensible defaults.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{maxPageChars: DefaultMaxPageChars}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble reads the page and returns its context. A nil surface yields the
// bare preamble.
func (a *Assembler) Assemble(ctx context.Context, s page.Surface) *Context {
	start := time.Now()
	out := &Context{}
	if s == nil {
		out.SystemPrompt = FormatSystemPrompt("", "", WithMaxPageChars(a.maxPageChars))
		out.AssemblyDuration = time.Since(start)
		return out
	}

	ctx, span := observe.StartSpan(ctx, "hotctx.assemble")
	defer span.End()
	log := observe.Logger(ctx)

	var (
		text string
		eg   errgroup.Group
	)

	// Goroutines never return errors so one failed read does not cancel the
	// others.
	eg.Go(func() error {
		url, err := s.CurrentURL(ctx)
		if err != nil {
			log.Warn("page context: url unavailable", "err", err)
			return nil
		}
		out.URL = url
		return nil
	})
	eg.Go(func() error {
		title, err := s.CurrentTitle(ctx)
		if err != nil {
			log.Warn("page context: title unavailable", "err", err)
			return nil
		}
		out.Title = title
		return nil
	})
	eg.Go(func() error {
		t, err := s.ExtractPlainText(ctx)
		if err != nil {
			log.Warn("page context: text unavailable", "err", err)
			return nil
		}
		text = t
		return nil
	})
	if a.screenshot {
		eg.Go(func() error {
			shot, err := s.Screenshot(ctx)
			if err != nil {
				log.Warn("page context: screenshot unavailable", "err", err)
				return nil
			}
			out.Screenshot = shot
			return nil
		})
	}
	_ = eg.Wait()

	out.SystemPrompt = FormatSystemPrompt(out.URL, text, WithMaxPageChars(a.maxPageChars))
	out.AssemblyDuration = time.Since(start)
	return out
}
