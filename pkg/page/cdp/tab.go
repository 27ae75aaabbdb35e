// Package cdp implements [page.Surface] on a Chrome tab driven over the
// DevTools protocol with github.com/chromedp/chromedp.
//
// A Tab either launches a local Chrome (headless by default) or attaches to a
// running browser's DevTools websocket:
//
//	tab, err := cdp.Open(ctx, cdp.Options{RemoteURL: "ws://127.0.0.1:9222/devtools/browser/..."})
//	defer tab.Close()
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/MrWong99/pagepilot/pkg/page"
)

// Options configures how a Tab obtains its browser.
type Options struct {
	// RemoteURL attaches to an existing browser's DevTools endpoint. When
	// empty a local Chrome is launched.
	RemoteURL string

	// Headless runs the launched Chrome without a window. Ignored for remote
	// browsers.
	Headless bool

	// NoSandbox disables the Chrome sandbox of a launched browser.
	NoSandbox bool

	// Width and Height set the emulated viewport. Zero means 1280x720.
	Width, Height int

	// StartURL is loaded once the tab is ready. Empty leaves about:blank.
	StartURL string

	// ActionTimeout bounds every single DevTools round trip. Zero means 30s.
	ActionTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 30 * time.Second
	}
	return o
}

// Tab is a single Chrome tab. It is safe for concurrent use; chromedp
// serialises the underlying protocol traffic.
type Tab struct {
	opts Options

	mu          sync.Mutex
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

var _ page.Surface = (*Tab)(nil)

// Open starts or attaches to a browser and returns a ready tab. The browser
// lives until Close is called or parent is cancelled.
func Open(parent context.Context, opts Options) (*Tab, error) {
	opts = opts.withDefaults()

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parent, opts.RemoteURL)
	} else {
		allocOpts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
		allocOpts = append(allocOpts,
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-dbus", true),
			chromedp.WindowSize(opts.Width, opts.Height),
		)
		if opts.NoSandbox {
			allocOpts = append(allocOpts, chromedp.NoSandbox)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(parent, allocOpts...)
	}

	logger := slog.With("component", "cdp")
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) }),
		chromedp.WithErrorf(func(format string, args ...any) { logger.Warn(fmt.Sprintf(format, args...)) }),
	)

	// The first Run starts the browser.
	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height))); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("cdp: start browser: %w", err)
	}

	t := &Tab{opts: opts, tabCtx: tabCtx, tabCancel: tabCancel, allocCancel: allocCancel}

	if opts.StartURL != "" {
		if err := t.Navigate(parent, opts.StartURL); err != nil {
			t.Close()
			return nil, err
		}
	}
	logger.Info("browser tab ready", "remote", opts.RemoteURL != "", "width", opts.Width, "height", opts.Height)
	return t, nil
}

// Close shuts the tab and, for launched browsers, the Chrome process.
func (t *Tab) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tabCancel != nil {
		t.tabCancel()
		t.tabCancel = nil
	}
	if t.allocCancel != nil {
		t.allocCancel()
		t.allocCancel = nil
	}
}

// run executes actions on the tab, bounded by both ctx and the action timeout.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	t.mu.Lock()
	tabCtx := t.tabCtx
	closed := t.tabCancel == nil
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("cdp: tab closed")
	}

	runCtx, cancel := context.WithTimeout(tabCtx, t.opts.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// RunScript implements page.Surface.
func (t *Tab) RunScript(ctx context.Context, code string) (any, error) {
	var res any
	err := t.run(ctx, chromedp.Evaluate(code, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, fmt.Errorf("cdp: run script: %w", err)
	}
	return res, nil
}

// Navigate implements page.Surface.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("cdp: navigate %q: %w", url, err)
	}
	return nil
}

// Screenshot implements page.Surface.
func (t *Tab) Screenshot(ctx context.Context) (*page.Screenshot, error) {
	var buf []byte
	if err := t.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("cdp: screenshot: %w", err)
	}
	return page.NewScreenshot(buf), nil
}

// CurrentURL implements page.Surface.
func (t *Tab) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := t.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("cdp: location: %w", err)
	}
	return loc, nil
}

// CurrentTitle implements page.Surface.
func (t *Tab) CurrentTitle(ctx context.Context) (string, error) {
	var title string
	if err := t.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("cdp: title: %w", err)
	}
	return title, nil
}

// ExtractPlainText implements page.Surface.
func (t *Tab) ExtractPlainText(ctx context.Context) (string, error) {
	var text string
	if err := t.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
		return "", fmt.Errorf("cdp: extract text: %w", err)
	}
	return text, nil
}
