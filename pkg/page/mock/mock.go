// Package mock provides a scriptable test double for page.Surface.
//
// Page scripts are answered by the Scripts hook, so a test can recognise the
// script it expects (usually by a marker substring) and return the value the
// real page would produce:
//
//	s := &mock.Surface{
//	    URL: "https://example.com/login",
//	    Scripts: func(code string) (any, error) {
//	        if strings.Contains(code, "querySelector") {
//	            return map[string]any{"ok": true}, nil
//	        }
//	        return nil, nil
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pagepilot/pkg/page"
)

// Surface is a mock implementation of page.Surface.
type Surface struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Scripts answers RunScript. Nil returns (nil, nil).
	Scripts func(code string) (any, error)

	URL   string
	Title string
	Text  string

	// ScreenshotData is returned as PNG bytes by Screenshot.
	ScreenshotData []byte

	NavigateErr   error
	ScreenshotErr error
	URLErr        error
	TitleErr      error
	TextErr       error

	// --- Call records (read after test) ---

	ScriptCalls     []string
	NavigateCalls   []string
	ScreenshotCalls int
}

var _ page.Surface = (*Surface)(nil)

// RunScript records code and delegates to Scripts.
func (s *Surface) RunScript(_ context.Context, code string) (any, error) {
	s.mu.Lock()
	s.ScriptCalls = append(s.ScriptCalls, code)
	fn := s.Scripts
	s.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(code)
}

// Navigate records url and, on success, makes it the current URL.
func (s *Surface) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NavigateCalls = append(s.NavigateCalls, url)
	if s.NavigateErr != nil {
		return s.NavigateErr
	}
	s.URL = url
	return nil
}

// Screenshot returns ScreenshotData wrapped in a page.Screenshot.
func (s *Surface) Screenshot(context.Context) (*page.Screenshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScreenshotCalls++
	if s.ScreenshotErr != nil {
		return nil, s.ScreenshotErr
	}
	data := s.ScreenshotData
	if data == nil {
		data = []byte("png")
	}
	return page.NewScreenshot(data), nil
}

// CurrentURL returns URL or URLErr.
func (s *Surface) CurrentURL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.URL, s.URLErr
}

// CurrentTitle returns Title or TitleErr.
func (s *Surface) CurrentTitle(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Title, s.TitleErr
}

// ExtractPlainText returns Text or TextErr.
func (s *Surface) ExtractPlainText(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Text, s.TextErr
}

// ScriptLog returns a copy of all scripts run so far.
func (s *Surface) ScriptLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ScriptCalls...)
}
