// Package page defines the Surface interface through which the agent observes
// and manipulates the browser page the user is looking at.
//
// The agent never renders pages itself. Every tool that touches the page goes
// through a Surface, so tests substitute [mock.Surface] and production wires a
// Chrome tab from package cdp.
package page

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// Surface is the page automation boundary.
//
// Implementations must be safe for concurrent use; the context assembler
// gathers URL, title, text and screenshot in parallel.
type Surface interface {
	// RunScript evaluates JavaScript in the page and returns its JSON-decoded
	// result. Promises are awaited.
	RunScript(ctx context.Context, code string) (any, error)

	// Navigate loads url in the current tab and waits for the body to be ready.
	Navigate(ctx context.Context, url string) error

	// Screenshot captures the visible viewport.
	Screenshot(ctx context.Context) (*Screenshot, error)

	// CurrentURL returns the address of the loaded document.
	CurrentURL(ctx context.Context) (string, error)

	// CurrentTitle returns the document title.
	CurrentTitle(ctx context.Context) (string, error)

	// ExtractPlainText returns the rendered text of the document body.
	ExtractPlainText(ctx context.Context) (string, error)
}

// Screenshot is a captured image of the page.
type Screenshot struct {
	ID       string
	Data     []byte
	MIMEType string
	TakenAt  time.Time
}

// NewScreenshot wraps PNG bytes in a Screenshot with a fresh ID.
func NewScreenshot(png []byte) *Screenshot {
	return &Screenshot{
		ID:       uuid.NewString(),
		Data:     png,
		MIMEType: "image/png",
		TakenAt:  time.Now(),
	}
}

// DataURL returns the screenshot as a base64 data URL suitable for an image
// message part.
func (s *Screenshot) DataURL() string {
	mime := s.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(s.Data)
}
