// Package challenge detects and solves interactive verification puzzles on the
// current page with the help of a vision-capable model.
//
// Three kinds are handled. A text challenge asks a question next to an input
// field. An image challenge shows a distorted image next to an input field. A
// checkbox-grid challenge requires ticking a checkbox and then selecting the
// matching tiles of an image grid, possibly over several rounds.
//
// The solver talks to the page only through [page.Surface] and to the model
// only through [llm.StructuredQuery] and [llm.TextQuery]. Every terminal
// state is reported as an [Outcome]; none of them is a Go error.
package challenge

import (
	"fmt"
	"time"
)

// Type classifies a detected challenge.
type Type int

const (
	TypeUnknown Type = iota
	TypeText
	TypeImage
	TypeGrid
)

// String returns the wire name of the type.
func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeImage:
		return "image"
	case TypeGrid:
		return "checkbox-grid"
	case TypeUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// MarshalText encodes the type by name.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes a type name. Unrecognised names decode as
// [TypeUnknown].
func (t *Type) UnmarshalText(b []byte) error {
	switch string(b) {
	case "text":
		*t = TypeText
	case "image":
		*t = TypeImage
	case "checkbox-grid":
		*t = TypeGrid
	default:
		*t = TypeUnknown
	}
	return nil
}

// Status is the terminal state of a solve attempt.
type Status string

const (
	// StatusResolved means the challenge is no longer present.
	StatusResolved Status = "resolved"

	// StatusExhausted means the iteration ceiling was reached with the
	// challenge still present.
	StatusExhausted Status = "exhausted"

	// StatusUnsolvable means the model produced no actionable answer.
	StatusUnsolvable Status = "unsolvable"

	// StatusNotDetected means there was no challenge on the page. This is a
	// benign outcome.
	StatusNotDetected Status = "not_detected"

	// StatusFailed means a page script, screenshot or model call failed, or
	// the context was cancelled.
	StatusFailed Status = "failed"
)

// Session is the state of one solve attempt. It exists from detection until
// the attempt terminates and is never shared outside the solver.
type Session struct {
	Type          Type
	Selector      string
	Iteration     int
	MaxIterations int
}

// Outcome is the result of [Solver.Solve], encoded as the payload of the
// solveChallenge tool.
type Outcome struct {
	Status     Status `json:"status"`
	Type       Type   `json:"type"`
	Iterations int    `json:"iterations"`
	Answer     string `json:"answer,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Config bounds and paces the solver.
type Config struct {
	// MaxIterations caps the grid rounds. Default 20.
	MaxIterations int

	// SettleDelay is waited after the checkbox click, after each verify click
	// and after submitting a text answer. Default 2s.
	SettleDelay time.Duration

	// JitterMin and JitterMax bound the uniform delay after each cell click.
	// Defaults 300ms and 900ms.
	JitterMin time.Duration
	JitterMax time.Duration

	// Markers locate the challenge elements. Zero fields take the defaults
	// from [DefaultMarkers].
	Markers Markers
}

// Defaults.
const (
	DefaultMaxIterations = 20
	DefaultSettleDelay   = 2 * time.Second
	DefaultJitterMin     = 300 * time.Millisecond
	DefaultJitterMax     = 900 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.JitterMin <= 0 {
		c.JitterMin = DefaultJitterMin
	}
	if c.JitterMax <= 0 {
		c.JitterMax = DefaultJitterMax
	}
	if c.JitterMax < c.JitterMin {
		c.JitterMax = c.JitterMin
	}
	c.Markers = c.Markers.withDefaults()
	return c
}

// Markers are the CSS selectors that identify challenge elements. Each may be
// a selector list; the first visible match is used.
type Markers struct {
	Checkbox string // acknowledge control that opens a grid
	Grid     string // container that is visible while a grid is open
	Cell     string // grid tiles in reading order
	Verify   string // button that submits a grid selection
	Prompt   string // instruction text of a grid
	Image    string // image of an image challenge
	Question string // question of a text challenge
	Input    string // answer field of text and image challenges
	Submit   string // optional answer submit button
	Generic  string // anything else that looks like a challenge
}

// DefaultMarkers matches common challenge widgets and explicit
// data-challenge attributes.
var DefaultMarkers = Markers{
	Checkbox: `[data-challenge="checkbox"], .captcha-checkbox, #recaptcha-anchor, #checkbox[role="checkbox"]`,
	Grid:     `[data-challenge="grid"], .captcha-grid, .rc-imageselect, .task-grid`,
	Cell:     `[data-challenge="cell"], .captcha-grid .captcha-cell, .rc-imageselect-tile, .task-grid .task-image`,
	Verify:   `[data-challenge="verify"], .captcha-verify, #recaptcha-verify-button, .button-submit`,
	Prompt:   `[data-challenge="prompt"], .captcha-prompt, .rc-imageselect-instructions, .prompt-text`,
	Image:    `[data-challenge="image"], img.captcha-image, img[src*="captcha" i], img[alt*="captcha" i]`,
	Question: `[data-challenge="question"], .captcha-question, label[for*="captcha" i]`,
	Input:    `[data-challenge="input"], input.captcha-input, input[name*="captcha" i], input[id*="captcha" i]`,
	Submit:   `[data-challenge="submit"], .captcha-submit`,
	Generic:  `iframe[src*="captcha" i], iframe[title*="challenge" i], [class*="captcha" i], [id*="captcha" i]`,
}

func (m Markers) withDefaults() Markers {
	d := DefaultMarkers
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Markers{
		Checkbox: pick(m.Checkbox, d.Checkbox),
		Grid:     pick(m.Grid, d.Grid),
		Cell:     pick(m.Cell, d.Cell),
		Verify:   pick(m.Verify, d.Verify),
		Prompt:   pick(m.Prompt, d.Prompt),
		Image:    pick(m.Image, d.Image),
		Question: pick(m.Question, d.Question),
		Input:    pick(m.Input, d.Input),
		Submit:   pick(m.Submit, d.Submit),
		Generic:  pick(m.Generic, d.Generic),
	}
}
