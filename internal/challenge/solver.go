package challenge

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/pagepilot/internal/observe"
	"github.com/MrWong99/pagepilot/pkg/page"
	"github.com/MrWong99/pagepilot/pkg/provider/llm"
	"github.com/MrWong99/pagepilot/pkg/types"
)

const gridSystemPrompt = `You solve image-grid verification challenges from a screenshot.
The grid tiles are numbered starting at 1, left to right, then top to bottom.
Return {"prompt": string, "gridSize": number, "cells": [numbers]} where prompt is the instruction shown in the challenge,
gridSize is the number of tiles per row, and cells lists every tile that matches the instruction.
Return an empty cells list if no tile matches or the challenge cannot be read.`

const answerSystemPrompt = `You read verification challenges from a screenshot.
Reply with the answer only, on a single line, without quotes or explanation.`

// judgment is the model's structured reading of one grid round.
type judgment struct {
	Prompt   string `json:"prompt"`
	GridSize int    `json:"gridSize"`
	Cells    []int  `json:"cells"`
}

type gridState struct {
	Present bool   `json:"present"`
	Cells   int    `json:"cells"`
	Prompt  string `json:"prompt"`
}

// Solver runs solve attempts against one page. A Solver is stateless between
// calls; each Solve creates its own [Session].
type Solver struct {
	surface page.Surface
	model   llm.Provider
	cfg     Config
	metrics *observe.Metrics

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// Option configures a [Solver].
type Option func(*Solver)

// WithConfig replaces the default configuration. Zero fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(s *Solver) { s.cfg = cfg }
}

// WithMetrics records outcomes on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Solver) { s.metrics = m }
}

// WithSleep replaces the delay function. fn must return ctx.Err() when ctx is
// done before d elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Solver) { s.sleep = fn }
}

// WithJitter replaces the source of the delay after each cell click.
func WithJitter(fn func() time.Duration) Option {
	return func(s *Solver) { s.jitter = fn }
}

// NewSolver returns a solver for the page behind surface, using model for all
// judgments. model should support vision.
func NewSolver(surface page.Surface, model llm.Provider, opts ...Option) *Solver {
	s := &Solver{surface: surface, model: model}
	for _, o := range opts {
		o(s)
	}
	s.cfg = s.cfg.withDefaults()
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.sleep == nil {
		s.sleep = sleepCtx
	}
	if s.jitter == nil {
		lo, hi := s.cfg.JitterMin, s.cfg.JitterMax
		s.jitter = func() time.Duration {
			if hi <= lo {
				return lo
			}
			return lo + rand.N(hi-lo)
		}
	}
	return s
}

// Config returns the effective configuration.
func (s *Solver) Config() Config { return s.cfg }

// Detect inspects the page with the solver's markers.
func (s *Solver) Detect(ctx context.Context) (*Detection, error) {
	return detect(ctx, s.surface, s.cfg.Markers)
}

// Solve detects a challenge and drives it to a terminal state using the
// configured iteration ceiling.
func (s *Solver) Solve(ctx context.Context) Outcome {
	return s.SolveWithLimit(ctx, s.cfg.MaxIterations)
}

// SolveWithLimit is Solve with a tighter grid iteration ceiling. A
// non-positive limit, or one above the configured ceiling, uses the
// configured one.
func (s *Solver) SolveWithLimit(ctx context.Context, maxIterations int) (out Outcome) {
	if maxIterations <= 0 || maxIterations > s.cfg.MaxIterations {
		maxIterations = s.cfg.MaxIterations
	}

	ctx, span := observe.StartSpan(ctx, "challenge.solve")
	defer span.End()
	log := observe.Logger(ctx)

	defer func() {
		span.SetAttributes(
			attribute.String("challenge.type", out.Type.String()),
			attribute.String("challenge.status", string(out.Status)),
			attribute.Int("challenge.iterations", out.Iterations),
		)
		if out.Status != StatusNotDetected {
			s.metrics.RecordChallenge(ctx, out.Type.String(), string(out.Status), out.Iterations)
		}
		log.Info("challenge attempt finished",
			"type", out.Type, "status", out.Status, "iterations", out.Iterations)
	}()

	if err := ctx.Err(); err != nil {
		return failed(TypeUnknown, 0, err)
	}
	det, err := s.Detect(ctx)
	if err != nil {
		return failed(TypeUnknown, 0, err)
	}
	if det == nil {
		return Outcome{Status: StatusNotDetected, Type: TypeUnknown, Message: "no challenge on the page"}
	}

	sess := &Session{Type: det.Type, Selector: det.Selector, MaxIterations: maxIterations}
	span.AddEvent("challenge.detected", trace.WithAttributes(attribute.String("challenge.type", det.Type.String())))
	log.Info("challenge detected", "type", det.Type, "selector", det.Selector)

	switch det.Type {
	case TypeGrid:
		return s.solveGrid(ctx, sess)
	case TypeText, TypeImage:
		return s.solveAnswer(ctx, sess, det.Question)
	default:
		return Outcome{Status: StatusUnsolvable, Type: det.Type, Message: "challenge type is not supported"}
	}
}

// solveGrid runs the checkbox-grid flow. The iteration ceiling is checked at
// the top of every round, before the page is inspected.
func (s *Solver) solveGrid(ctx context.Context, sess *Session) Outcome {
	m := s.cfg.Markers
	log := observe.Logger(ctx)

	// The checkbox is optional: some widgets open the grid directly.
	if err := runDOM(ctx, s.surface, clickScript(m.Checkbox), nil); err != nil {
		log.Debug("challenge checkbox not clicked", "err", err)
	}
	if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
		return failed(sess.Type, sess.Iteration, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return failed(sess.Type, sess.Iteration, err)
		}
		if sess.Iteration >= sess.MaxIterations {
			return Outcome{
				Status:     StatusExhausted,
				Type:       sess.Type,
				Iterations: sess.Iteration,
				Message:    fmt.Sprintf("challenge still present after %d rounds", sess.Iteration),
			}
		}

		var state gridState
		if err := runDOM(ctx, s.surface, gridStateScript(m), &state); err != nil {
			return failed(sess.Type, sess.Iteration, err)
		}
		if !state.Present {
			return Outcome{Status: StatusResolved, Type: sess.Type, Iterations: sess.Iteration}
		}

		sess.Iteration++
		log.Debug("challenge round", "iteration", sess.Iteration, "cells", state.Cells)

		shot, err := s.surface.Screenshot(ctx)
		if err != nil {
			return failed(sess.Type, sess.Iteration, err)
		}
		var j judgment
		req := llm.CompletionRequest{
			SystemPrompt: gridSystemPrompt,
			Temperature:  0,
			Messages: []types.Message{{
				Role: types.RoleUser,
				Parts: []types.Part{
					types.TextPart(gridQuestion(state)),
					types.ImagePart(shot.DataURL()),
				},
			}},
		}
		if err := llm.StructuredQuery(ctx, s.model, req, &j); err != nil {
			return failed(sess.Type, sess.Iteration, err)
		}

		targets := CellTargets(j.Cells, state.Cells)
		if len(targets) == 0 {
			return Outcome{
				Status:     StatusUnsolvable,
				Type:       sess.Type,
				Iterations: sess.Iteration,
				Message:    "model selected no usable cells",
			}
		}

		for _, idx := range targets {
			if err := runDOM(ctx, s.surface, cellScript(m.Cell, idx), nil); err != nil {
				log.Debug("challenge cell click failed", "index", idx, "err", err)
			}
			if err := s.sleep(ctx, s.jitter()); err != nil {
				return failed(sess.Type, sess.Iteration, err)
			}
		}
		if err := runDOM(ctx, s.surface, clickScript(m.Verify), nil); err != nil {
			log.Debug("challenge verify click failed", "err", err)
		}
		if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
			return failed(sess.Type, sess.Iteration, err)
		}
	}
}

// solveAnswer runs the single-query text and image flow.
func (s *Solver) solveAnswer(ctx context.Context, sess *Session, question string) Outcome {
	sess.Iteration = 1

	shot, err := s.surface.Screenshot(ctx)
	if err != nil {
		return failed(sess.Type, sess.Iteration, err)
	}
	prompt := "Type the characters shown in the challenge image."
	if sess.Type == TypeText || question != "" {
		prompt = "Answer the verification question shown on the page."
		if question != "" {
			prompt += "\nQuestion: " + question
		}
	}
	raw, err := llm.TextQuery(ctx, s.model, llm.CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		Messages: []types.Message{{
			Role:  types.RoleUser,
			Parts: []types.Part{types.TextPart(prompt), types.ImagePart(shot.DataURL())},
		}},
	})
	if err != nil {
		return failed(sess.Type, sess.Iteration, err)
	}

	answer := NormalizeAnswer(raw)
	if answer == "" {
		return Outcome{Status: StatusUnsolvable, Type: sess.Type, Iterations: sess.Iteration, Message: "model gave no usable answer"}
	}
	if err := runDOM(ctx, s.surface, answerScript(s.cfg.Markers, answer), nil); err != nil {
		return failed(sess.Type, sess.Iteration, err)
	}
	if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
		return failed(sess.Type, sess.Iteration, err)
	}

	det, err := s.Detect(ctx)
	if err != nil {
		return failed(sess.Type, sess.Iteration, err)
	}
	if det != nil {
		return Outcome{
			Status:     StatusExhausted,
			Type:       sess.Type,
			Iterations: sess.Iteration,
			Answer:     answer,
			Message:    "answer submitted but the challenge is still present",
		}
	}
	return Outcome{Status: StatusResolved, Type: sess.Type, Iterations: sess.Iteration, Answer: answer}
}

// CellTargets converts the model's 1-based cell numbers into 0-based indices
// into a grid of n cells. Out-of-range and repeated numbers are dropped.
func CellTargets(cells []int, n int) []int {
	seen := make(map[int]bool, len(cells))
	out := make([]int, 0, len(cells))
	for _, c := range cells {
		idx := c - 1
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

// NormalizeAnswer keeps the first line of a model reply and strips every rune
// that is not a letter or digit.
func NormalizeAnswer(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, line)
}

func gridQuestion(st gridState) string {
	var b strings.Builder
	b.WriteString("Select the matching tiles in the challenge grid.")
	if st.Prompt != "" {
		fmt.Fprintf(&b, "\nInstruction on the page: %s", st.Prompt)
	}
	if st.Cells > 0 {
		fmt.Fprintf(&b, "\nThe grid has %d tiles.", st.Cells)
	}
	return b.String()
}

func failed(t Type, iterations int, err error) Outcome {
	return Outcome{Status: StatusFailed, Type: t, Iterations: iterations, Message: err.Error()}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
