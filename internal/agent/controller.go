package agent

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/pagepilot/internal/hotctx"
	"github.com/MrWong99/pagepilot/internal/observe"
	"github.com/MrWong99/pagepilot/internal/session"
	"github.com/MrWong99/pagepilot/internal/tool"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// DefaultMaxSteps is the step ceiling of one turn.
const DefaultMaxSteps = 10

// Turn outcomes, as recorded in metrics.
const (
	OutcomeComplete  = "complete"
	OutcomeTruncated = "truncated"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// StepState bounds the model rounds of one turn. Index never exceeds Max.
type StepState struct {
	Index int
	Max   int
}

// Exhausted reports whether no further step may start.
func (s StepState) Exhausted() bool { return s.Index >= s.Max }

// Turn is the result of [Controller.Converse].
type Turn struct {
	// Text is the final answer shown to the user.
	Text string `json:"text"`

	// Steps is the number of model rounds the turn used.
	Steps int `json:"steps"`

	// ToolCalls is the number of tools executed across all steps.
	ToolCalls int `json:"tool_calls"`

	// Outcome is one of the Outcome constants.
	Outcome string `json:"outcome"`
}

// ContextFunc returns the page context for the next step.
type ContextFunc func(ctx context.Context) *hotctx.Context

// ToolsFunc returns the tool definitions for the next step.
type ToolsFunc func() []types.ToolDefinition

// Controller runs the step loop of a turn:
//
//	AwaitingModel → (ToolCallsPending → ExecutingTools → AwaitingModel)* → Done
//
// A round that executed at least one tool is followed by another round with
// the enlarged history, until a round uses no tools or the step ceiling is
// reached. Reaching the ceiling ends the turn with the text gathered so far.
type Controller struct {
	dispatcher *Dispatcher
	store      *session.Store
	pageCtx    ContextFunc
	tools      ToolsFunc
	maxSteps   int
	metrics    *observe.Metrics
}

// ControllerOption configures a [Controller].
type ControllerOption func(*Controller)

// WithMaxSteps sets the step ceiling. Non-positive values keep
// [DefaultMaxSteps].
func WithMaxSteps(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithControllerMetrics records turn metrics on m.
func WithControllerMetrics(m *observe.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// NewController returns a controller. pageCtx and tools are called before
// every step; either may be nil.
func NewController(d *Dispatcher, store *session.Store, pageCtx ContextFunc, tools ToolsFunc, opts ...ControllerOption) *Controller {
	c := &Controller{
		dispatcher: d,
		store:      store,
		pageCtx:    pageCtx,
		tools:      tools,
		maxSteps:   DefaultMaxSteps,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// MaxSteps returns the step ceiling.
func (c *Controller) MaxSteps() int { return c.maxSteps }

// Converse appends userText to the history and runs the step loop.
//
// Every failure of the model backend is turned into a terminal assistant
// message and returned as the turn's text with a nil error. A Go error is
// returned only for a blank message or when ctx is done.
func (c *Controller) Converse(ctx context.Context, userText string, l Listener) (Turn, error) {
	if strings.TrimSpace(userText) == "" {
		return Turn{}, ErrEmptyMessage
	}
	if l == nil {
		l = ListenerFuncs{}
	}

	ctx, span := observe.StartSpan(ctx, "agent.converse")
	defer span.End()
	log := observe.Logger(ctx)

	c.store.Append(types.Message{Role: types.RoleUser, Content: userText})

	var (
		state = StepState{Max: c.maxSteps}
		texts []string
		ran   []tool.Result
		turn  Turn
	)
	finish := func(text, outcome string) (Turn, error) {
		turn.Text, turn.Steps, turn.Outcome = text, state.Index, outcome
		span.SetAttributes(
			observe.AttrTurnStep.Int(turn.Steps),
			observe.AttrTurnOutcome.String(outcome),
			attribute.Int("pagepilot.turn.tool_calls", turn.ToolCalls),
		)
		c.metrics.RecordTurn(ctx, outcome, turn.Steps)
		if outcome != OutcomeCancelled {
			l.OnTurnComplete(text)
		}
		return turn, nil
	}

	for !state.Exhausted() {
		if err := ctx.Err(); err != nil {
			t, _ := finish(strings.Join(texts, "\n\n"), OutcomeCancelled)
			return t, err
		}
		state.Index++

		req := Request{}
		if c.pageCtx != nil {
			if pc := c.pageCtx(ctx); pc != nil {
				req.System, req.Screenshot = pc.SystemPrompt, pc.Screenshot
			}
		}
		if req.System == "" {
			req.System = hotctx.FormatSystemPrompt("", "")
		}
		if c.tools != nil {
			req.Tools = c.tools()
		}

		var (
			roundErr   error
			roundText  string
			roundTools int
		)
		for ev := range c.dispatcher.Run(ctx, req) {
			switch ev.Kind {
			case EventTextDelta:
				l.OnTextDelta(ev.Text)
			case EventToolCall:
				l.OnToolCall(ev.Call.Name, ev.Call.Arguments)
			case EventToolResult:
				ran = append(ran, ev.Result)
				l.OnToolResult(ev.Call.Name, ev.Result)
			case EventError:
				roundErr = ev.Err
			case EventDone:
				roundText, roundTools = ev.Text, ev.ToolCalls
			}
		}

		if roundErr != nil {
			if err := ctx.Err(); err != nil {
				t, _ := finish(strings.Join(texts, "\n\n"), OutcomeCancelled)
				return t, err
			}
			cat := Classify(roundErr)
			log.Warn("model step failed", "step", state.Index, "category", cat, "err", roundErr)

			// Once tools have produced output the turn degrades to the text
			// gathered so far, or a summary of the tools that ran; before
			// that the failure is the answer.
			if len(ran) > 0 {
				text := strings.Join(texts, "\n\n")
				if text == "" {
					text = toolSummary(ran)
					c.store.Append(types.Message{Role: types.RoleAssistant, Content: text})
				}
				return finish(text, OutcomeFailed)
			}
			msg := cat.UserMessage()
			c.store.Append(types.Message{Role: types.RoleAssistant, Content: msg})
			return finish(msg, OutcomeFailed)
		}

		if roundText != "" {
			texts = append(texts, roundText)
		}
		turn.ToolCalls += roundTools
		if roundTools == 0 {
			return finish(strings.Join(texts, "\n\n"), OutcomeComplete)
		}
	}

	log.Info("step ceiling reached", "step", state.Index, "max_steps", state.Max)
	text := strings.Join(texts, "\n\n")
	if text == "" {
		text = fmt.Sprintf("I stopped after %d steps without reaching a final answer.", state.Max)
		c.store.Append(types.Message{Role: types.RoleAssistant, Content: text})
	}
	return finish(text, OutcomeTruncated)
}

// toolSummary describes the tools a turn ran before the model went away.
func toolSummary(results []tool.Result) string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		if r.Success {
			names = append(names, r.ToolName)
		} else {
			names = append(names, r.ToolName+" (failed)")
		}
	}
	return "I ran " + strings.Join(names, ", ") + " but lost the model before I could summarise the result."
}
