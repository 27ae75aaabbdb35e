package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/pagepilot/internal/observe"
	"github.com/MrWong99/pagepilot/internal/session"
	"github.com/MrWong99/pagepilot/internal/tool"
	"github.com/MrWong99/pagepilot/pkg/page"
	"github.com/MrWong99/pagepilot/pkg/provider/llm"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// screenshotCaption introduces the page screenshot attached to a request.
const screenshotCaption = "Screenshot of the current page:"

// Executor runs a tool call. [*tool.Registry] is the production executor.
type Executor interface {
	Execute(ctx context.Context, call types.ToolCall) tool.Result
}

// Request is the input of one dispatcher round.
type Request struct {
	// System is the system instruction. It becomes the first and only system
	// message of the model call.
	System string

	// Screenshot, when set, is attached as an image part of a trailing
	// context message. It is not stored in the history.
	Screenshot *page.Screenshot

	// Tools are offered to the model.
	Tools []types.ToolDefinition
}

// Dispatcher drives one model call per [Dispatcher.Run].
type Dispatcher struct {
	provider    llm.Provider
	tools       Executor
	store       *session.Store
	metrics     *observe.Metrics
	temperature float64
	maxTokens   int
	providerTag string
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithTemperature sets the sampling temperature of every model call.
func WithTemperature(t float64) DispatcherOption {
	return func(d *Dispatcher) { d.temperature = t }
}

// WithMaxTokens caps the completion length. Zero keeps the provider default.
func WithMaxTokens(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxTokens = n }
}

// WithDispatcherMetrics records model metrics on m instead of
// [observe.DefaultMetrics].
func WithDispatcherMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithProviderName labels model metrics with name.
func WithProviderName(name string) DispatcherOption {
	return func(d *Dispatcher) { d.providerTag = name }
}

// NewDispatcher returns a dispatcher that streams from provider, executes
// tools through tools and records the conversation in store. A nil provider
// is allowed; every round then fails with [ErrBackendUnavailable].
func NewDispatcher(provider llm.Provider, tools Executor, store *session.Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		provider:    provider,
		tools:       tools,
		store:       store,
		providerTag: "llm",
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Run starts one round and returns its events. The channel is closed after
// the terminal EventDone or EventError. The caller must drain it or cancel
// ctx.
//
// Within a round:
//   - text fragments amend the in-flight assistant message and are forwarded
//     as EventTextDelta;
//   - tool calls requested on the finish chunk run one at a time in the order
//     given, each as EventToolCall, execution, tool message, EventToolResult;
//   - a backend failure aborts the round with EventError.
func (d *Dispatcher) Run(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		d.run(ctx, req, ch)
	}()
	return ch
}

func (d *Dispatcher) run(ctx context.Context, req Request, ch chan<- Event) {
	emit := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		// The terminal error must reach the consumer even when ctx is done.
		ch <- Event{Kind: EventError, Err: classified(err)}
	}

	if d.provider == nil {
		fail(ErrBackendUnavailable)
		return
	}

	ctx, span := observe.StartSpan(ctx, "agent.dispatch",
		trace.WithAttributes(observe.AttrBackend.String(d.providerTag)))
	defer span.End()
	log := observe.Logger(ctx)

	messages := d.store.Snapshot()
	if req.Screenshot != nil {
		messages = append(messages, types.Message{
			Role: types.RoleUser,
			Parts: []types.Part{
				types.TextPart(screenshotCaption),
				types.ImagePart(req.Screenshot.DataURL()),
			},
		})
	}

	if window := d.provider.Capabilities().ContextWindow; window > 0 {
		if n, err := d.provider.CountTokens(messages); err == nil && n > window {
			log.Warn("conversation exceeds the model context window", "tokens", n, "window", window)
		}
	}

	start := time.Now()
	stream, err := d.provider.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: req.System,
		Messages:     messages,
		Tools:        req.Tools,
		Temperature:  d.temperature,
		MaxTokens:    d.maxTokens,
	})
	if err != nil {
		d.recordModel(ctx, start, err)
		observe.FailErr(span, err)
		log.Warn("model stream failed to start", "err", err)
		fail(err)
		return
	}

	d.store.BeginAssistant()
	defer d.store.Seal()

	var (
		text     strings.Builder
		calls    []types.ToolCall
		finished bool
	)
	for !finished {
		var chunk llm.Chunk
		var ok bool
		select {
		case <-ctx.Done():
			go drainChunks(stream)
			d.store.Discard()
			d.recordModel(ctx, start, ctx.Err())
			fail(ctx.Err())
			return
		case chunk, ok = <-stream:
		}
		if !ok {
			// Closed without a finish chunk; treat what arrived as complete.
			break
		}

		if chunk.FinishReason == llm.FinishReasonError {
			streamErr := errors.New(chunk.Text)
			go drainChunks(stream)
			// A cut-off reply must not reach the next request.
			d.store.Discard()
			d.recordModel(ctx, start, streamErr)
			observe.FailErr(span, streamErr)
			log.Warn("model stream failed", "err", chunk.Text)
			fail(streamErr)
			return
		}

		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			_ = d.store.ReplaceLast(text.String())
			if !emit(Event{Kind: EventTextDelta, Text: chunk.Text}) {
				go drainChunks(stream)
				d.store.Discard()
				fail(ctx.Err())
				return
			}
		}
		calls = append(calls, chunk.ToolCalls...)
		finished = chunk.FinishReason != ""
	}
	if finished {
		go drainChunks(stream)
	}
	d.recordModel(ctx, start, nil)

	if len(calls) > 0 {
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = "call_" + uuid.NewString()
			}
		}
		_ = d.store.AttachToolCalls(calls)
		d.store.Seal()
	}

	executed := 0
	for _, call := range calls {
		if !emit(Event{Kind: EventToolCall, Call: call}) {
			fail(ctx.Err())
			return
		}
		res := d.tools.Execute(ctx, call)
		executed++
		d.store.Append(types.Message{
			Role:       types.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    res.Content(),
		})
		if !emit(Event{Kind: EventToolResult, Call: call, Result: res}) {
			fail(ctx.Err())
			return
		}
	}

	span.SetAttributes(attribute.Int("agent.tool_calls", executed))
	emit(Event{Kind: EventDone, Text: text.String(), ToolCalls: executed})
}

func (d *Dispatcher) recordModel(ctx context.Context, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		d.metrics.RecordProviderError(ctx, d.providerTag, "stream")
	}
	d.metrics.RecordProviderRequest(ctx, d.providerTag, "stream", status)
	d.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", d.providerTag)))
}

// drainChunks discards the rest of a stream so the provider goroutine can
// exit.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
