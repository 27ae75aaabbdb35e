package tool

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/pagepilot/internal/observe"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// suggestThreshold is the minimum Jaro-Winkler similarity for an unknown tool
// name to be answered with a "did you mean" hint.
const suggestThreshold = 0.85

// Override records a name collision resolved during [Registry.Build].
type Override struct {
	Name     string
	Replaced Origin
	Winner   Origin
}

// Registry is the merged tool namespace. It is safe for concurrent use; Build
// swaps the namespace atomically with respect to Resolve and Execute.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Descriptor
	overrides []Override

	metrics *observe.Metrics
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithMetrics records tool metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{tools: make(map[string]Descriptor)}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Build replaces the namespace with the union of sources, merged in the order
// given. On a name collision the later source wins and the override is
// logged. A source that fails to enumerate is logged and skipped. Build only
// returns an error when ctx is done.
func (r *Registry) Build(ctx context.Context, sources ...Source) error {
	next := make(map[string]Descriptor)
	var overrides []Override

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("tool: build registry: %w", err)
		}
		descs, err := src.Descriptors(ctx)
		if err != nil {
			slog.Warn("tool source unavailable, skipping", "origin", src.Origin(), "err", err)
			continue
		}
		for _, d := range descs {
			name := d.Name()
			if name == "" || d.Handler == nil {
				slog.Warn("ignoring malformed tool descriptor", "origin", src.Origin(), "tool", name)
				continue
			}
			if prev, ok := next[name]; ok {
				overrides = append(overrides, Override{Name: name, Replaced: prev.Origin, Winner: d.Origin})
				slog.Warn("tool name collision, later origin wins",
					"tool", name, "replaced", prev.Origin, "winner", d.Origin)
			}
			next[name] = d
		}
	}

	r.mu.Lock()
	r.tools = next
	r.overrides = overrides
	r.mu.Unlock()

	slog.Debug("tool registry built", "tools", len(next), "overrides", len(overrides))
	return nil
}

// Resolve looks up a tool by exact name.
func (r *Registry) Resolve(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Len returns the number of tools in the namespace.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Descriptors returns all descriptors sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Descriptor) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

// Definitions returns the model-facing definitions sorted by name.
func (r *Registry) Definitions() []types.ToolDefinition {
	descs := r.Descriptors()
	defs := make([]types.ToolDefinition, len(descs))
	for i, d := range descs {
		defs[i] = d.Definition
	}
	return defs
}

// Overrides returns the collisions resolved by the last Build.
func (r *Registry) Overrides() []Override {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Override(nil), r.overrides...)
}

// Execute runs call against the namespace. It never returns a Go error: an
// unknown tool, a handler error and a handler panic all yield a Result with
// Success false.
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) (res Result) {
	res.ToolName = call.Name

	d, ok := r.Resolve(call.Name)
	if !ok {
		res.Error = r.unknownToolMessage(call.Name)
		r.metrics.RecordToolCall(ctx, call.Name, "unknown")
		return res
	}

	ctx, span := observe.StartToolSpan(ctx, call.Name, d.Origin.String())
	defer span.End()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Success = false
			res.Payload = ""
			res.Error = fmt.Sprintf("tool %q panicked: %v", call.Name, p)
			observe.Logger(ctx).Error("tool handler panicked", "tool", call.Name, "panic", p)
		}
		res.Duration = time.Since(start)

		status := "ok"
		if !res.Success {
			status = "error"
			observe.Fail(span, res.Error)
		}
		r.metrics.RecordToolCall(ctx, call.Name, status)
		r.metrics.ToolExecutionDuration.Record(ctx, res.Duration.Seconds(),
			metric.WithAttributes(
				attribute.String("tool", call.Name),
				attribute.String("origin", d.Origin.String()),
			),
		)
	}()

	payload, err := d.Handler(ctx, call.Arguments)
	if err != nil {
		res.Error = err.Error()
		observe.Logger(ctx).Info("tool failed", "tool", call.Name, "origin", d.Origin, "err", err)
		return res
	}
	res.Success = true
	res.Payload = payload
	return res
}

// unknownToolMessage names the closest registered tool when one is similar
// enough.
func (r *Registry) unknownToolMessage(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best, bestScore := "", 0.0
	for candidate := range r.tools {
		score := matchr.JaroWinkler(strings.ToLower(name), strings.ToLower(candidate), false)
		if score > bestScore || (score == bestScore && candidate < best) {
			best, bestScore = candidate, score
		}
	}
	if bestScore >= suggestThreshold {
		return fmt.Sprintf("unknown tool %q; did you mean %q?", name, best)
	}
	return fmt.Sprintf("unknown tool %q", name)
}
