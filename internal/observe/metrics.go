// Package observe provides application-wide observability primitives for
// PagePilot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all PagePilot metrics.
const meterName = "github.com/MrWong99/pagepilot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks one model round trip, from request to the end of the
	// stream.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool handler latency. Attribute: tool, origin.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts model API calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts model API failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// ToolCalls counts tool invocations. Attributes: tool, status.
	ToolCalls metric.Int64Counter

	// AgentTurns counts completed user turns. Attribute: outcome.
	AgentTurns metric.Int64Counter

	// AgentSteps records how many model steps each turn needed.
	AgentSteps metric.Int64Histogram

	// ChallengeIterations records grid iterations per solve attempt.
	ChallengeIterations metric.Int64Histogram

	// ChallengeOutcomes counts solver outcomes. Attributes: type, status.
	ChallengeOutcomes metric.Int64Counter

	// --- Gauges ---

	// WSConnections tracks open WebSocket event streams.
	WSConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for model
// and tool latencies, which range from milliseconds to tens of seconds.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// stepBuckets covers the step ceiling and the grid iteration ceiling.
var stepBuckets = []float64{1, 2, 3, 5, 8, 10, 15, 20}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("pagepilot.llm.duration",
		metric.WithDescription("Latency of one model step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("pagepilot.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentSteps, err = m.Int64Histogram("pagepilot.agent.steps",
		metric.WithDescription("Model steps used per user turn."),
		metric.WithExplicitBucketBoundaries(stepBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChallengeIterations, err = m.Int64Histogram("pagepilot.challenge.iterations",
		metric.WithDescription("Grid iterations per challenge solve attempt."),
		metric.WithExplicitBucketBoundaries(stepBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("pagepilot.provider.requests",
		metric.WithDescription("Total model API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("pagepilot.provider.errors",
		metric.WithDescription("Total model API errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("pagepilot.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.AgentTurns, err = m.Int64Counter("pagepilot.agent.turns",
		metric.WithDescription("Completed user turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ChallengeOutcomes, err = m.Int64Counter("pagepilot.challenge.outcomes",
		metric.WithDescription("Challenge solver outcomes by challenge type and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.WSConnections, err = m.Int64UpDownCounter("pagepilot.ws.connections",
		metric.WithDescription("Number of open WebSocket event streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("pagepilot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall increments the tool call counter.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordTurn records a finished user turn and how many steps it took.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, steps int) {
	m.AgentTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.AgentSteps.Record(ctx, int64(steps))
}

// RecordChallenge records a solver outcome and its iteration count.
func (m *Metrics) RecordChallenge(ctx context.Context, challengeType, status string, iterations int) {
	m.ChallengeOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", challengeType),
			attribute.String("status", status),
		),
	)
	m.ChallengeIterations.Record(ctx, int64(iterations))
}
