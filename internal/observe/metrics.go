// Package observe provides application-wide observability primitives for
// Realmkeeper: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Realmkeeper metrics.
const meterName = "github.com/MrWong99/realmkeeper"

// Travel outcomes recorded by [Metrics.RecordTravel].
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- World graph ---

	// TravelRequests counts travel attempts. Use with attributes:
	//   attribute.String("op", "check"|"move"), attribute.String("outcome", ...)
	TravelRequests metric.Int64Counter

	// GraphEdgeOps counts connect/disconnect calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	GraphEdgeOps metric.Int64Counter

	// LayoutPositioned counts locations placed by auto-layout.
	LayoutPositioned metric.Int64Counter

	// --- Memory ---

	// MemorySaves counts memory writes. Use with attributes:
	//   attribute.String("type", ...), attribute.String("status", ...)
	MemorySaves metric.Int64Counter

	// RetrievalDuration tracks the latency of one retrieval query.
	RetrievalDuration metric.Float64Histogram

	// RetrievalResults records how many memories a retrieval returned.
	RetrievalResults metric.Int64Histogram

	// --- Providers & tools ---

	// ProviderRequests counts embedding provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for store
// round-trips and embedding calls.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.TravelRequests, err = m.Int64Counter("realmkeeper.travel.requests",
		metric.WithDescription("Travel checks and moves by operation and outcome."),
	); err != nil {
		return nil, err
	}
	if met.GraphEdgeOps, err = m.Int64Counter("realmkeeper.graph.edge_ops",
		metric.WithDescription("Connect and disconnect operations by status."),
	); err != nil {
		return nil, err
	}
	if met.LayoutPositioned, err = m.Int64Counter("realmkeeper.layout.positioned",
		metric.WithDescription("Locations positioned by auto-layout."),
	); err != nil {
		return nil, err
	}
	if met.MemorySaves, err = m.Int64Counter("realmkeeper.memory.saves",
		metric.WithDescription("Memory writes by type and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("realmkeeper.provider.requests",
		metric.WithDescription("Embedding provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("realmkeeper.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.RetrievalDuration, err = m.Float64Histogram("realmkeeper.retrieval.duration",
		metric.WithDescription("Latency of memory retrieval queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalResults, err = m.Int64Histogram("realmkeeper.retrieval.results",
		metric.WithDescription("Number of memories returned per retrieval."),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 10, 20, 50),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("realmkeeper.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("realmkeeper.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status maps an error to the "ok"/"error" status attribute value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTravel records one travel check or move with its outcome.
func (m *Metrics) RecordTravel(ctx context.Context, op, outcome string) {
	m.TravelRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordEdgeOp records a connect or disconnect call.
func (m *Metrics) RecordEdgeOp(ctx context.Context, op string, err error) {
	m.GraphEdgeOps.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", Status(err)),
		),
	)
}

// RecordMemorySave records a memory write.
func (m *Metrics) RecordMemorySave(ctx context.Context, memType string, err error) {
	m.MemorySaves.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", memType),
			attribute.String("status", Status(err)),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
