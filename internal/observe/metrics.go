// Package observe provides the service's OpenTelemetry metrics and tracing
// primitives and the HTTP middleware that ties them to request logging.
//
// Metrics are exported through a Prometheus bridge set up by [InitProvider]
// and scraped from /metrics. Tests should build a [Metrics] with [NewMetrics]
// over their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "fractiverse"

// Completion outcomes
const (
	OutcomeCompleted        = "completed"
	OutcomeRolledBack       = "rolled_back"
	OutcomeClientCancelled  = "client_cancelled"
	OutcomeTimedOut         = "timed_out"
	OutcomeRejectedQuota    = "rejected_quota"
	OutcomeRejectedAuth     = "rejected_auth"
	OutcomeRejectedInvalid  = "rejected_invalid"
	OutcomeFailedBeforeSend = "failed_before_stream"
)

// Metrics holds all OpenTelemetry instruments of the service
type Metrics struct {
	// CompletionRequests counts chat completion requests by outcome
	CompletionRequests metric.Int64Counter

	// LLMDuration tracks the time from opening the stream to its last chunk
	LLMDuration metric.Float64Histogram

	// TokensDebited counts tokens charged to user balances
	TokensDebited metric.Int64Counter

	// ActiveStreams tracks currently open completion streams
	ActiveStreams metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request latency by method, route and status
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates all instruments on the given provider
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CompletionRequests, err = m.Int64Counter("fractiverse.completion.requests",
		metric.WithDescription("Chat completion requests by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("fractiverse.llm.duration",
		metric.WithDescription("Duration of streamed LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TokensDebited, err = m.Int64Counter("fractiverse.tokens.debited",
		metric.WithDescription("Tokens charged to user balances."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("fractiverse.active_streams",
		metric.WithDescription("Number of completion streams currently open."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("fractiverse.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a Metrics built on the global meter provider
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

// RecordCompletion increments the completion counter for outcome
func (m *Metrics) RecordCompletion(ctx context.Context, outcome string) {
	m.CompletionRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDebit adds a charge to the debited tokens counter
func (m *Metrics) RecordDebit(ctx context.Context, tokens int, costModel string) {
	m.TokensDebited.Add(ctx, int64(tokens), metric.WithAttributes(attribute.String("cost_model", costModel)))
}
