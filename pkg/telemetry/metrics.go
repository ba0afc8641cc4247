package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const meterName = "adblock.engine"

var (
	metricsOnce         sync.Once
	metricsInitErr      error
	exchangeCounter     metric.Int64Counter
	mutationCounter     metric.Int64Counter
	decodeFailCounter   metric.Int64Counter
	encodeFailCounter   metric.Int64Counter
	verdictCounter      metric.Int64Counter
	rewriteLatencyHisto metric.Float64Histogram
)

// ExchangeMetrics captures the fields needed to record one rewrite.
type ExchangeMetrics struct {
	App      string
	Route    string
	Strategy string
	// Outcome is the last dispatcher state before returning.
	Outcome  string
	Mutated  bool
	Changes  int
	Duration time.Duration
}

// RecordExchangeMetrics emits counters and histograms describing a rewrite.
func RecordExchangeMetrics(ctx context.Context, m ExchangeMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("app.id", m.App),
		attribute.String("route.key", m.Route),
		attribute.String("route.strategy", m.Strategy),
		attribute.String("exchange.outcome", m.Outcome),
	)

	exchangeCounter.Add(ctx, 1, attrs)

	if m.Duration > 0 {
		rewriteLatencyHisto.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}

	if m.Mutated {
		mutationCounter.Add(ctx, 1, attrs)
	}

	switch m.Outcome {
	case "decode_failed":
		decodeFailCounter.Add(ctx, 1, attrs)
	case "encode_failed":
		encodeFailCounter.Add(ctx, 1, attrs)
	}
}

// RecordVerdict counts a capture classification.
func RecordVerdict(ctx context.Context, app, tier string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	verdictCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app.name", app),
		attribute.String("verdict.tier", tier),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)

		exchangeCounter, metricsInitErr = meter.Int64Counter(
			"adblock.exchanges_total",
			metric.WithDescription("Exchanges handled by the rewrite engine partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		mutationCounter, metricsInitErr = meter.Int64Counter(
			"adblock.mutations_total",
			metric.WithDescription("Responses whose body was rewritten"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		decodeFailCounter, metricsInitErr = meter.Int64Counter(
			"adblock.decode_failures_total",
			metric.WithDescription("Matched responses that were not valid JSON"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		encodeFailCounter, metricsInitErr = meter.Int64Counter(
			"adblock.encode_failures_total",
			metric.WithDescription("Mutated documents that failed to re-encode"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		verdictCounter, metricsInitErr = meter.Int64Counter(
			"adblock.verdicts_total",
			metric.WithDescription("Capture verdicts partitioned by tier"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		rewriteLatencyHisto, metricsInitErr = meter.Float64Histogram(
			"adblock.rewrite.duration_ms",
			metric.WithDescription("Time spent inside the rewrite engine"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordRewriteEvent attaches a coarse-grained rewrite event to the provided span
// without leaking body content.
func RecordRewriteEvent(span trace.Span, mutated bool, strategy string, changes int) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.AddEvent("adblock.rewrite", trace.WithAttributes(
		attribute.Bool("rewrite.mutated", mutated),
		attribute.String("rewrite.strategy", strategy),
		attribute.Int("rewrite.changes", changes),
	))
}
