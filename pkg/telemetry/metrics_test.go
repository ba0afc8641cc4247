package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/polisai/polis-adblock/pkg/policy"
)

func collectMetrics(t *testing.T, ctx context.Context, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func installReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		ResetMetricsForTest()
	})

	ResetMetricsForTest()
	return reader
}

func TestRecordExchangeMetrics(t *testing.T) {
	ctx := context.Background()
	reader := installReader(t)

	RecordExchangeMetrics(ctx, ExchangeMetrics{
		App:      "jd",
		Route:    "jd.splash",
		Strategy: "clear-fields",
		Outcome:  "encoded",
		Mutated:  true,
		Changes:  2,
		Duration: 150 * time.Millisecond,
	})
	RecordExchangeMetrics(ctx, ExchangeMetrics{
		App:      "jd",
		Route:    "jd.splash",
		Strategy: "clear-fields",
		Outcome:  "decode_failed",
	})

	metrics := collectMetrics(t, ctx, reader)

	sumExec, ok := metrics["adblock.exchanges_total"]
	if !ok {
		t.Fatalf("missing adblock.exchanges_total metric")
	}
	execData, ok := sumExec.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for exchanges metric")
	}
	if len(execData.DataPoints) != 2 {
		t.Fatalf("expected 2 datapoints (one per outcome), got %d", len(execData.DataPoints))
	}
	for _, dp := range execData.DataPoints {
		if value, ok := dp.Attributes.Value(attribute.Key("route.key")); !ok || value.AsString() != "jd.splash" {
			t.Fatalf("expected route.key attribute jd.splash, got %v", value)
		}
	}

	mutations := metrics["adblock.mutations_total"].Data.(metricdata.Sum[int64])
	if len(mutations.DataPoints) != 1 || mutations.DataPoints[0].Value != 1 {
		t.Fatalf("expected one mutation, got %+v", mutations.DataPoints)
	}

	decodeFails := metrics["adblock.decode_failures_total"].Data.(metricdata.Sum[int64])
	if len(decodeFails.DataPoints) != 1 || decodeFails.DataPoints[0].Value != 1 {
		t.Fatalf("expected one decode failure, got %+v", decodeFails.DataPoints)
	}

	hist, ok := metrics["adblock.rewrite.duration_ms"]
	if !ok {
		t.Fatalf("missing adblock.rewrite.duration_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected histogram sum 150, got %v", histData.DataPoints[0].Sum)
	}
}

func TestRecordVerdict(t *testing.T) {
	ctx := context.Background()
	reader := installReader(t)

	RecordVerdict(ctx, "JD", "HIGH")
	RecordVerdict(ctx, "JD", "HIGH")

	metrics := collectMetrics(t, ctx, reader)
	data := metrics["adblock.verdicts_total"].Data.(metricdata.Sum[int64])
	if len(data.DataPoints) != 1 || data.DataPoints[0].Value != 2 {
		t.Fatalf("expected 2 HIGH verdicts, got %+v", data.DataPoints)
	}
	if value, ok := data.DataPoints[0].Attributes.Value(attribute.Key("verdict.tier")); !ok || value.AsString() != "HIGH" {
		t.Fatalf("expected verdict.tier HIGH, got %v", value)
	}
}

func TestRecordRewriteEventAndPolicyDecision(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "rewrite")
	RecordRewriteEvent(span, true, "recursive-sanitize", 3)
	RecordPolicyDecision(span, policy.Decision{
		Action: policy.ActionBypass,
		Reason: "host allowlisted",
		Rule:   "allowlist:jd.com",
	})
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 2 {
		t.Fatalf("expected rewrite and bypass events, got %d", len(events))
	}
	if events[0].Name != "adblock.rewrite" || events[1].Name != "policy.bypassed" {
		t.Fatalf("unexpected events %q, %q", events[0].Name, events[1].Name)
	}

	attrs := attribute.NewSet(events[0].Attributes...)
	if value, ok := attrs.Value(attribute.Key("rewrite.mutated")); !ok || !value.AsBool() {
		t.Fatalf("expected rewrite.mutated attribute true")
	}
	if value, ok := attrs.Value(attribute.Key("rewrite.changes")); !ok || value.AsInt64() != 3 {
		t.Fatalf("expected rewrite.changes 3, got %v", value)
	}

	spanAttrs := attribute.NewSet(spans[0].Attributes()...)
	if value, ok := spanAttrs.Value(attribute.Key("policy.decision.rule")); !ok || value.AsString() != "allowlist:jd.com" {
		t.Fatalf("expected policy.decision.rule attribute, got %v", value)
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}
