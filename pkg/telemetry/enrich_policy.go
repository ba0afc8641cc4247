package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-adblock/pkg/policy"
)

// RecordPolicyDecision annotates the provided span with the bypass gate outcome.
func RecordPolicyDecision(span trace.Span, decision policy.Decision) {
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("policy.decision.action", string(decision.Action)),
	)

	if decision.Reason != "" {
		span.SetAttributes(attribute.String("policy.decision.reason", decision.Reason))
	}

	if decision.Rule != "" {
		span.SetAttributes(attribute.String("policy.decision.rule", decision.Rule))
	}

	if decision.Action == policy.ActionBypass {
		span.AddEvent("policy.bypassed")
	}
}
