// Package telemetry wires OpenTelemetry exporters and meters for the ad
// rewrite engine.
//
// It centralises trace provider setup, records exchange and verdict metrics,
// and offers enrichment helpers that attach route, policy, and rewrite
// metadata to spans so operators can correlate rewrites with app behaviour.
// Request URLs routinely carry session tokens, so span attributes pass
// through RedactAttributes and RedactURL before export.
package telemetry
