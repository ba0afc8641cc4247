// Package engine is the rewrite entry point of the ad blocker.
//
// Architecture:
//
// engine.go   - Engine, the Rewrite (mutation path) and Capture (detection path) entry points
// dispatch.go - per-strategy document transforms driven by a route definition
//
// The engine is pure with respect to its inputs: every exchange arrives as a
// domain.Exchange value, each decoded document is owned by a single call, and
// the only shared state is the atomically swapped rule set. Failures never
// reach the host; they degrade to returning the original response.
package engine
