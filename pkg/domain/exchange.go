package domain

import "time"

// Exchange is one intercepted request/response pair handed to the engine by the
// proxy host. The engine never reads ambient host state; everything it needs
// travels on this value.
type Exchange struct {
	// ID correlates log lines and spans. The engine assigns one when empty.
	ID string
	// App pins the exchange to a rule set. Empty means identify by URL signature.
	App string
	// URL is the raw request URL, including the query string.
	URL string
	// Method is informational only.
	Method string
	// RequestBody is the optional raw request body.
	RequestBody []byte
	// ResponseBody is the raw response body, expected to be JSON or empty.
	ResponseBody []byte
	// Received is when the host captured the exchange.
	Received time.Time
}

// Strategy names the rewrite applied to a matched exchange.
type Strategy string

const (
	// StrategyClearFields empties known fields at fixed container paths.
	StrategyClearFields Strategy = "clear-fields"
	// StrategyRecursiveSanitize walks the whole document and sanitizes ad-bearing keys at any depth.
	StrategyRecursiveSanitize Strategy = "recursive-sanitize"
	// StrategySyntheticReplace substitutes a fixed success envelope for the whole document.
	StrategySyntheticReplace Strategy = "synthetic-replace"
	// StrategyFilterList removes ad-typed elements from named collections.
	StrategyFilterList Strategy = "filter-list"
	// StrategyPassthrough never mutates; the route exists for detection and telemetry.
	StrategyPassthrough Strategy = "passthrough"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyClearFields, StrategyRecursiveSanitize, StrategySyntheticReplace,
		StrategyFilterList, StrategyPassthrough:
		return true
	default:
		return false
	}
}

// State is a step of the dispatcher state machine.
type State string

const (
	StateReceived    State = "received"
	StateDecoded     State = "decoded"
	StateDecodeFail  State = "decode_failed"
	StateMatched     State = "matched"
	StateUnmatched   State = "unmatched"
	StateBypassed    State = "bypassed"
	StateTransformed State = "transformed"
	StateEncoded     State = "encoded"
	StateEncodeFail  State = "encode_failed"
	StateReturned    State = "returned"
)

// Result is what the engine hands back to the host for one exchange.
type Result struct {
	// Body is the response body to forward: the original, a re-encoded mutation,
	// or a synthetic replacement.
	Body []byte
	// App and Route identify the rule that matched, empty when UNMATCHED.
	App   string
	Route string
	// Strategy applied, empty when UNMATCHED.
	Strategy Strategy
	// Mutated is true when Body differs from the original response.
	Mutated bool
	// Trail records every state visited, ending in StateReturned.
	Trail []State
	// Err records a recovered DecodeError or EncodeError. It is never raised to the host.
	Err error
	// Duration is the time spent inside the engine.
	Duration time.Duration
}

// Final returns the last state before StateReturned.
func (r Result) Final() State {
	for i := len(r.Trail) - 1; i >= 0; i-- {
		if r.Trail[i] != StateReturned {
			return r.Trail[i]
		}
	}
	return StateReceived
}
