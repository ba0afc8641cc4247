// Package governance holds the safety controls around notice delivery: a
// per-notifier circuit breaker that stops calling a failing webhook, and a
// keyed token bucket that throttles repeated notices. Neither control ever
// touches the rewrite path.
package governance
