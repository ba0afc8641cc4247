// Package route holds the declarative per-app rule model: ordered URL
// patterns mapped to route keys, and the rewrite definition bound to each
// route key.
package route

import (
	"fmt"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/policy/sanitize"
)

// Rule maps one URL pattern of an app to a route key.
type Rule struct {
	App      string
	Pattern  string
	Route    string
	Strategy domain.Strategy
}

// Route is the rewrite definition bound to a route key.
type Route struct {
	Key      string
	Patterns []string
	Strategy domain.Strategy
	Targets  []sanitize.Target
	// Envelope is the replacement document for synthetic-replace routes.
	Envelope []byte
	// Counter is the stats counter incremented when the route mutates a response.
	Counter string
	// Notice is posted when the route mutates a response, if set.
	Notice domain.Notice
}

// App groups the ordered routes of one application.
type App struct {
	ID   string
	Name string
	// Signatures are lower-case URL fragments identifying the app's traffic.
	Signatures []string
	Routes     []Route
}

// Validate checks a route in isolation.
func (r Route) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return fmt.Errorf("route: key is required")
	}
	if len(r.Patterns) == 0 {
		return fmt.Errorf("route: %s has no url patterns", r.Key)
	}
	for _, p := range r.Patterns {
		if p == "" {
			return fmt.Errorf("route: %s has an empty url pattern", r.Key)
		}
	}
	if !r.Strategy.Valid() {
		return fmt.Errorf("route: %s has unsupported strategy %q", r.Key, r.Strategy)
	}

	switch r.Strategy {
	case domain.StrategySyntheticReplace:
		if len(r.Envelope) == 0 {
			return fmt.Errorf("route: %s needs an envelope", r.Key)
		}
		if err := fastjson.ValidateBytes(r.Envelope); err != nil {
			return fmt.Errorf("route: %s envelope: %w", r.Key, err)
		}
	case domain.StrategyClearFields, domain.StrategyRecursiveSanitize, domain.StrategyFilterList:
		if len(r.Targets) == 0 {
			return fmt.Errorf("route: %s needs at least one target", r.Key)
		}
		for _, t := range r.Targets {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("route: %s: %w", r.Key, err)
			}
			if r.Strategy == domain.StrategyFilterList && len(t.Lists) == 0 {
				return fmt.Errorf("route: %s filter-list target %v has no lists", r.Key, t.Path)
			}
		}
	}
	return nil
}

// CompactEnvelope parses raw JSON and returns its compact encoding.
func CompactEnvelope(raw string) ([]byte, error) {
	v, err := fastjson.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("route: envelope: %w", err)
	}
	if _, err := v.Object(); err != nil {
		return nil, fmt.Errorf("route: envelope must be a JSON object")
	}
	return v.MarshalTo(nil), nil
}

// Match returns the first rule whose pattern is a case-sensitive substring of
// url. Overlapping patterns resolve purely by declaration order.
func Match(url string, rules []Rule) (Rule, bool) {
	for _, r := range rules {
		if strings.Contains(url, r.Pattern) {
			return r, true
		}
	}
	return Rule{}, false
}
