package engine

import (
	"bytes"

	"github.com/valyala/fastjson"

	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/policy/route"
	"github.com/polisai/polis-adblock/pkg/policy/sanitize"
)

// transformFunc applies a route to a decoded document in place and returns the
// number of edits made.
type transformFunc func(doc *sanitize.Document, rt *route.Route) int

var transforms = map[domain.Strategy]transformFunc{
	domain.StrategyClearFields:       applyShallow,
	domain.StrategyFilterList:        applyShallow,
	domain.StrategyRecursiveSanitize: applyRecursive,
}

// applyShallow edits the direct fields of each target container.
func applyShallow(doc *sanitize.Document, rt *route.Route) int {
	changes := 0
	for _, t := range rt.Targets {
		changes += visitTarget(doc, t, sanitize.VisitFields)
	}
	return changes
}

// applyRecursive walks each target subtree and sanitizes keys at any depth.
// Shallow targets only see the direct fields of their container.
func applyRecursive(doc *sanitize.Document, rt *route.Route) int {
	changes := 0
	for _, t := range rt.Targets {
		if t.Shallow {
			changes += visitTarget(doc, t, sanitize.VisitFields)
			continue
		}
		changes += visitTarget(doc, t, sanitize.Walk)
	}
	return changes
}

type visitFunc func(a *fastjson.Arena, node *fastjson.Value, v sanitize.Visitor) *fastjson.Value

func visitTarget(doc *sanitize.Document, t sanitize.Target, visit visitFunc) int {
	node := doc.Lookup(t.Path)
	if node == nil {
		return 0
	}
	s := sanitize.NewSanitizer(doc.Arena(), t.Fields, t.Lists)
	if next := visit(doc.Arena(), node, s); next != node {
		doc.Set(t.Path, next)
	}
	return s.Changes
}

// transformed is the outcome of running a strategy over a decoded body.
type transformed struct {
	body    []byte
	changes int
	states  []domain.State
	err     error
}

// transform runs rt over doc. original is returned untouched when nothing
// changed, the encoding is byte-identical, or re-encoding fails.
func transform(doc *sanitize.Document, rt *route.Route, original []byte) transformed {
	if rt.Strategy == domain.StrategySyntheticReplace {
		out := transformed{body: original, states: []domain.State{domain.StateTransformed}}
		if !bytes.Equal(original, rt.Envelope) {
			out.body = append([]byte(nil), rt.Envelope...)
			out.changes = 1
			out.states = append(out.states, domain.StateEncoded)
		}
		return out
	}

	apply, ok := transforms[rt.Strategy]
	if !ok {
		return transformed{body: original}
	}

	out := transformed{body: original, states: []domain.State{domain.StateTransformed}}
	out.changes = apply(doc, rt)
	if out.changes == 0 {
		return out
	}

	encoded, err := doc.Encode()
	if err != nil {
		out.changes = 0
		out.err = err
		out.states = append(out.states, domain.StateEncodeFail)
		return out
	}
	if bytes.Equal(encoded, original) {
		out.changes = 0
		return out
	}
	out.body = encoded
	out.states = append(out.states, domain.StateEncoded)
	return out
}
