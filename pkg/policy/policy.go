package policy

import (
	"context"
	"errors"
	"strings"
)

// Action defines the outcome of a policy evaluation.
type Action string

const (
	// ActionAllow lets the matched rewrite proceed.
	ActionAllow Action = "allow"
	// ActionBypass skips the rewrite and returns the original response.
	ActionBypass Action = "bypass"
)

// Decision captures the result from a gate evaluation.
type Decision struct {
	Action Action
	Reason string
	// Rule names the gate rule that decided, such as an allowlist entry or
	// a Rego entrypoint.
	Rule string
}

// Input describes a matched exchange to the policy.
type Input struct {
	App      string
	Route    string
	Strategy string
	Host     string
	Path     string
	Method   string
}

// Gate decides whether a matched exchange is rewritten.
type Gate interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}

// AllowAll is a Gate that never bypasses.
type AllowAll struct{}

// Evaluate implements Gate.
func (AllowAll) Evaluate(context.Context, Input) (Decision, error) {
	return Decision{Action: ActionAllow}, nil
}

// HostAllowlist bypasses exchanges whose host is a listed host or one of
// its subdomains.
type HostAllowlist struct {
	hosts []string
}

// NewHostAllowlist normalizes hosts to lower case without leading dots.
func NewHostAllowlist(hosts ...string) HostAllowlist {
	normalized := make([]string, 0, len(hosts))
	for _, host := range hosts {
		host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), ".")
		if host != "" {
			normalized = append(normalized, host)
		}
	}
	return HostAllowlist{hosts: normalized}
}

// Evaluate implements Gate.
func (a HostAllowlist) Evaluate(_ context.Context, input Input) (Decision, error) {
	host := strings.ToLower(input.Host)
	for _, allowed := range a.hosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return Decision{
				Action: ActionBypass,
				Reason: "host allowlisted",
				Rule:   "allowlist:" + allowed,
			}, nil
		}
	}
	return Decision{Action: ActionAllow}, nil
}

// Chain composes multiple gates, short-circuiting on the first bypass.
type Chain struct {
	gates []Gate
}

// NewChain constructs a gate chain.
func NewChain(gates ...Gate) Chain {
	return Chain{gates: append([]Gate(nil), gates...)}
}

// Evaluate executes the chain until a gate bypasses.
func (c Chain) Evaluate(ctx context.Context, input Input) (Decision, error) {
	for _, gate := range c.gates {
		decision, err := gate.Evaluate(ctx, input)
		if err != nil {
			return Decision{}, err
		}
		switch decision.Action {
		case ActionAllow:
			// continue evaluating subsequent gates
		case ActionBypass:
			return decision, nil
		default:
			return Decision{}, errors.New("unknown policy action")
		}
	}

	return Decision{Action: ActionAllow}, nil
}
