package policy

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

const (
	defaultEntrypoint    = "adblock/decision"
	defaultCacheCapacity = 1024
)

// EngineOptions control OPA engine construction.
type EngineOptions struct {
	// Entrypoint is the decision path, "adblock/decision" when empty.
	Entrypoint string
	// Modules maps file names to Rego sources.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache. Zero selects the default
	// size; negative disables caching.
	CacheMaxEntries int
	Logger          *slog.Logger
}

// Engine is a Gate backed by an embedded Rego policy. The policy sees the
// matched route and request line and returns {"action", "reason"}.
type Engine struct {
	entrypoint string
	query      rego.PreparedEvalQuery
	cache      *decisionCache
	logger     *slog.Logger
}

// NewEngine parses the modules and prepares the entrypoint query.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}

	names := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	regoOpts := []func(*rego.Rego){rego.Query("data." + strings.ReplaceAll(entry, "/", "."))}
	for _, name := range names {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}
	query, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	e := &Engine{entrypoint: entry, query: query, logger: opts.Logger}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	switch size := opts.CacheMaxEntries; {
	case size == 0:
		e.cache = newDecisionCache(defaultCacheCapacity)
	case size > 0:
		e.cache = newDecisionCache(size)
	}
	return e, nil
}

// Evaluate implements Gate. An undefined decision allows the rewrite.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	key := input.cacheKey()
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			return cached, nil
		}
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]any{
		"app":      input.App,
		"route":    input.Route,
		"strategy": input.Strategy,
		"host":     strings.ToLower(input.Host),
		"path":     input.Path,
		"method":   input.Method,
	}))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	decision := Decision{Action: ActionAllow, Rule: e.entrypoint}
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		payload, ok := results[0].Expressions[0].Value.(map[string]any)
		if !ok {
			return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
		}
		if decision.Action, err = parseAction(payload["action"]); err != nil {
			return Decision{}, err
		}
		decision.Reason, _ = payload["reason"].(string)
	}
	e.logger.Debug("opa decision", "entrypoint", e.entrypoint, "route", input.Route, "action", decision.Action)

	if e.cache != nil {
		e.cache.Add(key, decision)
	}
	return decision, nil
}

func (in Input) cacheKey() string {
	return strings.Join([]string{
		in.App, in.Route, in.Strategy, strings.ToLower(in.Host), in.Path, in.Method,
	}, "\x00")
}

func parseAction(value any) (Action, error) {
	if value == nil {
		return ActionAllow, nil
	}
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("opa decision: action must be string, got %T", value)
	}
	switch act := Action(strings.ToLower(text)); act {
	case ActionAllow, ActionBypass:
		return act, nil
	default:
		return "", fmt.Errorf("opa decision: unknown action %q", text)
	}
}

// decisionCache is a fixed-size LRU of decisions keyed by input.
type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key      string
	decision Decision
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(cacheItem).decision, true
}

func (c *decisionCache) Add(key string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, decision: d}
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(cacheItem{key: key, decision: d})
	if c.order.Len() > c.max {
		tail := c.order.Back()
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
