package route

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
)

// RuleSet is an immutable, compiled snapshot of every app's routes.
type RuleSet struct {
	apps   []App
	rules  map[string][]Rule
	routes map[string]*Route
}

// Compile validates apps and flattens their routes into per-app rule tables.
// Each pattern of each route becomes one Rule, in declaration order.
func Compile(apps []App) (*RuleSet, error) {
	rs := &RuleSet{
		apps:   make([]App, 0, len(apps)),
		rules:  make(map[string][]Rule, len(apps)),
		routes: make(map[string]*Route),
	}
	for _, app := range apps {
		id := strings.TrimSpace(app.ID)
		if id == "" {
			return nil, fmt.Errorf("route: app id is required")
		}
		if _, dup := rs.rules[id]; dup {
			return nil, fmt.Errorf("route: duplicate app %s", id)
		}
		app.ID = id
		if app.Name == "" {
			app.Name = id
		}
		sigs := make([]string, 0, len(app.Signatures))
		for _, sig := range app.Signatures {
			sigs = append(sigs, strings.ToLower(sig))
		}
		app.Signatures = sigs
		app.Routes = append([]Route(nil), app.Routes...)

		table := make([]Rule, 0, len(app.Routes))
		for i := range app.Routes {
			r := &app.Routes[i]
			if err := r.Validate(); err != nil {
				return nil, fmt.Errorf("app %s: %w", id, err)
			}
			if _, dup := rs.routes[r.Key]; dup {
				return nil, fmt.Errorf("route: duplicate route key %s", r.Key)
			}
			rs.routes[r.Key] = r
			for _, p := range r.Patterns {
				table = append(table, Rule{App: id, Pattern: p, Route: r.Key, Strategy: r.Strategy})
			}
		}
		rs.rules[id] = table
		rs.apps = append(rs.apps, app)
	}
	return rs, nil
}

// Apps returns the apps in declaration order.
func (rs *RuleSet) Apps() []App {
	return rs.apps
}

// App looks up an app by id.
func (rs *RuleSet) App(id string) (App, bool) {
	for _, app := range rs.apps {
		if app.ID == id {
			return app, true
		}
	}
	return App{}, false
}

// Rules returns the ordered rule table of an app.
func (rs *RuleSet) Rules(app string) []Rule {
	return rs.rules[app]
}

// Route looks up a route definition by key.
func (rs *RuleSet) Route(key string) (*Route, bool) {
	r, ok := rs.routes[key]
	return r, ok
}

// Identify returns the app owning rawURL. Apps whose signatures occur in the
// host win over apps matched elsewhere in the URL, then declaration order
// decides. Signatures compare case-insensitively.
func (rs *RuleSet) Identify(rawURL string) (App, bool) {
	apps := rs.candidates(rawURL)
	if len(apps) == 0 {
		return App{}, false
	}
	return apps[0], true
}

// Resolve matches rawURL against the rules of app. When app is empty, every
// app whose signatures occur in the URL is tried in Identify order until one
// of its rules matches.
func (rs *RuleSet) Resolve(app, rawURL string) (Rule, *Route, bool) {
	if app != "" {
		return rs.resolveIn(app, rawURL)
	}
	for _, candidate := range rs.candidates(rawURL) {
		if rule, r, ok := rs.resolveIn(candidate.ID, rawURL); ok {
			return rule, r, true
		}
	}
	return Rule{}, nil, false
}

func (rs *RuleSet) resolveIn(app, rawURL string) (Rule, *Route, bool) {
	rule, ok := Match(rawURL, rs.rules[app])
	if !ok {
		return Rule{}, nil, false
	}
	return rule, rs.routes[rule.Route], true
}

func (rs *RuleSet) candidates(rawURL string) []App {
	lower := strings.ToLower(rawURL)
	host := hostOf(lower)
	var byHost, byURL []App
	for _, app := range rs.apps {
		switch {
		case host != "" && app.matches(host):
			byHost = append(byHost, app)
		case app.matches(lower):
			byURL = append(byURL, app)
		}
	}
	return append(byHost, byURL...)
}

func (a App) matches(s string) bool {
	for _, sig := range a.Signatures {
		if sig != "" && strings.Contains(s, sig) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Len returns the number of compiled rules.
func (rs *RuleSet) Len() int {
	n := 0
	for _, table := range rs.rules {
		n += len(table)
	}
	return n
}

// Registry publishes the active RuleSet. Readers never block; a reload swaps
// the whole snapshot.
type Registry struct {
	current atomic.Pointer[RuleSet]
}

// NewRegistry constructs a registry serving rs.
func NewRegistry(rs *RuleSet) *Registry {
	r := &Registry{}
	r.current.Store(rs)
	return r
}

// Load returns the active rule set.
func (r *Registry) Load() *RuleSet {
	return r.current.Load()
}

// Swap installs rs and returns the previous set.
func (r *Registry) Swap(rs *RuleSet) *RuleSet {
	return r.current.Swap(rs)
}
