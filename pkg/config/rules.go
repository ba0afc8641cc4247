package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/policy/keywords"
	"github.com/polisai/polis-adblock/pkg/policy/route"
	"github.com/polisai/polis-adblock/pkg/policy/sanitize"
)

// RuleFile is the on-disk rule format.
type RuleFile struct {
	Apps     []AppSpec           `yaml:"apps"`
	Families map[string][]string `yaml:"families"`
}

// AppSpec declares one application and its ordered routes.
type AppSpec struct {
	ID         string      `yaml:"id"`
	Name       string      `yaml:"name"`
	Signatures []string    `yaml:"signatures"`
	Routes     []RouteSpec `yaml:"routes"`
}

// RouteSpec declares one route. Each pattern becomes one rule, in order.
type RouteSpec struct {
	Key      string        `yaml:"key"`
	Patterns []string      `yaml:"patterns"`
	Strategy string        `yaml:"strategy"`
	Counter  string        `yaml:"counter"`
	Notice   domain.Notice `yaml:"notice"`
	Targets  []TargetSpec  `yaml:"targets"`
	Envelope string        `yaml:"envelope"`
}

// TargetSpec binds field and list ops to a container path.
type TargetSpec struct {
	Path    []string    `yaml:"path"`
	Fields  []FieldSpec `yaml:"fields"`
	Lists   []ListSpec  `yaml:"lists"`
	Shallow bool        `yaml:"shallow"`
}

// FieldSpec selects a field by key or family.
type FieldSpec struct {
	Key    string `yaml:"key"`
	Family string `yaml:"family"`
	Action string `yaml:"action"`
}

// ListSpec filters the collection under Key.
type ListSpec struct {
	Key            string   `yaml:"key"`
	Discriminators []string `yaml:"discriminators"`
	Markers        []string `yaml:"markers"`
	DropTypes      []string `yaml:"drop_types"`
	KeepTypes      []string `yaml:"keep_types"`
	Flags          []string `yaml:"flags"`
}

// LoadRules compiles the rule set selected by cfg. An empty file yields the
// builtin rules alone.
func LoadRules(cfg RulesConfig) (*route.RuleSet, error) {
	if cfg.File == "" {
		if !cfg.IncludeBuiltin {
			return nil, fmt.Errorf("config: %w: no rules file and builtin rules disabled", domain.ErrConfigInvalid)
		}
		return route.BuiltinRuleSet()
	}

	//nolint:gosec // Rules file path is controlled by admin/operator
	data, err := os.ReadFile(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("config: read rules %s: %w", cfg.File, err)
	}
	rs, err := ParseRules(data, cfg.IncludeBuiltin)
	if err != nil {
		return nil, fmt.Errorf("config: rules %s: %w", cfg.File, err)
	}
	return rs, nil
}

// ParseRules decodes a rule file and compiles it. When includeBuiltin is set,
// file apps replace builtin apps with the same id and are otherwise appended.
func ParseRules(data []byte, includeBuiltin bool) (*route.RuleSet, error) {
	var file RuleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse rules: %w", domain.ErrConfigInvalid, err)
	}

	families := keywords.BuiltinFamilies()
	for name, kws := range file.Families {
		if err := families.Register(keywords.NewFamily(name, kws...)); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
		}
	}

	apps := make([]route.App, 0, len(file.Apps))
	for _, spec := range file.Apps {
		app, err := spec.toApp(families)
		if err != nil {
			return nil, fmt.Errorf("%w: app %q: %w", domain.ErrConfigInvalid, spec.ID, err)
		}
		apps = append(apps, app)
	}

	if includeBuiltin {
		builtin, err := route.Builtin(families)
		if err != nil {
			return nil, err
		}
		apps = mergeApps(builtin, apps)
	}
	if len(apps) == 0 {
		return nil, fmt.Errorf("%w: rule file declares no apps", domain.ErrConfigInvalid)
	}

	rs, err := route.Compile(apps)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}
	return rs, nil
}

func mergeApps(base, overrides []route.App) []route.App {
	out := append([]route.App(nil), base...)
	index := make(map[string]int, len(out))
	for i, app := range out {
		index[app.ID] = i
	}
	for _, app := range overrides {
		if i, ok := index[app.ID]; ok {
			out[i] = app
			continue
		}
		index[app.ID] = len(out)
		out = append(out, app)
	}
	return out
}

func (s AppSpec) toApp(families *keywords.FamilySet) (route.App, error) {
	app := route.App{
		ID:         s.ID,
		Name:       s.Name,
		Signatures: append([]string(nil), s.Signatures...),
		Routes:     make([]route.Route, 0, len(s.Routes)),
	}
	if app.Name == "" {
		app.Name = s.ID
	}
	for _, rs := range s.Routes {
		rt, err := rs.toRoute(families)
		if err != nil {
			return route.App{}, fmt.Errorf("route %q: %w", rs.Key, err)
		}
		app.Routes = append(app.Routes, rt)
	}
	return app, nil
}

func (s RouteSpec) toRoute(families *keywords.FamilySet) (route.Route, error) {
	rt := route.Route{
		Key:      s.Key,
		Patterns: append([]string(nil), s.Patterns...),
		Strategy: domain.Strategy(s.Strategy),
		Counter:  s.Counter,
		Notice:   s.Notice,
	}
	if s.Envelope != "" {
		env, err := route.CompactEnvelope(s.Envelope)
		if err != nil {
			return route.Route{}, err
		}
		rt.Envelope = env
	}
	for _, ts := range s.Targets {
		t := sanitize.Target{Path: append([]string(nil), ts.Path...), Shallow: ts.Shallow}
		for _, fs := range ts.Fields {
			op, err := fs.toFieldOp(families)
			if err != nil {
				return route.Route{}, err
			}
			t.Fields = append(t.Fields, op)
		}
		for _, ls := range ts.Lists {
			t.Lists = append(t.Lists, sanitize.ListOp{
				Key:            ls.Key,
				Discriminators: ls.Discriminators,
				Markers:        ls.Markers,
				DropTypes:      ls.DropTypes,
				KeepTypes:      ls.KeepTypes,
				Flags:          ls.Flags,
			})
		}
		rt.Targets = append(rt.Targets, t)
	}
	return rt, nil
}

func (s FieldSpec) toFieldOp(families *keywords.FamilySet) (sanitize.FieldOp, error) {
	op := sanitize.FieldOp{Key: s.Key, Action: sanitize.Action(s.Action)}
	if s.Family == "" {
		return op, nil
	}
	if s.Key != "" {
		return sanitize.FieldOp{}, fmt.Errorf("field op sets both key %q and family %q", s.Key, s.Family)
	}
	f, ok := families.Lookup(s.Family)
	if !ok {
		return sanitize.FieldOp{}, fmt.Errorf("unknown family %q", s.Family)
	}
	op.Family = f
	return op, nil
}
