package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/policy/sanitize"
)

func TestMatch_FirstDeclaredWins(t *testing.T) {
	rules := []Rule{
		{App: "x", Pattern: "splash", Route: "first"},
		{App: "x", Pattern: "splash.async", Route: "second"},
	}

	got, ok := Match("https://h/api/splash.async.ads", rules)
	require.True(t, ok)
	assert.Equal(t, "first", got.Route)

	_, ok = Match("https://h/api/feed", rules)
	assert.False(t, ok)
}

func TestMatch_CaseSensitive(t *testing.T) {
	rules := []Rule{{App: "jd", Pattern: "functionId=getAdConfig", Route: "jd.ad-config"}}

	_, ok := Match("https://api.m.jd.com/client.action?functionid=getadconfig", rules)
	assert.False(t, ok)

	got, ok := Match("https://api.m.jd.com/client.action?functionId=getAdConfig&v=1", rules)
	require.True(t, ok)
	assert.Equal(t, "jd.ad-config", got.Route)
}

func TestMatch_EmptyRules(t *testing.T) {
	_, ok := Match("https://anything", nil)
	assert.False(t, ok)
}

func TestCompile_FlattensPatternsInOrder(t *testing.T) {
	rs, err := Compile([]App{{
		ID:         "demo",
		Signatures: []string{"Demo.Example"},
		Routes: []Route{
			{Key: "demo.a", Patterns: []string{"/a", "/aa"}, Strategy: domain.StrategyPassthrough},
			{Key: "demo.b", Patterns: []string{"/b"}, Strategy: domain.StrategyPassthrough},
		},
	}})
	require.NoError(t, err)

	rules := rs.Rules("demo")
	require.Len(t, rules, 3)
	assert.Equal(t, []string{"/a", "/aa", "/b"}, []string{rules[0].Pattern, rules[1].Pattern, rules[2].Pattern})
	assert.Equal(t, "demo.a", rules[1].Route)
	assert.Equal(t, 3, rs.Len())

	app, ok := rs.Identify("https://DEMO.example.com/x")
	require.True(t, ok)
	assert.Equal(t, "demo", app.ID)
	assert.Equal(t, "demo", app.Name)

	app, ok = rs.App("demo")
	require.True(t, ok)
	assert.Equal(t, []string{"demo.example"}, app.Signatures)
	_, ok = rs.App("other")
	assert.False(t, ok)
}

func TestCompile_Rejects(t *testing.T) {
	passthrough := Route{Key: "k", Patterns: []string{"/p"}, Strategy: domain.StrategyPassthrough}

	cases := map[string][]App{
		"missing app id":    {{Routes: []Route{passthrough}}},
		"duplicate app":     {{ID: "a"}, {ID: "a"}},
		"duplicate route":   {{ID: "a", Routes: []Route{passthrough}}, {ID: "b", Routes: []Route{passthrough}}},
		"no patterns":       {{ID: "a", Routes: []Route{{Key: "k", Strategy: domain.StrategyPassthrough}}}},
		"empty pattern":     {{ID: "a", Routes: []Route{{Key: "k", Patterns: []string{""}, Strategy: domain.StrategyPassthrough}}}},
		"unknown strategy":  {{ID: "a", Routes: []Route{{Key: "k", Patterns: []string{"/p"}, Strategy: "explode"}}}},
		"missing envelope":  {{ID: "a", Routes: []Route{{Key: "k", Patterns: []string{"/p"}, Strategy: domain.StrategySyntheticReplace}}}},
		"invalid envelope":  {{ID: "a", Routes: []Route{{Key: "k", Patterns: []string{"/p"}, Strategy: domain.StrategySyntheticReplace, Envelope: []byte("{")}}}},
		"missing targets":   {{ID: "a", Routes: []Route{{Key: "k", Patterns: []string{"/p"}, Strategy: domain.StrategyClearFields}}}},
		"filter without list": {{ID: "a", Routes: []Route{{
			Key: "k", Patterns: []string{"/p"}, Strategy: domain.StrategyFilterList,
			Targets: []sanitize.Target{{Fields: []sanitize.FieldOp{{Key: "ads", Action: sanitize.ActionEmptyArray}}}},
		}}}},
	}
	for name, apps := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(apps)
			assert.Error(t, err)
		})
	}
}

func TestCompile_DoesNotAliasInput(t *testing.T) {
	apps := []App{{
		ID:         "demo",
		Signatures: []string{"UPPER"},
		Routes:     []Route{{Key: "demo.a", Patterns: []string{"/a"}, Strategy: domain.StrategyPassthrough}},
	}}
	rs, err := Compile(apps)
	require.NoError(t, err)

	apps[0].Routes[0].Strategy = domain.StrategyFilterList
	assert.Equal(t, "UPPER", apps[0].Signatures[0])

	r, ok := rs.Route("demo.a")
	require.True(t, ok)
	assert.Equal(t, domain.StrategyPassthrough, r.Strategy)
}

func TestCompactEnvelope(t *testing.T) {
	out, err := CompactEnvelope(`{ "api": "x",  "data": { "ok": true } }`)
	require.NoError(t, err)
	assert.Equal(t, `{"api":"x","data":{"ok":true}}`, string(out))

	_, err = CompactEnvelope(`[1,2]`)
	assert.Error(t, err)
	_, err = CompactEnvelope(`{`)
	assert.Error(t, err)
}

func TestBuiltinRuleSet_Resolve(t *testing.T) {
	rs, err := BuiltinRuleSet()
	require.NoError(t, err)

	cases := []struct {
		url      string
		app      string
		route    string
		strategy domain.Strategy
	}{
		{"https://api.m.jd.com/client.action?functionId=queryMaterialAdverts&client=apple", "jd", "jd.splash", domain.StrategyClearFields},
		{"https://api.m.jd.com/client.action?functionId=start", "jd", "jd.splash", domain.StrategyClearFields},
		{"https://api.m.jd.com/client.action?functionId=getAdvertising", "jd", "jd.ad-config", domain.StrategyClearFields},
		{"https://api.m.jd.com/client.action?functionId=switchQuery", "jd", "jd.switch", domain.StrategyClearFields},
		{"https://api.pinduoduo.com/api/abtest/v2", "pdd", "pdd.abtest", domain.StrategyRecursiveSanitize},
		{"https://api.pinduoduo.com/api/app/mobile_config/v1", "pdd", "pdd.mobile-config", domain.StrategyRecursiveSanitize},
		{"https://api.yangkeduo.com/api/alexa/homepage", "pdd", "pdd.home", domain.StrategyRecursiveSanitize},
		{"https://acs.m.goofish.com/gw/mtop.taobao.idlecommerce.splash.ads/2.0/", "xianyu", "xianyu.splash", domain.StrategySyntheticReplace},
		{"https://acs.m.goofish.com/gw/mtop.taobao.idlecommerce.splash.async.ads/1.0/", "xianyu", "xianyu.splash-async", domain.StrategySyntheticReplace},
		{"https://acs.m.goofish.com/gw/mtop.taobao.idle.user.strategy.list/1.0/", "xianyu", "xianyu.strategy", domain.StrategyClearFields},
		{"https://acs.m.goofish.com/gw/mtop.taobao.idlehome.home.circle.list/1.0/", "xianyu", "xianyu.circle", domain.StrategyRecursiveSanitize},
		{"https://acs.m.goofish.com/gw/mtop.taobao.idle.activity.query/1.0/", "xianyu", "xianyu.activity", domain.StrategyFilterList},
		{"https://acs.m.goofish.com/gw/com.taobao.idle.host.authorize/1.0/", "xianyu", "xianyu.host-authorize", domain.StrategyPassthrough},
	}
	for _, tc := range cases {
		t.Run(tc.route, func(t *testing.T) {
			rule, r, ok := rs.Resolve("", tc.url)
			require.True(t, ok)
			assert.Equal(t, tc.app, rule.App)
			assert.Equal(t, tc.route, rule.Route)
			assert.Equal(t, tc.strategy, r.Strategy)
		})
	}
}

func TestBuiltinRuleSet_Unmatched(t *testing.T) {
	rs, err := BuiltinRuleSet()
	require.NoError(t, err)

	_, _, ok := rs.Resolve("", "https://example.org/functionId=start")
	assert.False(t, ok, "unknown app")

	_, _, ok = rs.Resolve("", "https://api.m.jd.com/client.action?functionId=search")
	assert.False(t, ok, "known app, no route")

	_, _, ok = rs.Resolve("pdd", "https://api.m.jd.com/client.action?functionId=start")
	assert.False(t, ok, "pinned app ignores other apps' rules")
}

func TestBuiltinRuleSet_HostSignatureWins(t *testing.T) {
	rs, err := BuiltinRuleSet()
	require.NoError(t, err)

	cases := map[string]string{
		"https://acs.m.goofish.com/gw/mtop.taobao.idlecommerce.splash.ads/2.0/?utdid=xpddq":         "xianyu.splash",
		"https://acs.m.goofish.com/gw/mtop.taobao.idlecommerce.splash.async.ads/1.0/?sign=abjd.cnz": "xianyu.splash-async",
	}
	for url, want := range cases {
		t.Run(want, func(t *testing.T) {
			app, ok := rs.Identify(url)
			require.True(t, ok)
			assert.Equal(t, "xianyu", app.ID)

			rule, r, ok := rs.Resolve("", url)
			require.True(t, ok)
			assert.Equal(t, "xianyu", rule.App)
			assert.Equal(t, want, r.Key)
		})
	}
}

func TestResolve_FallsThroughSignatureMatches(t *testing.T) {
	rs, err := Compile([]App{
		{ID: "first", Signatures: []string{"shop"}, Routes: []Route{
			{Key: "first.other", Patterns: []string{"/other"}, Strategy: domain.StrategyPassthrough},
		}},
		{ID: "second", Signatures: []string{"shop.example"}, Routes: []Route{
			{Key: "second.feed", Patterns: []string{"/feed"}, Strategy: domain.StrategyPassthrough},
		}},
		{ID: "third", Signatures: []string{"feed"}, Routes: []Route{
			{Key: "third.feed", Patterns: []string{"/feed"}, Strategy: domain.StrategyPassthrough},
		}},
	})
	require.NoError(t, err)

	app, ok := rs.Identify("https://api.shop.example/feed")
	require.True(t, ok)
	assert.Equal(t, "first", app.ID)

	rule, _, ok := rs.Resolve("", "https://api.shop.example/feed")
	require.True(t, ok)
	assert.Equal(t, "second.feed", rule.Route, "host matches are tried before path matches")

	rule, _, ok = rs.Resolve("", "https://cdn.example.net/shop/feed")
	require.True(t, ok)
	assert.Equal(t, "third.feed", rule.Route, "declaration order among path matches")

	_, _, ok = rs.Resolve("first", "https://api.shop.example/feed")
	assert.False(t, ok, "pinned app does not fall through")
}

func TestRegistry_Swap(t *testing.T) {
	first, err := BuiltinRuleSet()
	require.NoError(t, err)
	second, err := Compile(nil)
	require.NoError(t, err)

	reg := NewRegistry(first)
	assert.Same(t, first, reg.Load())
	assert.Same(t, first, reg.Swap(second))
	assert.Same(t, second, reg.Load())
	assert.Zero(t, reg.Load().Len())
}
