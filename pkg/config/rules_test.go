package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/policy/sanitize"
)

const demoRules = `
families:
  demo-switch: [splash, openad]
apps:
  - id: demo
    name: Demo
    signatures: [Demo.Example.com]
    routes:
      - key: demo.splash
        patterns: ["/splash", "/launch"]
        strategy: clear-fields
        counter: splash
        notice: {title: "blocked", subtitle: "demo", message: "splash removed"}
        targets:
          - path: [data]
            shallow: true
            fields:
              - {key: ads, action: empty_array}
              - {family: demo-switch, action: "false"}
            lists:
              - {key: list, discriminators: [type, bizType], markers: [ad, promotion]}
      - key: demo.report
        patterns: ["/report"]
        strategy: synthetic-replace
        envelope: '{ "ok" : true }'
  - id: jd
    signatures: [jd.com]
    routes:
      - key: jd.custom
        patterns: ["functionId=custom"]
        strategy: passthrough
`

func TestParseRules_FileOnly(t *testing.T) {
	rs, err := ParseRules([]byte(demoRules), false)
	require.NoError(t, err)

	apps := rs.Apps()
	require.Len(t, apps, 2)
	assert.Equal(t, "demo", apps[0].ID)
	assert.Equal(t, "jd", apps[1].Name)
	assert.Equal(t, 4, rs.Len())

	rule, rt, ok := rs.Resolve("", "https://demo.example.com/launch?x=1")
	require.True(t, ok)
	assert.Equal(t, "demo.splash", rule.Route)
	assert.Equal(t, domain.Notice{Title: "blocked", Subtitle: "demo", Message: "splash removed"}, rt.Notice)

	target := rt.Targets[0]
	assert.Equal(t, []string{"data"}, target.Path)
	assert.True(t, target.Shallow)
	require.Len(t, target.Fields, 2)
	assert.Equal(t, sanitize.ActionFalse, target.Fields[1].Action)
	assert.Equal(t, []string{"splash", "openad"}, target.Fields[1].Family.Keywords)

	want := []sanitize.ListOp{{Key: "list", Discriminators: []string{"type", "bizType"}, Markers: []string{"ad", "promotion"}}}
	if diff := cmp.Diff(want, target.Lists); diff != "" {
		t.Fatalf("list ops mismatch (-want +got):\n%s", diff)
	}

	report, ok := rs.Route("demo.report")
	require.True(t, ok)
	assert.Equal(t, `{"ok":true}`, string(report.Envelope))
}

func TestParseRules_MergesWithBuiltin(t *testing.T) {
	rs, err := ParseRules([]byte(demoRules), true)
	require.NoError(t, err)

	var ids []string
	for _, app := range rs.Apps() {
		ids = append(ids, app.ID)
	}
	if diff := cmp.Diff([]string{"jd", "pdd", "xianyu", "demo"}, ids); diff != "" {
		t.Fatalf("app order mismatch (-want +got):\n%s", diff)
	}

	// the file's jd app replaced the builtin one
	_, ok := rs.Route("jd.splash")
	assert.False(t, ok)
	_, ok = rs.Route("jd.custom")
	assert.True(t, ok)
	_, ok = rs.Route("xianyu.splash-async")
	assert.True(t, ok)
}

func TestParseRules_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown family": `
apps:
  - id: x
    routes:
      - {key: x.a, patterns: [a], strategy: clear-fields, targets: [{fields: [{family: nope, action: "false"}]}]}
`,
		"key and family": `
apps:
  - id: x
    routes:
      - {key: x.a, patterns: [a], strategy: clear-fields, targets: [{fields: [{key: ads, family: launch}]}]}
`,
		"bad strategy": `
apps:
  - id: x
    routes:
      - {key: x.a, patterns: [a], strategy: explode}
`,
		"bad envelope": `
apps:
  - id: x
    routes:
      - {key: x.a, patterns: [a], strategy: synthetic-replace, envelope: "[1,2]"}
`,
		"unknown field":  "apps: []\nroutez: []\n",
		"empty":          "",
		"duplicate key": `
apps:
  - id: x
    routes:
      - {key: x.a, patterns: [a], strategy: passthrough}
      - {key: x.a, patterns: [b], strategy: passthrough}
`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules([]byte(doc), false)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)
		})
	}
}

func TestLoadRules(t *testing.T) {
	rs, err := LoadRules(RulesConfig{IncludeBuiltin: true})
	require.NoError(t, err)
	_, ok := rs.Route("jd.splash")
	assert.True(t, ok)

	_, err = LoadRules(RulesConfig{})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	path := writeFile(t, "rules.yaml", demoRules)
	rs, err = LoadRules(RulesConfig{File: path})
	require.NoError(t, err)
	assert.Len(t, rs.Apps(), 2)

	_, err = LoadRules(RulesConfig{File: path + ".missing"})
	assert.Error(t, err)
}
