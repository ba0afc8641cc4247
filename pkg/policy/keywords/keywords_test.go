package keywords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-adblock/pkg/domain"
)

func TestEntry_SubstringIsCaseInsensitive(t *testing.T) {
	e := NewEntry("splashAd", domain.TierHigh)
	assert.True(t, e.Match("data.splashad.list"))
	assert.False(t, e.Match("data.splash.list"))
}

func TestEntry_WildcardRequiresOrderedParts(t *testing.T) {
	e := NewEntry("client.action.*functionId=start", domain.TierHigh)

	assert.True(t, e.Match("https://api.m.jd.com/client.action?functionid=start&client=apple"))
	assert.True(t, e.Match("client.action?x=1&functionid=startup"))
	assert.False(t, e.Match("functionid=start&path=client.action"))
	assert.False(t, e.Match("client.action?functionid=basicconfig"))
}

func TestEntry_WildcardQuotesMetaCharacters(t *testing.T) {
	e := NewEntry("a[b].*c?d", domain.TierHigh)
	assert.True(t, e.Match("xa[b]yyc?dz"))
	assert.False(t, e.Match("xabyycd"))
}

func TestTable_FirstIsDeclarationOrdered(t *testing.T) {
	table := NewTable(domain.TierMedium, "banner", "ban", "promo")

	e, ok := table.First("top_banner_promo")
	require.True(t, ok)
	assert.Equal(t, "banner", e.Text)

	_, ok = table.First("nothing here")
	assert.False(t, ok)
}

func TestBuiltinTablesCarryTheirTier(t *testing.T) {
	for _, tc := range []struct {
		table Table
		tier  domain.Tier
	}{
		{High, domain.TierHigh},
		{Path, domain.TierPath},
		{Medium, domain.TierMedium},
	} {
		require.NotEmpty(t, tc.table)
		for _, e := range tc.table {
			assert.Equal(t, tc.tier, e.Tier, e.Text)
		}
	}
}

func TestFamily_MatchesLowerCasedKey(t *testing.T) {
	f := NewFamily("launch", "Splash", "openad", "splash", " ")
	assert.Equal(t, []string{"splash", "openad"}, f.Keywords)

	assert.True(t, f.Matches("SplashConfig"))
	assert.True(t, f.Matches("enableOpenAd"))
	assert.False(t, f.Matches("userName"))
	assert.False(t, Family{}.Matches("splash"))
}

func TestFamilySet_RegisterAndLookup(t *testing.T) {
	s := NewFamilySet()
	require.Error(t, s.Register(Family{Name: ""}))
	require.Error(t, s.Register(Family{Name: "empty"}))
	require.NoError(t, s.Register(NewFamily("Custom", "promo")))

	f, ok := s.Lookup("custom")
	require.True(t, ok)
	assert.Equal(t, "custom", f.Name)
	assert.Equal(t, []string{"custom"}, s.Names())

	clone := s.Clone()
	require.NoError(t, clone.Register(NewFamily("other", "x")))
	_, ok = s.Lookup("other")
	assert.False(t, ok)
}

func TestBuiltinFamilies(t *testing.T) {
	s := BuiltinFamilies()
	assert.Equal(t, []string{FamilyAdConfig, FamilyAdSwitch, FamilyAdTracking, FamilyLaunch}, s.Names())

	adConfig, ok := s.Lookup(FamilyAdConfig)
	require.True(t, ok)
	assert.True(t, adConfig.Matches("homeAdConfig"))
	assert.False(t, adConfig.Matches("address"))
	assert.False(t, adConfig.Matches("downloadUrl"))

	tracking, ok := s.Lookup(FamilyAdTracking)
	require.True(t, ok)
	assert.True(t, tracking.Matches("idleAdsPositionId"))
}

func TestIdentifyApp(t *testing.T) {
	tests := map[string]string{
		"https://api.m.jd.com/client.action?functionId=start":                  "jd",
		"https://api.pinduoduo.com/api/alexa/homepage":                         "pdd",
		"https://acs.m.goofish.com/gw/mtop.taobao.idlecommerce.splash.ads/1.0": "xianyu",
		"https://g.alicdn.com/x.js":                                            "alibaba",
		"https://example.org/":                                                 "unknown",
	}
	for url, want := range tests {
		assert.Equal(t, want, IdentifyApp(url).ID, url)
	}
}
