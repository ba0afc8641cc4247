// Package keywords holds the static keyword taxonomy shared by the capture
// classifier and the field sanitizer: tiered detection keywords, ad-bearing
// field-name families, and application URL signatures.
//
// Every table is ordered. Lookups return the first entry that matches so that
// verdicts are deterministic for a given input.
package keywords

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/polisai/polis-adblock/pkg/domain"
)

// wildcard marks a keyword whose parts must appear in order, any text between.
const wildcard = ".*"

// Entry is one keyword of a tiered table.
type Entry struct {
	Text string
	Tier domain.Tier

	lower   string
	pattern glob.Glob
}

// NewEntry builds an entry. Text containing ".*" is compiled to an unanchored
// glob whose literal parts must appear in order; anything else is a plain
// case-insensitive substring.
func NewEntry(text string, tier domain.Tier) Entry {
	e := Entry{Text: text, Tier: tier, lower: strings.ToLower(text)}
	if strings.Contains(e.lower, wildcard) {
		parts := strings.Split(e.lower, wildcard)
		for i, part := range parts {
			parts[i] = glob.QuoteMeta(part)
		}
		e.pattern = glob.MustCompile("*" + strings.Join(parts, "*") + "*")
	}
	return e
}

// Match reports whether the entry occurs in folded, which must already be lower-cased.
func (e Entry) Match(folded string) bool {
	if e.pattern != nil {
		return e.pattern.Match(folded)
	}
	return e.lower != "" && strings.Contains(folded, e.lower)
}

// Table is an ordered list of keywords of a single tier.
type Table []Entry

// NewTable compiles texts into a table of the given tier.
func NewTable(tier domain.Tier, texts ...string) Table {
	t := make(Table, 0, len(texts))
	for _, text := range texts {
		t = append(t, NewEntry(text, tier))
	}
	return t
}

// First returns the first entry occurring in folded.
func (t Table) First(folded string) (Entry, bool) {
	for _, e := range t {
		if e.Match(folded) {
			return e, true
		}
	}
	return Entry{}, false
}

// Texts returns the raw keyword strings in order.
func (t Table) Texts() []string {
	out := make([]string, len(t))
	for i, e := range t {
		out[i] = e.Text
	}
	return out
}

// High holds keywords that almost certainly denote splash or launch advertising.
var High = NewTable(domain.TierHigh,
	// splash-specific
	"splash", "splashad", "splash_ad", "splashAd",
	"launchad", "launch_ad", "launchAd",
	"startupAd", "startup_ad", "startad",
	"openad", "open_ad", "openAd",
	"bootad", "boot_ad",

	// jd
	"client.action.*functionId=start",
	"client.action.*functionId=splash",
	"client.action.*functionId=queryMaterialAdverts",
	"client.action.*functionId=getAdConfig",
	"client.action.*functionId=getAdvertising",

	// pdd
	"api/oak/integration/render",
	"api/fiora/splash",
	"api/alexa/splash",
	"resource_splash",
	"splash_screen",

	// xianyu
	"mtop.taobao.idlecommerce.splash",
	"mtop.idle.idleadv",
	"mtop.taobao.idle.user.strategy",
	"idlecommerce.splash.async.ads",
)

// Path holds URL path fragments typical of ad-serving endpoints. They are only
// matched against the URL, never the body.
var Path = NewTable(domain.TierPath,
	"/splash", "/ad/", "/ads/", "/advert/",
	"/launch", "/startup", "/boot/",
	"/promotion/", "/banner/", "/screen/",
	"/config/ad", "/api/ad", "/v1/ad", "/v2/ad",
	"ad_config",
	"/resource/", "/material/", "/creative/",
	"/oak/", "/fiora/", "/alexa/",
)

// Medium holds generic advertising vocabulary and ad SDK names.
var Medium = NewTable(domain.TierMedium,
	"advert", "advertise", "advertising",
	"banner", "promotion", "promo",
	"creative", "material", "campaign",
	"adConfig", "adInfo", "adData", "adList",
	"getAd", "fetchAd", "loadAd", "requestAd",

	// ad sdks
	"pangle", "pangolin", "csjad",
	"gdt", "gdtad",
	"mobads", "baiduad",
	"adukwai", "ksad",
)
