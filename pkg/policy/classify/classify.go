// Package classify computes the tiered capture verdict for an exchange. It is
// read-only and recall-biased: a false positive costs a log line or a
// notification, never data.
package classify

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/policy/keywords"
)

// Classifier evaluates HIGH keywords, then URL path keywords, then MEDIUM
// keywords, stopping at the first match.
type Classifier struct {
	High   keywords.Table
	Path   keywords.Table
	Medium keywords.Table
	Apps   []keywords.AppSignature
}

// New returns a classifier over the builtin taxonomy.
func New() *Classifier {
	return &Classifier{
		High:   keywords.High,
		Path:   keywords.Path,
		Medium: keywords.Medium,
		Apps:   keywords.Apps,
	}
}

var defaultClassifier = New()

// Classify runs the builtin classifier.
func Classify(rawURL string, body []byte) domain.Verdict {
	return defaultClassifier.Classify(rawURL, body)
}

// Classify returns the verdict for rawURL and an optional request body. The
// search text is the case-folded URL and body joined by a space; path
// keywords only look at the URL.
func (c *Classifier) Classify(rawURL string, body []byte) domain.Verdict {
	lowerURL := strings.ToLower(rawURL)
	combined := lowerURL
	if len(body) > 0 {
		combined = lowerURL + " " + strings.ToLower(string(body))
	}

	v := domain.Verdict{
		Tier:   domain.TierNone,
		App:    c.identify(lowerURL).Name,
		Params: KeyParams(rawURL, body),
	}

	if e, ok := c.High.First(combined); ok {
		return hit(v, domain.TierHigh, "high-priority match", e)
	}
	if e, ok := c.Path.First(lowerURL); ok {
		return hit(v, domain.TierMedium, "url path match", e)
	}
	if e, ok := c.Medium.First(combined); ok {
		return hit(v, domain.TierMedium, "medium-priority match", e)
	}
	return v
}

func hit(v domain.Verdict, tier domain.Tier, label string, e keywords.Entry) domain.Verdict {
	v.Matched = true
	v.Tier = tier
	v.Keyword = e.Text
	v.Reason = fmt.Sprintf("%s: %s", label, e.Text)
	return v
}

func (c *Classifier) identify(lowerURL string) keywords.AppSignature {
	for _, app := range c.Apps {
		if app.Matches(lowerURL) {
			return app
		}
	}
	return keywords.Unknown
}

// KeyParams extracts the request parameters that name the called API:
// functionId and api_name from the query string, functionId and api from a
// JSON request body.
func KeyParams(rawURL string, body []byte) []string {
	var out []string

	if _, query, ok := strings.Cut(rawURL, "?"); ok {
		// ParseQuery keeps every pair it could decode alongside the first error.
		values, _ := url.ParseQuery(query)
		for _, key := range []string{"functionId", "api_name"} {
			if v := values.Get(key); v != "" {
				out = append(out, key+"="+v)
			}
		}
	}

	if len(body) == 0 {
		return out
	}
	var p fastjson.Parser
	doc, err := p.ParseBytes(body)
	if err != nil {
		return out
	}
	for _, key := range []string{"functionId", "api"} {
		if v := scalar(doc.Get(key)); v != "" {
			out = append(out, key+"="+v)
		}
	}
	return out
}

func scalar(v *fastjson.Value) string {
	if v == nil {
		return ""
	}
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.String()
	default:
		return ""
	}
}
