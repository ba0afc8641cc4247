package keywords

import "strings"

// AppSignature identifies an application by markers in its request URLs.
type AppSignature struct {
	ID      string
	Name    string
	Markers []string
}

// Matches reports whether any marker occurs in the lower-cased URL.
func (a AppSignature) Matches(lowerURL string) bool {
	for _, m := range a.Markers {
		if strings.Contains(lowerURL, m) {
			return true
		}
	}
	return false
}

// Unknown is reported when no signature matches.
var Unknown = AppSignature{ID: "unknown", Name: "unknown"}

// Apps is the ordered signature table. Rule-bearing apps come first; the
// rest are only used to label capture verdicts.
var Apps = []AppSignature{
	{ID: "jd", Name: "JD", Markers: []string{"jd.com", "jd.cn", "360buy", "jingdong"}},
	{ID: "pdd", Name: "Pinduoduo", Markers: []string{"pinduoduo", "yangkeduo", "pdd"}},
	{ID: "xianyu", Name: "Xianyu", Markers: []string{"goofish", "idle", "xianyu"}},
	{ID: "alibaba", Name: "Alibaba family", Markers: []string{"taobao", "alibaba", "alicdn", "alipay"}},
	{ID: "pangle", Name: "Pangle SDK", Markers: []string{"pangle", "pangolin"}},
	{ID: "gdt", Name: "GDT SDK", Markers: []string{"gdt", "qq.com"}},
	{ID: "baidu", Name: "Baidu SDK", Markers: []string{"baidu"}},
}

// IdentifyApp returns the first signature whose markers occur in url.
func IdentifyApp(url string) AppSignature {
	lower := strings.ToLower(url)
	for _, app := range Apps {
		if app.Matches(lower) {
			return app
		}
	}
	return Unknown
}
