package domain

// Tier is a detection confidence bucket. Keyword tables use High, Medium, and
// Path; verdicts report None, Medium, or High.
type Tier string

const (
	TierNone   Tier = "NONE"
	TierMedium Tier = "MEDIUM"
	TierHigh   Tier = "HIGH"
	TierPath   Tier = "PATH"
)

// Verdict is the capture-path classification of one exchange. It is computed
// once, logged or forwarded to the sink, and never persisted.
type Verdict struct {
	Matched bool `json:"matched"`
	Tier    Tier `json:"tier"`
	// Reason is a human-readable explanation citing the tier and keyword.
	Reason string `json:"reason,omitempty"`
	// Keyword is the taxonomy entry that matched.
	Keyword string `json:"keyword,omitempty"`
	// App is the display name of the identified application, "unknown" when none.
	App string `json:"app"`
	// Params carries notable request parameters such as functionId or api.
	Params []string `json:"params,omitempty"`
}

// Notice is a user-facing alert posted through the sink.
type Notice struct {
	Title    string `json:"title" yaml:"title"`
	Subtitle string `json:"subtitle" yaml:"subtitle"`
	Message  string `json:"message" yaml:"message"`
}

// IsZero reports whether the notice carries no text.
func (n Notice) IsZero() bool {
	return n.Title == "" && n.Subtitle == "" && n.Message == ""
}
