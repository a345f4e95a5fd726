package analysis

import "time"

// Sender identifies one side of a two-person conversation.
// A is the person uploading the conversation ("you"), B is the partner.
type Sender string

const (
	SenderA Sender = "A"
	SenderB Sender = "B"
)

// Other returns the opposite side.
func (s Sender) Other() Sender {
	if s == SenderA {
		return SenderB
	}
	return SenderA
}

// Message is one parsed chat line attributed to a sender.
type Message struct {
	Sender    Sender     `json:"sender"`
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Emojis    []string   `json:"emojiList"`
	HasPhoto  bool       `json:"hasPhoto,omitempty"`
}

// ConversationFeatures is the fixed 15-key feature record computed for a conversation.
// Normalized scores are in [0,100]; counts and medians are raw.
type ConversationFeatures struct {
	SentimentPolarity    float64 `json:"sentiment_polarity"`
	Reciprocity          float64 `json:"reciprocity"`
	LengthBalance        float64 `json:"length_balance"`
	ReplyLatencyScore    float64 `json:"reply_latency_score"`
	EngagementQuestions  float64 `json:"engagement_questions"`
	EmojiIntimacy        float64 `json:"emoji_intimacy"`
	TemporalMomentum     float64 `json:"temporal_momentum"`
	PhotosShare          float64 `json:"photos_share"`
	StyleMatch           float64 `json:"style_match"`
	ToxicityHits         int     `json:"toxicity_hits"`
	WindowDays           int     `json:"window_days"`
	MsgCountA            int     `json:"msg_count_A"`
	MsgCountB            int     `json:"msg_count_B"`
	MedianReplyMinutesAB float64 `json:"median_reply_minutes_AtoB"`
	MedianReplyMinutesBA float64 `json:"median_reply_minutes_BtoA"`
}

// Value returns the named weighted feature. The second result is false for
// unknown names and for the pass-through count fields.
func (f ConversationFeatures) Value(name string) (float64, bool) {
	switch name {
	case "sentiment_polarity":
		return f.SentimentPolarity, true
	case "reciprocity":
		return f.Reciprocity, true
	case "length_balance":
		return f.LengthBalance, true
	case "reply_latency_score":
		return f.ReplyLatencyScore, true
	case "engagement_questions":
		return f.EngagementQuestions, true
	case "emoji_intimacy":
		return f.EmojiIntimacy, true
	case "temporal_momentum":
		return f.TemporalMomentum, true
	case "photos_share":
		return f.PhotosShare, true
	case "style_match":
		return f.StyleMatch, true
	default:
		return 0, false
	}
}

// FeatureContribution is one weighted feature's signed effect on the local score.
type FeatureContribution struct {
	Feature      string `json:"feature"`
	Contribution int    `json:"contribution"`
	Label        string `json:"label"`
}

// PartnerScores holds per-side devotion scores.
type PartnerScores struct {
	A int `json:"A" jsonschema_description:"How much effort and affection A shows, 0-100"`
	B int `json:"B" jsonschema_description:"How much effort and affection B shows, 0-100"`
}

// Evidence is a short quote the model used to back its verdict.
type Evidence struct {
	Speaker string `json:"speaker" jsonschema:"enum=A,enum=B"`
	Source  string `json:"source" jsonschema_description:"Where the evidence comes from, e.g. snippet or features"`
	Text    string `json:"text" jsonschema_description:"Short redacted quote or observation"`
}

// AnalysisResult is the outcome of one analysis run. Fields after Suggestions are only
// populated when a model enhancement was blended in, and only for the schema variant in use.
type AnalysisResult struct {
	ID            string                `json:"id,omitempty"`
	LocalScore    int                   `json:"localScore"`
	LLMScore      *int                  `json:"llmScore,omitempty"`
	FinalScore    int                   `json:"finalScore"`
	Features      ConversationFeatures  `json:"features"`
	Contributions []FeatureContribution `json:"contributions"`
	Explanation   string                `json:"explanation"`
	Suggestions   []string              `json:"suggestions"`
	MessageCount  int                   `json:"messageCount"`

	EffortBalance string `json:"effortBalance,omitempty"`
	Initiator     string `json:"initiator,omitempty"`
	Trend         string `json:"trend,omitempty"`
	BalanceMeter  *int   `json:"balanceMeter,omitempty"`

	WhoLovesMore string         `json:"whoLovesMore,omitempty"`
	Confidence   *int           `json:"confidence,omitempty"`
	Scores       *PartnerScores `json:"scores,omitempty"`
	TopEvidence  []Evidence     `json:"topEvidence,omitempty"`
}

// RedactionOptions toggles the five PII categories.
type RedactionOptions struct {
	Emails    bool `json:"emails"`
	Phones    bool `json:"phones"`
	Addresses bool `json:"addresses"`
	URLs      bool `json:"urls"`
	Amounts   bool `json:"amounts"`
}

// DefaultRedactionOptions enables every category.
func DefaultRedactionOptions() RedactionOptions {
	return RedactionOptions{Emails: true, Phones: true, Addresses: true, URLs: true, Amounts: true}
}

// Mode selects whether a model enhancement is attempted.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeHybrid Mode = "hybrid"
	ModeCloud  Mode = "cloud"
)

// ParseMode accepts local, hybrid or cloud (case-insensitive). Empty means hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(lower(s)) {
	case "":
		return ModeHybrid, nil
	case ModeLocal:
		return ModeLocal, nil
	case ModeHybrid:
		return ModeHybrid, nil
	case ModeCloud:
		return ModeCloud, nil
	}
	return "", invalidInputf("ParseMode: unknown mode %q", s)
}

// Enhances reports whether the mode calls the enhancement collaborator.
func (m Mode) Enhances() bool {
	return m == ModeHybrid || m == ModeCloud
}
