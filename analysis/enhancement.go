package analysis

import (
	"encoding/json"
	"strings"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis/fileutils"
)

// SchemaVariant selects the JSON shape the model must return. One variant is chosen per deployment.
type SchemaVariant string

const (
	// SchemaEffort returns a score with effort balance, initiator and trend.
	SchemaEffort SchemaVariant = "effort"
	// SchemaDevotion returns a who-loves-more verdict with per-side scores and evidence.
	SchemaDevotion SchemaVariant = "devotion"
)

// ParseSchemaVariant accepts effort or devotion. Empty means effort.
func ParseSchemaVariant(s string) (SchemaVariant, error) {
	switch SchemaVariant(lower(s)) {
	case "", SchemaEffort:
		return SchemaEffort, nil
	case SchemaDevotion:
		return SchemaDevotion, nil
	}
	return "", invalidInputf("ParseSchemaVariant: unknown schema %q", s)
}

// EffortResponse is the effort schema variant.
type EffortResponse struct {
	Score         int      `json:"score" jsonschema_description:"Relationship vibe score, integer 0-100 (50 neutral, 70 healthy, 85+ excellent)"`
	Explanation   string   `json:"explanation" jsonschema_description:"Concise neutral explanation, at most 2 sentences"`
	EffortBalance string   `json:"effort_balance" jsonschema_description:"Neutral statement about effort balance using 'You' for A and 'Your partner' for B"`
	Initiator     string   `json:"initiator" jsonschema_description:"Who typically starts conversations"`
	Trend         string   `json:"trend" jsonschema_description:"Effort trend for both sides: increasing, stable or declining"`
	BalanceMeter  int      `json:"balance_meter" jsonschema_description:"Effort balance 0-100 where 50 is even"`
	Suggestions   []string `json:"suggestions" jsonschema_description:"Exactly three short, concrete suggestions"`
}

// DevotionResponse is the who-loves-more schema variant.
type DevotionResponse struct {
	WhoLovesMore string        `json:"who_loves_more" jsonschema:"enum=A,enum=B,enum=Balanced,enum=Unclear"`
	Confidence   int           `json:"confidence" jsonschema_description:"Confidence in the verdict, 0-100"`
	Scores       PartnerScores `json:"scores"`
	Summary      string        `json:"summary" jsonschema_description:"Concise neutral summary, at most 2 sentences"`
	TopEvidence  []Evidence    `json:"top_evidence" jsonschema_description:"Exactly two pieces of evidence"`
	Suggestions  []string      `json:"suggestions" jsonschema_description:"Exactly three short, concrete suggestions"`
}

// Enhancement is a validated model response. Exactly one of Effort or Devotion is set,
// matching Variant.
type Enhancement struct {
	Variant  SchemaVariant
	Effort   *EffortResponse
	Devotion *DevotionResponse
}

// Score is the model's overall score used for blending. For the devotion variant it is the
// rounded mean of both sides' scores.
func (e Enhancement) Score() (int, error) {
	switch {
	case e.Variant == SchemaDevotion && e.Devotion != nil:
		return roundHalfUp(float64(e.Devotion.Scores.A+e.Devotion.Scores.B) / 2), nil
	case e.Variant != SchemaDevotion && e.Effort != nil:
		return e.Effort.Score, nil
	}
	return 0, invalidResponsef("Enhancement: no %s payload", e.Variant)
}

// Payload returns the populated response for JSON encoding.
func (e Enhancement) Payload() any {
	if e.Variant == SchemaDevotion {
		return e.Devotion
	}
	return e.Effort
}

// MarshalJSON encodes the populated variant only.
func (e Enhancement) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Payload())
}

type effortWire struct {
	Score         *float64  `json:"score"`
	Explanation   *string   `json:"explanation"`
	EffortBalance *string   `json:"effort_balance"`
	Initiator     *string   `json:"initiator"`
	Trend         *string   `json:"trend"`
	BalanceMeter  *float64  `json:"balance_meter"`
	Suggestions   *[]string `json:"suggestions"`
}

type scoresWire struct {
	A *float64 `json:"A"`
	B *float64 `json:"B"`
}

type evidenceWire struct {
	Speaker *string `json:"speaker"`
	Source  *string `json:"source"`
	Text    *string `json:"text"`
}

type devotionWire struct {
	WhoLovesMore *string         `json:"who_loves_more"`
	Confidence   *float64        `json:"confidence"`
	Scores       *scoresWire     `json:"scores"`
	Summary      *string         `json:"summary"`
	TopEvidence  *[]evidenceWire `json:"top_evidence"`
	Suggestions  *[]string       `json:"suggestions"`
}

const (
	suggestionCount = 3
	evidenceCount   = 2
)

// ParseEnhancement validates raw model output against the variant's schema. Unknown keys,
// missing keys, wrong JSON types, wrong array lengths and out-of-domain enum values are
// rejected; numeric scores are rounded and clamped to [0,100].
func ParseEnhancement(variant SchemaVariant, raw string) (Enhancement, error) {
	switch variant {
	case SchemaDevotion:
		d, err := parseDevotion(raw)
		if err != nil {
			return Enhancement{}, err
		}
		return Enhancement{Variant: SchemaDevotion, Devotion: &d}, nil
	case SchemaEffort, "":
		r, err := parseEffort(raw)
		if err != nil {
			return Enhancement{}, err
		}
		return Enhancement{Variant: SchemaEffort, Effort: &r}, nil
	}
	return Enhancement{}, invalidInputf("ParseEnhancement: unknown schema %q", variant)
}

func parseEffort(raw string) (EffortResponse, error) {
	var w effortWire
	if err := fileutils.DecodeModelJSONStrict(raw, &w); err != nil {
		return EffortResponse{}, invalidResponsef("effort response: %v", err)
	}
	if w.Score == nil || w.Explanation == nil || w.EffortBalance == nil || w.Initiator == nil ||
		w.Trend == nil || w.BalanceMeter == nil || w.Suggestions == nil {
		return EffortResponse{}, invalidResponsef("effort response: missing required key")
	}
	if strings.TrimSpace(*w.Explanation) == "" {
		return EffortResponse{}, invalidResponsef("effort response: empty explanation")
	}
	suggestions, err := validSuggestions(*w.Suggestions)
	if err != nil {
		return EffortResponse{}, err
	}
	return EffortResponse{
		Score:         clampScore(*w.Score),
		Explanation:   strings.TrimSpace(*w.Explanation),
		EffortBalance: strings.TrimSpace(*w.EffortBalance),
		Initiator:     strings.TrimSpace(*w.Initiator),
		Trend:         strings.TrimSpace(*w.Trend),
		BalanceMeter:  clampScore(*w.BalanceMeter),
		Suggestions:   suggestions,
	}, nil
}

func parseDevotion(raw string) (DevotionResponse, error) {
	var w devotionWire
	if err := fileutils.DecodeModelJSONStrict(raw, &w); err != nil {
		return DevotionResponse{}, invalidResponsef("devotion response: %v", err)
	}
	if w.WhoLovesMore == nil || w.Confidence == nil || w.Scores == nil || w.Scores.A == nil ||
		w.Scores.B == nil || w.Summary == nil || w.TopEvidence == nil || w.Suggestions == nil {
		return DevotionResponse{}, invalidResponsef("devotion response: missing required key")
	}

	verdict := strings.TrimSpace(*w.WhoLovesMore)
	switch verdict {
	case "A", "B", "Balanced", "Unclear":
	default:
		return DevotionResponse{}, invalidResponsef("devotion response: who_loves_more %q", verdict)
	}
	if strings.TrimSpace(*w.Summary) == "" {
		return DevotionResponse{}, invalidResponsef("devotion response: empty summary")
	}

	if len(*w.TopEvidence) != evidenceCount {
		return DevotionResponse{}, invalidResponsef("devotion response: top_evidence has %d items, want %d", len(*w.TopEvidence), evidenceCount)
	}
	evidence := make([]Evidence, 0, evidenceCount)
	for i, ev := range *w.TopEvidence {
		if ev.Speaker == nil || ev.Source == nil || ev.Text == nil {
			return DevotionResponse{}, invalidResponsef("devotion response: top_evidence[%d] missing key", i)
		}
		speaker := strings.TrimSpace(*ev.Speaker)
		if speaker != string(SenderA) && speaker != string(SenderB) {
			return DevotionResponse{}, invalidResponsef("devotion response: top_evidence[%d].speaker %q", i, speaker)
		}
		evidence = append(evidence, Evidence{Speaker: speaker, Source: strings.TrimSpace(*ev.Source), Text: strings.TrimSpace(*ev.Text)})
	}

	suggestions, err := validSuggestions(*w.Suggestions)
	if err != nil {
		return DevotionResponse{}, err
	}
	return DevotionResponse{
		WhoLovesMore: verdict,
		Confidence:   clampScore(*w.Confidence),
		Scores:       PartnerScores{A: clampScore(*w.Scores.A), B: clampScore(*w.Scores.B)},
		Summary:      strings.TrimSpace(*w.Summary),
		TopEvidence:  evidence,
		Suggestions:  suggestions,
	}, nil
}

func validSuggestions(in []string) ([]string, error) {
	if len(in) != suggestionCount {
		return nil, invalidResponsef("suggestions has %d items, want %d", len(in), suggestionCount)
	}
	out := make([]string, 0, suggestionCount)
	for i, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, invalidResponsef("suggestions[%d] is empty", i)
		}
		out = append(out, s)
	}
	return out, nil
}

func clampScore(v float64) int {
	return int(clamp(float64(roundHalfUp(v)), 0, 100))
}

// FeatureKeys lists every key a features payload must carry.
var FeatureKeys = []string{
	"sentiment_polarity", "reciprocity", "length_balance", "reply_latency_score",
	"engagement_questions", "emoji_intimacy", "temporal_momentum", "photos_share",
	"style_match", "toxicity_hits", "window_days", "msg_count_A", "msg_count_B",
	"median_reply_minutes_AtoB", "median_reply_minutes_BtoA",
}

// ValidateFeatureKeys reports the first missing feature key.
func ValidateFeatureKeys(features map[string]json.RawMessage) error {
	for _, k := range FeatureKeys {
		if _, ok := features[k]; !ok {
			return invalidInputf("Missing required feature: %s", k)
		}
	}
	return nil
}

// EnhanceRequest is the body sent to the enhancement collaborator. The snippet must already
// be redacted.
type EnhanceRequest struct {
	Features        ConversationFeatures `json:"features"`
	RedactedSnippet string               `json:"redactedSnippet"`
}

// DecodeEnhanceRequest parses and validates an enhancement request body.
func DecodeEnhanceRequest(body []byte) (EnhanceRequest, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return EnhanceRequest{}, invalidInputf("Invalid request body")
	}
	rawFeatures, hasFeatures := envelope["features"]
	rawSnippet, hasSnippet := envelope["redactedSnippet"]
	if !hasFeatures || !hasSnippet || isJSONNull(rawFeatures) || isJSONNull(rawSnippet) {
		return EnhanceRequest{}, invalidInputf("Missing required fields: features and redactedSnippet")
	}

	var snippet string
	if err := json.Unmarshal(rawSnippet, &snippet); err != nil {
		return EnhanceRequest{}, invalidInputf("redactedSnippet must be a string")
	}
	if strings.TrimSpace(snippet) == "" {
		return EnhanceRequest{}, invalidInputf("Missing required fields: features and redactedSnippet")
	}

	var featureKeys map[string]json.RawMessage
	if err := json.Unmarshal(rawFeatures, &featureKeys); err != nil {
		return EnhanceRequest{}, invalidInputf("features must be an object")
	}
	if err := ValidateFeatureKeys(featureKeys); err != nil {
		return EnhanceRequest{}, err
	}
	var features ConversationFeatures
	if err := json.Unmarshal(rawFeatures, &features); err != nil {
		return EnhanceRequest{}, invalidInputf("features: %v", err)
	}
	return EnhanceRequest{Features: features, RedactedSnippet: snippet}, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
