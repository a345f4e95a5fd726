package provider

import (
	"fmt"
	"strings"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
)

const effortSystemPrompt = `You are a careful, privacy-respecting relationship analyst. You receive:
(1) An anonymized, partially redacted snippet of a two-person chat.
(2) A set of precomputed numeric features describing the conversation.

Your tasks:
- Produce a single 0-100 "relationship vibe score" labeled score.
- Provide a concise, neutral explanation (max 2 sentences).
- Write a short neutral statement about effort balance from the user's perspective.
- Determine who typically initiates conversations.
- Describe the effort trend over time for both sides.
- Provide exactly three concrete suggestions that improve communication in this specific context.

Rules:
- Use the numeric features as primary signals; use the text snippet for nuance.
- Do not guess identities or private details. Never include PII.
- If evidence is mixed, be balanced: not harsh, not sugarcoated.
- Reflect reciprocity, reply latency, warmth, conflict presence and momentum.
- For effort balance, use "You" for person A and "Your partner" for person B, e.g.
  "You show more effort in keeping the conversation balanced." or
  "Both you and your partner show balanced effort."
- For trends, say whether effort is "increasing", "stable" or "declining" for each person.
- If toxicity is detected, note responsibility carefully: "Most sharp tones appear in your messages"
  or "your partner's messages".
- balance_meter is 0-100 where 50 means even effort, lower leans toward You, higher toward Your partner.

Return strict JSON with keys: score (integer 0-100), explanation (string), effort_balance (string),
initiator (string), trend (string), balance_meter (integer 0-100), suggestions (array of exactly 3
short strings). No extra keys, no prose outside JSON.`

const devotionSystemPrompt = `You are a careful, privacy-respecting relationship analyst. You receive:
(1) An anonymized, partially redacted snippet of a two-person chat between A and B.
(2) A set of precomputed numeric features describing the conversation.

Your tasks:
- Decide who shows more love and effort: "A", "B", "Balanced", or "Unclear" when the evidence is thin.
- Give your confidence in that verdict (integer 0-100).
- Score each side's affection and effort separately (integers 0-100).
- Write a concise, neutral summary (max 2 sentences).
- Cite exactly two short pieces of evidence, each naming the speaker (A or B) and its source
  ("snippet" for a redacted quote, "features" for a numeric signal).
- Provide exactly three concrete suggestions that improve communication in this specific context.

Rules:
- Use the numeric features as primary signals; use the text snippet for nuance.
- Do not guess identities or private details. Never include PII or restore redacted placeholders.
- If evidence is mixed, prefer "Balanced" or "Unclear" over a forced verdict.
- Calibrate scores such that 50 = neutral, 70 = healthy, 85+ = excellent.

Return strict JSON with keys: who_loves_more, confidence, scores {A, B}, summary,
top_evidence (array of exactly 2 objects with speaker, source, text), suggestions (array of exactly
3 short strings). No extra keys, no prose outside JSON.`

// SystemPrompt returns the instructions for the schema variant.
func SystemPrompt(variant analysis.SchemaVariant) string {
	if variant == analysis.SchemaDevotion {
		return devotionSystemPrompt
	}
	return effortSystemPrompt
}

// BuildUserPrompt renders the redacted snippet and the feature record for the model.
func BuildUserPrompt(req analysis.EnhanceRequest) string {
	f := req.Features
	var b strings.Builder
	b.WriteString("Conversation (redacted snippet, most recent messages, up to ~80 lines):\n")
	b.WriteString(strings.TrimSpace(req.RedactedSnippet))
	b.WriteString("\n\nNumeric features (0-100 scale unless noted):\n{\n")

	rows := []struct {
		key   string
		value any
	}{
		{"sentiment_polarity", f.SentimentPolarity},
		{"reciprocity", f.Reciprocity},
		{"length_balance", f.LengthBalance},
		{"reply_latency_score", f.ReplyLatencyScore},
		{"engagement_questions", f.EngagementQuestions},
		{"emoji_intimacy", f.EmojiIntimacy},
		{"temporal_momentum", f.TemporalMomentum},
		{"photos_share", f.PhotosShare},
		{"style_match", f.StyleMatch},
		{"toxicity_hits", f.ToxicityHits},
		{"window_days", f.WindowDays},
		{"msg_count_A", f.MsgCountA},
		{"msg_count_B", f.MsgCountB},
		{"median_reply_minutes_AtoB", f.MedianReplyMinutesAB},
		{"median_reply_minutes_BtoA", f.MedianReplyMinutesBA},
	}
	for i, r := range rows {
		sep := ","
		if i == len(rows)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "  %q: %s%s\n", r.key, formatFeature(r.value), sep)
	}
	b.WriteString("}\n\nConstraints:\n")
	b.WriteString("- If toxicity_hits is high, reflect that carefully in the explanation and score.\n")
	b.WriteString("- Prefer to calibrate scores such that 50 = neutral, 70 = healthy, 85+ = excellent.")
	return b.String()
}

func formatFeature(v any) string {
	switch x := v.(type) {
	case float64:
		return fmt.Sprintf("%.2f", x)
	default:
		return fmt.Sprint(x)
	}
}
