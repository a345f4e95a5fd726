package analysis

import (
	"math"
	"sort"
	"strings"
)

// Toxicity caps applied to the local score.
const (
	severeToxicityHits   = 3
	severeToxicityCap    = 60
	moderateToxicityHits = 1
	moderateToxicityCap  = 75
)

// Blend weights for the local and model scores.
const (
	localBlendWeight = 0.6
	modelBlendWeight = 0.4
)

// Scorer turns features into a score, ranked contributions and templated insights.
// It is deterministic and safe for concurrent use.
type Scorer struct {
	table ScoringTable
}

// NewScorer validates and captures the scoring table.
func NewScorer(table ScoringTable) (*Scorer, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{table: table}, nil
}

// Score computes the local analysis result. The returned LocalScore and FinalScore are the
// weighted score after the toxicity cap; the explanation band and general suggestion use the
// score before the cap.
func (s *Scorer) Score(f ConversationFeatures, messages []Message) AnalysisResult {
	weighted := s.weightedScore(f)
	contributions := s.contributions(f)

	top := contributions
	if len(top) > 3 {
		top = top[:3]
	}
	var positive, negative []FeatureContribution
	for _, c := range top {
		switch {
		case c.Contribution > 0:
			positive = append(positive, c)
		case c.Contribution < 0:
			negative = append(negative, c)
		}
	}

	capped := applyToxicityCap(weighted, f.ToxicityHits)
	return AnalysisResult{
		LocalScore:    capped,
		FinalScore:    capped,
		Features:      f,
		Contributions: contributions,
		Explanation:   explanation(weighted, positive, negative),
		Suggestions:   s.suggestions(weighted, f, negative),
		MessageCount:  len(messages),
	}
}

func (s *Scorer) weightedScore(f ConversationFeatures) int {
	sum, total := 0.0, 0.0
	for _, w := range s.table.Weights {
		v, _ := f.Value(w.Feature)
		sum += v * w.Weight
		total += w.Weight
	}
	if total == 0 {
		return 50
	}
	return roundHalfUp(sum / total)
}

// contributions are sorted by descending magnitude; ties keep table order.
func (s *Scorer) contributions(f ConversationFeatures) []FeatureContribution {
	out := make([]FeatureContribution, 0, len(s.table.Weights))
	for _, w := range s.table.Weights {
		v, _ := f.Value(w.Feature)
		out = append(out, FeatureContribution{
			Feature:      w.Feature,
			Contribution: roundHalfUp(w.Weight * (v - 50) * 2),
			Label:        w.Label,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return absInt(out[i].Contribution) > absInt(out[j].Contribution)
	})
	return out
}

func applyToxicityCap(score, hits int) int {
	switch {
	case hits > severeToxicityHits:
		return min(score, severeToxicityCap)
	case hits > moderateToxicityHits:
		return min(score, moderateToxicityCap)
	}
	return score
}

func scoreLevel(score int) string {
	switch {
	case score >= 85:
		return "excellent"
	case score >= 70:
		return "healthy"
	case score >= 50:
		return "neutral"
	}
	return "challenging"
}

func explanation(score int, positive, negative []FeatureContribution) string {
	parts := []string{"Your conversation shows " + scoreLevel(score) + " relationship dynamics"}
	if len(positive) > 0 {
		parts = append(parts, "with strong "+strings.ToLower(positive[0].Label))
	}
	if len(negative) > 0 {
		parts = append(parts, "though "+strings.ToLower(negative[0].Label)+" could improve")
	}
	return strings.Join(parts, " ") + "."
}

// suggestions always returns three entries: up to two feature-specific tips, padding, then the
// general suggestion for the score band.
func (s *Scorer) suggestions(score int, f ConversationFeatures, negative []FeatureContribution) []string {
	out := make([]string, 0, 3)
	for _, c := range negative {
		if len(out) == 2 {
			break
		}
		out = append(out, s.suggestionFor(c.Feature, f))
	}
	for i := 0; len(out) < 2; i++ {
		if i < len(s.table.Padding) {
			out = append(out, s.table.Padding[i])
		} else {
			out = append(out, s.table.Fallback)
		}
	}

	switch {
	case score >= 80:
		out = append(out, s.table.General.High)
	case score >= 60:
		out = append(out, s.table.General.Mid)
	default:
		out = append(out, s.table.General.Low)
	}
	return out
}

func (s *Scorer) suggestionFor(feature string, f ConversationFeatures) string {
	w, ok := s.table.weight(feature)
	if !ok || strings.TrimSpace(w.Suggestion) == "" {
		return s.table.Fallback
	}
	side := "your partner"
	if f.MsgCountA < f.MsgCountB {
		side = "yourself"
	}
	return strings.ReplaceAll(w.Suggestion, "{side}", side)
}

// Blend folds a validated model enhancement into a local result: the final score is
// 60% local and 40% model, and the model's narrative replaces the templated one.
func Blend(result AnalysisResult, e Enhancement) (AnalysisResult, error) {
	llm, err := e.Score()
	if err != nil {
		return result, err
	}
	out := result
	out.LLMScore = &llm
	out.FinalScore = roundHalfUp(float64(result.LocalScore)*localBlendWeight + float64(llm)*modelBlendWeight)

	switch e.Variant {
	case SchemaDevotion:
		d := e.Devotion
		out.Explanation = d.Summary
		out.Suggestions = append([]string(nil), d.Suggestions...)
		out.WhoLovesMore = d.WhoLovesMore
		confidence := d.Confidence
		out.Confidence = &confidence
		scores := d.Scores
		out.Scores = &scores
		out.TopEvidence = append([]Evidence(nil), d.TopEvidence...)
	default:
		r := e.Effort
		out.Explanation = r.Explanation
		out.Suggestions = append([]string(nil), r.Suggestions...)
		out.EffortBalance = r.EffortBalance
		out.Initiator = r.Initiator
		out.Trend = r.Trend
		meter := r.BalanceMeter
		out.BalanceMeter = &meter
	}
	return out, nil
}

// roundHalfUp rounds .5 toward positive infinity.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
