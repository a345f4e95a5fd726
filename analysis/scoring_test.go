package analysis

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultLexicon().Scoring)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return s
}

func uniformFeatures(v float64) ConversationFeatures {
	return ConversationFeatures{
		SentimentPolarity:   v,
		Reciprocity:         v,
		LengthBalance:       v,
		ReplyLatencyScore:   v,
		EngagementQuestions: v,
		EmojiIntimacy:       v,
		TemporalMomentum:    v,
		PhotosShare:         v,
		StyleMatch:          v,
		WindowDays:          30,
		MsgCountA:           5,
		MsgCountB:           5,
	}
}

func TestScore_ExcellentConversation(t *testing.T) {
	t.Parallel()

	lex := DefaultLexicon()
	res := newTestScorer(t).Score(uniformFeatures(100), make([]Message, 4))
	if res.LocalScore != 100 || res.FinalScore != 100 {
		t.Fatalf("scores=%d/%d, want 100", res.LocalScore, res.FinalScore)
	}
	if res.MessageCount != 4 {
		t.Fatalf("MessageCount=%d", res.MessageCount)
	}
	want := "Your conversation shows excellent relationship dynamics with strong positive sentiment & warmth."
	if res.Explanation != want {
		t.Fatalf("Explanation=%q", res.Explanation)
	}
	wantSuggestions := []string{lex.Scoring.Padding[0], lex.Scoring.Padding[1], lex.Scoring.General.High}
	if !reflect.DeepEqual(res.Suggestions, wantSuggestions) {
		t.Fatalf("Suggestions=%q", res.Suggestions)
	}
	if res.Contributions[0].Feature != "sentiment_polarity" || res.Contributions[0].Contribution != 25 {
		t.Fatalf("top contribution=%+v", res.Contributions[0])
	}
	if res.Contributions[1].Feature != "reciprocity" || res.Contributions[2].Feature != "reply_latency_score" {
		t.Fatalf("ties must keep table order: %+v", res.Contributions[:3])
	}
}

func TestScore_AffectionateExchangeIsHealthyOrBetter(t *testing.T) {
	t.Parallel()

	msgs := NewParser().Parse("A: I love you so much!\nB: love you more babe ❤️")
	f := newTestExtractor(t).Extract(msgs, 0)
	res := newTestScorer(t).Score(f, msgs)

	if res.LocalScore < 70 {
		t.Fatalf("LocalScore=%d, want >= 70", res.LocalScore)
	}
	if !strings.Contains(res.Explanation, "healthy") && !strings.Contains(res.Explanation, "excellent") {
		t.Fatalf("Explanation=%q", res.Explanation)
	}
	if res.MessageCount != 2 || len(res.Suggestions) != 3 {
		t.Fatalf("result=%+v", res)
	}
}

func TestScore_ContributionsSortedAndSumToDeviation(t *testing.T) {
	t.Parallel()

	s := newTestScorer(t)
	cases := []ConversationFeatures{
		uniformFeatures(0),
		uniformFeatures(100),
		uniformFeatures(50),
		{SentimentPolarity: 88, Reciprocity: 20, LengthBalance: 64, ReplyLatencyScore: 70, EngagementQuestions: 12,
			EmojiIntimacy: 91, TemporalMomentum: 43, PhotosShare: 0, StyleMatch: 77},
		{SentimentPolarity: 13, Reciprocity: 99, LengthBalance: 51, ReplyLatencyScore: 40, EngagementQuestions: 100,
			EmojiIntimacy: 30, TemporalMomentum: 75, PhotosShare: 100, StyleMatch: 5},
	}
	for i, f := range cases {
		res := s.Score(f, nil)
		if len(res.Contributions) != 9 {
			t.Fatalf("case %d: %d contributions", i, len(res.Contributions))
		}
		sum := 0
		for j, c := range res.Contributions {
			sum += c.Contribution
			if j > 0 && absInt(c.Contribution) > absInt(res.Contributions[j-1].Contribution) {
				t.Fatalf("case %d: contributions not sorted: %+v", i, res.Contributions)
			}
		}
		if diff := absInt(sum - 2*(res.LocalScore-50)); diff > 6 {
			t.Fatalf("case %d: sum=%d local=%d", i, sum, res.LocalScore)
		}
		if len(res.Suggestions) != 3 {
			t.Fatalf("case %d: suggestions=%q", i, res.Suggestions)
		}
	}
}

func TestScore_ToxicityCaps(t *testing.T) {
	t.Parallel()

	s := newTestScorer(t)
	cases := []struct {
		hits, want int
	}{
		{0, 100}, {1, 100}, {2, 75}, {3, 75}, {4, 60}, {10, 60},
	}
	prev := 101
	for _, tc := range cases {
		f := uniformFeatures(100)
		f.ToxicityHits = tc.hits
		res := s.Score(f, nil)
		if res.LocalScore != tc.want {
			t.Fatalf("hits=%d LocalScore=%d, want %d", tc.hits, res.LocalScore, tc.want)
		}
		if res.LocalScore > prev {
			t.Fatalf("score increased with more toxicity: hits=%d", tc.hits)
		}
		prev = res.LocalScore
		if res.Suggestions[2] != DefaultLexicon().Scoring.General.High {
			t.Fatalf("general suggestion should use the uncapped score")
		}
	}
}

func TestScore_ReciprocitySuggestionNamesQuieterSide(t *testing.T) {
	t.Parallel()

	s := newTestScorer(t)
	f := uniformFeatures(50)
	f.Reciprocity = 0
	f.MsgCountA, f.MsgCountB = 10, 0

	res := s.Score(f, nil)
	want := "Your conversation shows challenging relationship dynamics though balanced conversation frequency could improve."
	if res.Explanation != want {
		t.Fatalf("Explanation=%q", res.Explanation)
	}
	if res.Suggestions[0] != "Encourage your partner to share more in conversations" {
		t.Fatalf("Suggestions[0]=%q", res.Suggestions[0])
	}

	f.MsgCountA, f.MsgCountB = 0, 10
	res = s.Score(f, nil)
	if res.Suggestions[0] != "Encourage yourself to share more in conversations" {
		t.Fatalf("Suggestions[0]=%q", res.Suggestions[0])
	}
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	s := newTestScorer(t)
	f := ConversationFeatures{SentimentPolarity: 61, Reciprocity: 33, ReplyLatencyScore: 85, StyleMatch: 70, ToxicityHits: 2}
	a, b := s.Score(f, nil), s.Score(f, nil)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("non-deterministic:\n%+v\n%+v", a, b)
	}
}

func TestBlend_Effort(t *testing.T) {
	t.Parallel()

	local := AnalysisResult{LocalScore: 60, FinalScore: 60, Explanation: "local", Suggestions: []string{"x", "y", "z"}}
	enh := Enhancement{Variant: SchemaEffort, Effort: &EffortResponse{
		Score: 90, Explanation: "model", EffortBalance: "even", Initiator: "You", Trend: "stable",
		BalanceMeter: 55, Suggestions: []string{"a", "b", "c"},
	}}
	out, err := Blend(local, enh)
	if err != nil {
		t.Fatalf("Blend: %v", err)
	}
	if out.FinalScore != 72 || out.LocalScore != 60 {
		t.Fatalf("final=%d local=%d, want 72/60", out.FinalScore, out.LocalScore)
	}
	if out.LLMScore == nil || *out.LLMScore != 90 {
		t.Fatalf("LLMScore=%v", out.LLMScore)
	}
	if out.Explanation != "model" || out.Suggestions[0] != "a" || out.BalanceMeter == nil || *out.BalanceMeter != 55 {
		t.Fatalf("out=%+v", out)
	}
	if local.Explanation != "local" || local.LLMScore != nil {
		t.Fatalf("input mutated: %+v", local)
	}
}

func TestBlend_Devotion(t *testing.T) {
	t.Parallel()

	enh := Enhancement{Variant: SchemaDevotion, Devotion: &DevotionResponse{
		WhoLovesMore: "A", Confidence: 64, Scores: PartnerScores{A: 80, B: 61}, Summary: "A leans in more.",
		TopEvidence: []Evidence{{Speaker: "A", Source: "snippet", Text: "miss you"}, {Speaker: "B", Source: "features", Text: "slower replies"}},
		Suggestions: []string{"a", "b", "c"},
	}}
	out, err := Blend(AnalysisResult{LocalScore: 50}, enh)
	if err != nil {
		t.Fatalf("Blend: %v", err)
	}
	if *out.LLMScore != 71 || out.FinalScore != 58 {
		t.Fatalf("llm=%d final=%d, want 71/58", *out.LLMScore, out.FinalScore)
	}
	if out.WhoLovesMore != "A" || out.Explanation != "A leans in more." || len(out.TopEvidence) != 2 {
		t.Fatalf("out=%+v", out)
	}
}

func TestBlend_EmptyEnhancement(t *testing.T) {
	t.Parallel()

	_, err := Blend(AnalysisResult{LocalScore: 50}, Enhancement{Variant: SchemaDevotion})
	if !errors.Is(err, ErrInvalidAIResponse) {
		t.Fatalf("err=%v, want ErrInvalidAIResponse", err)
	}
}

func TestRoundHalfUp(t *testing.T) {
	t.Parallel()

	for in, want := range map[float64]int{0.5: 1, 1.49: 1, 2.5: 3, -0.5: 0, 70.5: 71} {
		if got := roundHalfUp(in); got != want {
			t.Fatalf("roundHalfUp(%v)=%d, want %d", in, got, want)
		}
	}
}
