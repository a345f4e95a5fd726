package analysis

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexiconYAML []byte

// Lexicon holds the word lists, emoji sets and scoring tables that drive the local analysis.
// A Lexicon is treated as immutable once loaded.
type Lexicon struct {
	PositiveWords  []string     `yaml:"positive_words"`
	NegativeWords  []string     `yaml:"negative_words"`
	IntimateEmojis []string     `yaml:"intimate_emojis"`
	CasualEmojis   []string     `yaml:"casual_emojis"`
	ToxicPatterns  []string     `yaml:"toxic_patterns"`
	Scoring        ScoringTable `yaml:"scoring"`
}

// ScoringTable is the weight, label and suggestion-template table used by the Scorer.
// Weights are kept in order; ties in contribution magnitude keep this order.
type ScoringTable struct {
	Weights  []FeatureWeight    `yaml:"weights"`
	General  GeneralSuggestions `yaml:"general"`
	Padding  []string           `yaml:"padding"`
	Fallback string             `yaml:"fallback"`
}

// FeatureWeight describes one weighted feature. Suggestion may contain the {side}
// placeholder, which is replaced with the under-contributing party.
type FeatureWeight struct {
	Feature    string  `yaml:"feature"`
	Weight     float64 `yaml:"weight"`
	Label      string  `yaml:"label"`
	Suggestion string  `yaml:"suggestion"`
}

// GeneralSuggestions are keyed by local score band (>=80, >=60, below).
type GeneralSuggestions struct {
	High string `yaml:"high"`
	Mid  string `yaml:"mid"`
	Low  string `yaml:"low"`
}

// DefaultLexicon returns the embedded lexicon. It panics if the embedded file is malformed.
func DefaultLexicon() *Lexicon {
	lex, err := ParseLexicon(defaultLexiconYAML)
	if err != nil {
		panic(fmt.Errorf("DefaultLexicon: %w", err))
	}
	return lex
}

// DefaultScoringTable is the weight and suggestion table of the embedded lexicon.
func DefaultScoringTable() ScoringTable {
	return DefaultLexicon().Scoring
}

// LoadLexicon reads a lexicon override from disk. An empty path yields the embedded default.
func LoadLexicon(path string) (*Lexicon, error) {
	if path == "" {
		return DefaultLexicon(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadLexicon: read %s: %w", path, err)
	}
	lex, err := ParseLexicon(data)
	if err != nil {
		return nil, fmt.Errorf("LoadLexicon: %s: %w", path, err)
	}
	return lex, nil
}

// ParseLexicon decodes and validates a YAML lexicon document.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon yaml: %w", err)
	}
	if err := lex.Validate(); err != nil {
		return nil, err
	}
	return &lex, nil
}

// Validate checks the lexicon is usable by the extractor and scorer.
func (l *Lexicon) Validate() error {
	if len(l.PositiveWords) == 0 || len(l.NegativeWords) == 0 {
		return invalidInputf("lexicon: word lists must be non-empty")
	}
	for _, p := range l.ToxicPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return invalidInputf("lexicon: toxic pattern %q: %v", p, err)
		}
	}
	return l.Scoring.Validate()
}

// Validate checks every weighted feature is known and the weights sum to 1.
func (t ScoringTable) Validate() error {
	if len(t.Weights) == 0 {
		return invalidInputf("scoring table: no weights")
	}
	seen := make(map[string]bool, len(t.Weights))
	sum := 0.0
	for _, w := range t.Weights {
		if _, ok := (ConversationFeatures{}).Value(w.Feature); !ok {
			return invalidInputf("scoring table: unknown feature %q", w.Feature)
		}
		if seen[w.Feature] {
			return invalidInputf("scoring table: duplicate feature %q", w.Feature)
		}
		if w.Weight < 0 {
			return invalidInputf("scoring table: negative weight for %q", w.Feature)
		}
		seen[w.Feature] = true
		sum += w.Weight
	}
	if math.Abs(sum-1) > 1e-6 {
		return invalidInputf("scoring table: weights sum to %.4f, want 1", sum)
	}
	if strings.TrimSpace(t.General.High) == "" || strings.TrimSpace(t.General.Mid) == "" || strings.TrimSpace(t.General.Low) == "" {
		return invalidInputf("scoring table: general suggestions must be set")
	}
	if strings.TrimSpace(t.Fallback) == "" {
		return invalidInputf("scoring table: fallback suggestion must be set")
	}
	return nil
}

// weight looks up a feature's entry.
func (t ScoringTable) weight(feature string) (FeatureWeight, bool) {
	for _, w := range t.Weights {
		if w.Feature == feature {
			return w, true
		}
	}
	return FeatureWeight{}, false
}

// emojiKey strips variation selectors so "❤️" and "❤" compare equal.
func emojiKey(s string) string {
	return strings.ReplaceAll(s, "\uFE0F", "")
}

func emojiSet(list []string) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, e := range list {
		out[emojiKey(e)] = true
	}
	return out
}
