package analysis

import (
	"regexp"
	"strings"
)

// TextSignal is the lexical reading of one message.
type TextSignal struct {
	Words    int
	Positive int
	Negative int
	Toxic    int
}

// TextSignaler scores a message's text. The extractor only depends on this interface so the
// word-list heuristic can be swapped for a richer classifier.
type TextSignaler interface {
	Signal(text string) TextSignal
}

// WordListSignaler counts words containing a positive or negative stem and toxic phrase matches.
type WordListSignaler struct {
	positive []string
	negative []string
	toxic    []*regexp.Regexp
}

// NewWordListSignaler compiles the lexicon's lists. Toxic patterns match case-insensitively.
func NewWordListSignaler(lex *Lexicon) (*WordListSignaler, error) {
	s := &WordListSignaler{
		positive: lowerAll(lex.PositiveWords),
		negative: lowerAll(lex.NegativeWords),
	}
	for _, p := range lex.ToxicPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, invalidInputf("NewWordListSignaler: pattern %q: %v", p, err)
		}
		s.toxic = append(s.toxic, re)
	}
	return s, nil
}

func (s *WordListSignaler) Signal(text string) TextSignal {
	words := whitespaceRun.Split(strings.ToLower(text), -1)
	sig := TextSignal{Words: len(words)}
	for _, w := range words {
		if containsAny(w, s.positive) {
			sig.Positive++
		}
		if containsAny(w, s.negative) {
			sig.Negative++
		}
	}
	for _, re := range s.toxic {
		sig.Toxic += len(re.FindAllStringIndex(text, -1))
	}
	return sig
}

func containsAny(word string, stems []string) bool {
	for _, stem := range stems {
		if strings.Contains(word, stem) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = lower(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
