package analysis

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultWindowDays is the analysis window used when the caller does not pick one.
const DefaultWindowDays = 30

// Extractor computes ConversationFeatures from parsed messages. It holds only immutable
// configuration and is safe for concurrent use.
type Extractor struct {
	signaler TextSignaler
	intimate map[string]bool
	casual   map[string]bool
	now      func() time.Time
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExtractorClock sets the clock used for time-window filtering.
func WithExtractorClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSignaler replaces the lexicon word-list signaler.
func WithSignaler(s TextSignaler) ExtractorOption {
	return func(e *Extractor) {
		if s != nil {
			e.signaler = s
		}
	}
}

func NewExtractor(lex *Lexicon, opts ...ExtractorOption) (*Extractor, error) {
	if lex == nil {
		lex = DefaultLexicon()
	}
	e := &Extractor{
		intimate: emojiSet(lex.IntimateEmojis),
		casual:   emojiSet(lex.CasualEmojis),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.signaler == nil {
		s, err := NewWordListSignaler(lex)
		if err != nil {
			return nil, err
		}
		e.signaler = s
	}
	return e, nil
}

// Extract computes all 15 features over messages inside the last windowDays days.
// windowDays <= 0 uses DefaultWindowDays. Empty input yields neutral values.
func (e *Extractor) Extract(messages []Message, windowDays int) ConversationFeatures {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	now := e.now()

	inWindow := windowMask(messages, windowDays, now)
	var all, byA, byB []Message
	for i, m := range messages {
		if !inWindow[i] {
			continue
		}
		all = append(all, m)
		if m.Sender == SenderA {
			byA = append(byA, m)
		} else if m.Sender == SenderB {
			byB = append(byB, m)
		}
	}

	signals := make([]TextSignal, len(all))
	for i, m := range all {
		signals[i] = e.signaler.Signal(m.Text)
	}

	return ConversationFeatures{
		SentimentPolarity:    e.sentiment(all, signals),
		Reciprocity:          reciprocity(len(byA), len(byB)),
		LengthBalance:        lengthBalance(byA, byB),
		ReplyLatencyScore:    replyLatencyScore(all),
		EngagementQuestions:  engagement(byA, byB),
		EmojiIntimacy:        e.emojiIntimacy(all),
		TemporalMomentum:     temporalMomentum(messages, windowDays, now),
		PhotosShare:          photosShare(all),
		StyleMatch:           styleMatch(byA, byB),
		ToxicityHits:         toxicityHits(signals),
		WindowDays:           windowDays,
		MsgCountA:            len(byA),
		MsgCountB:            len(byB),
		MedianReplyMinutesAB: medianReply(all, SenderA, SenderB),
		MedianReplyMinutesBA: medianReply(all, SenderB, SenderA),
	}
}

// windowMask marks messages inside the window. Without any timestamps every message is kept;
// otherwise undated messages are kept alongside those at or after the cutoff.
func windowMask(messages []Message, windowDays int, now time.Time) []bool {
	keep := make([]bool, len(messages))
	dated := false
	for _, m := range messages {
		if m.Timestamp != nil {
			dated = true
			break
		}
	}
	cutoff := now.AddDate(0, 0, -windowDays)
	for i, m := range messages {
		keep[i] = !dated || m.Timestamp == nil || !m.Timestamp.Before(cutoff)
	}
	return keep
}

func (e *Extractor) sentiment(messages []Message, signals []TextSignal) float64 {
	positive, negative, words := 0, 0, 0
	for i, m := range messages {
		sig := signals[i]
		words += sig.Words
		positive += sig.Positive
		negative += sig.Negative
		for _, emoji := range m.Emojis {
			k := emojiKey(emoji)
			if e.intimate[k] || e.casual[k] {
				positive++
			}
		}
	}
	polarity := (float64(positive) - 0.8*float64(negative)) / math.Max(1, float64(words)/50)
	return clamp(50+polarity*25, 0, 100)
}

func reciprocity(countA, countB int) float64 {
	if countA == 0 && countB == 0 {
		return 50
	}
	lo, hi := countA, countB
	if lo > hi {
		lo, hi = hi, lo
	}
	return float64(lo) / float64(hi) * 100
}

func lengthBalance(byA, byB []Message) float64 {
	lenA, lenB := totalLength(byA), totalLength(byB)
	if lenA == 0 && lenB == 0 {
		return 50
	}
	return (1 - math.Abs(lenA-lenB)/(lenA+lenB)) * 100
}

func totalLength(messages []Message) float64 {
	n := 0
	for _, m := range messages {
		n += utf8.RuneCountInString(m.Text)
	}
	return float64(n)
}

// replyDeltas collects positive gaps under 24h between consecutive messages whose
// senders satisfy match.
func replyDeltas(messages []Message, match func(prev, cur Sender) bool) []float64 {
	var deltas []float64
	for i := 1; i < len(messages); i++ {
		prev, cur := messages[i-1], messages[i]
		if !match(prev.Sender, cur.Sender) || prev.Timestamp == nil || cur.Timestamp == nil {
			continue
		}
		minutes := cur.Timestamp.Sub(*prev.Timestamp).Minutes()
		if minutes > 0 && minutes < 1440 {
			deltas = append(deltas, minutes)
		}
	}
	return deltas
}

func replyLatencyScore(messages []Message) float64 {
	deltas := replyDeltas(messages, func(prev, cur Sender) bool { return prev != cur })
	if len(deltas) == 0 {
		return 75
	}
	switch med := median(deltas); {
	case med < 15:
		return 95
	case med < 60:
		return 85
	case med < 360:
		return 70
	default:
		return 40
	}
}

func medianReply(messages []Message, from, to Sender) float64 {
	deltas := replyDeltas(messages, func(prev, cur Sender) bool { return prev == from && cur == to })
	if len(deltas) == 0 {
		return 0
	}
	return median(deltas)
}

func engagement(byA, byB []Message) float64 {
	densA, densB := questionDensity(byA), questionDensity(byB)
	avg := (densA + densB) / 2
	balance := math.Min(densA, densB) / math.Max(orFloor(densA, 0.01), orFloor(densB, 0.01))
	return math.Min(100, avg*200+balance*50)
}

func questionDensity(messages []Message) float64 {
	if len(messages) == 0 {
		return 0
	}
	q := 0
	for _, m := range messages {
		if strings.Contains(m.Text, "?") {
			q++
		}
	}
	return float64(q) / float64(len(messages))
}

// orFloor substitutes floor for an exact zero.
func orFloor(v, floor float64) float64 {
	if v == 0 {
		return floor
	}
	return v
}

func (e *Extractor) emojiIntimacy(messages []Message) float64 {
	intimate, total := 0, 0
	for _, m := range messages {
		total += len(m.Emojis)
		for _, emoji := range m.Emojis {
			if e.intimate[emojiKey(emoji)] {
				intimate++
			}
		}
	}
	if total == 0 {
		return 30
	}
	ratio := float64(intimate) / float64(total)
	frequency := math.Min(float64(total)/math.Max(1, float64(len(messages))), 1) * 30
	return math.Min(100, ratio*70+frequency)
}

// temporalMomentum compares message frequency in the recent half-window with the half before it.
// It works on the unfiltered sequence.
func temporalMomentum(messages []Message, windowDays int, now time.Time) float64 {
	if windowDays < 14 {
		return 50
	}
	half := windowDays / 2
	recentMask := windowMask(messages, half, now)
	fullMask := windowMask(messages, windowDays, now)

	recent, previous := 0, 0
	for i := range messages {
		switch {
		case recentMask[i]:
			recent++
		case fullMask[i]:
			previous++
		}
	}

	freqRecent := float64(recent) / float64(half)
	freqPrevious := float64(previous) / float64(half)
	if freqPrevious == 0 {
		if freqRecent > 0 {
			return 75
		}
		return 50
	}
	return 50 + 50*math.Tanh((freqRecent-freqPrevious)/freqPrevious)
}

func photosShare(messages []Message) float64 {
	photos := 0
	for _, m := range messages {
		if m.HasPhoto {
			photos++
		}
	}
	return math.Min(100, float64(photos)/math.Max(1, float64(len(messages)))*500)
}

func styleMatch(byA, byB []Message) float64 {
	avgLenA := totalLength(byA) / math.Max(1, float64(len(byA)))
	avgLenB := totalLength(byB) / math.Max(1, float64(len(byB)))
	lengthSimilarity := 1 - math.Abs(avgLenA-avgLenB)/math.Max(math.Max(avgLenA, avgLenB), 1)

	rateA := emojiCount(byA) / math.Max(1, float64(len(byA)))
	rateB := emojiCount(byB) / math.Max(1, float64(len(byB)))
	emojiSimilarity := 1 - math.Abs(rateA-rateB)/math.Max(math.Max(rateA, rateB), 0.1)

	return lengthSimilarity*60 + emojiSimilarity*40
}

func emojiCount(messages []Message) float64 {
	n := 0
	for _, m := range messages {
		n += len(m.Emojis)
	}
	return float64(n)
}

func toxicityHits(signals []TextSignal) int {
	n := 0
	for _, s := range signals {
		n += s.Toxic
	}
	return n
}

// median of a non-empty slice; even lengths average the two middle values.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
