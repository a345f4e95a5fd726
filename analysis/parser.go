package analysis

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Format is the detected layout of raw chat text.
type Format string

const (
	// FormatStructured is screenshot-style text with timestamps and delivery markers.
	FormatStructured Format = "structured"
	// FormatGeneric is "name: message" lines.
	FormatGeneric Format = "generic"
)

var (
	formatHints = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\d{1,2}:\d{2}\s*(AM|PM)`),
		regexp.MustCompile(`(?i)today|yesterday`),
		regexp.MustCompile(`(?i)delivered|read`),
	}

	statusLineRe   = regexp.MustCompile(`(?i)^(delivered|read|typing)`)
	clockTimeRe    = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(AM|PM)`)
	leadingNonWord = regexp.MustCompile(`^\W+`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	uiNoiseRe      = regexp.MustCompile(`(?i)^(Message|iMessage|Text Message)$`)
	namedLineRe    = regexp.MustCompile(`^([^:]+):\s*(.+)$`)

	photoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\[?image\]?`),
		regexp.MustCompile(`(?i)\[?photo\]?`),
		regexp.MustCompile(`(?i)\[?picture\]?`),
		regexp.MustCompile(`📷|📸|🖼`),
		regexp.MustCompile(`(?i)sent an image`),
		regexp.MustCompile(`(?i)shared a photo`),
	}
)

var selfReferences = map[string]bool{"you": true, "me": true, "myself": true, "i": true}

// dateWords may surround the clock time on a timestamp header line.
var dateWords = map[string]bool{
	"today": true, "yesterday": true, "at": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true, "saturday": true, "sunday": true,
	"mon": true, "tue": true, "tues": true, "wed": true, "thu": true, "thur": true, "thurs": true, "fri": true, "sat": true, "sun": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "may": true, "jun": true, "jul": true, "aug": true, "sep": true, "sept": true, "oct": true, "nov": true, "dec": true,
	"january": true, "february": true, "march": true, "april": true, "june": true, "july": true, "august": true, "september": true, "october": true, "november": true, "december": true,
}

// SenderClassifier attributes a structured-format message line to a side.
// prev is nil for the first message of a conversation.
type SenderClassifier interface {
	Classify(line string, prev *Sender, index int) Sender
}

// AlternatingClassifier starts with A and flips on every message. Screenshot text has
// no reliable speaker cues, so this is a best-effort default.
type AlternatingClassifier struct{}

func (AlternatingClassifier) Classify(_ string, prev *Sender, index int) Sender {
	if index == 0 || prev == nil {
		return SenderA
	}
	return prev.Other()
}

// Parser turns raw chat text into attributed messages. It never fails: text it cannot
// structure still produces best-effort messages.
type Parser struct {
	now        func() time.Time
	classifier SenderClassifier
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithClock sets the clock used to date structured-format timestamps.
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSenderClassifier replaces the structured-format sender heuristic.
func WithSenderClassifier(c SenderClassifier) ParserOption {
	return func(p *Parser) {
		if c != nil {
			p.classifier = c
		}
	}
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{now: time.Now, classifier: AlternatingClassifier{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DetectFormat reports whether raw looks like screenshot text or named chat lines.
func DetectFormat(raw string) Format {
	for _, re := range formatHints {
		if re.MatchString(raw) {
			return FormatStructured
		}
	}
	return FormatGeneric
}

// Parse splits raw into non-blank lines and parses them with the detected strategy.
func (p *Parser) Parse(raw string) []Message {
	lines := nonBlankLines(raw)
	if len(lines) == 0 {
		return []Message{}
	}
	if DetectFormat(raw) == FormatStructured {
		return p.parseStructured(lines)
	}
	return parseGeneric(lines)
}

func nonBlankLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func (p *Parser) parseStructured(lines []string) []Message {
	messages := []Message{}
	var prev *Sender
	var cursor *time.Time

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || statusLineRe.MatchString(line) {
			continue
		}
		if isTimestampLine(line) {
			if ts, ok := p.parseClockTime(line); ok {
				cursor = &ts
			}
			continue
		}

		text, ok := cleanMessageText(line)
		if !ok {
			continue
		}
		sender := p.classifier.Classify(line, prev, len(messages))
		messages = append(messages, Message{
			Sender:    sender,
			Text:      text,
			Timestamp: cursor,
			Emojis:    ExtractEmojis(text),
			HasPhoto:  DetectPhoto(line),
		})
		prev = &sender
	}
	return messages
}

// parseClockTime finds an "H:MM AM/PM" time in line and places it on the clock's current date.
func (p *Parser) parseClockTime(line string) (time.Time, bool) {
	m := clockTimeRe.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	switch strings.ToLower(m[3]) {
	case "pm":
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	now := p.now()
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()), true
}

// isTimestampLine reports whether line is a clock time header such as "Today 3:45 PM" or
// "Fri, Jan 5 at 9:00 AM". A message that merely mentions a time is not one.
func isTimestampLine(line string) bool {
	if !clockTimeRe.MatchString(line) {
		return false
	}
	rest := clockTimeRe.ReplaceAllString(line, " ")
	tokens := strings.FieldsFunc(strings.ToLower(rest), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		if dateWords[tok] || isDigits(tok) {
			continue
		}
		return false
	}
	return true
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// cleanMessageText strips OCR artifacts. ok is false for fragments and UI labels.
func cleanMessageText(line string) (string, bool) {
	cleaned := leadingNonWord.ReplaceAllString(line, "")
	cleaned = strings.TrimSpace(whitespaceRun.ReplaceAllString(cleaned, " "))
	if utf8.RuneCountInString(cleaned) < 2 {
		return "", false
	}
	if uiNoiseRe.MatchString(cleaned) {
		return "", false
	}
	return cleaned, true
}

func parseGeneric(lines []string) []Message {
	messages := []Message{}
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		var sender Sender
		text := line
		if m := namedLineRe.FindStringSubmatch(line); m != nil {
			sender = senderForName(strings.TrimSpace(m[1]))
			text = strings.TrimSpace(m[2])
		} else if len(messages) > 0 {
			sender = messages[len(messages)-1].Sender
		} else {
			sender = SenderA
		}

		messages = append(messages, Message{
			Sender:   sender,
			Text:     text,
			Emojis:   ExtractEmojis(text),
			HasPhoto: DetectPhoto(text),
		})
	}
	return messages
}

// senderForName maps a display name to a side. Literal A/B are taken as-is; names made of
// self references ("Me", "You (iPhone)") are A; everyone else is B.
func senderForName(name string) Sender {
	switch strings.ToUpper(name) {
	case "A":
		return SenderA
	case "B":
		return SenderB
	}
	tokens := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, tok := range tokens {
		if selfReferences[tok] {
			return SenderA
		}
	}
	return SenderB
}

// ExtractEmojis returns emoji grapheme clusters in order of appearance. A cluster counts when
// its first rune falls in the emoticon, pictograph, transport, regional indicator,
// misc symbol or dingbat blocks.
func ExtractEmojis(text string) []string {
	out := []string{}
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		runes := g.Runes()
		if len(runes) > 0 && isEmojiRune(runes[0]) {
			out = append(out, g.Str())
		}
	}
	return out
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F600 && r <= 0x1F64F:
	case r >= 0x1F300 && r <= 0x1F5FF:
	case r >= 0x1F680 && r <= 0x1F6FF:
	case r >= 0x1F1E0 && r <= 0x1F1FF:
	case r >= 0x2600 && r <= 0x26FF:
	case r >= 0x2700 && r <= 0x27BF:
	default:
		return false
	}
	return true
}

// DetectPhoto reports whether text mentions or depicts a shared image.
func DetectPhoto(text string) bool {
	for _, re := range photoPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

const (
	dedupeTailRunes  = 30
	dedupeMinOverlap = 8
)

// RemoveDuplicates drops messages repeated across overlapping screenshots, keeping the first
// occurrence. Two messages collide when the whitespace-free, lowercased last 30 characters match.
// Messages from the same sender also collide when one tail ends with the other and the shorter
// has at least 8 characters; a reply like "love you too" after "i love you too" is kept.
func RemoveDuplicates(messages []Message) []Message {
	seen := make(map[string]bool, len(messages))
	tails := make(map[Sender][]string, 2)
	unique := make([]Message, 0, len(messages))

	for _, m := range messages {
		key := dedupeKey(m.Text)
		if seen[key] || overlapsTail(key, tails[m.Sender]) {
			continue
		}
		seen[key] = true
		tails[m.Sender] = append(tails[m.Sender], key)
		unique = append(unique, m)
	}
	return unique
}

func dedupeKey(text string) string {
	runes := []rune(text)
	if len(runes) > dedupeTailRunes {
		runes = runes[len(runes)-dedupeTailRunes:]
	}
	return strings.Join(strings.Fields(strings.ToLower(string(runes))), "")
}

func overlapsTail(key string, tails []string) bool {
	if utf8.RuneCountInString(key) < dedupeMinOverlap {
		return false
	}
	for _, t := range tails {
		if utf8.RuneCountInString(t) < dedupeMinOverlap {
			continue
		}
		if strings.HasSuffix(t, key) || strings.HasSuffix(key, t) {
			return true
		}
	}
	return false
}
