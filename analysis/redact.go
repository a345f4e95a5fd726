package analysis

import (
	"regexp"
	"strings"
)

// Redaction placeholders.
const (
	PlaceholderEmail   = "[EMAIL]"
	PlaceholderPhone   = "[PHONE]"
	PlaceholderAddress = "[ADDRESS]"
	PlaceholderURL     = "[URL]"
	PlaceholderAmount  = "[AMOUNT]"
)

// DefaultSnippetLines is the number of trailing messages included in an enhancement snippet.
const DefaultSnippetLines = 80

var (
	emailPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	}
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\(?(\d{3})\)?[-.\s]?(\d{3})[-.\s]?(\d{4})`),
		regexp.MustCompile(`\+?\d{1,3}[-.\s]?\d{3,4}[-.\s]?\d{3,4}[-.\s]?\d{3,4}`),
	}
	urlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`https?://[^\s]+|www\.[^\s]+|\b[a-zA-Z0-9-]+\.[a-zA-Z]{2,}[^\s]*`),
	}
	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\d+\s+[A-Za-z\s]+(Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Lane|Ln|Boulevard|Blvd|Circle|Cir|Court|Ct)\b`),
		regexp.MustCompile(`\b\d{5}(-\d{4})?\b`),
	}
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$\d{1,3}(,\d{3})*(\.\d{2})?`),
		regexp.MustCompile(`[€£¥₹]\d+(\.\d{2})?`),
		regexp.MustCompile(`(?i)paid\s+\$?\d+`),
		regexp.MustCompile(`(?i)sent\s+\$?\d+`),
		regexp.MustCompile(`(?i)owes?\s+\$?\d+`),
	}
)

type redactionRule struct {
	patterns    []*regexp.Regexp
	placeholder string
}

// Redactor rewrites PII in message text. It is built per request from the caller's
// options and is safe for concurrent use.
type Redactor struct {
	rules []redactionRule
}

// NewRedactor builds a redactor for the enabled categories. Categories are always applied
// in the order emails, phones, urls, addresses, amounts.
func NewRedactor(opts RedactionOptions) *Redactor {
	r := &Redactor{}
	if opts.Emails {
		r.rules = append(r.rules, redactionRule{emailPatterns, PlaceholderEmail})
	}
	if opts.Phones {
		r.rules = append(r.rules, redactionRule{phonePatterns, PlaceholderPhone})
	}
	if opts.URLs {
		r.rules = append(r.rules, redactionRule{urlPatterns, PlaceholderURL})
	}
	if opts.Addresses {
		r.rules = append(r.rules, redactionRule{addressPatterns, PlaceholderAddress})
	}
	if opts.Amounts {
		r.rules = append(r.rules, redactionRule{amountPatterns, PlaceholderAmount})
	}
	return r
}

// RedactText replaces every enabled PII match in text with its placeholder. A placeholder
// can open a new word boundary next to leftover digits, so the chain repeats until the text
// stops changing. Every match consumes a digit, '.', ':', '@' or currency sign and placeholders
// carry none, so it terminates.
func (r *Redactor) RedactText(text string) string {
	for {
		next := r.redactOnce(text)
		if next == text {
			return text
		}
		text = next
	}
}

func (r *Redactor) redactOnce(text string) string {
	for _, rule := range r.rules {
		for _, re := range rule.patterns {
			text = re.ReplaceAllLiteralString(text, rule.placeholder)
		}
	}
	return text
}

// Redact returns a copy of m with its text redacted.
func (r *Redactor) Redact(m Message) Message {
	m.Text = r.RedactText(m.Text)
	return m
}

// RedactedMessages is a message sequence that has been through a Redactor.
// Only redacted sequences may be turned into snippets for external services.
type RedactedMessages []Message

// RedactAll redacts every message, preserving order.
func (r *Redactor) RedactAll(messages []Message) RedactedMessages {
	out := make(RedactedMessages, len(messages))
	for i, m := range messages {
		out[i] = r.Redact(m)
	}
	return out
}

// CreateSnippet renders the last maxLines messages as "sender: text" lines.
// maxLines <= 0 uses DefaultSnippetLines.
func CreateSnippet(messages RedactedMessages, maxLines int) string {
	if maxLines <= 0 {
		maxLines = DefaultSnippetLines
	}
	start := 0
	if len(messages) > maxLines {
		start = len(messages) - maxLines
	}
	lines := make([]string, 0, len(messages)-start)
	for _, m := range messages[start:] {
		lines = append(lines, string(m.Sender)+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}

// RedactionPreview shows what a Redactor would send out for a piece of text.
type RedactionPreview struct {
	Redacted string         `json:"redacted"`
	Counts   map[string]int `json:"counts"`
}

// Preview redacts text and counts the placeholders each enabled category introduced.
func (r *Redactor) Preview(text string) RedactionPreview {
	out := r.RedactText(text)
	counts := make(map[string]int, len(r.rules))
	for _, rule := range r.rules {
		counts[rule.placeholder] = strings.Count(out, rule.placeholder) - strings.Count(text, rule.placeholder)
	}
	return RedactionPreview{Redacted: out, Counts: counts}
}
