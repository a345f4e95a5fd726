package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
	"github.com/theimaginaryfoundation/vibe-o-meter/analysis/provider"
)

type Config struct {
	InputPath      string
	Mode           string
	Provider       string
	Model          string
	Schema         string
	APIKey         string
	GeminiAPIKey   string
	RemoteURL      string
	OCRModel       string
	Retries        int
	WindowDays     int
	SnippetLines   int
	Redact         string
	LexiconPath    string
	OCRConcurrency int
	ExportPath     string
	Pretty         bool
	Overwrite      bool
	JSON           bool
}

func (c Config) Validate() error {
	if c.InputPath == "" {
		return errors.New("missing -in")
	}
	if _, err := analysis.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("invalid -mode: %w", err)
	}
	if _, err := analysis.ParseSchemaVariant(c.Schema); err != nil {
		return fmt.Errorf("invalid -schema: %w", err)
	}
	if _, err := parseRedaction(c.Redact); err != nil {
		return err
	}
	if c.WindowDays <= 0 {
		return errors.New("window days must be > 0")
	}
	if c.SnippetLines <= 0 {
		return errors.New("snippet lines must be > 0")
	}
	if c.OCRConcurrency <= 0 {
		return errors.New("ocr concurrency must be > 0")
	}
	if c.Retries < 0 {
		return errors.New("retries must be >= 0")
	}
	switch strings.ToLower(c.Provider) {
	case provider.None, provider.OpenAI, provider.Gemini, provider.Remote:
	default:
		return fmt.Errorf("unknown -provider %q", c.Provider)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Mode:           string(analysis.ModeLocal),
		Provider:       provider.None,
		Schema:         string(analysis.SchemaEffort),
		WindowDays:     analysis.DefaultWindowDays,
		SnippetLines:   analysis.DefaultSnippetLines,
		Redact:         "all",
		OCRConcurrency: 4,
	}
}

// parseRedaction reads "all", "none" or a comma list of emails, phones, addresses, urls, amounts.
func parseRedaction(s string) (analysis.RedactionOptions, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return analysis.DefaultRedactionOptions(), nil
	case "none":
		return analysis.RedactionOptions{}, nil
	}
	var opts analysis.RedactionOptions
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "emails", "email":
			opts.Emails = true
		case "phones", "phone":
			opts.Phones = true
		case "addresses", "address":
			opts.Addresses = true
		case "urls", "url":
			opts.URLs = true
		case "amounts", "amount":
			opts.Amounts = true
		case "":
		default:
			return analysis.RedactionOptions{}, fmt.Errorf("invalid -redact category %q", part)
		}
	}
	return opts, nil
}
