package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
)

// Enhancement backends.
const (
	None   = "none"
	OpenAI = "openai"
	Gemini = "gemini"
	Remote = "remote"
)

// Config selects and configures the enhancement and OCR backends.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	Schema     analysis.SchemaVariant
	RemoteURL  string
	Retries    int
	HTTPClient *http.Client

	// OCR uses Gemini whenever GeminiAPIKey is set, regardless of Provider.
	GeminiAPIKey string
	OCRModel     string
}

// Validate checks the provider name and its required settings.
func (c Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case "", None:
	case OpenAI, Gemini:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("provider %s: missing API key", c.Provider)
		}
	case Remote:
		if strings.TrimSpace(c.RemoteURL) == "" {
			return fmt.Errorf("provider remote: missing remote URL")
		}
	default:
		return fmt.Errorf("unknown provider %q (want none, openai, gemini or remote)", c.Provider)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be >= 0")
	}
	return nil
}

// NewEnhancer builds the configured enhancer. It returns nil for provider none.
func NewEnhancer(ctx context.Context, cfg Config) (analysis.Enhancer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Provider) {
	case OpenAI:
		model := cfg.Model
		if model == "" {
			model = DefaultOpenAIModel
		}
		var opts []OpenAIOption
		if cfg.Retries > 0 {
			opts = append(opts, WithRetryPolicy(RetryPolicy{MaxRetries: cfg.Retries}))
		}
		e, err := NewOpenAIEnhancer(NewOpenAIClient(cfg.APIKey), model, cfg.Schema, opts...)
		if err != nil {
			return nil, err
		}
		return e, nil
	case Gemini:
		cli, err := NewGeminiClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		model := cfg.Model
		if model == "" {
			model = DefaultGeminiModel
		}
		e, err := NewGeminiEnhancer(cli, model, cfg.Schema)
		if err != nil {
			return nil, err
		}
		return e, nil
	case Remote:
		client := cfg.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 30 * time.Second}
		}
		e, err := NewRemoteEnhancer(cfg.RemoteURL, cfg.Schema, client)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, nil
}

// NewRecognizer builds the OCR chain: text files always pass through, images go to Gemini when a
// Gemini key is configured.
func NewRecognizer(ctx context.Context, cfg Config) (analysis.TextRecognizer, error) {
	key := cfg.GeminiAPIKey
	if key == "" && strings.ToLower(cfg.Provider) == Gemini {
		key = cfg.APIKey
	}
	if key == "" {
		return PlainTextRecognizer{}, nil
	}
	cli, err := NewGeminiClient(ctx, key)
	if err != nil {
		return nil, err
	}
	ocr, err := NewGeminiRecognizer(cli, cfg.OCRModel)
	if err != nil {
		return nil, err
	}
	return PlainTextRecognizer{Next: ocr}, nil
}

// HasImageOCR reports whether r can read images rather than only text dumps.
func HasImageOCR(r analysis.TextRecognizer) bool {
	if p, ok := r.(PlainTextRecognizer); ok {
		return p.Next != nil
	}
	return r != nil
}
