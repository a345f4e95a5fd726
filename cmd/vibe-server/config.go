package main

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
	"github.com/theimaginaryfoundation/vibe-o-meter/analysis/provider"
)

type Config struct {
	Port string
	Env  string

	Provider  string
	Model     string
	Schema    string
	APIKey    string
	RemoteURL string
	Retries   int

	GeminiAPIKey   string
	OCRModel       string
	OCRConcurrency int

	LexiconPath string

	AllowedOrigins  []string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	MaxUploadBytes  int64
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("missing -port")
	}
	if _, err := analysis.ParseSchemaVariant(c.Schema); err != nil {
		return fmt.Errorf("invalid -schema: %w", err)
	}
	if c.RateLimitMax <= 0 {
		return errors.New("rate limit max must be > 0")
	}
	if c.RateLimitWindow <= 0 {
		return errors.New("rate limit window must be > 0")
	}
	if c.MaxBodyBytes <= 0 || c.MaxUploadBytes <= 0 {
		return errors.New("body limits must be > 0")
	}
	if c.OCRConcurrency <= 0 {
		return errors.New("ocr concurrency must be > 0")
	}
	return c.providerConfig().Validate()
}

func (c Config) isDevelopment() bool {
	return strings.EqualFold(c.Env, "development") || strings.EqualFold(c.Env, "local")
}

func (c Config) providerConfig() provider.Config {
	schema, _ := analysis.ParseSchemaVariant(c.Schema)
	return provider.Config{
		Provider:     c.Provider,
		Model:        c.Model,
		APIKey:       c.APIKey,
		Schema:       schema,
		RemoteURL:    c.RemoteURL,
		Retries:      c.Retries,
		GeminiAPIKey: c.GeminiAPIKey,
		OCRModel:     c.OCRModel,
	}
}

// loadConfig reads the environment first, then lets flags override it.
func loadConfig(fs *flag.FlagSet, args []string, getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:            normalizePort(firstNonEmpty(getenv("PORT"), "3001")),
		Env:             firstNonEmpty(strings.TrimSpace(getenv("APP_ENV")), "local"),
		Provider:        strings.ToLower(strings.TrimSpace(getenv("LLM_PROVIDER"))),
		Model:           strings.TrimSpace(getenv("LLM_MODEL")),
		Schema:          firstNonEmpty(strings.TrimSpace(getenv("LLM_SCHEMA")), string(analysis.SchemaEffort)),
		RemoteURL:       strings.TrimSpace(getenv("REMOTE_URL")),
		GeminiAPIKey:    strings.TrimSpace(getenv("GEMINI_API_KEY")),
		OCRModel:        strings.TrimSpace(getenv("OCR_MODEL")),
		OCRConcurrency:  4,
		LexiconPath:     strings.TrimSpace(getenv("LEXICON_PATH")),
		AllowedOrigins:  splitList(firstNonEmpty(getenv("ALLOWED_ORIGINS"), "http://localhost:3000")),
		RateLimitMax:    10,
		RateLimitWindow: 15 * time.Minute,
		MaxBodyBytes:    1 << 20,
		MaxUploadBytes:  20 << 20,
	}

	var err error
	if cfg.RateLimitMax, err = envInt(getenv, "RATE_LIMIT_MAX", cfg.RateLimitMax); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitWindow, err = envDuration(getenv, "RATE_LIMIT_WINDOW", cfg.RateLimitWindow); err != nil {
		return Config{}, err
	}
	maxBody, err := envInt(getenv, "MAX_BODY_BYTES", int(cfg.MaxBodyBytes))
	if err != nil {
		return Config{}, err
	}
	maxUpload, err := envInt(getenv, "MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBodyBytes, cfg.MaxUploadBytes = int64(maxBody), int64(maxUpload)

	if cfg.Provider == "" {
		if getenv("OPENAI_API_KEY") != "" {
			cfg.Provider = provider.OpenAI
		} else {
			cfg.Provider = provider.None
		}
	}

	origins := strings.Join(cfg.AllowedOrigins, ",")
	fs.StringVar(&cfg.Port, "port", cfg.Port, "Listen address (PORT)")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "Environment: local, development or production (APP_ENV)")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "Enhancement provider: none, openai, gemini or remote (LLM_PROVIDER)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Enhancement model (LLM_MODEL)")
	fs.StringVar(&cfg.Schema, "schema", cfg.Schema, "Enhancement schema: effort or devotion (LLM_SCHEMA)")
	fs.StringVar(&cfg.RemoteURL, "remote-url", cfg.RemoteURL, "Upstream enhance endpoint for -provider remote (REMOTE_URL)")
	fs.IntVar(&cfg.Retries, "retries", 0, "Retries for rate-limited or failed model calls")
	fs.StringVar(&cfg.OCRModel, "ocr-model", cfg.OCRModel, "Gemini OCR model (OCR_MODEL)")
	fs.IntVar(&cfg.OCRConcurrency, "ocr-concurrency", cfg.OCRConcurrency, "Screenshots recognized in parallel per request")
	fs.StringVar(&cfg.LexiconPath, "lexicon", cfg.LexiconPath, "Optional YAML lexicon (LEXICON_PATH)")
	fs.StringVar(&origins, "allowed-origins", origins, "Comma-separated CORS origins, * for any (ALLOWED_ORIGINS)")
	fs.IntVar(&cfg.RateLimitMax, "rate-limit-max", cfg.RateLimitMax, "Requests per IP per window on /api (RATE_LIMIT_MAX)")
	fs.DurationVar(&cfg.RateLimitWindow, "rate-limit-window", cfg.RateLimitWindow, "Rate limit window (RATE_LIMIT_WINDOW)")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "JSON body limit (MAX_BODY_BYTES)")
	fs.Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "Screenshot upload limit (MAX_UPLOAD_BYTES)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Port = normalizePort(cfg.Port)
	cfg.AllowedOrigins = splitList(origins)
	cfg.Provider = strings.ToLower(cfg.Provider)

	switch cfg.Provider {
	case provider.OpenAI:
		cfg.APIKey = strings.TrimSpace(getenv("OPENAI_API_KEY"))
	case provider.Gemini:
		cfg.APIKey = cfg.GeminiAPIKey
	}
	return cfg, nil
}

func normalizePort(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.Contains(p, ":") {
		return p
	}
	return ":" + p
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// envDuration accepts Go durations ("15m") or a bare number of milliseconds.
func envDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
