package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
)

func TestBuildUserPrompt(t *testing.T) {
	t.Parallel()

	p := BuildUserPrompt(testEnhanceRequest())
	for _, want := range []string{
		"A: call me at [PHONE]\nB: will do ❤️",
		`"sentiment_polarity": 72.50,`,
		`"msg_count_A": 12,`,
		`"median_reply_minutes_BtoA": 0.00` + "\n}",
		"50 = neutral, 70 = healthy, 85+ = excellent",
	} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
	for _, k := range analysis.FeatureKeys {
		if !strings.Contains(p, `"`+k+`"`) {
			t.Fatalf("prompt missing feature %s", k)
		}
	}
}

func TestSystemPrompt_PerVariant(t *testing.T) {
	t.Parallel()

	if !strings.Contains(SystemPrompt(analysis.SchemaEffort), "balance_meter") {
		t.Fatalf("effort prompt should name balance_meter")
	}
	if !strings.Contains(SystemPrompt(analysis.SchemaDevotion), "who_loves_more") {
		t.Fatalf("devotion prompt should name who_loves_more")
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   error
		want error
	}{
		{errors.New("Incorrect API key provided"), analysis.ErrUnauthorized},
		{errors.New("You exceeded your current quota"), analysis.ErrRateLimited},
		{errors.New("POST /responses: 429 Too Many Requests"), analysis.ErrRateLimited},
		{fmt.Errorf("wrapped: %w", analysis.ErrUnauthorized), analysis.ErrUnauthorized},
	}
	for _, tc := range cases {
		if got := ClassifyError(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("ClassifyError(%v)=%v, want %v", tc.in, got, tc.want)
		}
	}

	plain := errors.New("connection reset by peer")
	if got := ClassifyError(plain); got != plain {
		t.Fatalf("unclassified error should pass through, got %v", got)
	}
	if ClassifyError(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	ok := []Config{
		{},
		{Provider: None},
		{Provider: OpenAI, APIKey: "k"},
		{Provider: Remote, RemoteURL: "http://localhost:3001/api/analysis/enhance"},
	}
	for _, c := range ok {
		if err := c.Validate(); err != nil {
			t.Fatalf("Validate(%+v): %v", c, err)
		}
	}
	bad := []Config{
		{Provider: OpenAI},
		{Provider: Gemini},
		{Provider: Remote},
		{Provider: "anthropic", APIKey: "k"},
		{Provider: OpenAI, APIKey: "k", Retries: -1},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("Validate(%+v) = nil, want error", c)
		}
	}
}

func TestNewEnhancer(t *testing.T) {
	t.Parallel()

	e, err := NewEnhancer(context.Background(), Config{Provider: None})
	if err != nil || e != nil {
		t.Fatalf("none: e=%v err=%v", e, err)
	}
	e, err = NewEnhancer(context.Background(), Config{Provider: Remote, RemoteURL: "http://127.0.0.1:1/enhance"})
	if err != nil {
		t.Fatalf("remote: %v", err)
	}
	if _, ok := e.(*RemoteEnhancer); !ok {
		t.Fatalf("remote: got %T", e)
	}
	e, err = NewEnhancer(context.Background(), Config{Provider: OpenAI, APIKey: "k", Retries: 2})
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	oe, ok := e.(*OpenAIEnhancer)
	if !ok || oe.model != DefaultOpenAIModel || oe.retry.MaxRetries != 2 {
		t.Fatalf("openai: got %T %+v", e, e)
	}
}

type stubRecognizer struct{}

func (stubRecognizer) Recognize(context.Context, analysis.Image) (string, error) {
	return "from image", nil
}

func TestPlainTextRecognizer(t *testing.T) {
	t.Parallel()

	r := PlainTextRecognizer{}
	text, err := r.Recognize(context.Background(), analysis.Image{Name: "chat.txt", MIMEType: "text/plain; charset=utf-8", Data: []byte("A: hi")})
	if err != nil || text != "A: hi" {
		t.Fatalf("text=%q err=%v", text, err)
	}
	if _, err := r.Recognize(context.Background(), analysis.Image{Name: "x.png", MIMEType: "image/png"}); !errors.Is(err, analysis.ErrNoRecognizer) {
		t.Fatalf("err=%v, want ErrNoRecognizer", err)
	}
	if _, err := r.Recognize(context.Background(), analysis.Image{Name: "bad.txt", MIMEType: "text/plain", Data: []byte{0xff, 0xfe}}); !errors.Is(err, analysis.ErrInvalidInput) {
		t.Fatalf("err=%v, want ErrInvalidInput", err)
	}

	chained := PlainTextRecognizer{Next: stubRecognizer{}}
	if text, _ := chained.Recognize(context.Background(), analysis.Image{Name: "x.png", MIMEType: "image/png"}); text != "from image" {
		t.Fatalf("text=%q", text)
	}
	if HasImageOCR(r) || !HasImageOCR(chained) {
		t.Fatalf("HasImageOCR mismatch")
	}
}

func TestNewRecognizer_WithoutGeminiKeyIsTextOnly(t *testing.T) {
	t.Parallel()

	r, err := NewRecognizer(context.Background(), Config{Provider: OpenAI, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	if HasImageOCR(r) {
		t.Fatalf("expected text-only recognizer")
	}
}
