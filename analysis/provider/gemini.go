package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
	"github.com/theimaginaryfoundation/vibe-o-meter/analysis/fileutils"
)

const (
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultGeminiOCRModel = "gemini-2.5-flash"
)

const transcribePrompt = `Transcribe the chat conversation in this screenshot as plain text.
Output one message per line in order from top to bottom.
Keep timestamps and day headers (such as "Today 3:45 PM") on their own lines exactly as shown.
Keep emoji as emoji. Do not add commentary, names that are not shown, or formatting.`

// contentGenerator is the slice of the genai Models service used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiClient creates a Gemini API client. An empty key lets genai read GEMINI_API_KEY.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: %w", err)
	}
	return cli, nil
}

// GeminiEnhancer asks a Gemini model for an enhancement in JSON mode.
type GeminiEnhancer struct {
	models  contentGenerator
	model   string
	variant analysis.SchemaVariant
}

func NewGeminiEnhancer(cli *genai.Client, model string, variant analysis.SchemaVariant) (*GeminiEnhancer, error) {
	if cli == nil {
		return nil, errors.New("NewGeminiEnhancer: client is nil")
	}
	return newGeminiEnhancer(cli.Models, model, variant)
}

func newGeminiEnhancer(models contentGenerator, model string, variant analysis.SchemaVariant) (*GeminiEnhancer, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("NewGeminiEnhancer: model is empty")
	}
	if variant == "" {
		variant = analysis.SchemaEffort
	}
	return &GeminiEnhancer{models: models, model: model, variant: variant}, nil
}

func (g *GeminiEnhancer) Enhance(ctx context.Context, req analysis.EnhanceRequest) (analysis.Enhancement, error) {
	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: BuildUserPrompt(req)}}}},
		&genai.GenerateContentConfig{
			ResponseMIMEType:  "application/json",
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: SystemPrompt(g.variant)}}},
			Temperature:       genai.Ptr[float32](defaultTemperature),
		},
	)
	if err != nil {
		return analysis.Enhancement{}, fmt.Errorf("GeminiEnhancer: %w", ClassifyError(err))
	}
	out, err := firstText(resp)
	if err != nil {
		return analysis.Enhancement{}, fmt.Errorf("GeminiEnhancer: %w", err)
	}
	enh, err := analysis.ParseEnhancement(g.variant, out)
	if err != nil {
		return analysis.Enhancement{}, fmt.Errorf("GeminiEnhancer: %w (model_output_prefix=%q)", err, fileutils.Truncate(out, 300))
	}
	return enh, nil
}

// GeminiRecognizer transcribes chat screenshots with a multimodal Gemini model.
type GeminiRecognizer struct {
	models contentGenerator
	model  string
}

func NewGeminiRecognizer(cli *genai.Client, model string) (*GeminiRecognizer, error) {
	if cli == nil {
		return nil, errors.New("NewGeminiRecognizer: client is nil")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiOCRModel
	}
	return &GeminiRecognizer{models: cli.Models, model: model}, nil
}

func (g *GeminiRecognizer) Recognize(ctx context.Context, img analysis.Image) (string, error) {
	if len(img.Data) == 0 {
		return "", fmt.Errorf("GeminiRecognizer: %s is empty: %w", img.Name, analysis.ErrInvalidInput)
	}
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{
			{Text: transcribePrompt},
			{InlineData: &genai.Blob{Data: img.Data, MIMEType: mime}},
		}}},
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("GeminiRecognizer: %w", ClassifyError(err))
	}
	text, err := firstText(resp)
	if err != nil {
		return "", fmt.Errorf("GeminiRecognizer: %w", err)
	}
	return text, nil
}

// firstText concatenates the text parts of the first candidate.
func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty model response: %w", analysis.ErrInvalidAIResponse)
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}
