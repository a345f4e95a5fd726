package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
	"github.com/theimaginaryfoundation/vibe-o-meter/analysis/fileutils"
)

const (
	DefaultOpenAIModel     = "gpt-4o-mini"
	defaultMaxOutputTokens = 500
	defaultTemperature     = 0.3
)

var (
	effortSchema   = GenerateSchema[analysis.EffortResponse]()
	devotionSchema = GenerateSchema[analysis.DevotionResponse]()
)

// OpenAIEnhancer asks an OpenAI model for an enhancement through the Responses API with a strict
// JSON schema for the configured variant.
type OpenAIEnhancer struct {
	client      *openai.Client
	model       string
	variant     analysis.SchemaVariant
	retry       RetryPolicy
	temperature float64
	maxTokens   int64
}

// OpenAIOption configures an OpenAIEnhancer.
type OpenAIOption func(*OpenAIEnhancer)

// WithRetryPolicy overrides the default of no retries.
func WithRetryPolicy(p RetryPolicy) OpenAIOption {
	return func(e *OpenAIEnhancer) { e.retry = p }
}

// WithTemperature sets the sampling temperature. Zero or less omits it, which some models require.
func WithTemperature(t float64) OpenAIOption {
	return func(e *OpenAIEnhancer) { e.temperature = t }
}

func NewOpenAIEnhancer(client *openai.Client, model string, variant analysis.SchemaVariant, opts ...OpenAIOption) (*OpenAIEnhancer, error) {
	if client == nil {
		return nil, errors.New("NewOpenAIEnhancer: client is nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("NewOpenAIEnhancer: model is empty")
	}
	e := &OpenAIEnhancer{
		client:      client,
		model:       model,
		variant:     variant,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxOutputTokens,
	}
	if e.variant == "" {
		e.variant = analysis.SchemaEffort
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewOpenAIClient builds a client whose own retries are disabled; retrying is left to RetryPolicy.
func NewOpenAIClient(apiKey string, opts ...option.RequestOption) *openai.Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := openai.NewClient(all...)
	return &client
}

func (e *OpenAIEnhancer) Enhance(ctx context.Context, req analysis.EnhanceRequest) (analysis.Enhancement, error) {
	name, schema, description := "VibeEnhancement", effortSchema, "Relationship vibe enhancement JSON"
	if e.variant == analysis.SchemaDevotion {
		name, schema, description = "DevotionEnhancement", devotionSchema, "Who-loves-more verdict JSON"
	}

	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        name,
			Schema:      schema,
			Strict:      openai.Bool(true),
			Description: openai.String(description),
			Type:        "json_schema",
		},
	}
	params := responses.ResponseNewParams{
		Model:           e.model,
		MaxOutputTokens: openai.Int(e.maxTokens),
		Instructions:    openai.String(SystemPrompt(e.variant)),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(BuildUserPrompt(req), responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}
	if e.temperature > 0 {
		params.Temperature = openai.Float(e.temperature)
	}

	resp, err := CallWithRetry(ctx, e.client, params, e.retry)
	if err != nil {
		return analysis.Enhancement{}, fmt.Errorf("OpenAIEnhancer: %w", ClassifyError(err))
	}
	out := resp.OutputText()
	enh, err := analysis.ParseEnhancement(e.variant, out)
	if err != nil {
		return analysis.Enhancement{}, fmt.Errorf("OpenAIEnhancer: %w (model_output_prefix=%q)", err, fileutils.Truncate(out, 300))
	}
	return enh, nil
}

// RetryPolicy controls how often a failed model call is retried. Only rate-limit and server errors
// are retried; everything else fails immediately. The zero value never retries.
type RetryPolicy struct {
	MaxRetries       int
	RateLimitWaits   []time.Duration
	ServerErrorWaits []time.Duration
}

var (
	defaultRateLimitWaits   = []time.Duration{65 * time.Second, 100 * time.Second, 135 * time.Second}
	defaultServerErrorWaits = []time.Duration{5 * time.Second, 30 * time.Second, 60 * time.Second}
)

func CallWithRetry(ctx context.Context, client *openai.Client, params responses.ResponseNewParams, policy RetryPolicy) (*responses.Response, error) {
	var resp *responses.Response
	err := policy.do(ctx, func(ctx context.Context) error {
		r, err := client.Responses.New(ctx, params)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p RetryPolicy) do(ctx context.Context, call func(context.Context) error) error {
	attempts := max(p.MaxRetries, 0) + 1
	for attempt := 0; ; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}
		if attempt >= attempts-1 {
			return err
		}

		var wait time.Duration
		switch {
		case isRateLimitError(err):
			wait = waitFor(p.RateLimitWaits, defaultRateLimitWaits, attempt)
		case isServerError(err):
			wait = waitFor(p.ServerErrorWaits, defaultServerErrorWaits, attempt)
		default:
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func waitFor(waits, defaults []time.Duration, attempt int) time.Duration {
	if len(waits) == 0 {
		waits = defaults
	}
	if attempt < len(waits) {
		return waits[attempt]
	}
	return waits[len(waits)-1]
}

func GenerateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	schemaObj, err := schemaToMap(schema)
	if err != nil {
		panic(err)
	}
	ensureOpenAICompliance(schemaObj)
	return schemaObj
}

func schemaToMap(schema *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
)

// ensureOpenAICompliance makes every object strict: no additional properties and every property required.
func ensureOpenAICompliance(schema map[string]interface{}) {
	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
			var requiredFields []string
			for propName := range properties {
				requiredFields = append(requiredFields, propName)
			}
			sort.Strings(requiredFields)
			if len(requiredFields) > 0 {
				schema[requiredKey] = requiredFields
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]interface{}); ok {
				ensureOpenAICompliance(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]interface{}); ok {
		ensureOpenAICompliance(items)
	}

	if additionalProps, ok := schema[additionalPropertiesKey].(map[string]interface{}); ok {
		ensureOpenAICompliance(additionalProps)
	}
}
