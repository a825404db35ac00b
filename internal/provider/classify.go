package provider

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"rolebot/internal/domain"
	"rolebot/internal/metrics"
)

// classifyAttempts bounds retries for non-conforming classifier output.
const classifyAttempts = 3

const classifierInstruction = "Decide what kind of response the assistant" +
	" should produce for the user's message. Pick text_with_image only when" +
	" the user clearly expects a picture, and audio_only only when a spoken" +
	" reply fits better than text. When in doubt pick text_only."

type classifierPayload struct {
	OutputType       string  `json:"output_type"`
	ImageDescription *string `json:"image_description"`
}

// falseSchema is the JSON schema that matches nothing, used to forbid
// additional object properties in strict mode.
func falseSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Not: &jsonschema.Schema{}}
}

func classifierSchema(allowed []domain.OutputType) *jsonschema.Schema {
	enum := make([]any, len(allowed))
	for i, t := range allowed {
		enum[i] = string(t)
	}
	return &jsonschema.Schema{
		Type:                 "object",
		AdditionalProperties: falseSchema(),
		Properties: map[string]*jsonschema.Schema{
			"output_type": {
				Type:        "string",
				Enum:        enum,
				Description: "The response modality to produce.",
			},
			"image_description": {
				Types:       []string{"string", "null"},
				Description: "For text_with_image only: what the attached image should depict.",
			},
		},
		Required: []string{"output_type", "image_description"},
	}
}

// ClassifyOutput issues a structured-output chat call constrained to the
// allowed output types. Non-conforming output is retried up to
// classifyAttempts times before giving up.
func (c *Client) ClassifyOutput(ctx context.Context, systemPrompt, userInput string, allowed []domain.OutputType) (domain.Classification, error) {
	model, err := c.caps.Model(domain.ModalityText)
	if err != nil {
		return domain.Classification{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt + "\n\n" + classifierInstruction),
			openai.UserMessage(userInput),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "response_plan",
					Description: param.NewOpt("The planned response modality."),
					Schema:      classifierSchema(allowed),
					Strict:      param.NewOpt(true),
				},
			},
		},
	}

	var lastErr error
	for attempt := 0; attempt < classifyAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Classification{}, err
		}
		metrics.ProviderRequests.Inc()
		resp, err := c.api.Chat.Completions.New(ctx, params)
		if err != nil {
			return domain.Classification{}, err
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("classifier returned no choices")
			continue
		}
		decision, err := parseClassification(resp.Choices[0].Message.Content, allowed)
		if err != nil {
			lastErr = err
			c.logger.Warn("classifier output did not conform, retrying",
				"attempt", attempt+1, "error", err)
			continue
		}
		return decision, nil
	}
	return domain.Classification{}, fmt.Errorf("classifier failed after %d attempts: %w", classifyAttempts, lastErr)
}

func parseClassification(content string, allowed []domain.OutputType) (domain.Classification, error) {
	var payload classifierPayload
	if err := unmarshalModelJSON(content, &payload); err != nil {
		return domain.Classification{}, fmt.Errorf("parse classifier output: %w", err)
	}
	typ := domain.OutputType(payload.OutputType)
	if !slices.Contains(allowed, typ) {
		return domain.Classification{}, fmt.Errorf("classifier picked %q, not an offered type", payload.OutputType)
	}
	decision := domain.Classification{Type: typ}
	if typ == domain.OutputTextWithImage && payload.ImageDescription != nil {
		decision.ImageDescription = *payload.ImageDescription
	}
	return decision, nil
}
