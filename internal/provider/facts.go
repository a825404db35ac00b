package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"rolebot/internal/domain"
	"rolebot/internal/metrics"
)

const factExtractionInstruction = "Extract durable facts about the user" +
	" from this exchange: stable preferences, biography, relationships," +
	" commitments. Ignore anything situational or already obvious from the" +
	" conversation flow. Return an empty list when nothing qualifies."

type factsPayload struct {
	Facts []string `json:"facts"`
}

func factsSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:                 "object",
		AdditionalProperties: falseSchema(),
		Properties: map[string]*jsonschema.Schema{
			"facts": {
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string"},
				Description: "Durable facts about the user, one short sentence each.",
			},
		},
		Required: []string{"facts"},
	}
}

// ExtractFacts derives durable user facts from a completed exchange.
func (c *Client) ExtractFacts(ctx context.Context, userHandle, userInput, reply string) ([]domain.UserFact, error) {
	model, err := c.caps.Model(domain.ModalityText)
	if err != nil {
		return nil, err
	}

	exchange := fmt.Sprintf("User %s said:\n%s\n\nAssistant replied:\n%s", userHandle, userInput, reply)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(factExtractionInstruction),
			openai.UserMessage(exchange),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "user_facts",
					Schema: factsSchema(),
					Strict: param.NewOpt(true),
				},
			},
		},
	}

	metrics.ProviderRequests.Inc()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	var payload factsPayload
	if err := unmarshalModelJSON(resp.Choices[0].Message.Content, &payload); err != nil {
		return nil, fmt.Errorf("parse extracted facts: %w", err)
	}

	facts := make([]domain.UserFact, 0, len(payload.Facts))
	for _, f := range payload.Facts {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		facts = append(facts, domain.UserFact{UserHandle: userHandle, Fact: f})
	}
	return facts, nil
}
