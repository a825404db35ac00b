package provider

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"rolebot/internal/domain"
	"rolebot/internal/metrics"
)

const engageInstruction = "You moderate a group chat assistant. Given a" +
	" message that did not mention the assistant, decide whether the" +
	" assistant should chime in anyway. Only engage when the message is" +
	" clearly directed at the assistant or continues a conversation with it."

type engagePayload struct {
	Engage bool `json:"engage"`
}

func engageSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:                 "object",
		AdditionalProperties: falseSchema(),
		Properties: map[string]*jsonschema.Schema{
			"engage": {
				Type:        "boolean",
				Description: "Whether the assistant should reply.",
			},
		},
		Required: []string{"engage"},
	}
}

// EngageNeeded decides whether to reply to a group message that did not
// mention the bot.
func (c *Client) EngageNeeded(ctx context.Context, userInput string) (bool, error) {
	model, err := c.caps.Model(domain.ModalityText)
	if err != nil {
		return false, err
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(engageInstruction),
			openai.UserMessage(userInput),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "engage_decision",
					Schema: engageSchema(),
					Strict: param.NewOpt(true),
				},
			},
		},
	}

	metrics.ProviderRequests.Inc()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return false, err
	}
	if len(resp.Choices) == 0 {
		return false, nil
	}

	var payload engagePayload
	if err := unmarshalModelJSON(resp.Choices[0].Message.Content, &payload); err != nil {
		return false, fmt.Errorf("parse engage decision: %w", err)
	}
	return payload.Engage, nil
}
