package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"rolebot/internal/domain"
	"rolebot/internal/metrics"
)

const describeImageInstruction = "Describe the attached image in two or" +
	" three sentences. Mention any text visible in it."

// DescribeImage reduces an attached image to a short textual description
// via a vision-capable chat model.
func (c *Client) DescribeImage(ctx context.Context, image []byte) (string, error) {
	model, err := c.caps.Model(domain.ModalityVision)
	if err != nil {
		return "", err
	}
	if len(image) == 0 {
		return "", errors.New("empty image")
	}

	mime := http.DetectContentType(image)
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)

	user := openai.ChatCompletionUserMessageParam{
		Content: openai.ChatCompletionUserMessageParamContentUnion{
			OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(describeImageInstruction),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL:    dataURL,
					Detail: "low",
				}),
			},
		},
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            []openai.ChatCompletionMessageParamUnion{{OfUser: &user}},
		MaxCompletionTokens: param.NewOpt(int64(300)),
	}

	metrics.ProviderRequests.Inc()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision model returned no choices")
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", &domain.ModerationError{Reason: choice.Message.Refusal}
	}
	return choice.Message.Content, nil
}
