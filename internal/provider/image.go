package provider

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"

	"rolebot/internal/domain"
	"rolebot/internal/metrics"
)

// GenerateImage runs one image generation call and returns the hosted URL
// of the result. The system prompt sets the visual style; the description
// says what to draw.
func (c *Client) GenerateImage(ctx context.Context, systemPrompt, description string) (string, error) {
	model, err := c.caps.Model(domain.ModalityImageGeneration)
	if err != nil {
		return "", err
	}

	prompt := description
	if systemPrompt != "" {
		prompt = "Style and persona context: " + systemPrompt + "\n\nDraw: " + description
	}

	params := openai.ImageGenerateParams{
		Model:  openai.ImageModel(model),
		Prompt: prompt,
	}
	if size := c.caps.OutputImageSize(); size != "" {
		params.Size = openai.ImageGenerateParamsSize(size)
	}

	metrics.ProviderRequests.Inc()
	start := time.Now()
	resp, err := c.api.Images.Generate(ctx, params)
	if err != nil {
		return "", err
	}
	metrics.ProviderLatency.Observe(time.Since(start).Seconds())

	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", errors.New("image generation returned no URL")
	}
	return resp.Data[0].URL, nil
}
