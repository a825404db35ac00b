package provider

import (
	"context"
	"time"

	"rolebot/internal/domain"
	"rolebot/internal/metrics"
)

// StreamText runs one streaming chat completion and forwards each content
// delta on out. The channel is closed before returning.
func (c *Client) StreamText(ctx context.Context, req domain.TextRequest, out chan<- string) error {
	defer close(out)

	model, err := c.caps.Model(domain.ModalityText)
	if err != nil {
		return err
	}

	params := c.chatParams(model, req)

	metrics.ProviderRequests.Inc()
	start := time.Now()
	stream := c.api.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		select {
		case out <- delta:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	metrics.ProviderLatency.Observe(time.Since(start).Seconds())
	return stream.Err()
}
