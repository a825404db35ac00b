package provider

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"rolebot/internal/domain"
	"rolebot/internal/metrics"
)

// GenerateAudio synthesizes text into MP3 bytes. The system prompt is passed
// as speaking instructions so the voice matches the persona.
func (c *Client) GenerateAudio(ctx context.Context, systemPrompt, text, voiceID string) ([]byte, error) {
	model, err := c.caps.Model(domain.ModalityAudioGeneration)
	if err != nil {
		return nil, err
	}
	if voiceID == "" {
		voiceID = "alloy"
	}

	params := openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}
	if systemPrompt != "" {
		params.Instructions = param.NewOpt("Speak in character: " + systemPrompt)
	}

	metrics.ProviderRequests.Inc()
	resp, err := c.api.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	return audio, nil
}
