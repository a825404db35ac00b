package provider

import (
	"bytes"
	"context"
	"io"

	"github.com/openai/openai-go"

	"rolebot/internal/domain"
	"rolebot/internal/metrics"
)

// transcriptionFile wraps voice bytes as a named upload. Telegram voice
// clips are OGG/Opus, and the endpoint needs a filename with a recognizable
// audio extension to accept the part.
func transcriptionFile(audio []byte) io.Reader {
	return openai.File(bytes.NewReader(audio), "voice.ogg", "audio/ogg")
}

// TranscribeAudio reduces a voice clip to text.
func (c *Client) TranscribeAudio(ctx context.Context, audio []byte) (string, error) {
	model, err := c.caps.Model(domain.ModalityAudioRecognition)
	if err != nil {
		return "", err
	}

	params := openai.AudioTranscriptionNewParams{
		File:  transcriptionFile(audio),
		Model: openai.AudioModel(model),
	}

	metrics.ProviderRequests.Inc()
	resp, err := c.api.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
