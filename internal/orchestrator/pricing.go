package orchestrator

import (
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"rolebot/internal/capability"
	"rolebot/internal/domain"
)

var (
	perThousand = decimal.NewFromInt(1000)
	perMillion  = decimal.NewFromInt(1000000)
)

// countTokens approximates a token count from text length (runes / 4,
// minimum 1 for non-empty text). Exact tokenization is deliberately not
// used; the rate tables are calibrated against this proxy.
func countTokens(text string) int64 {
	if text == "" {
		return 0
	}
	n := int64(utf8.RuneCountInString(text)) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// Calculator computes the cost of one completed exchange across the
// heterogeneous priced resources: tokens, pixels, and audio. Pure; invoked
// once per request on the terminal chunk.
type Calculator struct {
	caps capability.Set
}

// NewCalculator builds a calculator over one request's capability set.
func NewCalculator(caps capability.Set) Calculator {
	return Calculator{caps: caps}
}

// Price maps the request's inputs and the terminal chunk's outputs through
// the rate tables. Each term contributes only when its governing capability
// is enabled.
func (c Calculator) Price(msg domain.TranscribedMessage, final domain.StreamChunk) (decimal.Decimal, error) {
	total := decimal.Zero

	if c.caps.CanUse(domain.ModalityText) {
		rate, err := c.caps.Rate(domain.ModalityText)
		if err != nil {
			return decimal.Zero, err
		}
		in := decimal.NewFromInt(countTokens(msg.Text))
		out := decimal.NewFromInt(countTokens(final.CumulativeText))
		total = total.Add(rate.InputTokenPrice.Mul(in).Div(perThousand))
		total = total.Add(rate.OutputTokenPrice.Mul(out).Div(perThousand))
	}

	if msg.HasImage() && c.caps.CanUse(domain.ModalityVision) {
		rate, err := c.caps.Rate(domain.ModalityVision)
		if err != nil {
			return decimal.Zero, err
		}
		px, err := c.caps.InputImagePixels()
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(rate.InputPixelPrice.Mul(decimal.NewFromInt(px)).Div(perMillion))
	}

	if final.ImageURL != "" && c.caps.CanUse(domain.ModalityImageGeneration) {
		rate, err := c.caps.Rate(domain.ModalityImageGeneration)
		if err != nil {
			return decimal.Zero, err
		}
		px, err := c.caps.OutputImagePixels()
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(rate.OutputPixelPrice.Mul(decimal.NewFromInt(px)).Div(perMillion))
	}

	if msg.HasVoice() && c.caps.CanUse(domain.ModalityAudioRecognition) {
		rate, err := c.caps.Rate(domain.ModalityAudioRecognition)
		if err != nil {
			return decimal.Zero, err
		}
		in := decimal.NewFromInt(countTokens(msg.VoiceTranscription))
		total = total.Add(rate.InputTokenPrice.Mul(in).Div(perThousand))
	}

	if len(final.AudioBytes) > 0 && c.caps.CanUse(domain.ModalityAudioGeneration) {
		rate, err := c.caps.Rate(domain.ModalityAudioGeneration)
		if err != nil {
			return decimal.Zero, err
		}
		out := decimal.NewFromInt(countTokens(final.AudioDescription))
		total = total.Add(rate.OutputTokenPrice.Mul(out).Div(perThousand))
	}

	return total, nil
}

// Estimate is the pre-flight cost proxy used by the admission gate: the
// input text priced as if it were both prompt and completion, plus a fixed
// surcharge when an attachment is present.
func (c Calculator) Estimate(msg domain.TranscribedMessage, imageSurcharge decimal.Decimal) (decimal.Decimal, error) {
	rate, err := c.caps.Rate(domain.ModalityText)
	if err != nil {
		return decimal.Zero, err
	}
	tokens := decimal.NewFromInt(countTokens(msg.Text) + countTokens(msg.VoiceTranscription))
	total := rate.InputTokenPrice.Add(rate.OutputTokenPrice).Mul(tokens).Div(perThousand)
	if msg.HasImage() {
		total = total.Add(imageSurcharge)
	}
	return total, nil
}
