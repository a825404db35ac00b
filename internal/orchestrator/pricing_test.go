package orchestrator

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"rolebot/internal/capability"
	"rolebot/internal/config"
	"rolebot/internal/domain"
)

func pricingConfig() config.AIConfig {
	return config.AIConfig{
		TextGeneration: config.ModalityConfig{
			Enabled: true,
			Models: map[string]config.ModelConfig{
				"text": {Name: "gpt-4o-mini", Default: true, Rate: config.RateConfig{
					InputTokenPrice:  1, // per 1K tokens
					OutputTokenPrice: 2,
				}},
			},
		},
		Vision: config.ModalityConfig{
			Enabled:   true,
			ImageSize: "1000x1000",
			Models: map[string]config.ModelConfig{
				"vision": {Name: "gpt-4o", Default: true, Rate: config.RateConfig{
					InputPixelPrice: 5, // per 1M pixels
				}},
			},
		},
		AudioRecognition: config.ModalityConfig{
			Enabled: true,
			Models: map[string]config.ModelConfig{
				"asr": {Name: "whisper-1", Default: true, Rate: config.RateConfig{InputTokenPrice: 4}},
			},
		},
		AudioGeneration: config.ModalityConfig{
			Enabled: true,
			Voice:   "alloy",
			Models: map[string]config.ModelConfig{
				"tts": {Name: "tts-1", Default: true, Rate: config.RateConfig{OutputTokenPrice: 8}},
			},
		},
		ImageGeneration: config.ModalityConfig{
			Enabled:   true,
			ImageSize: "2000x1000",
			Models: map[string]config.ModelConfig{
				"img": {Name: "dall-e-3", Default: true, Rate: config.RateConfig{OutputPixelPrice: 10}},
			},
		},
	}
}

func TestCountTokens(t *testing.T) {
	if got := countTokens(""); got != 0 {
		t.Fatalf("empty text: expected 0 tokens, got %d", got)
	}
	if got := countTokens("ab"); got != 1 {
		t.Fatalf("short text: expected minimum of 1 token, got %d", got)
	}
	if got := countTokens(strings.Repeat("a", 40)); got != 10 {
		t.Fatalf("40 chars: expected 10 tokens, got %d", got)
	}
}

func TestPrice_TextOnly(t *testing.T) {
	calc := NewCalculator(capability.New(pricingConfig()))

	msg := domain.TranscribedMessage{Text: strings.Repeat("q", 4000)} // 1000 tokens
	final := domain.StreamChunk{IsFinal: true, CumulativeText: strings.Repeat("a", 8000)} // 2000 tokens

	price, err := calc.Price(msg, final)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// 1000 tokens * 1/1K + 2000 tokens * 2/1K = 1 + 4 = 5
	if !price.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected 5, got %s", price)
	}
}

func TestPrice_ImageTermsGatedByCapability(t *testing.T) {
	cfg := pricingConfig()
	cfg.ImageGeneration.Enabled = false
	calc := NewCalculator(capability.New(cfg))

	msg := domain.TranscribedMessage{Text: "hi"}
	final := domain.StreamChunk{IsFinal: true, CumulativeText: "ok", ImageURL: "https://img.example/1.png"}

	price, err := calc.Price(msg, final)
	if err != nil {
		t.Fatalf("price: %v", err)
	}

	cfg.ImageGeneration.Enabled = true
	withImage, err := NewCalculator(capability.New(cfg)).Price(msg, final)
	if err != nil {
		t.Fatalf("price with image: %v", err)
	}
	// 2M output pixels * 10/1M = 20 more than the gated version.
	diff := withImage.Sub(price)
	if !diff.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected image term of 20, got %s", diff)
	}
}

func TestPrice_InputImageAndVoice(t *testing.T) {
	calc := NewCalculator(capability.New(pricingConfig()))

	msg := domain.TranscribedMessage{
		Text:               "hello",
		ImageDescription:   "a cat",
		VoiceTranscription: strings.Repeat("v", 400), // 100 tokens
	}
	final := domain.StreamChunk{IsFinal: true, CumulativeText: "hi"}

	price, err := calc.Price(msg, final)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// Vision term: 1M input pixels * 5/1M = 5.
	// Audio recognition term: 100 tokens * 4/1K = 0.4.
	// Text terms: 1 in token * 1/1K + 1 out token * 2/1K = 0.003.
	want := decimal.NewFromFloat(5.403)
	if !price.Equal(want) {
		t.Fatalf("expected %s, got %s", want, price)
	}
}

func TestPrice_AudioOutput(t *testing.T) {
	calc := NewCalculator(capability.New(pricingConfig()))

	msg := domain.TranscribedMessage{Text: "sing"}
	final := domain.StreamChunk{
		IsFinal:          true,
		AudioBytes:       []byte{1, 2, 3},
		AudioDescription: strings.Repeat("s", 4000), // 1000 tokens
	}

	price, err := calc.Price(msg, final)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// Audio generation term alone: 1000 tokens * 8/1K = 8.
	if price.LessThan(decimal.NewFromInt(8)) {
		t.Fatalf("expected at least 8, got %s", price)
	}
	if price.IsNegative() {
		t.Fatalf("price must be non-negative, got %s", price)
	}
}

func TestEstimate_ImageSurcharge(t *testing.T) {
	calc := NewCalculator(capability.New(pricingConfig()))

	plain := domain.TranscribedMessage{Text: strings.Repeat("x", 40)}
	withImage := plain
	withImage.ImageDescription = "a dog"

	surcharge := decimal.NewFromInt(3)
	base, err := calc.Estimate(plain, surcharge)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	imaged, err := calc.Estimate(withImage, surcharge)
	if err != nil {
		t.Fatalf("estimate with image: %v", err)
	}
	if !imaged.Sub(base).Equal(surcharge) {
		t.Fatalf("expected surcharge of %s, got %s", surcharge, imaged.Sub(base))
	}
}

func TestCheckBudget(t *testing.T) {
	err := checkBudget(decimal.NewFromInt(95), decimal.NewFromInt(100), decimal.NewFromInt(10))
	if err == nil {
		t.Fatal("expected budget rejection")
	}
	var budErr *domain.BudgetError
	if !errors.As(err, &budErr) {
		t.Fatalf("expected *domain.BudgetError, got %T", err)
	}

	if err := checkBudget(decimal.NewFromInt(50), decimal.NewFromInt(100), decimal.NewFromInt(10)); err != nil {
		t.Fatalf("expected admission, got %v", err)
	}
}
