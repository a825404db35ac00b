// Package capability derives a read-only per-request view of which
// modalities are enabled and what their pricing rates are. A Set is computed
// once per request from the configuration snapshot and passed explicitly to
// every component that needs it; it is never mutated mid-request.
package capability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"rolebot/internal/config"
	"rolebot/internal/domain"
)

// Rate is one model's rate card. Token prices are per 1K tokens, pixel
// prices per 1M pixels.
type Rate struct {
	InputTokenPrice  decimal.Decimal
	OutputTokenPrice decimal.Decimal
	InputPixelPrice  decimal.Decimal
	OutputPixelPrice decimal.Decimal
}

// Set answers "is modality X enabled" and resolves the governing rate per
// modality. Read-only for the duration of one request.
type Set struct {
	modalities map[domain.Modality]config.ModalityConfig
}

// New snapshots the AI config into a capability set.
func New(cfg config.AIConfig) Set {
	return Set{modalities: map[domain.Modality]config.ModalityConfig{
		domain.ModalityText:             cfg.TextGeneration,
		domain.ModalityVision:           cfg.Vision,
		domain.ModalityAudioRecognition: cfg.AudioRecognition,
		domain.ModalityAudioGeneration:  cfg.AudioGeneration,
		domain.ModalityImageGeneration:  cfg.ImageGeneration,
	}}
}

// CanUse reports whether the modality is enabled and has at least one model.
func (s Set) CanUse(m domain.Modality) bool {
	mc, ok := s.modalities[m]
	return ok && mc.Enabled && len(mc.Models) > 0
}

// Model returns the name of the governing model for the modality: the one
// flagged as default, or the first configured one.
func (s Set) Model(m domain.Modality) (string, error) {
	mc, err := s.governing(m)
	if err != nil {
		return "", err
	}
	return mc.Name, nil
}

// Rate returns the governing model's rate card for the modality.
func (s Set) Rate(m domain.Modality) (Rate, error) {
	mc, err := s.governing(m)
	if err != nil {
		return Rate{}, err
	}
	return Rate{
		InputTokenPrice:  decimal.NewFromFloat(mc.Rate.InputTokenPrice),
		OutputTokenPrice: decimal.NewFromFloat(mc.Rate.OutputTokenPrice),
		InputPixelPrice:  decimal.NewFromFloat(mc.Rate.InputPixelPrice),
		OutputPixelPrice: decimal.NewFromFloat(mc.Rate.OutputPixelPrice),
	}, nil
}

// InputImagePixels returns the pixel count of the configured vision input
// size.
func (s Set) InputImagePixels() (int64, error) {
	return parsePixels("vision.imageSize", s.modalities[domain.ModalityVision].ImageSize)
}

// OutputImagePixels returns the pixel count of the configured generated
// image size.
func (s Set) OutputImagePixels() (int64, error) {
	return parsePixels("imageGeneration.imageSize", s.modalities[domain.ModalityImageGeneration].ImageSize)
}

// OutputImageSize returns the raw WIDTHxHEIGHT string for image generation.
func (s Set) OutputImageSize() string {
	return s.modalities[domain.ModalityImageGeneration].ImageSize
}

// Voice returns the configured synthesis voice.
func (s Set) Voice() string {
	return s.modalities[domain.ModalityAudioGeneration].Voice
}

// governing resolves the model record whose rate governs pricing: the
// default-flagged model if one exists, the first configured model otherwise.
func (s Set) governing(m domain.Modality) (config.ModelConfig, error) {
	mc, ok := s.modalities[m]
	if !ok || len(mc.Models) == 0 {
		return config.ModelConfig{}, &domain.ConfigError{
			Field:  string(m),
			Detail: "no models configured",
		}
	}
	keys := make([]string, 0, len(mc.Models))
	for k := range mc.Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if mc.Models[k].Default {
			return withName(k, mc.Models[k]), nil
		}
	}
	return withName(keys[0], mc.Models[keys[0]]), nil
}

func withName(key string, mc config.ModelConfig) config.ModelConfig {
	if mc.Name == "" {
		mc.Name = key
	}
	return mc
}

// parsePixels parses a WIDTHxHEIGHT dimension string. Malformed values are
// a configuration error, never silently defaulted.
func parsePixels(field, size string) (int64, error) {
	parts := strings.Split(size, "x")
	if len(parts) != 2 {
		return 0, &domain.ConfigError{
			Field:  field,
			Detail: fmt.Sprintf("%q is not in WIDTHxHEIGHT form", size),
		}
	}
	w, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || w <= 0 {
		return 0, &domain.ConfigError{Field: field, Detail: fmt.Sprintf("bad width in %q", size)}
	}
	h, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || h <= 0 {
		return 0, &domain.ConfigError{Field: field, Detail: fmt.Sprintf("bad height in %q", size)}
	}
	return w * h, nil
}
