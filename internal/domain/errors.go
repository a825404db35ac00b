package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ModerationError marks input that failed the content-safety check. It is an
// expected outcome: the caller turns it into a localized rejection message
// and no generation happens.
type ModerationError struct {
	Reason string
}

func (e *ModerationError) Error() string {
	if e.Reason == "" {
		return "message rejected by moderation"
	}
	return "message rejected by moderation: " + e.Reason
}

// BudgetError marks a request whose estimated cost would push the user over
// their usage limit. Raised by the admission gate before any generation.
type BudgetError struct {
	Usage    decimal.Decimal
	Limit    decimal.Decimal
	Estimate decimal.Decimal
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("usage limit exceeded: %s used + %s estimated > %s limit",
		e.Usage, e.Estimate, e.Limit)
}

// ClassificationError means the structured-output call never produced a
// value conforming to one of the offered schemas. Fatal for the request.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("output type classification failed: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// ProviderError wraps a backend failure during generation. Fatal for the
// request; chunks already emitted are not retracted.
type ProviderError struct {
	Op  string // "text_stream", "image_generation", "audio_generation"
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ConfigError marks malformed model or rate configuration, e.g. an image
// size not in WIDTHxHEIGHT form. Surfaces at startup validation, or per
// request if configuration was edited since.
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Detail)
}
