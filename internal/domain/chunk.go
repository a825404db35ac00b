package domain

import "github.com/shopspring/decimal"

// Modality identifies an input or output medium a model can handle.
type Modality string

const (
	ModalityText             Modality = "text"
	ModalityVision           Modality = "vision"
	ModalityAudioRecognition Modality = "audio_recognition"
	ModalityAudioGeneration  Modality = "audio_generation"
	ModalityImageGeneration  Modality = "image_generation"
)

// OutputType is the response modality chosen by the classifier for one
// request. It is decided exactly once; downstream code switches on it a
// single time to pick the generation pipeline.
type OutputType string

const (
	// OutputTextOnly is always available regardless of capability flags.
	OutputTextOnly      OutputType = "text_only"
	OutputAudioOnly     OutputType = "audio_only"
	OutputTextWithImage OutputType = "text_with_image"
)

// StreamChunk is one unit of the orchestrator's output stream.
//
// CumulativeText is the append-only running total, TextDelta the portion
// added since the previous chunk. Exactly one chunk in a sequence has
// IsFinal set, and it is the last one. TotalPrice is nil on every non-final
// chunk. At most one of ImageURL/AudioBytes is populated for a request.
type StreamChunk struct {
	IsFinal          bool
	CumulativeText   string
	TextDelta        string
	ImageURL         string
	ImageDescription string
	AudioBytes       []byte
	AudioDescription string
	TotalPrice       *decimal.Decimal
	GeneratedFacts   []UserFact
}
