package domain

import "context"

// TextRequest carries everything a text generation stream needs.
type TextRequest struct {
	SystemPrompt string
	UserInput    string
	History      []DialogTurn
}

// TextStreamer produces a finite, non-restartable stream of text deltas.
// Implementations send each delta on out and close out before returning.
// The returned error is the stream's terminal status.
type TextStreamer interface {
	StreamText(ctx context.Context, req TextRequest, out chan<- string) error
}

// ImageGenerator performs one single-shot, high-latency image generation
// call and returns the URL of the produced image.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, systemPrompt, description string) (string, error)
}

// SpeechSynthesizer performs one non-streaming text-to-speech call.
type SpeechSynthesizer interface {
	GenerateAudio(ctx context.Context, systemPrompt, text, voiceID string) ([]byte, error)
}

// VisionDescriber reduces an attached image to a textual description.
// Returns a *ModerationError when the image content is unsafe.
type VisionDescriber interface {
	DescribeImage(ctx context.Context, image []byte) (string, error)
}

// AudioTranscriber reduces an attached voice clip to text.
// Returns a *ModerationError when the audio content is unsafe.
type AudioTranscriber interface {
	TranscribeAudio(ctx context.Context, audio []byte) (string, error)
}

// Moderator runs the content-safety check on input text. A nil return means
// the text is safe; flagged content yields a *ModerationError.
type Moderator interface {
	CheckText(ctx context.Context, text string) error
}

// Classification is the classifier's verdict for one request.
// ImageDescription is set only for OutputTextWithImage and describes the
// image the generation pipeline should produce.
type Classification struct {
	Type             OutputType
	ImageDescription string
}

// OutputClassifier issues one structured-output-constrained model call that
// must conform to exactly one of the allowed output types. Validation
// retries are owned by the implementation; a value outside allowed is a
// contract violation.
type OutputClassifier interface {
	ClassifyOutput(ctx context.Context, systemPrompt, userInput string, allowed []OutputType) (Classification, error)
}

// FactExtractor derives durable user facts from a completed exchange.
// Implementations may return an empty slice; extraction failures should be
// swallowed by the implementation, not fail the request.
type FactExtractor interface {
	ExtractFacts(ctx context.Context, userHandle, userInput, reply string) ([]UserFact, error)
}

// EngageChecker decides whether the bot should reply to a group message
// that did not mention it.
type EngageChecker interface {
	EngageNeeded(ctx context.Context, userInput string) (bool, error)
}
