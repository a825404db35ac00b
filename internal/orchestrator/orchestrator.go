// Package orchestrator turns one transcribed user message into a stream of
// response chunks: it gates the request on budget and moderation, classifies
// the output modality, runs the matching generation pipeline, and prices the
// completed exchange onto the terminal chunk.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"rolebot/internal/capability"
	"rolebot/internal/domain"
	"rolebot/internal/metrics"
)

// Request is one user turn plus everything derived for it. All fields are
// owned by this invocation; the capability set is a read-only snapshot.
type Request struct {
	ID           string
	Person       domain.Person
	Chat         domain.ChatContext
	Message      domain.TranscribedMessage
	History      []domain.DialogTurn
	SystemPrompt string
	UserPrompt   string
	Caps         capability.Set
}

// Orchestrator coordinates the collaborators for the full pipeline:
// gate -> classifier -> executor -> price.
type Orchestrator struct {
	text       domain.TextStreamer
	image      domain.ImageGenerator
	speech     domain.SpeechSynthesizer
	classifier domain.OutputClassifier
	moderator  domain.Moderator
	facts      domain.FactExtractor
	usage      UsageReader
	logger     *slog.Logger

	imageSurcharge decimal.Decimal
}

// Config holds the orchestrator's collaborators.
type Config struct {
	Text       domain.TextStreamer
	Image      domain.ImageGenerator
	Speech     domain.SpeechSynthesizer
	Classifier domain.OutputClassifier
	Moderator  domain.Moderator
	Facts      domain.FactExtractor // optional
	Usage      UsageReader
	Logger     *slog.Logger

	// ImageSurcharge is added to the admission estimate when the message
	// carries an image.
	ImageSurcharge float64
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		text:           cfg.Text,
		image:          cfg.Image,
		speech:         cfg.Speech,
		classifier:     cfg.Classifier,
		moderator:      cfg.Moderator,
		facts:          cfg.Facts,
		usage:          cfg.Usage,
		logger:         cfg.Logger,
		imageSurcharge: decimal.NewFromFloat(cfg.ImageSurcharge),
	}
}

// allowedOutputTypes restricts the schema set offered to the classifier to
// modalities that are currently enabled. TextOnly is always offered.
func allowedOutputTypes(caps capability.Set) []domain.OutputType {
	allowed := []domain.OutputType{domain.OutputTextOnly}
	if caps.CanUse(domain.ModalityAudioGeneration) {
		allowed = append(allowed, domain.OutputAudioOnly)
	}
	if caps.CanUse(domain.ModalityImageGeneration) {
		allowed = append(allowed, domain.OutputTextWithImage)
	}
	return allowed
}

// Respond runs the full pipeline for one request, emitting chunks on out.
// It closes out before returning; the returned error is the request's
// terminal status. The sequence is lazy, finite, and non-restartable:
// exactly one chunk has IsFinal set when the error is nil, and chunks
// already emitted before a mid-stream failure are not retracted.
//
// Side effects (persisting the exchange, recording usage points, storing
// facts) are the caller's job after the sequence is exhausted.
func (o *Orchestrator) Respond(ctx context.Context, req Request, out chan<- domain.StreamChunk) error {
	defer close(out)

	if err := o.admit(ctx, req); err != nil {
		var modErr *domain.ModerationError
		var budErr *domain.BudgetError
		switch {
		case errors.As(err, &modErr):
			metrics.Collector.Counter("rolebot_moderation_rejections_total", "Messages rejected by moderation", "").Inc()
			o.logger.Info("message rejected by moderation", "chat", req.Chat.ChatID, "reason", modErr.Reason)
		case errors.As(err, &budErr):
			metrics.Collector.Counter("rolebot_budget_rejections_total", "Requests rejected by the usage limit", "").Inc()
			o.logger.Info("usage limit exceeded",
				"user", req.Person.UserHandle,
				"usage", budErr.Usage.String(),
				"limit", budErr.Limit.String(),
			)
		}
		return err
	}

	decision, err := o.classify(ctx, req)
	if err != nil {
		return err
	}
	o.logger.Debug("output type classified", "request", req.ID, "type", string(decision.Type))
	metrics.Collector.Counter("rolebot_responses_total", "Responses by output type", `type="`+string(decision.Type)+`"`).Inc()

	final, err := o.execute(ctx, req, decision, out)
	if err != nil {
		return err
	}

	price, err := NewCalculator(req.Caps).Price(req.Message, final)
	if err != nil {
		return err
	}
	final.TotalPrice = &price
	final.GeneratedFacts = o.extractFacts(ctx, req, final)

	select {
	case out <- final:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// classify selects the output modality. When nothing richer than text is
// enabled the model call is skipped entirely: TextOnly is the only
// conforming value and the universal fallback.
func (o *Orchestrator) classify(ctx context.Context, req Request) (domain.Classification, error) {
	allowed := allowedOutputTypes(req.Caps)
	if len(allowed) == 1 {
		return domain.Classification{Type: domain.OutputTextOnly}, nil
	}
	// Conversation history is deliberately withheld here: free-form history
	// degrades structured-output conformance.
	decision, err := o.classifier.ClassifyOutput(ctx, req.SystemPrompt, req.UserPrompt, allowed)
	if err != nil {
		return domain.Classification{}, &domain.ClassificationError{Err: err}
	}
	for _, t := range allowed {
		if decision.Type == t {
			return decision, nil
		}
	}
	return domain.Classification{}, &domain.ClassificationError{
		Err: errors.New("classifier returned a type outside the offered set: " + string(decision.Type)),
	}
}

// execute dispatches to the pipeline for the classified output type and
// returns the unpriced terminal chunk. The modality is decided exactly once
// here; nothing downstream re-branches on it.
func (o *Orchestrator) execute(ctx context.Context, req Request, decision domain.Classification, out chan<- domain.StreamChunk) (domain.StreamChunk, error) {
	switch decision.Type {
	case domain.OutputTextOnly:
		return o.runTextOnly(ctx, req, out)
	case domain.OutputAudioOnly:
		return o.runAudioOnly(ctx, req)
	case domain.OutputTextWithImage:
		return o.runTextWithImage(ctx, req, decision.ImageDescription, out)
	default:
		return domain.StreamChunk{}, &domain.ClassificationError{
			Err: errors.New("unknown output type: " + string(decision.Type)),
		}
	}
}

// streamText drives a text stream and emits one non-final chunk per delta.
// It returns the accumulated text once the stream is exhausted.
func (o *Orchestrator) streamText(ctx context.Context, req Request, systemPrompt string, out chan<- domain.StreamChunk) (string, error) {
	deltas := make(chan string, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- o.text.StreamText(ctx, domain.TextRequest{
			SystemPrompt: systemPrompt,
			UserInput:    req.UserPrompt,
			History:      req.History,
		}, deltas)
	}()

	var acc strings.Builder
	for delta := range deltas {
		if delta == "" {
			continue
		}
		acc.WriteString(delta)
		select {
		case out <- domain.StreamChunk{CumulativeText: acc.String(), TextDelta: delta}:
		case <-ctx.Done():
			// Drain so the producer goroutine can finish and report.
			for range deltas {
			}
			<-errCh
			return "", ctx.Err()
		}
	}
	// StreamText closes the delta channel before returning, so the range
	// exits first. Block on errCh to see the goroutine's verdict.
	if err := <-errCh; err != nil {
		return "", &domain.ProviderError{Op: "text_stream", Err: err}
	}
	return acc.String(), nil
}

// runTextOnly streams text deltas and finishes with a final chunk carrying
// the same cumulative text and an empty delta.
func (o *Orchestrator) runTextOnly(ctx context.Context, req Request, out chan<- domain.StreamChunk) (domain.StreamChunk, error) {
	text, err := o.streamText(ctx, req, req.SystemPrompt, out)
	if err != nil {
		return domain.StreamChunk{}, err
	}
	return domain.StreamChunk{IsFinal: true, CumulativeText: text}, nil
}

// runAudioOnly generates the reply text without emitting it, synthesizes it
// in one shot, and produces exactly one final chunk. Audio synthesis is not
// incrementally observable, so there are no intermediate chunks.
func (o *Orchestrator) runAudioOnly(ctx context.Context, req Request) (domain.StreamChunk, error) {
	// Re-checked here even though the classifier only offered this type
	// when enabled: capability may have changed since classification.
	if !req.Caps.CanUse(domain.ModalityAudioGeneration) {
		return domain.StreamChunk{}, &domain.ProviderError{
			Op:  "audio_generation",
			Err: errors.New("audio generation is not enabled"),
		}
	}

	sink := make(chan domain.StreamChunk, 64)
	go func() {
		for range sink {
		}
	}()
	text, err := o.streamText(ctx, req, req.SystemPrompt, sink)
	close(sink)
	if err != nil {
		return domain.StreamChunk{}, err
	}

	audio, err := o.speech.GenerateAudio(ctx, req.SystemPrompt, text, req.Caps.Voice())
	if err != nil {
		return domain.StreamChunk{}, &domain.ProviderError{Op: "audio_generation", Err: err}
	}
	return domain.StreamChunk{
		IsFinal:          true,
		AudioBytes:       audio,
		AudioDescription: text,
	}, nil
}

type imageResult struct {
	url string
	err error
}

// runTextWithImage fires the long-latency image generation immediately,
// streams text concurrently, and joins the image task exactly once after
// the text stream ends. Cancelling ctx cancels both tasks. The final chunk
// is only produced when both text and image succeeded; an image failure
// fails the whole request even if text streaming already completed.
func (o *Orchestrator) runTextWithImage(ctx context.Context, req Request, imageDescription string, out chan<- domain.StreamChunk) (domain.StreamChunk, error) {
	if !req.Caps.CanUse(domain.ModalityImageGeneration) {
		return domain.StreamChunk{}, &domain.ProviderError{
			Op:  "image_generation",
			Err: errors.New("image generation is not enabled"),
		}
	}
	if imageDescription == "" {
		imageDescription = req.UserPrompt
	}

	imgCh := make(chan imageResult, 1)
	go func() {
		url, err := o.image.GenerateImage(ctx, req.SystemPrompt, imageDescription)
		imgCh <- imageResult{url: url, err: err}
	}()

	systemPrompt := req.SystemPrompt +
		"\n\nAn image with the following description is already attached to your reply: " +
		imageDescription +
		"\nDo not narrate or describe the image in the text."
	text, err := o.streamText(ctx, req, systemPrompt, out)
	if err != nil {
		// The image goroutine sends into a buffered channel and observes
		// ctx; it does not leak.
		return domain.StreamChunk{}, err
	}

	var img imageResult
	select {
	case img = <-imgCh:
	case <-ctx.Done():
		return domain.StreamChunk{}, ctx.Err()
	}
	if img.err != nil {
		return domain.StreamChunk{}, &domain.ProviderError{Op: "image_generation", Err: img.err}
	}
	return domain.StreamChunk{
		IsFinal:          true,
		CumulativeText:   text,
		ImageURL:         img.url,
		ImageDescription: imageDescription,
	}, nil
}

// extractFacts asks the optional fact extractor for durable user facts.
// Extraction failures never fail the request.
func (o *Orchestrator) extractFacts(ctx context.Context, req Request, final domain.StreamChunk) []domain.UserFact {
	if o.facts == nil {
		return nil
	}
	reply := final.CumulativeText
	if reply == "" {
		reply = final.AudioDescription
	}
	facts, err := o.facts.ExtractFacts(ctx, req.Person.UserHandle, req.UserPrompt, reply)
	if err != nil {
		o.logger.Warn("fact extraction failed", "request", req.ID, "error", err)
		return nil
	}
	return facts
}
