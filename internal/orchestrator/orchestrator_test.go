package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rolebot/internal/capability"
	"rolebot/internal/domain"
)

// --- fakes ---

type fakeText struct {
	deltas []string
	err    error
	calls  atomic.Int64
}

func (f *fakeText) StreamText(ctx context.Context, req domain.TextRequest, out chan<- string) error {
	f.calls.Add(1)
	defer close(out)
	for _, d := range f.deltas {
		select {
		case out <- d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

type fakeImage struct {
	url   string
	err   error
	delay time.Duration
	calls atomic.Int64

	gotDescription string
}

func (f *fakeImage) GenerateImage(ctx context.Context, systemPrompt, description string) (string, error) {
	f.calls.Add(1)
	f.gotDescription = description
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.url, f.err
}

type fakeSpeech struct {
	audio []byte
	err   error
	calls atomic.Int64
}

func (f *fakeSpeech) GenerateAudio(ctx context.Context, systemPrompt, text, voiceID string) ([]byte, error) {
	f.calls.Add(1)
	return f.audio, f.err
}

type fakeClassifier struct {
	decision domain.Classification
	err      error
	calls    atomic.Int64
}

func (f *fakeClassifier) ClassifyOutput(ctx context.Context, systemPrompt, userInput string, allowed []domain.OutputType) (domain.Classification, error) {
	f.calls.Add(1)
	return f.decision, f.err
}

type fakeModerator struct {
	reject string // non-empty = reject with this reason
}

func (f *fakeModerator) CheckText(ctx context.Context, text string) error {
	if f.reject != "" {
		return &domain.ModerationError{Reason: f.reject}
	}
	return nil
}

type fakeUsage struct {
	usage decimal.Decimal
	limit decimal.Decimal
}

func (f *fakeUsage) GetUsage(ctx context.Context, userHandle string) (decimal.Decimal, error) {
	return f.usage, nil
}

func (f *fakeUsage) GetLimit(ctx context.Context, userHandle string) (decimal.Decimal, error) {
	return f.limit, nil
}

type fakeFacts struct {
	facts []domain.UserFact
}

func (f *fakeFacts) ExtractFacts(ctx context.Context, userHandle, userInput, reply string) ([]domain.UserFact, error) {
	return f.facts, nil
}

// --- helpers ---

type deps struct {
	text       *fakeText
	image      *fakeImage
	speech     *fakeSpeech
	classifier *fakeClassifier
	moderator  *fakeModerator
	usage      *fakeUsage
	facts      *fakeFacts
}

func newDeps() *deps {
	return &deps{
		text:       &fakeText{deltas: []string{"Hello", ", ", "world"}},
		image:      &fakeImage{url: "https://img.example/out.png"},
		speech:     &fakeSpeech{audio: []byte("mp3-bytes")},
		classifier: &fakeClassifier{decision: domain.Classification{Type: domain.OutputTextOnly}},
		moderator:  &fakeModerator{},
		usage:      &fakeUsage{usage: decimal.Zero, limit: decimal.NewFromInt(100)},
	}
}

func (d *deps) orchestrator() *Orchestrator {
	cfg := Config{
		Text:       d.text,
		Image:      d.image,
		Speech:     d.speech,
		Classifier: d.classifier,
		Moderator:  d.moderator,
		Usage:      d.usage,
	}
	if d.facts != nil {
		cfg.Facts = d.facts
	}
	return New(cfg)
}

func textOnlyCaps() capability.Set {
	cfg := pricingConfig()
	cfg.AudioGeneration.Enabled = false
	cfg.ImageGeneration.Enabled = false
	return capability.New(cfg)
}

func request(caps capability.Set) Request {
	return Request{
		ID:           "req-1",
		Person:       domain.Person{UserID: 7, UserHandle: "alice"},
		Chat:         domain.ChatContext{ChatID: "42"},
		Message:      domain.TranscribedMessage{Text: "tell me a story", Timestamp: time.Now()},
		SystemPrompt: "You are a storyteller.",
		UserPrompt:   "The user alice just said: tell me a story",
		Caps:         caps,
	}
}

func collect(t *testing.T, o *Orchestrator, req Request) ([]domain.StreamChunk, error) {
	t.Helper()
	out := make(chan domain.StreamChunk, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- o.Respond(context.Background(), req, out) }()
	var chunks []domain.StreamChunk
	for c := range out {
		chunks = append(chunks, c)
	}
	return chunks, <-errCh
}

// --- tests ---

func TestRespond_TextOnlyStream(t *testing.T) {
	d := newDeps()
	chunks, err := collect(t, d.orchestrator(), request(textOnlyCaps()))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	if len(chunks) != 4 { // 3 deltas + final
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	prev := 0
	for i, c := range chunks {
		if len(c.CumulativeText) < prev {
			t.Fatalf("chunk %d: cumulative text shrank", i)
		}
		prev = len(c.CumulativeText)
		if c.IsFinal != (i == len(chunks)-1) {
			t.Fatalf("chunk %d: IsFinal misplaced", i)
		}
		if !c.IsFinal && c.TotalPrice != nil {
			t.Fatalf("chunk %d: non-final chunk carries a price", i)
		}
	}
	final := chunks[len(chunks)-1]
	if final.CumulativeText != "Hello, world" {
		t.Fatalf("expected full text, got %q", final.CumulativeText)
	}
	if final.TextDelta != "" {
		t.Fatalf("final chunk must carry an empty delta, got %q", final.TextDelta)
	}
	if final.TotalPrice == nil || final.TotalPrice.IsNegative() {
		t.Fatalf("final price must be non-null and non-negative, got %v", final.TotalPrice)
	}
	if final.ImageURL != "" || len(final.AudioBytes) > 0 {
		t.Fatal("text-only response must not carry image or audio")
	}
}

func TestRespond_ClassifierSkippedWhenOnlyTextEnabled(t *testing.T) {
	d := newDeps()
	// Even a classifier that would pick something else is never consulted.
	d.classifier.decision = domain.Classification{Type: domain.OutputTextWithImage}

	_, err := collect(t, d.orchestrator(), request(textOnlyCaps()))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if d.classifier.calls.Load() != 0 {
		t.Fatal("classifier must not be called when only text is enabled")
	}
	if d.image.calls.Load() != 0 {
		t.Fatal("image generator must not be called")
	}
}

func TestRespond_BudgetExceeded(t *testing.T) {
	d := newDeps()
	d.usage.usage = decimal.NewFromInt(95)
	d.usage.limit = decimal.NewFromInt(100)

	req := request(textOnlyCaps())
	// 40000 runes -> 10000 tokens at (1+2)/1K -> estimate 30, so 95 + 30 >= 100.
	req.Message.Text = strings.Repeat("x", 40000)

	chunks, err := collect(t, d.orchestrator(), req)
	if err == nil {
		t.Fatal("expected budget rejection")
	}
	var budErr *domain.BudgetError
	if !errors.As(err, &budErr) {
		t.Fatalf("expected *domain.BudgetError, got %T: %v", err, err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected zero chunks, got %d", len(chunks))
	}
	if d.text.calls.Load() != 0 || d.classifier.calls.Load() != 0 {
		t.Fatal("no generation or classification may happen after a budget rejection")
	}
}

func TestRespond_ModerationRejected(t *testing.T) {
	d := newDeps()
	d.moderator.reject = "unsafe content"

	chunks, err := collect(t, d.orchestrator(), request(textOnlyCaps()))
	if err == nil {
		t.Fatal("expected moderation rejection")
	}
	var modErr *domain.ModerationError
	if !errors.As(err, &modErr) {
		t.Fatalf("expected *domain.ModerationError, got %T: %v", err, err)
	}
	if modErr.Reason != "unsafe content" {
		t.Fatalf("expected reason to carry through, got %q", modErr.Reason)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected zero chunks, got %d", len(chunks))
	}
	if d.text.calls.Load() != 0 || d.image.calls.Load() != 0 || d.speech.calls.Load() != 0 {
		t.Fatal("no provider call may be made for rejected input")
	}
}

func TestRespond_AudioOnly(t *testing.T) {
	d := newDeps()
	d.classifier.decision = domain.Classification{Type: domain.OutputAudioOnly}

	caps := capability.New(pricingConfig()) // everything enabled
	chunks, err := collect(t, d.orchestrator(), request(caps))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("audio responses emit exactly one chunk, got %d", len(chunks))
	}
	final := chunks[0]
	if !final.IsFinal {
		t.Fatal("the single audio chunk must be final")
	}
	if string(final.AudioBytes) != "mp3-bytes" {
		t.Fatalf("expected synthesized audio, got %q", final.AudioBytes)
	}
	if final.AudioDescription != "Hello, world" {
		t.Fatalf("audio description must be the synthesized text, got %q", final.AudioDescription)
	}
	if final.ImageURL != "" {
		t.Fatal("audio response must not carry an image")
	}
	if final.TotalPrice == nil {
		t.Fatal("final chunk must be priced")
	}
}

func TestRespond_TextWithImage(t *testing.T) {
	d := newDeps()
	d.classifier.decision = domain.Classification{
		Type:             domain.OutputTextWithImage,
		ImageDescription: "a watercolor fox",
	}
	d.image.delay = 20 * time.Millisecond

	caps := capability.New(pricingConfig())
	chunks, err := collect(t, d.orchestrator(), request(caps))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	final := chunks[len(chunks)-1]
	if !final.IsFinal {
		t.Fatal("last chunk must be final")
	}
	if final.ImageURL != "https://img.example/out.png" {
		t.Fatalf("expected image URL on the final chunk, got %q", final.ImageURL)
	}
	if final.ImageDescription != "a watercolor fox" {
		t.Fatalf("expected the classified description, got %q", final.ImageDescription)
	}
	if final.CumulativeText != "Hello, world" {
		t.Fatalf("expected completed text, got %q", final.CumulativeText)
	}
	if d.image.gotDescription != "a watercolor fox" {
		t.Fatalf("image generator received %q", d.image.gotDescription)
	}
	// Text deltas arrive before the final chunk despite the concurrent
	// image task.
	for _, c := range chunks[:len(chunks)-1] {
		if c.IsFinal || c.ImageURL != "" {
			t.Fatal("no image data may appear before the final chunk")
		}
	}
}

func TestRespond_ImageFailureFailsRequest(t *testing.T) {
	d := newDeps()
	d.classifier.decision = domain.Classification{Type: domain.OutputTextWithImage, ImageDescription: "a fox"}
	d.image.err = errors.New("image backend down")
	d.image.url = ""

	caps := capability.New(pricingConfig())
	chunks, err := collect(t, d.orchestrator(), request(caps))
	if err == nil {
		t.Fatal("image failure must fail the request even after text completed")
	}
	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *domain.ProviderError, got %T: %v", err, err)
	}
	if provErr.Op != "image_generation" {
		t.Fatalf("expected image_generation op, got %q", provErr.Op)
	}
	for _, c := range chunks {
		if c.IsFinal {
			t.Fatal("no final chunk may claim success when the image failed")
		}
	}
}

func TestRespond_TextProviderError(t *testing.T) {
	d := newDeps()
	d.text.err = errors.New("stream reset")

	_, err := collect(t, d.orchestrator(), request(textOnlyCaps()))
	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *domain.ProviderError, got %T: %v", err, err)
	}
	if provErr.Op != "text_stream" {
		t.Fatalf("expected text_stream op, got %q", provErr.Op)
	}
}

func TestRespond_ClassifierErrorIsFatal(t *testing.T) {
	d := newDeps()
	d.classifier.err = errors.New("never conformed")

	caps := capability.New(pricingConfig())
	chunks, err := collect(t, d.orchestrator(), request(caps))
	var clsErr *domain.ClassificationError
	if !errors.As(err, &clsErr) {
		t.Fatalf("expected *domain.ClassificationError, got %T: %v", err, err)
	}
	if len(chunks) != 0 {
		t.Fatal("no chunks may be emitted when classification fails")
	}
	if d.text.calls.Load() != 0 {
		t.Fatal("no generation may happen when classification fails")
	}
}

func TestRespond_ClassifierOutsideOfferedSet(t *testing.T) {
	d := newDeps()
	// Audio is not enabled, so AudioOnly is outside the offered set.
	cfg := pricingConfig()
	cfg.AudioGeneration.Enabled = false
	d.classifier.decision = domain.Classification{Type: domain.OutputAudioOnly}

	_, err := collect(t, d.orchestrator(), request(capability.New(cfg)))
	var clsErr *domain.ClassificationError
	if !errors.As(err, &clsErr) {
		t.Fatalf("expected *domain.ClassificationError, got %T: %v", err, err)
	}
}

func TestRespond_FactsOnFinalChunk(t *testing.T) {
	d := newDeps()
	d.facts = &fakeFacts{facts: []domain.UserFact{{UserHandle: "alice", Fact: "likes foxes"}}}

	chunks, err := collect(t, d.orchestrator(), request(textOnlyCaps()))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	for _, c := range chunks {
		if !c.IsFinal && len(c.GeneratedFacts) > 0 {
			t.Fatal("facts must be empty until the final chunk")
		}
	}
	final := chunks[len(chunks)-1]
	if len(final.GeneratedFacts) != 1 || final.GeneratedFacts[0].Fact != "likes foxes" {
		t.Fatalf("expected extracted facts on the final chunk, got %v", final.GeneratedFacts)
	}
}

func TestRespond_Cancellation(t *testing.T) {
	d := newDeps()
	d.classifier.decision = domain.Classification{Type: domain.OutputTextWithImage, ImageDescription: "a fox"}
	d.image.delay = 10 * time.Second // would block the join without cancellation

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.StreamChunk, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- d.orchestrator().Respond(ctx, request(capability.New(pricingConfig())), out) }()

	// Let the text stream finish, then cancel while the image is in flight.
	time.Sleep(20 * time.Millisecond)
	cancel()

	for range out {
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request leaked the in-flight image task")
	}
}
