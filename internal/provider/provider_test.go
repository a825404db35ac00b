package provider

import (
	"testing"
	"time"

	"rolebot/internal/domain"
)

func TestBuildMessages(t *testing.T) {
	req := domain.TextRequest{
		SystemPrompt: "You are a pirate.",
		UserInput:    "what next?",
		History: []domain.DialogTurn{
			{Sender: "alice", Text: "ahoy"},
			{Sender: domain.SenderBot, Text: "ahoy matey"},
			{Sender: "alice", Text: ""}, // empty turns are skipped
		},
	}

	msgs := buildMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].OfSystem == nil {
		t.Fatal("first message must be the system prompt")
	}
	if msgs[1].OfUser == nil {
		t.Fatal("history user turn must map to a user message")
	}
	if msgs[2].OfAssistant == nil {
		t.Fatal("bot turn must map to an assistant message")
	}
	if msgs[3].OfUser == nil {
		t.Fatal("last message must be the current user input")
	}
}

func TestBuildMessages_NoSystemPrompt(t *testing.T) {
	msgs := buildMessages(domain.TextRequest{UserInput: "hi"})
	if len(msgs) != 1 || msgs[0].OfUser == nil {
		t.Fatalf("expected a single user message, got %d", len(msgs))
	}
}

func TestChatParams_AppliesSamplingConfig(t *testing.T) {
	c, err := New(Config{APIKey: "test-key", Temperature: 0.3, MaxTokens: 512})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := c.chatParams("gpt-4o-mini", domain.TextRequest{UserInput: "hi"})
	if !params.Temperature.Valid() || params.Temperature.Value != 0.3 {
		t.Fatalf("temperature not applied: %+v", params.Temperature)
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 512 {
		t.Fatalf("completion cap not applied: %+v", params.MaxCompletionTokens)
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %q", params.Model)
	}
}

func TestChatParams_ZeroKeepsBackendDefaults(t *testing.T) {
	c, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := c.chatParams("gpt-4o-mini", domain.TextRequest{UserInput: "hi"})
	if params.Temperature.Valid() {
		t.Fatalf("zero temperature must be omitted, got %+v", params.Temperature)
	}
	if params.MaxCompletionTokens.Valid() {
		t.Fatalf("zero completion cap must be omitted, got %+v", params.MaxCompletionTokens)
	}
}

func TestTranscriptionFileCarriesName(t *testing.T) {
	f := transcriptionFile([]byte{0x4f, 0x67, 0x67, 0x53})

	named, ok := f.(interface{ Filename() string })
	if !ok {
		t.Fatal("upload reader must carry a filename for the multipart part")
	}
	if named.Filename() != "voice.ogg" {
		t.Fatalf("unexpected filename %q", named.Filename())
	}
	typed, ok := f.(interface{ ContentType() string })
	if !ok || typed.ContentType() != "audio/ogg" {
		t.Fatal("upload reader must carry the audio content type")
	}
}

func TestRequestTimeout(t *testing.T) {
	if got := requestTimeout(0); got != defaultHTTPTimeout {
		t.Fatalf("zero must fall back to the default, got %v", got)
	}
	if got := requestTimeout(10 * time.Second); got != 10*time.Second {
		t.Fatalf("configured timeout not honored, got %v", got)
	}
}

func TestParseClassification(t *testing.T) {
	allowed := []domain.OutputType{domain.OutputTextOnly, domain.OutputTextWithImage}

	decision, err := parseClassification(
		`{"output_type": "text_with_image", "image_description": "a red fox"}`, allowed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if decision.Type != domain.OutputTextWithImage {
		t.Fatalf("expected text_with_image, got %q", decision.Type)
	}
	if decision.ImageDescription != "a red fox" {
		t.Fatalf("expected image description to carry through, got %q", decision.ImageDescription)
	}
}

func TestParseClassification_NullDescription(t *testing.T) {
	allowed := []domain.OutputType{domain.OutputTextOnly, domain.OutputTextWithImage}

	decision, err := parseClassification(
		`{"output_type": "text_only", "image_description": null}`, allowed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if decision.Type != domain.OutputTextOnly || decision.ImageDescription != "" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestParseClassification_OutsideAllowedSet(t *testing.T) {
	allowed := []domain.OutputType{domain.OutputTextOnly}

	_, err := parseClassification(
		`{"output_type": "audio_only", "image_description": null}`, allowed)
	if err == nil {
		t.Fatal("expected an error for a type outside the offered set")
	}
}

func TestParseClassification_RepairsTruncatedJSON(t *testing.T) {
	allowed := []domain.OutputType{domain.OutputTextOnly, domain.OutputTextWithImage}

	// Missing closing brace, as truncated model output tends to be.
	decision, err := parseClassification(
		`{"output_type": "text_only", "image_description": null`, allowed)
	if err != nil {
		t.Fatalf("expected repair to salvage truncated output: %v", err)
	}
	if decision.Type != domain.OutputTextOnly {
		t.Fatalf("expected text_only, got %q", decision.Type)
	}
}

func TestClassifierSchema(t *testing.T) {
	allowed := []domain.OutputType{domain.OutputTextOnly, domain.OutputAudioOnly}
	schema := classifierSchema(allowed)

	if schema.Type != "object" {
		t.Fatalf("expected object schema, got %q", schema.Type)
	}
	if schema.AdditionalProperties == nil || schema.AdditionalProperties.Not == nil {
		t.Fatal("strict mode requires additionalProperties: false")
	}
	if len(schema.Required) != len(schema.Properties) {
		t.Fatal("strict mode requires every property to be required")
	}
	enum := schema.Properties["output_type"].Enum
	if len(enum) != 2 || enum[0] != "text_only" || enum[1] != "audio_only" {
		t.Fatalf("enum must mirror the offered set, got %v", enum)
	}
}

func TestUnmarshalModelJSON(t *testing.T) {
	var payload factsPayload

	if err := unmarshalModelJSON(`{"facts": ["likes tea"]}`, &payload); err != nil {
		t.Fatalf("valid JSON: %v", err)
	}
	if len(payload.Facts) != 1 || payload.Facts[0] != "likes tea" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	payload = factsPayload{}
	if err := unmarshalModelJSON(`{"facts": ["likes tea",]}`, &payload); err != nil {
		t.Fatalf("repairable JSON: %v", err)
	}
	if len(payload.Facts) != 1 {
		t.Fatalf("unexpected repaired payload: %+v", payload)
	}
}
