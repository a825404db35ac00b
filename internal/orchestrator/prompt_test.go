package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"rolebot/internal/domain"
)

type fakePromptStore struct {
	mode     domain.ChatMode
	language string
	langErr  error
	facts    []domain.UserFact
	factsErr error
}

func (s *fakePromptStore) GetChatMode(ctx context.Context, chatID string) (domain.ChatMode, error) {
	return s.mode, nil
}

func (s *fakePromptStore) GetChatLanguage(ctx context.Context, chatID string) (string, error) {
	return s.language, s.langErr
}

func (s *fakePromptStore) GetChatFacts(ctx context.Context, chatID string) ([]domain.UserFact, error) {
	return s.facts, s.factsErr
}

func newTestPromptBuilder(store *fakePromptStore) *PromptBuilder {
	p := NewPromptBuilder(store, nil)
	p.now = func() time.Time {
		return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	}
	return p
}

func TestBuildSystemPrompt_IncludesReplyLanguage(t *testing.T) {
	store := &fakePromptStore{mode: domain.ChatMode{PromptStart: "You are helpful."}}
	p := newTestPromptBuilder(store)

	prompt, err := p.BuildSystemPrompt(context.Background(), domain.ChatContext{
		ChatID:   "chat-1",
		Language: "russian",
	})
	if err != nil {
		t.Fatalf("BuildSystemPrompt: %v", err)
	}
	if !strings.HasPrefix(prompt, "You are helpful.") {
		t.Fatalf("prompt does not start with the mode preset: %q", prompt)
	}
	if !strings.Contains(prompt, "Reply in russian") {
		t.Fatalf("prompt does not carry the reply language: %q", prompt)
	}
	if !strings.Contains(prompt, "2026-03-14 15:09:26") {
		t.Fatalf("prompt does not carry the current date: %q", prompt)
	}
}

func TestBuildSystemPrompt_LanguageLoadedFromStore(t *testing.T) {
	store := &fakePromptStore{
		mode:     domain.ChatMode{PromptStart: "You are helpful."},
		language: "german",
	}
	p := newTestPromptBuilder(store)

	prompt, err := p.BuildSystemPrompt(context.Background(), domain.ChatContext{ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("BuildSystemPrompt: %v", err)
	}
	if !strings.Contains(prompt, "Reply in german") {
		t.Fatalf("prompt does not carry the stored language: %q", prompt)
	}
}

func TestBuildSystemPrompt_NoLanguageConfigured(t *testing.T) {
	store := &fakePromptStore{mode: domain.ChatMode{PromptStart: "You are helpful."}}
	p := newTestPromptBuilder(store)

	prompt, err := p.BuildSystemPrompt(context.Background(), domain.ChatContext{ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("BuildSystemPrompt: %v", err)
	}
	if strings.Contains(prompt, "Reply in") {
		t.Fatalf("prompt carries a language instruction without a language: %q", prompt)
	}
}

func TestBuildSystemPrompt_LanguageLoadFailureIsNotFatal(t *testing.T) {
	store := &fakePromptStore{
		mode:    domain.ChatMode{PromptStart: "You are helpful."},
		langErr: errors.New("db closed"),
	}
	p := newTestPromptBuilder(store)

	prompt, err := p.BuildSystemPrompt(context.Background(), domain.ChatContext{ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("BuildSystemPrompt: %v", err)
	}
	if !strings.HasPrefix(prompt, "You are helpful.") {
		t.Fatalf("prompt lost the mode preset: %q", prompt)
	}
}

func TestBuildUserPrompt_FactsAndAttachments(t *testing.T) {
	store := &fakePromptStore{
		facts: []domain.UserFact{{UserHandle: "alice", Fact: "prefers short answers"}},
	}
	p := newTestPromptBuilder(store)

	prompt, err := p.BuildUserPrompt(context.Background(),
		domain.Person{UserHandle: "alice"},
		domain.ChatContext{ChatID: "chat-1"},
		domain.TranscribedMessage{
			Text:             "what is this?",
			ImageDescription: "a rusty bicycle",
		},
	)
	if err != nil {
		t.Fatalf("BuildUserPrompt: %v", err)
	}
	if !strings.Contains(prompt, "alice: prefers short answers") {
		t.Fatalf("prompt does not carry the stored fact: %q", prompt)
	}
	if !strings.Contains(prompt, "a rusty bicycle") {
		t.Fatalf("prompt does not carry the image description: %q", prompt)
	}
	if !strings.Contains(prompt, "what is this?") {
		t.Fatalf("prompt does not carry the user text: %q", prompt)
	}
}
