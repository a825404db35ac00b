package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rolebot/internal/domain"
)

// PromptStore is the read side of chat-mode, language, and fact storage used
// during prompt composition.
type PromptStore interface {
	GetChatMode(ctx context.Context, chatID string) (domain.ChatMode, error)
	GetChatLanguage(ctx context.Context, chatID string) (string, error)
	GetChatFacts(ctx context.Context, chatID string) ([]domain.UserFact, error)
}

// PromptBuilder composes the system and user prompts for one request from
// the chat mode, known facts, and the transcribed message.
type PromptBuilder struct {
	store  PromptStore
	logger *slog.Logger

	now func() time.Time
}

// NewPromptBuilder creates a prompt builder.
func NewPromptBuilder(store PromptStore, logger *slog.Logger) *PromptBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptBuilder{store: store, logger: logger, now: time.Now}
}

// BuildSystemPrompt combines the chat's mode preset with the reply language
// and the current date.
func (p *PromptBuilder) BuildSystemPrompt(ctx context.Context, chat domain.ChatContext) (string, error) {
	mode, err := p.store.GetChatMode(ctx, chat.ChatID)
	if err != nil {
		return "", fmt.Errorf("load chat mode: %w", err)
	}
	lang := chat.Language
	if lang == "" {
		lang, err = p.store.GetChatLanguage(ctx, chat.ChatID)
		if err != nil {
			// The mode preset still carries the persona; a missing language
			// row falls back to whatever language the user writes in.
			p.logger.Warn("loading chat language failed, continuing without it", "chat", chat.ChatID, "error", err)
			lang = ""
		}
	}
	var b strings.Builder
	b.WriteString(mode.PromptStart)
	if lang != "" {
		fmt.Fprintf(&b, "\nReply in %s, unless the user writes in another language; then answer in that language instead.", lang)
	}
	fmt.Fprintf(&b, "\nThe current date and time is %s.", p.now().Format("2006-01-02 15:04:05"))
	return b.String(), nil
}

// BuildUserPrompt renders the transcribed message, attachment descriptions,
// and the chat's known facts into a single textual view of the user's turn.
func (p *PromptBuilder) BuildUserPrompt(ctx context.Context, person domain.Person, chat domain.ChatContext, msg domain.TranscribedMessage) (string, error) {
	parts := []string{msg.Text}
	if msg.HasImage() {
		parts = append(parts, "The text description of the attached image is: "+msg.ImageDescription)
	}
	if msg.HasVoice() {
		parts = append(parts, "The transcription of the attached voice audio is: "+msg.VoiceTranscription)
	}

	var b strings.Builder
	facts, err := p.store.GetChatFacts(ctx, chat.ChatID)
	if err != nil {
		// Facts enrich the prompt but are not required to answer.
		p.logger.Warn("loading chat facts failed, continuing without them", "chat", chat.ChatID, "error", err)
	}
	if len(facts) > 0 {
		b.WriteString("The following facts are known about the users in this chat:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "%s: %s\n", f.UserHandle, f.Fact)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "The user %s just said: %s", person.UserHandle, strings.Join(parts, " "))
	return b.String(), nil
}
