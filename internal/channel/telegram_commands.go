package channel

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rolebot/internal/domain"
)

func (t *Telegram) handleCommand(ctx context.Context, person domain.Person, chat domain.ChatContext, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	lang := t.chatLanguage(ctx, chat.ChatID)
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		mode, err := t.store.GetChatMode(ctx, chat.ChatID)
		if err != nil {
			t.logger.Error("mode load failed", "chat", chat.ChatID, "error", err)
			return
		}
		welcome := mode.WelcomeMessage
		if welcome == "" {
			welcome = "Hi! Send me a message, a photo, or a voice note."
		}
		t.sendMessage(chatID, welcome)

	case "help":
		t.sendMessage(chatID, helpText())

	case "mode":
		t.commandMode(ctx, chat, chatID, lang, args)

	case "usage":
		t.commandUsage(ctx, person, chatID, lang)

	case "fact":
		if args == "" {
			t.sendMessage(chatID, "/fact <something to remember>")
			return
		}
		fact := domain.UserFact{UserHandle: person.UserHandle, Fact: args}
		if err := t.store.AddFact(ctx, chat.ChatID, fact); err != nil {
			t.logger.Error("fact save failed", "chat", chat.ChatID, "error", err)
			t.sendMessage(chatID, t.loc.Get(lang, "generation_failed", nil))
			return
		}
		t.sendMessage(chatID, t.loc.Get(lang, "fact_added", nil))

	case "facts":
		t.commandFacts(ctx, chat, chatID)

	case "clearfacts":
		if err := t.store.ClearUserFacts(ctx, chat.ChatID, person.UserHandle); err != nil {
			t.logger.Error("facts clear failed", "chat", chat.ChatID, "error", err)
			return
		}
		t.sendMessage(chatID, t.loc.Get(lang, "facts_cleared", nil))

	case "language":
		t.commandLanguage(ctx, chat, chatID, lang, args)

	case "autoengage":
		t.commandAutoEngage(ctx, chat, chatID, args)

	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) commandMode(ctx context.Context, chat domain.ChatContext, chatID int64, lang, args string) {
	if args == "" {
		var b strings.Builder
		b.WriteString("Available modes:\n")
		for _, mode := range t.store.Modes() {
			fmt.Fprintf(&b, "• %s — %s\n", mode.Name, mode.Description)
		}
		b.WriteString("\nSet one with /mode <name>")
		t.sendMessage(chatID, b.String())
		return
	}

	if err := t.store.SetChatMode(ctx, chat.ChatID, args); err != nil {
		t.sendMessage(chatID, t.loc.Get(lang, "unknown_mode", map[string]string{"mode": args}))
		return
	}
	t.sendMessage(chatID, t.loc.Get(lang, "mode_set", map[string]string{"mode": args}))

	mode, err := t.store.GetChatMode(ctx, chat.ChatID)
	if err == nil && mode.WelcomeMessage != "" {
		t.sendMessage(chatID, mode.WelcomeMessage)
	}
}

func (t *Telegram) commandUsage(ctx context.Context, person domain.Person, chatID int64, lang string) {
	usage, err := t.store.GetUsage(ctx, person.UserHandle)
	if err != nil {
		t.logger.Error("usage load failed", "user", person.UserHandle, "error", err)
		return
	}
	limit, err := t.store.GetLimit(ctx, person.UserHandle)
	if err != nil {
		t.logger.Error("limit load failed", "user", person.UserHandle, "error", err)
		return
	}
	t.sendMessage(chatID, t.loc.Get(lang, "usage_report", map[string]string{
		"usage": usage.StringFixed(3),
		"limit": limit.String(),
	}))
}

func (t *Telegram) commandFacts(ctx context.Context, chat domain.ChatContext, chatID int64) {
	facts, err := t.store.GetChatFacts(ctx, chat.ChatID)
	if err != nil {
		t.logger.Error("facts load failed", "chat", chat.ChatID, "error", err)
		return
	}
	if len(facts) == 0 {
		t.sendMessage(chatID, "I know no facts in this chat yet. Add one with /fact.")
		return
	}
	var b strings.Builder
	b.WriteString("What I remember:\n")
	for _, fact := range facts {
		fmt.Fprintf(&b, "• %s: %s\n", fact.UserHandle, fact.Fact)
	}
	t.sendMessage(chatID, b.String())
}

func (t *Telegram) commandLanguage(ctx context.Context, chat domain.ChatContext, chatID int64, lang, args string) {
	if args == "" || !t.loc.HasLanguage(args) {
		var b strings.Builder
		b.WriteString("Available languages:\n")
		for _, name := range t.loc.Languages() {
			fmt.Fprintf(&b, "• %s\n", name)
		}
		b.WriteString("\nSet one with /language <name>")
		t.sendMessage(chatID, b.String())
		return
	}

	if err := t.store.SetChatLanguage(ctx, chat.ChatID, args); err != nil {
		t.logger.Error("language save failed", "chat", chat.ChatID, "error", err)
		return
	}
	// Confirm in the newly chosen language.
	t.sendMessage(chatID, t.loc.Get(args, "language_set", map[string]string{"language": args}))
}

func (t *Telegram) commandAutoEngage(ctx context.Context, chat domain.ChatContext, chatID int64, args string) {
	switch args {
	case "on", "off":
	default:
		t.sendMessage(chatID, "/autoengage on|off — let me join group conversations without being mentioned.")
		return
	}
	if err := t.store.SetAutoEngage(ctx, chat.ChatID, args == "on"); err != nil {
		t.logger.Error("autoengage save failed", "chat", chat.ChatID, "error", err)
		return
	}
	t.sendMessage(chatID, "Auto-engage is now "+args+".")
}

func helpText() string {
	return strings.Join([]string{
		"Send me text, a photo, or a voice note and I will answer in the",
		"best fitting form: text, a picture, or a voice reply.",
		"",
		"Commands:",
		"/mode — list or set the chat persona",
		"/usage — show your monthly usage",
		"/fact <text> — remember a fact about you",
		"/facts — list what I remember in this chat",
		"/clearfacts — forget your facts in this chat",
		"/language — list or set the reply language",
		"/autoengage on|off — group chats only",
	}, "\n")
}
