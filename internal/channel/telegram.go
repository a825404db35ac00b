// Package channel connects the response pipeline to chat transports.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rolebot/internal/capability"
	"rolebot/internal/domain"
	"rolebot/internal/localizer"
	"rolebot/internal/memory"
	"rolebot/internal/metrics"
	"rolebot/internal/orchestrator"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramHistoryDepth   = 20
	attachmentHTTPTimeout  = 60 * time.Second
)

// Telegram polls the Telegram Bot API and drives the response pipeline for
// each incoming message.
type Telegram struct {
	token     string
	parseMode string

	bot         *tgbotapi.BotAPI
	store       *memory.Store
	orch        *orchestrator.Orchestrator
	prompts     *orchestrator.PromptBuilder
	caps        capability.Set
	vision      domain.VisionDescriber
	transcriber domain.AudioTranscriber
	engage      domain.EngageChecker
	loc         *localizer.Localizer
	logger      *slog.Logger

	httpClient *http.Client
}

// TelegramConfig holds the channel's collaborators.
type TelegramConfig struct {
	Token     string
	ParseMode string

	Store        *memory.Store
	Orchestrator *orchestrator.Orchestrator
	Prompts      *orchestrator.PromptBuilder
	Caps         capability.Set
	Vision       domain.VisionDescriber    // optional
	Transcriber  domain.AudioTranscriber   // optional
	Engage       domain.EngageChecker      // optional
	Localizer    *localizer.Localizer
	Logger       *slog.Logger
}

// NewTelegram creates the Telegram channel.
func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:       cfg.Token,
		parseMode:   cfg.ParseMode,
		store:       cfg.Store,
		orch:        cfg.Orchestrator,
		prompts:     cfg.Prompts,
		caps:        cfg.Caps,
		vision:      cfg.Vision,
		transcriber: cfg.Transcriber,
		engage:      cfg.Engage,
		loc:         cfg.Localizer,
		logger:      cfg.Logger,
		httpClient:  &http.Client{Timeout: attachmentHTTPTimeout},
	}
}

// Start connects to Telegram and begins polling for updates. It returns when
// ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
				continue
			}
			// Long-running generations must not block polling.
			go t.handleMessage(ctx, update.Message)
		}
	}
}

func (t *Telegram) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	metrics.MessagesTotal.Inc()

	person := domain.Person{
		UserID:     msg.From.ID,
		UserHandle: userHandle(msg.From),
		FirstName:  msg.From.FirstName,
		LastName:   msg.From.LastName,
	}
	chat := t.chatContext(msg)

	if msg.IsCommand() {
		t.handleCommand(ctx, person, chat, msg)
		return
	}

	if msg.Text == "" && msg.Caption == "" && msg.Photo == nil && msg.Voice == nil {
		return
	}

	if chat.IsGroup && !chat.IsBotMentioned {
		if !t.shouldEngage(ctx, chat, msg) {
			return
		}
	}

	lang := t.chatLanguage(ctx, chat.ChatID)
	chat.Language = lang
	chatID := msg.Chat.ID

	incoming, err := t.collectMessage(ctx, msg)
	if err != nil {
		t.logger.Error("attachment download failed", "chat", chat.ChatID, "error", err)
		t.sendMessage(chatID, t.loc.Get(lang, "generation_failed", nil))
		return
	}

	transcribed, err := t.transcribe(ctx, incoming)
	if err != nil {
		var modErr *domain.ModerationError
		if errors.As(err, &modErr) {
			t.sendMessage(chatID, t.loc.Get(lang, "message_rejected", map[string]string{"reason": modErr.Reason}))
			return
		}
		t.logger.Error("attachment transcription failed", "chat", chat.ChatID, "error", err)
		t.sendMessage(chatID, t.loc.Get(lang, "generation_failed", nil))
		return
	}

	history, err := t.store.GetDialog(ctx, chat.ChatID, telegramHistoryDepth)
	if err != nil {
		t.logger.Error("dialog load failed", "chat", chat.ChatID, "error", err)
	}

	systemPrompt, err := t.prompts.BuildSystemPrompt(ctx, chat)
	if err != nil {
		t.logger.Error("system prompt build failed", "chat", chat.ChatID, "error", err)
		t.sendMessage(chatID, t.loc.Get(lang, "generation_failed", nil))
		return
	}
	userPrompt, err := t.prompts.BuildUserPrompt(ctx, person, chat, transcribed)
	if err != nil {
		t.logger.Error("user prompt build failed", "chat", chat.ChatID, "error", err)
		t.sendMessage(chatID, t.loc.Get(lang, "generation_failed", nil))
		return
	}

	req := orchestrator.Request{
		ID:           uuid.NewString(),
		Person:       person,
		Chat:         chat,
		Message:      transcribed,
		History:      history,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Caps:         t.caps,
	}

	t.sendChatAction(chatID, tgbotapi.ChatTyping)

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()
	start := time.Now()

	out := make(chan domain.StreamChunk, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- t.orch.Respond(ctx, req, out) }()

	var final *domain.StreamChunk
	sender := &streamSender{bot: t.bot, chatID: chatID, parseMode: t.parseMode, logger: t.logger}
	for chunk := range orchestrator.BufferChunks(out, chat.IsGroup) {
		if chunk.IsFinal {
			c := chunk
			final = &c
		}
		if chunk.CumulativeText != "" {
			sender.update(chunk.CumulativeText, chunk.IsFinal)
		}
	}

	if err := <-errCh; err != nil {
		t.reportError(chatID, lang, person, err)
		return
	}
	metrics.ResponseLatency.Observe(time.Since(start).Seconds())

	if final == nil {
		return
	}
	t.deliverAttachments(chatID, *final)
	t.finalize(ctx, person, chat, transcribed, *final)
}

// shouldEngage decides whether to answer a group message that did not
// mention the bot. Errors mean staying silent.
func (t *Telegram) shouldEngage(ctx context.Context, chat domain.ChatContext, msg *tgbotapi.Message) bool {
	on, err := t.store.GetAutoEngage(ctx, chat.ChatID)
	if err != nil || !on || t.engage == nil {
		return false
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return false
	}
	engage, err := t.engage.EngageNeeded(ctx, text)
	if err != nil {
		t.logger.Warn("engage check failed", "chat", chat.ChatID, "error", err)
		return false
	}
	return engage
}

// collectMessage downloads the message's attachments.
func (t *Telegram) collectMessage(ctx context.Context, msg *tgbotapi.Message) (domain.IncomingMessage, error) {
	incoming := domain.IncomingMessage{
		Text:      msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if incoming.Text == "" {
		incoming.Text = msg.Caption
	}

	if len(msg.Photo) > 0 {
		// The last photo size is the largest.
		fileID := msg.Photo[len(msg.Photo)-1].FileID
		data, err := t.downloadFile(ctx, fileID)
		if err != nil {
			return domain.IncomingMessage{}, fmt.Errorf("download photo: %w", err)
		}
		incoming.Image = data
	}
	if msg.Voice != nil {
		data, err := t.downloadFile(ctx, msg.Voice.FileID)
		if err != nil {
			return domain.IncomingMessage{}, fmt.Errorf("download voice: %w", err)
		}
		incoming.Voice = data
	}
	return incoming, nil
}

func (t *Telegram) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// transcribe reduces attachments to text so the rest of the pipeline only
// handles textual input.
func (t *Telegram) transcribe(ctx context.Context, in domain.IncomingMessage) (domain.TranscribedMessage, error) {
	out := domain.TranscribedMessage{Text: in.Text, Timestamp: in.Timestamp}

	if len(in.Image) > 0 {
		if t.vision == nil || !t.caps.CanUse(domain.ModalityVision) {
			return domain.TranscribedMessage{}, errors.New("image attachments are not enabled")
		}
		desc, err := t.vision.DescribeImage(ctx, in.Image)
		if err != nil {
			return domain.TranscribedMessage{}, err
		}
		out.ImageDescription = desc
	}
	if len(in.Voice) > 0 {
		if t.transcriber == nil || !t.caps.CanUse(domain.ModalityAudioRecognition) {
			return domain.TranscribedMessage{}, errors.New("voice attachments are not enabled")
		}
		text, err := t.transcriber.TranscribeAudio(ctx, in.Voice)
		if err != nil {
			return domain.TranscribedMessage{}, err
		}
		out.VoiceTranscription = text
	}
	return out, nil
}

// deliverAttachments sends the final chunk's image and audio payloads.
func (t *Telegram) deliverAttachments(chatID int64, final domain.StreamChunk) {
	if final.ImageURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(final.ImageURL))
		if _, err := t.bot.Send(photo); err != nil {
			t.logger.Error("photo send failed", "chat", chatID, "error", err)
		}
	}
	if len(final.AudioBytes) > 0 {
		voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "reply.mp3", Bytes: final.AudioBytes})
		if _, err := t.bot.Send(voice); err != nil {
			t.logger.Error("voice send failed", "chat", chatID, "error", err)
		}
	}
}

// finalize persists the completed exchange: dialog turns, usage points, and
// extracted facts. Persistence failures are logged, never surfaced.
func (t *Telegram) finalize(ctx context.Context, person domain.Person, chat domain.ChatContext, msg domain.TranscribedMessage, final domain.StreamChunk) {
	userTurn := domain.DialogTurn{Sender: person.UserHandle, Text: msg.Text}
	if msg.HasImage() {
		userTurn.Text = strings.TrimSpace(userTurn.Text + "\n[image: " + msg.ImageDescription + "]")
	}
	if msg.HasVoice() {
		userTurn.Text = strings.TrimSpace(userTurn.Text + "\n" + msg.VoiceTranscription)
	}
	if err := t.store.SaveDialogTurn(ctx, chat.ChatID, userTurn); err != nil {
		t.logger.Error("dialog save failed", "chat", chat.ChatID, "error", err)
	}

	botText := final.CumulativeText
	if botText == "" {
		botText = final.AudioDescription
	}
	botTurn := domain.DialogTurn{Sender: domain.SenderBot, Text: botText, ImageURL: final.ImageURL}
	if err := t.store.SaveDialogTurn(ctx, chat.ChatID, botTurn); err != nil {
		t.logger.Error("dialog save failed", "chat", chat.ChatID, "error", err)
	}

	if final.TotalPrice != nil && final.TotalPrice.IsPositive() {
		if err := t.store.AddUsage(ctx, person.UserHandle, *final.TotalPrice); err != nil {
			t.logger.Error("usage record failed", "user", person.UserHandle, "error", err)
		}
		// Counter is integer, so spend is exported in milli-points.
		metrics.UsagePointsMilli.Add(final.TotalPrice.Mul(decimal.NewFromInt(1000)).IntPart())
	}
	for _, fact := range final.GeneratedFacts {
		if err := t.store.AddFact(ctx, chat.ChatID, fact); err != nil {
			t.logger.Error("fact save failed", "chat", chat.ChatID, "error", err)
		}
	}
}

// reportError maps a pipeline failure to a localized user message.
func (t *Telegram) reportError(chatID int64, lang string, person domain.Person, err error) {
	var modErr *domain.ModerationError
	var budErr *domain.BudgetError
	switch {
	case errors.As(err, &modErr):
		t.sendMessage(chatID, t.loc.Get(lang, "message_rejected", map[string]string{
			"reason": modErr.Reason,
		}))
	case errors.As(err, &budErr):
		t.sendMessage(chatID, t.loc.Get(lang, "usage_limit_exceeded", map[string]string{
			"user_handle": person.UserHandle,
			"usage_limit": budErr.Limit.String(),
		}))
	case errors.Is(err, context.Canceled):
		// Shutdown, not a user-visible failure.
	default:
		t.logger.Error("response pipeline failed", "user", person.UserHandle, "error", err)
		t.sendMessage(chatID, t.loc.Get(lang, "generation_failed", nil))
	}
}

func (t *Telegram) chatContext(msg *tgbotapi.Message) domain.ChatContext {
	isGroup := msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()
	mentioned := !isGroup
	if isGroup {
		handle := "@" + t.bot.Self.UserName
		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		if strings.Contains(text, handle) {
			mentioned = true
		}
		if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
			msg.ReplyToMessage.From.ID == t.bot.Self.ID {
			mentioned = true
		}
	}
	return domain.ChatContext{
		ChatID:         strconv.FormatInt(msg.Chat.ID, 10),
		IsGroup:        isGroup,
		IsBotMentioned: mentioned,
	}
}

func (t *Telegram) chatLanguage(ctx context.Context, chatID string) string {
	lang, err := t.store.GetChatLanguage(ctx, chatID)
	if err != nil {
		t.logger.Warn("language load failed", "chat", chatID, "error", err)
		return ""
	}
	return lang
}

func userHandle(from *tgbotapi.User) string {
	if from.UserName != "" {
		return from.UserName
	}
	return strconv.FormatInt(from.ID, 10)
}

func (t *Telegram) sendChatAction(chatID int64, action string) {
	_, _ = t.bot.Request(tgbotapi.NewChatAction(chatID, action))
}
