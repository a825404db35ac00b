package channel

import (
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// cutPoint returns where to split text longer than the message size limit:
// at the last newline within the limit when one exists past the halfway
// mark, otherwise at the nearest rune boundary at or below the limit so a
// multi-byte rune is never split across messages.
func cutPoint(text string) int {
	cut := strings.LastIndex(text[:telegramMaxMsgLen], "\n")
	if cut >= telegramMaxMsgLen/2 {
		return cut
	}
	cut = telegramMaxMsgLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return cut
}

// streamSender maintains the Telegram message that mirrors a growing text
// stream. Buffered emissions edit the message in place; text past the
// message size limit seals the current message and starts a new one.
type streamSender struct {
	bot       *tgbotapi.BotAPI
	chatID    int64
	parseMode string
	logger    *slog.Logger

	msgID int // 0 = no message sent yet
	base  int // cumulative offset where the current message starts
}

func (s *streamSender) update(cumulative string, final bool) {
	for {
		portion := cumulative[s.base:]
		if len(portion) <= telegramMaxMsgLen {
			if portion != "" {
				s.render(portion, final)
			}
			return
		}
		cut := cutPoint(portion)
		s.render(portion[:cut], true)
		s.base += cut
		s.msgID = 0
	}
}

// render sends or edits the current message. Parse mode is only applied to
// sealed text: mid-stream text routinely has unbalanced markup.
func (s *streamSender) render(text string, final bool) {
	if s.msgID == 0 {
		msg := tgbotapi.NewMessage(s.chatID, text)
		sent, err := s.bot.Send(msg)
		if err != nil {
			s.logger.Warn("stream message send failed", "chat", s.chatID, "error", err)
			return
		}
		s.msgID = sent.MessageID
		if final {
			s.applyParseMode(text)
		}
		return
	}

	edit := tgbotapi.NewEditMessageText(s.chatID, s.msgID, text)
	if final && s.parseMode != "" {
		edit.ParseMode = s.parseMode
	}
	if _, err := s.bot.Send(edit); err != nil {
		if final && s.parseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
			plain := tgbotapi.NewEditMessageText(s.chatID, s.msgID, text)
			if _, err2 := s.bot.Send(plain); err2 == nil {
				return
			}
		}
		// "message is not modified" happens when an edit carries no change.
		if !strings.Contains(err.Error(), "message is not modified") {
			s.logger.Warn("stream message edit failed", "chat", s.chatID, "error", err)
		}
	}
}

// applyParseMode re-renders freshly sent final text with formatting.
func (s *streamSender) applyParseMode(text string) {
	if s.parseMode == "" {
		return
	}
	edit := tgbotapi.NewEditMessageText(s.chatID, s.msgID, text)
	edit.ParseMode = s.parseMode
	if _, err := s.bot.Send(edit); err != nil &&
		!strings.Contains(err.Error(), "message is not modified") &&
		!strings.Contains(err.Error(), "can't parse entities") {
		s.logger.Warn("formatting pass failed", "chat", s.chatID, "error", err)
	}
}

// sendMessage sends standalone text, splitting it at the message size limit.
func (t *Telegram) sendMessage(chatID int64, text string) {
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := cutPoint(chunk)
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one message with retry and rate limit handling: Markdown
// first, plain-text fallback on parse errors, backoff on everything else.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"error", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "error", err, "attempts", telegramMaxSendRetries+1)
	}
}
