// Package localizer renders user-facing messages from the configured
// translation tables, with {placeholder} substitution.
package localizer

import (
	"log/slog"
	"strings"

	"rolebot/internal/config"
)

// Localizer resolves message ids to translated text.
type Localizer struct {
	translations map[string]config.Language
	defaultLang  string
	logger       *slog.Logger
}

// New creates a localizer. defaultLang is used when a chat has no language
// set or its language lacks a translation.
func New(translations map[string]config.Language, defaultLang string, logger *slog.Logger) *Localizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Localizer{
		translations: translations,
		defaultLang:  defaultLang,
		logger:       logger,
	}
}

// Get renders the message id in the given language, substituting every
// {key} occurrence from args. Missing translations fall back to the default
// language, then to the raw message id so a broken table never hides an
// error from the user.
func (l *Localizer) Get(lang, messageID string, args map[string]string) string {
	text, ok := l.lookup(lang, messageID)
	if !ok {
		text, ok = l.lookup(l.defaultLang, messageID)
	}
	if !ok {
		l.logger.Warn("missing translation", "message", messageID, "language", lang)
		text = messageID
	}
	for key, value := range args {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	return text
}

// Languages returns the configured language names.
func (l *Localizer) Languages() []string {
	names := make([]string, 0, len(l.translations))
	for name := range l.translations {
		names = append(names, name)
	}
	return names
}

// HasLanguage reports whether a translation table exists for lang.
func (l *Localizer) HasLanguage(lang string) bool {
	_, ok := l.translations[lang]
	return ok
}

func (l *Localizer) lookup(lang, messageID string) (string, bool) {
	table, ok := l.translations[lang]
	if !ok {
		return "", false
	}
	text, ok := table[messageID]
	return text, ok
}
