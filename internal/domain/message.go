package domain

import "time"

// Person identifies the user who sent a message.
type Person struct {
	UserID     int64
	UserHandle string
	FirstName  string
	LastName   string
}

// ChatContext describes where a message arrived.
type ChatContext struct {
	ChatID         string
	ThreadID       string
	Language       string
	IsGroup        bool
	IsBotMentioned bool
}

// IncomingMessage is a raw user turn as delivered by the chat front-end.
// Image and Voice are the undecoded attachment bytes, nil when absent.
type IncomingMessage struct {
	Text      string
	Image     []byte
	Voice     []byte
	Timestamp time.Time
}

// TranscribedMessage is the user's request reduced to a single textual view:
// attachments have been replaced by descriptions produced by the vision and
// audio transcribers. Immutable once constructed, one per user turn.
type TranscribedMessage struct {
	Text               string
	ImageDescription   string
	VoiceTranscription string
	Timestamp          time.Time
}

// HasImage reports whether the original message carried an image.
func (m TranscribedMessage) HasImage() bool { return m.ImageDescription != "" }

// HasVoice reports whether the original message carried a voice clip.
func (m TranscribedMessage) HasVoice() bool { return m.VoiceTranscription != "" }

// SenderBot marks a dialog turn authored by the bot itself.
const SenderBot = "bot"

// DialogTurn is one persisted exchange line used as conversation context.
type DialogTurn struct {
	Sender   string // user handle, or SenderBot
	Text     string
	ImageURL string
	At       time.Time
}

// UserFact is a single extracted fact about a user. Facts are additive-only:
// the orchestrator never updates or deletes them.
type UserFact struct {
	UserHandle string
	Fact       string
}

// ChatMode is a named system-prompt preset selected per chat.
type ChatMode struct {
	Name           string
	Description    string
	PromptStart    string
	WelcomeMessage string
}
