// Package memory persists chat state in SQLite: dialog history, per-user
// usage points and limits, user facts, and per-chat settings.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"rolebot/internal/domain"
)

// Store implements dialog, usage, fact, and chat-settings persistence on a
// single SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	modes        map[string]domain.ChatMode
	defaultMode  string
	defaultLimit decimal.Decimal

	now func() time.Time
}

// Config holds the store's static inputs: the mode presets from
// configuration and the fallback usage limit.
type Config struct {
	Modes        []domain.ChatMode
	DefaultLimit decimal.Decimal
	Logger       *slog.Logger
}

// New opens (and migrates) the database at dbPath.
func New(dbPath string, cfg Config) (*Store, error) {
	if len(cfg.Modes) == 0 {
		return nil, &domain.ConfigError{Field: "chatModes", Detail: "at least one chat mode is required"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	modes := make(map[string]domain.ChatMode, len(cfg.Modes))
	for _, m := range cfg.Modes {
		modes[m.Name] = m
	}

	store := &Store{
		db:           db,
		logger:       cfg.Logger,
		modes:        modes,
		defaultMode:  cfg.Modes[0].Name,
		defaultLimit: cfg.DefaultLimit,
		now:          time.Now,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		chat_id     TEXT PRIMARY KEY,
		mode        TEXT NOT NULL DEFAULT '',
		language    TEXT NOT NULL DEFAULT '',
		autoengage  INTEGER NOT NULL DEFAULT 0,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS dialogs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id     TEXT NOT NULL,
		sender      TEXT NOT NULL,
		text        TEXT NOT NULL,
		image_url   TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_dialogs_chat ON dialogs(chat_id, created_at);

	CREATE TABLE IF NOT EXISTS user_usage (
		user_handle TEXT PRIMARY KEY,
		points      TEXT NOT NULL DEFAULT '0',
		period      TEXT NOT NULL,
		user_limit  TEXT
	);

	CREATE TABLE IF NOT EXISTS user_facts (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id     TEXT NOT NULL,
		user_handle TEXT NOT NULL,
		fact        TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_facts_chat ON user_facts(chat_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- dialog history ---

// SaveDialogTurn appends one line to the chat's dialog.
func (s *Store) SaveDialogTurn(ctx context.Context, chatID string, turn domain.DialogTurn) error {
	if turn.At.IsZero() {
		turn.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dialogs (chat_id, sender, text, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		chatID, turn.Sender, turn.Text, turn.ImageURL, turn.At,
	)
	return err
}

// GetDialog returns the chat's last limit turns in chronological order.
func (s *Store) GetDialog(ctx context.Context, chatID string, limit int) ([]domain.DialogTurn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender, text, image_url, created_at
		 FROM dialogs WHERE chat_id = ?
		 ORDER BY id DESC LIMIT ?`, chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.DialogTurn
	for rows.Next() {
		var t domain.DialogTurn
		var imageURL sql.NullString
		if err := rows.Scan(&t.Sender, &t.Text, &imageURL, &t.At); err != nil {
			return nil, err
		}
		t.ImageURL = imageURL.String
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// --- usage accounting ---

// currentPeriod is the usage accounting month, e.g. "2026-09".
func (s *Store) currentPeriod() string {
	return s.now().UTC().Format("2006-01")
}

// GetUsage returns the user's usage points for the current month. A row
// from an earlier month is reset lazily on read.
func (s *Store) GetUsage(ctx context.Context, userHandle string) (decimal.Decimal, error) {
	var points, period string
	err := s.db.QueryRowContext(ctx,
		`SELECT points, period FROM user_usage WHERE user_handle = ?`, userHandle,
	).Scan(&points, &period)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	if period != s.currentPeriod() {
		_, err := s.db.ExecContext(ctx,
			`UPDATE user_usage SET points = '0', period = ? WHERE user_handle = ?`,
			s.currentPeriod(), userHandle,
		)
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.Zero, nil
	}

	usage, err := decimal.NewFromString(points)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt usage value for %s: %w", userHandle, err)
	}
	return usage, nil
}

// AddUsage adds points to the user's usage for the current month.
func (s *Store) AddUsage(ctx context.Context, userHandle string, points decimal.Decimal) error {
	usage, err := s.GetUsage(ctx, userHandle)
	if err != nil {
		return err
	}
	total := usage.Add(points)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_usage (user_handle, points, period) VALUES (?, ?, ?)
		 ON CONFLICT(user_handle) DO UPDATE SET points = excluded.points, period = excluded.period`,
		userHandle, total.String(), s.currentPeriod(),
	)
	return err
}

// GetLimit returns the user's monthly limit, falling back to the default.
func (s *Store) GetLimit(ctx context.Context, userHandle string) (decimal.Decimal, error) {
	var userLimit sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT user_limit FROM user_usage WHERE user_handle = ?`, userHandle,
	).Scan(&userLimit)
	if err == sql.ErrNoRows || (err == nil && !userLimit.Valid) {
		return s.defaultLimit, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	limit, err := decimal.NewFromString(userLimit.String)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt limit value for %s: %w", userHandle, err)
	}
	return limit, nil
}

// SetLimit overrides the user's monthly limit.
func (s *Store) SetLimit(ctx context.Context, userHandle string, limit decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_usage (user_handle, points, period, user_limit) VALUES (?, '0', ?, ?)
		 ON CONFLICT(user_handle) DO UPDATE SET user_limit = excluded.user_limit`,
		userHandle, s.currentPeriod(), limit.String(),
	)
	return err
}

// --- user facts ---

// AddFact stores one durable fact about a user in a chat.
func (s *Store) AddFact(ctx context.Context, chatID string, fact domain.UserFact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_facts (chat_id, user_handle, fact) VALUES (?, ?, ?)`,
		chatID, fact.UserHandle, fact.Fact,
	)
	return err
}

// GetChatFacts returns every fact known in the chat, oldest first.
func (s *Store) GetChatFacts(ctx context.Context, chatID string) ([]domain.UserFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_handle, fact FROM user_facts WHERE chat_id = ? ORDER BY id`, chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []domain.UserFact
	for rows.Next() {
		var f domain.UserFact
		if err := rows.Scan(&f.UserHandle, &f.Fact); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// ClearUserFacts removes every fact about one user in a chat.
func (s *Store) ClearUserFacts(ctx context.Context, chatID, userHandle string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_facts WHERE chat_id = ? AND user_handle = ?`,
		chatID, userHandle,
	)
	return err
}

// --- chat settings ---

// GetChatMode resolves the chat's mode preset, falling back to the default
// mode when the chat has none set or names a mode that no longer exists.
func (s *Store) GetChatMode(ctx context.Context, chatID string) (domain.ChatMode, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT mode FROM chats WHERE chat_id = ?`, chatID,
	).Scan(&name)
	if err != nil && err != sql.ErrNoRows {
		return domain.ChatMode{}, err
	}

	if mode, ok := s.modes[name]; ok {
		return mode, nil
	}
	if name != "" {
		s.logger.Warn("chat references an unknown mode, using default", "chat", chatID, "mode", name)
	}
	return s.modes[s.defaultMode], nil
}

// SetChatMode assigns a mode preset to the chat.
func (s *Store) SetChatMode(ctx context.Context, chatID, name string) error {
	if _, ok := s.modes[name]; !ok {
		return fmt.Errorf("unknown chat mode %q", name)
	}
	return s.upsertChat(ctx, chatID, "mode", name)
}

// Modes lists the configured mode presets in a stable order.
func (s *Store) Modes() []domain.ChatMode {
	names := make([]string, 0, len(s.modes))
	for name := range s.modes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.ChatMode, 0, len(names))
	for _, name := range names {
		out = append(out, s.modes[name])
	}
	return out
}

// GetChatLanguage returns the chat's language, or "" when unset.
func (s *Store) GetChatLanguage(ctx context.Context, chatID string) (string, error) {
	var lang string
	err := s.db.QueryRowContext(ctx,
		`SELECT language FROM chats WHERE chat_id = ?`, chatID,
	).Scan(&lang)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return lang, err
}

// SetChatLanguage assigns a reply language to the chat.
func (s *Store) SetChatLanguage(ctx context.Context, chatID, language string) error {
	return s.upsertChat(ctx, chatID, "language", language)
}

// GetAutoEngage reports whether the bot may reply to unaddressed group
// messages in the chat.
func (s *Store) GetAutoEngage(ctx context.Context, chatID string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT autoengage FROM chats WHERE chat_id = ?`, chatID,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return v != 0, err
}

// SetAutoEngage toggles unaddressed-message replies for the chat.
func (s *Store) SetAutoEngage(ctx context.Context, chatID string, on bool) error {
	v := 0
	if on {
		v = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (chat_id, autoengage, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET autoengage = excluded.autoengage, updated_at = excluded.updated_at`,
		chatID, v, s.now(),
	)
	return err
}

// upsertChat sets one text column on the chat row. column is always a
// compile-time constant, never user input.
func (s *Store) upsertChat(ctx context.Context, chatID, column, value string) error {
	query := fmt.Sprintf(
		`INSERT INTO chats (chat_id, %[1]s, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at`,
		column,
	)
	_, err := s.db.ExecContext(ctx, query, chatID, value, s.now())
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
