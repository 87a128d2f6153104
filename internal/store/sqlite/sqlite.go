// Package sqlite persists the message log in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store"
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  id         TEXT PRIMARY KEY,
  chat_id    TEXT NOT NULL,
  sender_id  TEXT NOT NULL,
  content    TEXT NOT NULL,
  language   TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS translated_messages (
  id              TEXT PRIMARY KEY,
  chat_id         TEXT NOT NULL,
  sender_id       TEXT NOT NULL,
  receiver_id     TEXT NOT NULL,
  content         TEXT NOT NULL,
  target_language TEXT NOT NULL DEFAULT '',
  created_at      INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_chat_time
ON messages (chat_id, created_at);
`,
	`
CREATE INDEX IF NOT EXISTS idx_translated_chat_lang_time
ON translated_messages (chat_id, target_language, created_at);
`,
	`
CREATE INDEX IF NOT EXISTS idx_translated_chat_lang_nocase
ON translated_messages (chat_id, target_language COLLATE NOCASE, created_at);
`,
}

// Store is a thin wrapper around a SQLite connection.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Open opens (or creates) the database at path, enables WAL and migrates.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	s := &Store{db: db}
	if err := s.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		closeErr = s.db.Close()
	})
	return closeErr
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

// SaveMessage inserts the canonical row of a message.
func (s *Store) SaveMessage(ctx context.Context, msg chat.Message) error {
	if err := store.ValidateMessage(msg); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.Language, unixMilli(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", msg.ID, err)
	}
	return nil
}

// SaveTranslated inserts the copy delivered to one recipient.
func (s *Store) SaveTranslated(ctx context.Context, msg chat.TranslatedMessage) error {
	if err := store.ValidateTranslated(msg); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translated_messages (id, chat_id, sender_id, receiver_id, content, target_language, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.ReceiverID, msg.Content, msg.TargetLanguage, unixMilli(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert translated message %q: %w", msg.ID, err)
	}
	return nil
}

// ListMessages returns canonical messages of a chat ordered by creation time.
func (s *Store) ListMessages(ctx context.Context, chatID string, page store.Page) ([]chat.Message, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, sender_id, content, language, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ? OFFSET ?`,
		chatID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages for chat %q: %w", chatID, err)
	}
	defer rows.Close()

	out := make([]chat.Message, 0)
	for rows.Next() {
		var (
			msg     chat.Message
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.Language, &created); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

// ListTranslated returns stored copies of a chat, optionally for one language.
// 语言代码不区分大小写（pt-BR 与 pt-br 相同）。
func (s *Store) ListTranslated(ctx context.Context, chatID, language string, page store.Page) ([]chat.TranslatedMessage, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, sender_id, receiver_id, content, target_language, created_at
		FROM translated_messages
		WHERE chat_id = ? AND (? = '' OR target_language = ? COLLATE NOCASE)
		ORDER BY created_at ASC, rowid ASC
		LIMIT ? OFFSET ?`,
		chatID, language, language, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list translated messages for chat %q: %w", chatID, err)
	}
	defer rows.Close()

	out := make([]chat.TranslatedMessage, 0)
	for rows.Next() {
		var (
			msg     chat.TranslatedMessage
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.TargetLanguage, &created); err != nil {
			return nil, fmt.Errorf("scan translated message row: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate translated message rows: %w", err)
	}
	return out, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}
