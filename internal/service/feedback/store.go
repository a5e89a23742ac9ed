// Package feedback stores user feedback together with a snapshot of the
// conversation it refers to.
package feedback

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrEmptyComment = errors.New("feedback comment is required")
)

// Entry is one piece of submitted feedback.
type Entry struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Comment    string         `json:"feedback"`
	Transcript string         `json:"transcript,omitempty"`
	Prompt     string         `json:"prompt,omitempty"`
	Messages   []chat.Message `json:"messages"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Store persists feedback in SQLite.
type Store struct {
	db       *sql.DB
	password string
	log      *logging.Logger
	now      func() time.Time
}

// Open opens (or creates) the database at path and runs migrations.
// Use ":memory:" for tests. List requires password; an empty password
// disables listing.
func Open(path, password string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Nop()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	s := &Store{db: db, password: password, log: log, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s.log.Info().Str("path", path).Msg("feedback database opened")
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Submit stores e and returns it with ID and CreatedAt filled in.
func (s *Store) Submit(ctx context.Context, e Entry) (Entry, error) {
	if strings.TrimSpace(e.Comment) == "" {
		return Entry{}, ErrEmptyComment
	}
	if e.Messages == nil {
		e.Messages = []chat.Message{}
	}

	messages, err := json.Marshal(e.Messages)
	if err != nil {
		return Entry{}, fmt.Errorf("encode messages: %w", err)
	}

	e.ID = ulid.Make().String()
	e.CreatedAt = s.now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, session_id, comment, transcript, messages, prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Comment, e.Transcript, string(messages), e.Prompt, e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert feedback: %w", err)
	}

	s.log.Info().Str("id", e.ID).Str("session_id", e.SessionID).Int("messages", len(e.Messages)).Msg("feedback stored")
	return e, nil
}

// List returns all feedback, oldest first, when password matches.
func (s *Store) List(ctx context.Context, password string) ([]Entry, error) {
	if s.password == "" || subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) != 1 {
		return nil, ErrUnauthorized
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, comment, transcript, messages, prompt, created_at
		FROM feedback ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			messages  string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Comment, &e.Transcript, &messages, &e.Prompt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		if err := json.Unmarshal([]byte(messages), &e.Messages); err != nil {
			s.log.Warn().Err(err).Str("id", e.ID).Msg("unreadable feedback transcript")
			e.Messages = []chat.Message{}
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse feedback time: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Conversation is one session's messages with the feedback left on it.
type Conversation struct {
	Conversation []chat.Message `json:"conversation"`
	Feedback     string         `json:"feedback"`
}

// PromptGroup collects the conversations that ran under one system prompt.
type PromptGroup struct {
	Prompt        string         `json:"prompt"`
	Conversations []Conversation `json:"conversations"`
}

// GroupByPrompt groups entries by prompt, keeping first-seen order.
func GroupByPrompt(entries []Entry) []PromptGroup {
	groups := make([]PromptGroup, 0)
	index := make(map[string]int)
	for _, e := range entries {
		i, ok := index[e.Prompt]
		if !ok {
			i = len(groups)
			index[e.Prompt] = i
			groups = append(groups, PromptGroup{Prompt: e.Prompt})
		}
		groups[i].Conversations = append(groups[i].Conversations, Conversation{
			Conversation: e.Messages,
			Feedback:     strings.TrimSpace(e.Comment),
		})
	}
	return groups
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		s.log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
