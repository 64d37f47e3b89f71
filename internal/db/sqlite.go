package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RichardoC/localchat/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at);`

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ErrNotFound is returned when a conversation id does not exist.
var ErrNotFound = errors.New("conversation not found")

type Database struct {
	db  *sql.DB
	now func() time.Time
}

type Option func(*Database)

// WithClock overrides the source of created_at/updated_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Database) { d.now = now }
}

// New opens (or creates) the SQLite database at dbPath and applies the schema.
func New(dbPath string, opts ...Option) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	d := &Database{db: db, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) timestamp() time.Time {
	return db.now().UTC()
}

func (db *Database) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	now := db.timestamp()
	res, err := db.db.ExecContext(ctx, `
        INSERT INTO conversations (title, created_at, updated_at)
        VALUES (?, ?, ?)`, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation id: %w", err)
	}
	return &models.Conversation{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (db *Database) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	var conv models.Conversation
	err := db.db.QueryRowContext(ctx, `
        SELECT id, title, created_at, updated_at
        FROM conversations
        WHERE id = ?`, id).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %d: %w", id, err)
	}
	return &conv, nil
}

// ListConversations returns conversations ordered by most recent update.
func (db *Database) ListConversations(ctx context.Context, skip, limit int) ([]models.Conversation, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := db.db.QueryContext(ctx, `
        SELECT id, title, created_at, updated_at
        FROM conversations
        ORDER BY updated_at DESC, id DESC
        LIMIT ? OFFSET ?`, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// ListMessages returns every message of a conversation, oldest first.
func (db *Database) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AppendTurn stores a user message and its assistant reply and bumps the
// conversation's updated_at. Either everything is written or nothing is.
func (db *Database) AppendTurn(ctx context.Context, conversationID int64, userText, assistantText string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := db.timestamp()
	res, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", now, conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation %d: %w", conversationID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check updated conversation: %w", err)
	} else if n == 0 {
		return fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
	}

	insert := `
        INSERT INTO messages (conversation_id, role, content, created_at)
        VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, conversationID, models.RoleUser, userText, now); err != nil {
		return fmt.Errorf("failed to save user message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, conversationID, models.RoleAssistant, assistantText, now); err != nil {
		return fmt.Errorf("failed to save assistant message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation and its messages. It reports
// false when the id did not exist.
func (db *Database) DeleteConversation(ctx context.Context, id int64) (bool, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Delete messages
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return false, fmt.Errorf("failed to delete messages: %w", err)
	}

	// Delete conversation
	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check deleted conversation: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return true, nil
}

func (db *Database) RenameConversation(ctx context.Context, id int64, title string) (bool, error) {
	res, err := db.db.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?", title, db.timestamp(), id)
	if err != nil {
		return false, fmt.Errorf("failed to rename conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check renamed conversation: %w", err)
	}
	return n > 0, nil
}
