package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tutor-chat/internal/models"
	"tutor-chat/pkg/logger"
)

// Timestamps are stored as unix nanoseconds so ordering is exact.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS participants (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_a     TEXT NOT NULL,
	user_b     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (user_a, user_b)
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_id       TEXT NOT NULL,
	sender_name     TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	type            TEXT NOT NULL,
	file_url        TEXT NOT NULL DEFAULT '',
	file_name       TEXT NOT NULL DEFAULT '',
	file_size       INTEGER NOT NULL DEFAULT 0,
	file_mime       TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	delivered       INTEGER NOT NULL DEFAULT 0,
	read            INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_conversations_user_a ON conversations (user_a);
CREATE INDEX IF NOT EXISTS idx_conversations_user_b ON conversations (user_b);
`

const sqliteMessageColumns = `id, conversation_id, sender_id, sender_name, content, type,
	file_url, file_name, file_size, file_mime, created_at, delivered, read`

// SQLiteDB is the embedded store used for local development and tests.
type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every :memory: connection is a separate database
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Opened sqlite database %s", path)
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Participant Repository Implementation
func (s *SQLiteDB) UpsertParticipant(ctx context.Context, p models.Participant) error {
	query := `
		INSERT INTO participants (id, name, role) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = COALESCE(NULLIF(excluded.name, ''), participants.name),
			role = COALESCE(NULLIF(excluded.role, ''), participants.role)`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, string(p.Role))
	return err
}

func (s *SQLiteDB) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	p := &models.Participant{}
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, role FROM participants WHERE id = ?`, id).Scan(&p.ID, &p.Name, &role)
	if err != nil {
		return nil, sqlError(err)
	}
	p.Role = models.Role(role)
	return p, nil
}

// Conversation Repository Implementation
func (s *SQLiteDB) GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.ConversationRecord, error) {
	a, b := orderedPair(userA, userB)
	now := time.Now().UTC().UnixNano()
	query := `
		INSERT INTO conversations (id, user_a, user_b, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_a, user_b) DO UPDATE SET user_a = excluded.user_a
		RETURNING id, user_a, user_b, created_at, updated_at`

	conv, err := scanSQLiteConversation(s.db.QueryRowContext(ctx, query, newID(), a, b, now, now))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteDB) GetConversation(ctx context.Context, id string) (*models.ConversationRecord, error) {
	query := `SELECT id, user_a, user_b, created_at, updated_at FROM conversations WHERE id = ?`
	conv, err := scanSQLiteConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, sqlError(err)
	}
	return conv, nil
}

func (s *SQLiteDB) ListConversations(ctx context.Context, userID string) ([]*models.ConversationRecord, error) {
	query := `
		SELECT id, user_a, user_b, created_at, updated_at
		FROM conversations
		WHERE user_a = ? OR user_b = ?
		ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*models.ConversationRecord
	for rows.Next() {
		conv, err := scanSQLiteConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *SQLiteDB) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, at.UTC().UnixNano(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Message Repository Implementation
func (s *SQLiteDB) SaveMessage(ctx context.Context, msg *models.Message) error {
	url, name, size, mime := fileColumns(msg.File)
	query := `INSERT INTO messages (` + sqliteMessageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderName, msg.Content, string(msg.Type),
		url, name, size, mime, msg.CreatedAt.UTC().UnixNano(), msg.Delivered, msg.Read,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *SQLiteDB) LoadMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT ` + sqliteMessageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLiteDB) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	query := `
		SELECT ` + sqliteMessageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	msg, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, query, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func (s *SQLiteDB) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND sender_id <> ? AND read = 0`
	var n int
	err := s.db.QueryRowContext(ctx, query, conversationID, readerID).Scan(&n)
	return n, err
}

func (s *SQLiteDB) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	query := `UPDATE messages SET read = 1 WHERE conversation_id = ? AND sender_id <> ? AND read = 0`
	res, err := s.db.ExecContext(ctx, query, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteConversation(row rowScanner) (*models.ConversationRecord, error) {
	conv := &models.ConversationRecord{}
	var created, updated int64
	if err := row.Scan(&conv.ID, &conv.UserA, &conv.UserB, &created, &updated); err != nil {
		return nil, err
	}
	conv.CreatedAt = time.Unix(0, created).UTC()
	conv.UpdatedAt = time.Unix(0, updated).UTC()
	return conv, nil
}

func scanSQLiteMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var msgType, url, name, mime string
	var size, created int64
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderName, &msg.Content, &msgType,
		&url, &name, &size, &mime, &created, &msg.Delivered, &msg.Read,
	)
	if err != nil {
		return nil, err
	}
	msg.Type = models.MessageType(msgType)
	msg.File = fileFromColumns(url, name, size, mime)
	msg.CreatedAt = time.Unix(0, created).UTC()
	return msg, nil
}

func sqlError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
