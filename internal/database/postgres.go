package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tutor-chat/internal/models"
	"tutor-chat/pkg/logger"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS participants (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_a     TEXT NOT NULL,
	user_b     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
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
	file_size       BIGINT NOT NULL DEFAULT 0,
	file_mime       TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	delivered       BOOLEAN NOT NULL DEFAULT false,
	read            BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_conversations_user_a ON conversations (user_a);
CREATE INDEX IF NOT EXISTS idx_conversations_user_b ON conversations (user_b);
`

const postgresMessageColumns = `id, conversation_id, sender_id, sender_name, content, type,
	file_url, file_name, file_size, file_mime, created_at, delivered, read`

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// Participant Repository Implementation
func (db *PostgresDB) UpsertParticipant(ctx context.Context, p models.Participant) error {
	query := `
		INSERT INTO participants (id, name, role) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), participants.name),
			role = COALESCE(NULLIF(EXCLUDED.role, ''), participants.role)`
	_, err := db.pool.Exec(ctx, query, p.ID, p.Name, string(p.Role))
	return err
}

func (db *PostgresDB) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	p := &models.Participant{}
	var role string
	err := db.pool.QueryRow(ctx, `SELECT id, name, role FROM participants WHERE id = $1`, id).Scan(&p.ID, &p.Name, &role)
	if err != nil {
		return nil, pgError(err)
	}
	p.Role = models.Role(role)
	return p, nil
}

// Conversation Repository Implementation
func (db *PostgresDB) GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.ConversationRecord, error) {
	a, b := orderedPair(userA, userB)
	now := time.Now().UTC()
	query := `
		INSERT INTO conversations (id, user_a, user_b, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_a, user_b) DO UPDATE SET user_a = EXCLUDED.user_a
		RETURNING id, user_a, user_b, created_at, updated_at`

	conv := &models.ConversationRecord{}
	err := db.pool.QueryRow(ctx, query, newID(), a, b, now).Scan(
		&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (db *PostgresDB) GetConversation(ctx context.Context, id string) (*models.ConversationRecord, error) {
	query := `SELECT id, user_a, user_b, created_at, updated_at FROM conversations WHERE id = $1`

	conv := &models.ConversationRecord{}
	err := db.pool.QueryRow(ctx, query, id).Scan(&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, pgError(err)
	}
	return conv, nil
}

func (db *PostgresDB) ListConversations(ctx context.Context, userID string) ([]*models.ConversationRecord, error) {
	query := `
		SELECT id, user_a, user_b, created_at, updated_at
		FROM conversations
		WHERE user_a = $1 OR user_b = $1
		ORDER BY updated_at DESC`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*models.ConversationRecord
	for rows.Next() {
		conv := &models.ConversationRecord{}
		if err := rows.Scan(&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (db *PostgresDB) TouchConversation(ctx context.Context, id string, at time.Time) error {
	tag, err := db.pool.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Message Repository Implementation
func (db *PostgresDB) SaveMessage(ctx context.Context, msg *models.Message) error {
	url, name, size, mime := fileColumns(msg.File)
	query := `INSERT INTO messages (` + postgresMessageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := db.pool.Exec(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderName, msg.Content, string(msg.Type),
		url, name, size, mime, msg.CreatedAt.UTC(), msg.Delivered, msg.Read,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (db *PostgresDB) LoadMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT ` + postgresMessageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanPostgresMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (db *PostgresDB) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	query := `
		SELECT ` + postgresMessageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	msg, err := scanPostgresMessage(db.pool.QueryRow(ctx, query, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func (db *PostgresDB) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND sender_id <> $2 AND NOT read`
	var n int
	err := db.pool.QueryRow(ctx, query, conversationID, readerID).Scan(&n)
	return n, err
}

func (db *PostgresDB) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	query := `UPDATE messages SET read = true WHERE conversation_id = $1 AND sender_id <> $2 AND NOT read`
	tag, err := db.pool.Exec(ctx, query, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanPostgresMessage(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	var msgType, url, name, mime string
	var size int64
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderName, &msg.Content, &msgType,
		&url, &name, &size, &mime, &msg.CreatedAt, &msg.Delivered, &msg.Read,
	)
	if err != nil {
		return nil, err
	}
	msg.Type = models.MessageType(msgType)
	msg.File = fileFromColumns(url, name, size, mime)
	return msg, nil
}

func pgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
