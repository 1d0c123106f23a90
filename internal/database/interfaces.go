package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tutor-chat/internal/models"
)

var ErrNotFound = errors.New("not found")

var newID = uuid.NewString

type ParticipantRepository interface {
	UpsertParticipant(ctx context.Context, p models.Participant) error
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
}

type ConversationRepository interface {
	// GetOrCreateConversation returns the single conversation between the
	// two users, creating it on first use. Argument order does not matter.
	GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.ConversationRecord, error)
	GetConversation(ctx context.Context, id string) (*models.ConversationRecord, error)
	ListConversations(ctx context.Context, userID string) ([]*models.ConversationRecord, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	LoadMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	// LastMessage returns nil, nil for a conversation with no messages.
	LastMessage(ctx context.Context, conversationID string) (*models.Message, error)
	CountUnread(ctx context.Context, conversationID, readerID string) (int, error)
	// MarkRead flags every message in the conversation not sent by readerID
	// as read and returns how many changed.
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)
}

type Database interface {
	ParticipantRepository
	ConversationRepository
	MessageRepository
	Migrate(ctx context.Context) error
	Close() error
}

// Open picks the implementation for driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, url string) (Database, error) {
	switch driver {
	case "postgres", "":
		return NewPostgresDB(ctx, url)
	case "sqlite":
		return NewSQLiteDB(url)
	default:
		return nil, errors.New("unsupported database driver: " + driver)
	}
}

// orderedPair normalises a participant pair so each pair maps to one row.
func orderedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

func fileColumns(f *models.FileMeta) (url, name string, size int64, mime string) {
	if f == nil {
		return "", "", 0, ""
	}
	return f.URL, f.Name, f.Size, f.MimeType
}

func fileFromColumns(url, name string, size int64, mime string) *models.FileMeta {
	if url == "" {
		return nil
	}
	return &models.FileMeta{URL: url, Name: name, Size: size, MimeType: mime}
}
