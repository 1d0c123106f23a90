package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tutor-chat/internal/database"
	"tutor-chat/internal/models"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)

const defaultHistoryLimit = 200

type ChatService struct {
	db           database.Database
	historyLimit int
	now          func() time.Time
}

func NewChatService(db database.Database) *ChatService {
	return &ChatService{db: db, historyLimit: defaultHistoryLimit, now: time.Now}
}

// StartConversation returns the conversation between self and the requested
// participant, creating it the first time the pair talks.
func (s *ChatService) StartConversation(ctx context.Context, self models.Participant, req *models.CreateConversationRequest) (*models.Conversation, error) {
	participantID := strings.TrimSpace(req.ParticipantID)
	if participantID == "" {
		return nil, fmt.Errorf("%w: participantId is required", ErrInvalidInput)
	}
	if participantID == self.ID {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidInput)
	}

	if err := s.db.UpsertParticipant(ctx, self); err != nil {
		return nil, fmt.Errorf("failed to record participant: %w", err)
	}
	other := models.Participant{ID: participantID, Name: req.ParticipantName, Role: req.ParticipantRole}
	if err := s.db.UpsertParticipant(ctx, other); err != nil {
		return nil, fmt.Errorf("failed to record participant: %w", err)
	}

	rec, err := s.db.GetOrCreateConversation(ctx, self.ID, participantID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, rec, self.ID)
}

// ListConversations returns self's conversations, most recently active first.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	recs, err := s.db.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	convs := make([]*models.Conversation, 0, len(recs))
	for _, rec := range recs {
		conv, err := s.view(ctx, rec, userID)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (s *ChatService) GetMessages(ctx context.Context, userID, conversationID string) ([]*models.Message, error) {
	if _, err := s.conversationFor(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.db.LoadMessages(ctx, conversationID, s.historyLimit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	return msgs, nil
}

// SendMessage persists a message and returns the canonical record the
// sender relays over the socket.
func (s *ChatService) SendMessage(ctx context.Context, sender models.Participant, req *models.SendMessageRequest) (*models.Message, error) {
	msgType := req.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, msgType)
	}
	switch {
	case msgType == models.MessageTypeText && strings.TrimSpace(req.Content) == "":
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	case msgType != models.MessageTypeText && (req.File == nil || req.File.URL == ""):
		return nil, fmt.Errorf("%w: %s message needs an uploaded file", ErrInvalidInput, msgType)
	}

	rec, err := s.conversationFor(ctx, sender.ID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: rec.ID,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		Content:        req.Content,
		Type:           msgType,
		File:           req.File,
		CreatedAt:      s.now().UTC(),
		Delivered:      true,
	}
	if err := s.db.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.db.TouchConversation(ctx, rec.ID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return msg, nil
}

// MarkRead flags the other participant's messages in the conversation as
// read by userID.
func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID string) (*models.ReadReceipt, error) {
	if _, err := s.conversationFor(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	n, err := s.db.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return &models.ReadReceipt{ConversationID: conversationID, Updated: n}, nil
}

// conversationFor loads the conversation and checks userID takes part in it.
func (s *ChatService) conversationFor(ctx context.Context, userID, conversationID string) (*models.ConversationRecord, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("%w: conversationId is required", ErrInvalidInput)
	}
	rec, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !rec.Includes(userID) {
		return nil, ErrForbidden
	}
	return rec, nil
}

func (s *ChatService) view(ctx context.Context, rec *models.ConversationRecord, userID string) (*models.Conversation, error) {
	otherID := rec.Other(userID)
	participant := models.Participant{ID: otherID}
	p, err := s.db.GetParticipant(ctx, otherID)
	switch {
	case err == nil:
		participant = *p
	case !errors.Is(err, database.ErrNotFound):
		return nil, err
	}

	last, err := s.db.LastMessage(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	unread, err := s.db.CountUnread(ctx, rec.ID, userID)
	if err != nil {
		return nil, err
	}

	return &models.Conversation{
		ID:          rec.ID,
		Participant: participant,
		LastMessage: last,
		UnreadCount: unread,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}
