package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutor-chat/internal/database"
	"tutor-chat/internal/models"
)

var (
	tutor   = models.Participant{ID: "tutor-1", Name: "Tess", Role: models.RoleTutor}
	student = models.Participant{ID: "student-1", Name: "Sam", Role: models.RoleStudent}
	other   = models.Participant{ID: "student-2", Name: "Olive", Role: models.RoleStudent}
)

func newTestService(t *testing.T) *ChatService {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })

	svc := NewChatService(db)
	clock := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

func startWith(t *testing.T, svc *ChatService, self, with models.Participant) *models.Conversation {
	t.Helper()
	conv, err := svc.StartConversation(context.Background(), self, &models.CreateConversationRequest{
		ParticipantID:   with.ID,
		ParticipantName: with.Name,
		ParticipantRole: with.Role,
	})
	require.NoError(t, err)
	return conv
}

func TestStartConversation(t *testing.T) {
	svc := newTestService(t)

	conv := startWith(t, svc, student, tutor)
	assert.Equal(t, tutor, conv.Participant)
	assert.Zero(t, conv.UnreadCount)
	assert.Nil(t, conv.LastMessage)

	again := startWith(t, svc, tutor, student)
	assert.Equal(t, conv.ID, again.ID, "one conversation per pair")
	assert.Equal(t, student, again.Participant)

	_, err := svc.StartConversation(context.Background(), student, &models.CreateConversationRequest{ParticipantID: student.ID})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.StartConversation(context.Background(), student, &models.CreateConversationRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendMessageValidation(t *testing.T) {
	svc := newTestService(t)
	conv := startWith(t, svc, student, tutor)

	tests := []struct {
		name    string
		sender  models.Participant
		req     models.SendMessageRequest
		wantErr error
	}{
		{"empty text", student, models.SendMessageRequest{ConversationID: conv.ID, Content: "  "}, ErrInvalidInput},
		{"unknown type", student, models.SendMessageRequest{ConversationID: conv.ID, Content: "x", Type: "video"}, ErrInvalidInput},
		{"file without upload", student, models.SendMessageRequest{ConversationID: conv.ID, Type: models.MessageTypeFile}, ErrInvalidInput},
		{"missing conversation id", student, models.SendMessageRequest{Content: "x"}, ErrInvalidInput},
		{"unknown conversation", student, models.SendMessageRequest{ConversationID: "nope", Content: "x"}, database.ErrNotFound},
		{"outsider", other, models.SendMessageRequest{ConversationID: conv.ID, Content: "x"}, ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendMessage(context.Background(), tt.sender, &tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSendListAndMarkRead(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	first := startWith(t, svc, student, tutor)
	second := startWith(t, svc, other, tutor)

	msg, err := svc.SendMessage(ctx, student, &models.SendMessageRequest{ConversationID: first.ID, Content: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, models.MessageTypeText, msg.Type)
	assert.Equal(t, "Sam", msg.SenderName)
	assert.True(t, msg.Delivered)

	_, err = svc.SendMessage(ctx, other, &models.SendMessageRequest{
		ConversationID: second.ID,
		Type:           models.MessageTypeImage,
		File:           &models.FileMeta{URL: "/uploads/x.png", Name: "x.png", Size: 3, MimeType: "image/png"},
	})
	require.NoError(t, err)

	convs, err := svc.ListConversations(ctx, tutor.ID)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, second.ID, convs[0].ID, "most recent activity first")
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, models.MessageTypeImage, convs[0].LastMessage.Type)
	assert.Equal(t, "hi", convs[1].LastMessage.Content)

	receipt, err := svc.MarkRead(ctx, tutor.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Updated)

	msgs, err := svc.GetMessages(ctx, tutor.ID, first.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)

	_, err = svc.GetMessages(ctx, other.ID, first.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.MarkRead(ctx, other.ID, first.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGetMessagesEmptyConversation(t *testing.T) {
	svc := newTestService(t)
	conv := startWith(t, svc, student, tutor)

	msgs, err := svc.GetMessages(context.Background(), student.ID, conv.ID)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}
