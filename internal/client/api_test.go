package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutor-chat/internal/auth"
	"tutor-chat/internal/broker"
	"tutor-chat/internal/config"
	"tutor-chat/internal/database"
	"tutor-chat/internal/handlers"
	"tutor-chat/internal/models"
	"tutor-chat/internal/services"
	"tutor-chat/internal/uploads"
	"tutor-chat/pkg/logger"
)

// stack runs the REST API and the broker over httptest.
type stack struct {
	api    *httptest.Server
	broker *httptest.Server
	auth   *auth.Service
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	store, err := uploads.NewLocalStorage(dir, "")
	require.NoError(t, err)

	authService := auth.NewService([]byte("test-secret"), time.Hour)
	apiServer := httptest.NewServer(handlers.NewAPIRouter(
		authService,
		handlers.NewChatHandlers(services.NewChatService(db)),
		handlers.NewUploadHandlers(uploads.NewUploader(store, 1<<20), 1<<20),
		dir,
	))
	t.Cleanup(apiServer.Close)

	cfg := config.BrokerConfig{ReadLimit: 64 << 10, PongWait: time.Minute, WriteWait: time.Second, SendBuffer: 64}
	b := broker.New(cfg, nil, logger.NewWithWriters(io.Discard, io.Discard))
	brokerServer := httptest.NewServer(handlers.NewBrokerRouter(handlers.NewWebSocketHandlers(authService, b, cfg)))
	t.Cleanup(func() {
		b.Shutdown()
		brokerServer.Close()
	})

	return &stack{api: apiServer, broker: brokerServer, auth: authService}
}

func (s *stack) token(t *testing.T, p models.Participant) string {
	t.Helper()
	token, err := s.auth.IssueToken(p)
	require.NoError(t, err)
	return token
}

func (s *stack) client(t *testing.T, p models.Participant) *Client {
	t.Helper()
	token := s.token(t, p)
	c := New(Options{
		Self:          p,
		Dialer:        WebSocketDialer("ws"+strings.TrimPrefix(s.broker.URL, "http")+"/ws", token),
		API:           NewAPIClient(s.api.URL, token),
		TypingTimeout: time.Second,
		Backoff:       fastRetry,
		MaxAttempts:   3,
		Logger:        logger.NewWithWriters(io.Discard, io.Discard),
	})
	t.Cleanup(c.Close)
	return c
}

func TestAPIClientRoundTrip(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	api := NewAPIClient(s.api.URL+"/", s.token(t, tess))

	conv, err := api.CreateConversation(ctx, models.CreateConversationRequest{
		ParticipantID: sam.ID, ParticipantName: sam.Name, ParticipantRole: sam.Role,
	})
	require.NoError(t, err)
	assert.Equal(t, sam.ID, conv.Participant.ID)

	sent, err := api.SendMessage(ctx, models.SendMessageRequest{ConversationID: conv.ID, Content: "hi", Type: models.MessageTypeText})
	require.NoError(t, err)
	assert.True(t, sent.Delivered)

	msgs, err := api.GetMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)

	convs, err := api.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, sent.ID, convs[0].LastMessage.ID)

	meta, err := api.Upload(ctx, models.MessageTypeFile, "notes.txt", strings.NewReader("chapter 4"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", meta.Name)
	assert.Equal(t, int64(9), meta.Size)

	samAPI := NewAPIClient(s.api.URL, s.token(t, sam))
	receipt, err := samAPI.MarkRead(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Updated)
}

func TestAPIClientErrors(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := NewAPIClient(s.api.URL, "").ListConversations(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = NewAPIClient(s.api.URL, s.token(t, olly)).GetMessages(ctx, "no-such-conversation")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, http.MethodGet, apiErr.Method)
}

func TestTwoClientsChat(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tutor := s.client(t, tess)
	student := s.client(t, sam)

	conv, err := tutor.StartConversation(ctx, sam)
	require.NoError(t, err)

	done := make(chan error, 2)
	go func() { done <- tutor.Run(ctx) }()
	go func() { done <- student.Run(ctx) }()
	defer func() {
		cancel()
		<-done
		<-done
	}()

	require.Eventually(t, func() bool {
		return tutor.State().IsOnline(sam.ID) && student.State().IsOnline(tess.ID)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, student.LoadConversations(ctx))
	require.NoError(t, tutor.OpenConversation(ctx, conv.ID))
	require.NoError(t, student.OpenConversation(ctx, conv.ID))

	// room joins are asynchronous; wait until typing relays both ways
	require.Eventually(t, func() bool {
		student.Keystroke()
		return len(tutor.State().TypingUsers) == 1
	}, 5*time.Second, 50*time.Millisecond)

	sent, err := tutor.SendMessage(ctx, "Chapter 4 before Thursday")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := student.State().Messages
		return len(msgs) == 1 && msgs[0].ID == sent.ID
	}, 5*time.Second, 10*time.Millisecond)
	require.Len(t, tutor.State().Messages, 1)
	assert.Equal(t, sent.ID, tutor.State().Messages[0].ID)
}
