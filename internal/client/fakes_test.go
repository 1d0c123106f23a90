package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tutor-chat/internal/models"
	"tutor-chat/internal/protocol"
)

// fakeTransport is an in-memory broker connection.
type fakeTransport struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []protocol.Frame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case raw := <-f.inbound:
		return raw, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, frame)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) push(t *testing.T, eventType models.EventType, payload any) {
	t.Helper()
	raw, err := protocol.Encode(eventType, payload)
	require.NoError(t, err)
	f.inbound <- raw
}

func (f *fakeTransport) sent(eventType models.EventType) []protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Frame
	for _, frame := range f.written {
		if frame.Type == eventType {
			out = append(out, frame)
		}
	}
	return out
}

// fakeAPI keeps conversations and messages in memory.
type fakeAPI struct {
	self models.Participant

	mu        sync.Mutex
	convs     []models.Conversation
	messages  map[string][]models.Message
	reads     []string
	sendErr   error
	uploadErr error
	onSend    func()
	seq       int
}

func newFakeAPI(self models.Participant) *fakeAPI {
	return &fakeAPI{self: self, messages: make(map[string][]models.Message)}
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Conversation(nil), f.convs...), nil
}

func (f *fakeAPI) CreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.Participant.ID == req.ParticipantID {
			return &c, nil
		}
	}
	conv := models.Conversation{
		ID:          "conv-" + req.ParticipantID,
		Participant: models.Participant{ID: req.ParticipantID, Name: req.ParticipantName, Role: req.ParticipantRole},
		UpdatedAt:   t0,
	}
	f.convs = append(f.convs, conv)
	return &conv, nil
}

func (f *fakeAPI) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.messages[conversationID]...), nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	f.mu.Lock()
	onSend, sendErr := f.onSend, f.sendErr
	f.mu.Unlock()
	if onSend != nil {
		onSend()
	}
	if sendErr != nil {
		return nil, sendErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m := models.Message{
		ID:             fmt.Sprintf("m%d", f.seq),
		ConversationID: req.ConversationID,
		SenderID:       f.self.ID,
		SenderName:     f.self.Name,
		Content:        req.Content,
		Type:           req.Type,
		File:           req.File,
		CreatedAt:      t0.Add(time.Duration(f.seq) * time.Minute),
		Delivered:      true,
	}
	f.messages[req.ConversationID] = append(f.messages[req.ConversationID], m)
	return &m, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, conversationID string) (*models.ReadReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, conversationID)
	return &models.ReadReceipt{ConversationID: conversationID}, nil
}

func (f *fakeAPI) Upload(ctx context.Context, kind models.MessageType, fileName string, body io.Reader) (*models.FileMeta, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return &models.FileMeta{URL: "/uploads/" + fileName, Name: fileName, Size: int64(len(data)), MimeType: "image/png"}, nil
}

// sequenceDialer hands out the given transports in order, then fails.
type sequenceDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	dialed     chan *fakeTransport
	attempts   int
}

func newSequenceDialer(transports ...*fakeTransport) *sequenceDialer {
	return &sequenceDialer{transports: transports, dialed: make(chan *fakeTransport, len(transports))}
}

var errDialRefused = errors.New("connection refused")

func (d *sequenceDialer) dial(ctx context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if len(d.transports) == 0 {
		return nil, errDialRefused
	}
	t := d.transports[0]
	d.transports = d.transports[1:]
	d.dialed <- t
	return t, nil
}

func (d *sequenceDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func messagePayload(t *testing.T, m models.Message) models.MessagePayload {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return models.MessagePayload{ConversationID: m.ConversationID, Message: raw}
}
