package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"tutor-chat/internal/backoff"
	"tutor-chat/internal/config"
	"tutor-chat/internal/models"
	"tutor-chat/internal/protocol"
	"tutor-chat/pkg/logger"
)

var ErrNoActiveConversation = errors.New("no active conversation")

// SendError reports a message that could not be persisted. Input is the
// original request, ready to be retried.
type SendError struct {
	Input models.SendMessageRequest
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

type Options struct {
	Self          models.Participant
	Dialer        Dialer
	API           API
	TypingTimeout time.Duration
	Backoff       backoff.Policy
	MaxAttempts   int
	Logger        *logger.Logger
}

// OptionsFromConfig wires the websocket dialer and REST client for self,
// authenticating both with token.
func OptionsFromConfig(cfg config.ClientConfig, self models.Participant, token string) Options {
	return Options{
		Self:          self,
		Dialer:        WebSocketDialer(cfg.ServerURL, token),
		API:           NewAPIClient(cfg.APIURL, token),
		TypingTimeout: cfg.TypingTimeout,
		Backoff: backoff.Policy{
			Initial: cfg.BackoffInitial,
			Max:     cfg.BackoffMax,
			Factor:  cfg.BackoffFactor,
			Jitter:  cfg.BackoffJitter,
		},
		MaxAttempts: cfg.MaxAttempts,
	}
}

// Client is one user's chat session.
type Client struct {
	self       models.Participant
	store      *Store
	api        API
	supervisor *Supervisor
	notifier   *TypingNotifier
	expiry     *TypingExpiry
	log        *logger.Logger
	now        func() time.Time
}

func New(opts Options) *Client {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.GlobalLogger
	}

	store := NewStore(NewState(opts.Self))
	c := &Client{
		self:  opts.Self,
		store: store,
		api:   opts.API,
		log:   opts.Logger,
		now:   time.Now,
	}
	c.notifier = NewTypingNotifier(opts.Self, opts.TypingTimeout, func(eventType models.EventType, p models.TypingPayload) {
		if err := c.emit(eventType, p); err != nil && !errors.Is(err, ErrNotConnected) {
			c.log.Warn("Error sending %s: %v", eventType, err)
		}
	})
	c.expiry = NewTypingExpiry(opts.TypingTimeout, store.Dispatch)
	c.supervisor = NewSupervisor(opts.Dialer, store, opts.Backoff, opts.MaxAttempts, opts.Logger)
	c.supervisor.onConnect = c.announce
	c.supervisor.onFrame = c.handleFrame
	return c
}

// Run keeps the socket connected until ctx is done or reconnection gives
// up with ErrReconnectFailed.
func (c *Client) Run(ctx context.Context) error {
	defer c.expiry.Reset()
	return c.supervisor.Run(ctx)
}

func (c *Client) State() State {
	return c.store.State()
}

func (c *Client) Subscribe() (<-chan State, func()) {
	return c.store.Subscribe()
}

func (c *Client) Close() {
	c.expiry.Reset()
	c.store.Close()
}

func (c *Client) LoadConversations(ctx context.Context) error {
	convs, err := c.api.ListConversations(ctx)
	if err != nil {
		c.store.Dispatch(SetError{Err: err})
		return err
	}
	c.store.Dispatch(SetConversations{Conversations: convs})
	return nil
}

// StartConversation creates or fetches the conversation with participant.
func (c *Client) StartConversation(ctx context.Context, participant models.Participant) (*models.Conversation, error) {
	conv, err := c.api.CreateConversation(ctx, models.CreateConversationRequest{
		ParticipantID:   participant.ID,
		ParticipantName: participant.Name,
		ParticipantRole: participant.Role,
	})
	if err != nil {
		c.store.Dispatch(SetError{Err: err})
		return nil, err
	}
	c.store.Dispatch(UpdateConversation{Conversation: *conv})
	return conv, nil
}

// OpenConversation makes conversationID the active one: it leaves the
// previous room, joins the new one, loads its history and marks it read.
func (c *Client) OpenConversation(ctx context.Context, conversationID string) error {
	if prev := c.store.State().ActiveConversationID; prev != "" && prev != conversationID {
		c.leave(prev)
	}
	c.store.Dispatch(SetActiveConversation{ConversationID: conversationID})

	// when offline, announce joins the room after the next connect
	c.emitQuiet(models.EventJoinRoom, models.JoinRoomPayload{
		ConversationID: conversationID,
		UserID:         c.self.ID,
		UserName:       c.self.Name,
	})

	if err := c.refresh(ctx, conversationID); err != nil {
		c.store.Dispatch(SetError{Err: err})
		return err
	}

	if _, err := c.api.MarkRead(ctx, conversationID); err != nil {
		c.log.Warn("Error marking %s read: %v", conversationID, err)
		return nil
	}
	c.store.Dispatch(MarkRead{ConversationID: conversationID, ReaderID: c.self.ID})
	return nil
}

func (c *Client) CloseConversation() {
	active := c.store.State().ActiveConversationID
	if active == "" {
		return
	}
	c.leave(active)
	c.store.Dispatch(SetActiveConversation{ConversationID: ""})
}

// Keystroke reports local typing in the active conversation.
func (c *Client) Keystroke() {
	c.notifier.Keystroke(c.store.State().ActiveConversationID)
}

// SendMessage sends a text message to the active conversation.
func (c *Client) SendMessage(ctx context.Context, content string) (*models.Message, error) {
	return c.send(ctx, models.SendMessageRequest{
		ConversationID: c.store.State().ActiveConversationID,
		Content:        content,
		Type:           models.MessageTypeText,
	})
}

// SendFile uploads body and sends it as a file or image message.
func (c *Client) SendFile(ctx context.Context, kind models.MessageType, fileName string, body io.Reader) (*models.Message, error) {
	req := models.SendMessageRequest{
		ConversationID: c.store.State().ActiveConversationID,
		Content:        fileName,
		Type:           kind,
	}
	if req.ConversationID == "" {
		return nil, &SendError{Input: req, Err: ErrNoActiveConversation}
	}

	meta, err := c.api.Upload(ctx, kind, fileName, body)
	if err != nil {
		sendErr := &SendError{Input: req, Err: fmt.Errorf("upload: %w", err)}
		c.store.Dispatch(SetError{Err: sendErr})
		return nil, sendErr
	}
	req.File = meta
	return c.send(ctx, req)
}

// send shows the message at once as pending, persists it, swaps in the
// canonical record and relays it to the room. A failed save rolls the
// pending message back.
func (c *Client) send(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	if req.ConversationID == "" {
		return nil, &SendError{Input: req, Err: ErrNoActiveConversation}
	}

	pending := models.Message{
		ID:             "tmp-" + uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       c.self.ID,
		SenderName:     c.self.Name,
		Content:        req.Content,
		Type:           req.Type,
		File:           req.File,
		CreatedAt:      c.now().UTC(),
		Pending:        true,
	}
	c.store.Dispatch(AddMessage{Message: pending})

	msg, err := c.api.SendMessage(ctx, req)
	if err != nil {
		sendErr := &SendError{Input: req, Err: err}
		c.store.Dispatch(RemoveMessage{MessageID: pending.ID})
		c.store.Dispatch(SetError{Err: sendErr})
		return nil, sendErr
	}

	c.store.Dispatch(ConfirmMessage{TempID: pending.ID, Message: *msg})
	c.notifier.Stop()

	raw, err := json.Marshal(msg)
	if err != nil {
		return msg, nil
	}
	// peers that miss this recover it from history on their next fetch
	c.emitQuiet(models.EventMessage, models.MessagePayload{ConversationID: msg.ConversationID, Message: raw})
	return msg, nil
}

func (c *Client) leave(conversationID string) {
	c.notifier.Stop()
	c.expiry.Reset()
	c.emitQuiet(models.EventLeaveRoom, models.LeaveRoomPayload{ConversationID: conversationID, UserID: c.self.ID})
}

// announce runs on every connection: the broker forgets identity and room
// membership with the old socket, and anything sent while offline was
// missed, so history is fetched again.
func (c *Client) announce(ctx context.Context, t Transport) error {
	if err := c.write(t, models.EventJoin, models.JoinPayload{
		UserID:   c.self.ID,
		UserName: c.self.Name,
		UserType: c.self.Role,
	}); err != nil {
		return err
	}

	active := c.store.State().ActiveConversationID
	if active != "" {
		if err := c.write(t, models.EventJoinRoom, models.JoinRoomPayload{
			ConversationID: active,
			UserID:         c.self.ID,
			UserName:       c.self.Name,
		}); err != nil {
			return err
		}
	}

	if c.api == nil {
		return nil
	}
	if err := c.LoadConversations(ctx); err != nil {
		c.log.Warn("Error reloading conversations: %v", err)
	}
	if active != "" {
		if err := c.refresh(ctx, active); err != nil {
			c.log.Warn("Error reloading messages for %s: %v", active, err)
		}
	}
	return nil
}

func (c *Client) refresh(ctx context.Context, conversationID string) error {
	msgs, err := c.api.GetMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	c.store.Dispatch(SetMessages{ConversationID: conversationID, Messages: msgs})
	return nil
}

func (c *Client) handleFrame(frame protocol.Frame) {
	var err error
	switch frame.Type {
	case models.EventUserOnline:
		var p models.PresencePayload
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			c.store.Dispatch(UserOnline{UserID: p.UserID})
		}
	case models.EventUserOffline:
		var p models.PresencePayload
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			c.expiry.Stopped(p.UserID)
			c.store.Dispatch(UserOffline{UserID: p.UserID})
		}
	case models.EventOnlineUsers:
		var p models.OnlineUsersPayload
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			c.store.Dispatch(SetOnlineUsers{UserIDs: p.UserIDs})
		}
	case models.EventMessage:
		var p models.MessagePayload
		var msg models.Message
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			if err = json.Unmarshal(p.Message, &msg); err == nil {
				if msg.ConversationID == "" {
					msg.ConversationID = p.ConversationID
				}
				c.expiry.Stopped(msg.SenderID)
				c.store.Dispatch(AddMessage{Message: msg})
			}
		}
	case models.EventTypingStart:
		var p models.TypingPayload
		if err = json.Unmarshal(frame.Data, &p); err == nil && p.UserID != c.self.ID {
			c.store.Dispatch(TypingStarted{ConversationID: p.ConversationID, UserID: p.UserID, UserName: p.UserName})
			c.expiry.Started(p.UserID)
		}
	case models.EventTypingStop:
		var p models.TypingPayload
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			c.expiry.Stopped(p.UserID)
			c.store.Dispatch(TypingStopped{UserID: p.UserID})
		}
	case models.EventUserLeftRoom:
		var p models.RoomPresencePayload
		if err = json.Unmarshal(frame.Data, &p); err == nil {
			c.expiry.Stopped(p.UserID)
			c.store.Dispatch(TypingStopped{UserID: p.UserID})
		}
	case models.EventUserJoinedRoom, models.EventRoomMembers:
		c.log.Debug("Room update %s: %s", frame.Type, frame.Data)
	default:
		c.log.Debug("Ignoring %s from server", frame.Type)
	}
	if err != nil {
		c.log.Warn("Dropping malformed %s from server: %v", frame.Type, err)
	}
}

// emit writes to the current socket, whichever it is now.
func (c *Client) emit(eventType models.EventType, payload interface{}) error {
	t := c.store.State().Socket
	if t == nil {
		return ErrNotConnected
	}
	return c.write(t, eventType, payload)
}

func (c *Client) emitQuiet(eventType models.EventType, payload interface{}) {
	if err := c.emit(eventType, payload); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Warn("Error sending %s: %v", eventType, err)
	}
}

func (c *Client) write(t Transport, eventType models.EventType, payload interface{}) error {
	raw, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}
	return t.WriteMessage(raw)
}
