package broker

import (
	"errors"
	"fmt"

	"tutor-chat/internal/models"
	"tutor-chat/internal/protocol"
	"tutor-chat/pkg/logger"
)

var (
	ErrUnrecognizedEvent = errors.New("unrecognized event")
	ErrNotJoined         = errors.New("connection has not joined")
	ErrIdentityMismatch  = errors.New("event user does not match connection user")
	ErrNotRoomMember     = errors.New("connection is not a member of the room")
	ErrReplaced          = errors.New("connection was replaced by a newer one")
)

// Router is the single dispatch point for inbound events. It owns no state
// of its own; every mutation goes through the injected registries.
type Router struct {
	conns    *ConnectionRegistry
	rooms    *RoomRegistry
	presence *PresenceBroadcaster
	metrics  *Metrics
	log      *logger.Logger
}

func NewRouter(conns *ConnectionRegistry, rooms *RoomRegistry, presence *PresenceBroadcaster, metrics *Metrics, log *logger.Logger) *Router {
	return &Router{
		conns:    conns,
		rooms:    rooms,
		presence: presence,
		metrics:  metrics,
		log:      log,
	}
}

// Connect attaches a freshly opened connection.
func (r *Router) Connect(c *Connection) {
	c.onOverflow = func(slow *Connection) {
		r.metrics.slowPeer()
		r.log.Warn("Dropping slow connection %s: send queue full", slow.ID())
	}
	r.conns.Attach(c)
	r.metrics.observe(r.conns, r.rooms)
	r.log.Debug("Connection %s opened", c.ID())
}

// HandleRaw decodes one wire frame and dispatches it. Malformed or
// rejected frames are logged and dropped; the connection stays open.
func (r *Router) HandleRaw(c *Connection, raw []byte) {
	ev, err := protocol.Decode(raw)
	if err != nil {
		r.metrics.event("invalid", "dropped")
		r.log.Warn("Dropping frame from connection %s: %v", c.ID(), err)
		return
	}
	if err := r.Dispatch(c, ev); err != nil {
		r.metrics.event(string(ev.Type()), "dropped")
		r.log.Warn("Dropping %s from connection %s: %v", ev.Type(), c.ID(), err)
		return
	}
	r.metrics.event(string(ev.Type()), "handled")
}

// Dispatch applies one decoded event on behalf of c.
func (r *Router) Dispatch(c *Connection, ev protocol.Event) error {
	switch e := ev.(type) {
	case protocol.Join:
		return r.handleJoin(c, e)
	case protocol.JoinRoom:
		return r.handleJoinRoom(c, e)
	case protocol.LeaveRoom:
		return r.handleLeaveRoom(c, e)
	case protocol.Message:
		return r.handleMessage(c, e)
	case protocol.TypingStart:
		return r.relayTyping(c, models.EventTypingStart, models.TypingPayload(e))
	case protocol.TypingStop:
		return r.relayTyping(c, models.EventTypingStop, models.TypingPayload(e))
	case protocol.Unrecognized:
		return fmt.Errorf("%w: %q", ErrUnrecognizedEvent, e.Name)
	default:
		return fmt.Errorf("%w: %T", ErrUnrecognizedEvent, ev)
	}
}

// Disconnect removes every trace of c: room memberships (peers are told),
// the presence entry (everyone is told if the user went offline) and the
// connection itself. Calling it twice is harmless.
func (r *Router) Disconnect(c *Connection) {
	member, joined := c.Identity()
	for _, conversationID := range r.rooms.LeaveAll(c) {
		if joined {
			r.notifyRoom(conversationID, models.EventUserLeftRoom, models.RoomPresencePayload{
				ConversationID: conversationID,
				UserID:         member.UserID,
				UserName:       member.UserName,
				UserType:       member.UserType,
			}, c)
		}
	}

	userID, wentOffline := r.conns.Unregister(c)
	r.conns.Detach(c)
	if wentOffline {
		r.presence.Offline(userID)
		r.log.Info("User %s went offline", userID)
	}
	r.metrics.observe(r.conns, r.rooms)
	r.log.Debug("Connection %s closed", c.ID())
}

func (r *Router) handleJoin(c *Connection, e protocol.Join) error {
	if v := c.Verified(); v.ID != "" && v.ID != e.UserID {
		return fmt.Errorf("%w: join as %s on connection verified for %s", ErrIdentityMismatch, e.UserID, v.ID)
	}
	if member, ok := c.Identity(); ok && member.UserID != e.UserID {
		return fmt.Errorf("%w: connection already joined as %s", ErrIdentityMismatch, member.UserID)
	}

	replaced, wentOnline, err := r.conns.Register(e.UserID, e.UserName, e.UserType, c)
	if err != nil {
		return err
	}
	if replaced != nil {
		// the stale connection keeps presence events but no room traffic
		left := r.rooms.LeaveAll(replaced)
		r.log.Info("User %s reconnected; connection %s replaces %s (left %d rooms)", e.UserID, c.ID(), replaced.ID(), len(left))
	}

	if wentOnline {
		r.presence.Online(e.UserID)
	}
	r.sendTo(c, models.EventOnlineUsers, models.OnlineUsersPayload{UserIDs: r.conns.OnlineUsers()})
	r.metrics.observe(r.conns, r.rooms)
	r.log.Info("User %s (%s) joined", e.UserID, e.UserType)
	return nil
}

func (r *Router) handleJoinRoom(c *Connection, e protocol.JoinRoom) error {
	member, err := r.actingMember(c, e.UserID)
	if err != nil {
		return err
	}

	if r.rooms.Join(e.ConversationID, c) {
		r.notifyRoom(e.ConversationID, models.EventUserJoinedRoom, models.RoomPresencePayload{
			ConversationID: e.ConversationID,
			UserID:         member.UserID,
			UserName:       e.UserName,
			UserType:       member.UserType,
		}, c)
		r.log.Debug("User %s joined room %s", member.UserID, e.ConversationID)
	}

	r.sendTo(c, models.EventRoomMembers, models.RoomMembersPayload{
		ConversationID: e.ConversationID,
		Members:        r.rooms.MembersOf(e.ConversationID),
	})
	r.metrics.observe(r.conns, r.rooms)
	return nil
}

func (r *Router) handleLeaveRoom(c *Connection, e protocol.LeaveRoom) error {
	member, err := r.actingMember(c, e.UserID)
	if err != nil {
		return err
	}

	if r.rooms.Leave(e.ConversationID, c) {
		r.notifyRoom(e.ConversationID, models.EventUserLeftRoom, models.RoomPresencePayload{
			ConversationID: e.ConversationID,
			UserID:         member.UserID,
			UserName:       member.UserName,
			UserType:       member.UserType,
		}, c)
		r.log.Debug("User %s left room %s", member.UserID, e.ConversationID)
	}
	r.metrics.observe(r.conns, r.rooms)
	return nil
}

// handleMessage fans the already persisted message out to the other room
// members. The sender is excluded: it inserted the message locally when
// persistence succeeded.
func (r *Router) handleMessage(c *Connection, e protocol.Message) error {
	member, ok := c.Identity()
	if !ok {
		return ErrNotJoined
	}
	if _, err := r.actingMember(c, member.UserID); err != nil {
		return err
	}
	if !r.rooms.IsMember(e.ConversationID, c) {
		return fmt.Errorf("%w: %s", ErrNotRoomMember, e.ConversationID)
	}
	r.notifyRoom(e.ConversationID, models.EventMessage, models.MessagePayload(e), c)
	return nil
}

func (r *Router) relayTyping(c *Connection, eventType models.EventType, p models.TypingPayload) error {
	if _, err := r.actingMember(c, p.UserID); err != nil {
		return err
	}
	if !r.rooms.IsMember(p.ConversationID, c) {
		return fmt.Errorf("%w: %s", ErrNotRoomMember, p.ConversationID)
	}
	r.notifyRoom(p.ConversationID, eventType, p, c)
	return nil
}

// actingMember returns the identity behind c, checking that the event was
// sent on the user's own behalf from the user's live connection.
func (r *Router) actingMember(c *Connection, userID string) (models.Member, error) {
	member, ok := c.Identity()
	if !ok {
		return models.Member{}, ErrNotJoined
	}
	if member.UserID != userID {
		return models.Member{}, fmt.Errorf("%w: %s on connection of %s", ErrIdentityMismatch, userID, member.UserID)
	}
	if !r.conns.Represents(member.UserID, c) {
		return models.Member{}, fmt.Errorf("%w: %s", ErrReplaced, c.ID())
	}
	return member, nil
}

func (r *Router) notifyRoom(conversationID string, eventType models.EventType, payload any, exclude *Connection) {
	frame, err := protocol.Encode(eventType, payload)
	if err != nil {
		r.log.Error("Error encoding %s for room %s: %v", eventType, conversationID, err)
		return
	}
	r.metrics.delivered("room", r.rooms.Broadcast(conversationID, frame, exclude))
}

func (r *Router) sendTo(c *Connection, eventType models.EventType, payload any) {
	frame, err := protocol.Encode(eventType, payload)
	if err != nil {
		r.log.Error("Error encoding %s: %v", eventType, err)
		return
	}
	if c.Send(frame) {
		r.metrics.delivered("direct", 1)
	}
}
