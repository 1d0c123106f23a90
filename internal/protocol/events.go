// Package protocol defines the websocket wire format shared by the broker
// and its clients: a {"type","data"} frame and the closed set of inbound
// events the broker understands.
package protocol

import "tutor-chat/internal/models"

// Event is one decoded inbound frame. The set of implementations is closed;
// anything the broker does not recognise decodes to Unrecognized.
type Event interface {
	Type() models.EventType
	isEvent()
}

type Join models.JoinPayload

type JoinRoom models.JoinRoomPayload

type LeaveRoom models.LeaveRoomPayload

type Message models.MessagePayload

type TypingStart models.TypingPayload

type TypingStop models.TypingPayload

// Unrecognized is a well-formed frame whose type the broker does not handle.
type Unrecognized struct {
	Name models.EventType
}

func (Join) Type() models.EventType { return models.EventJoin }
func (JoinRoom) Type() models.EventType { return models.EventJoinRoom }
func (LeaveRoom) Type() models.EventType { return models.EventLeaveRoom }
func (Message) Type() models.EventType { return models.EventMessage }
func (TypingStart) Type() models.EventType { return models.EventTypingStart }
func (TypingStop) Type() models.EventType { return models.EventTypingStop }
func (u Unrecognized) Type() models.EventType { return u.Name }

func (Join) isEvent() {}
func (JoinRoom) isEvent() {}
func (LeaveRoom) isEvent() {}
func (Message) isEvent() {}
func (TypingStart) isEvent() {}
func (TypingStop) isEvent() {}
func (Unrecognized) isEvent() {}
