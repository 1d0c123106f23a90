package models

import "encoding/json"

type EventType string

// Inbound events (client -> broker).
const (
	EventJoin        EventType = "join"
	EventJoinRoom    EventType = "join_room"
	EventLeaveRoom   EventType = "leave_room"
	EventMessage     EventType = "message"
	EventTypingStart EventType = "typing_start"
	EventTypingStop  EventType = "typing_stop"
)

// Outbound events (broker -> client). message, typing_start and
// typing_stop are relayed under their inbound names.
const (
	EventUserOnline     EventType = "user_online"
	EventUserOffline    EventType = "user_offline"
	EventOnlineUsers    EventType = "online_users"
	EventUserJoinedRoom EventType = "user_joined_room"
	EventUserLeftRoom   EventType = "user_left_room"
	EventRoomMembers    EventType = "room_members"
)

type JoinPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	UserType Role   `json:"userType"`
}

type JoinRoomPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

type LeaveRoomPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// MessagePayload carries the persisted message verbatim.
type MessagePayload struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

// RoomPresencePayload is sent for user_joined_room and user_left_room.
type RoomPresencePayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	UserType       Role   `json:"userType,omitempty"`
}

type Member struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	UserType Role   `json:"userType"`
}

type RoomMembersPayload struct {
	ConversationID string   `json:"conversationId"`
	Members        []Member `json:"members"`
}
