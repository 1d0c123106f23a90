package models

import "time"

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeFile  MessageType = "file"
	MessageTypeImage MessageType = "image"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeFile, MessageTypeImage:
		return true
	}
	return false
}

type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

// Participant is one side of a conversation.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// FileMeta describes an uploaded file referenced by a message.
type FileMeta struct {
	URL      string `json:"url"`
	Name     string `json:"fileName"`
	Size     int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// Message is the canonical, persisted chat message. The broker relays it
// as an opaque payload; clients deduplicate by ID.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	File           *FileMeta   `json:"file,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Delivered      bool        `json:"delivered"`
	Read           bool        `json:"read"`

	// Pending marks a client-side placeholder that has not been persisted yet.
	Pending bool `json:"-"`
}

// Conversation is a two-party thread as seen by one of its participants.
type Conversation struct {
	ID          string      `json:"id"`
	Participant Participant `json:"participant"`
	LastMessage *Message    `json:"lastMessage,omitempty"`
	UnreadCount int         `json:"unreadCount"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

type CreateConversationRequest struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	ParticipantRole Role   `json:"participantRole"`
}

type SendMessageRequest struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	File           *FileMeta   `json:"file,omitempty"`
}

type ReadReceipt struct {
	ConversationID string `json:"conversationId"`
	Updated        int    `json:"updated"`
}

// ConversationRecord is the stored form of a conversation: an unordered
// pair of participants kept as (UserA, UserB) with UserA < UserB.
type ConversationRecord struct {
	ID        string
	UserA     string
	UserB     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Includes reports whether userID is one of the two participants.
func (c *ConversationRecord) Includes(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

// Other returns the participant that is not userID.
func (c *ConversationRecord) Other(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}
