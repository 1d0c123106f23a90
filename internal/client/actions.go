package client

import "tutor-chat/internal/models"

// Action is one state transition request. The set is closed; Reduce
// handles every implementation.
type Action interface {
	isAction()
}

type SetSocket struct{ Socket Transport }

type SetConversations struct{ Conversations []models.Conversation }

// UpdateConversation inserts or replaces one conversation.
type UpdateConversation struct{ Conversation models.Conversation }

type SetActiveConversation struct{ ConversationID string }

// SetMessages replaces the active conversation's history. It is ignored
// when ConversationID is no longer active.
type SetMessages struct {
	ConversationID string
	Messages       []models.Message
}

// AddMessage inserts a message once; a second AddMessage with the same id
// changes nothing.
type AddMessage struct{ Message models.Message }

// ConfirmMessage swaps a pending placeholder for the persisted record.
type ConfirmMessage struct {
	TempID  string
	Message models.Message
}

// RemoveMessage drops a message, used to roll back a failed send.
type RemoveMessage struct{ MessageID string }

type UpdateMessage struct{ Message models.Message }

// MarkRead flags the conversation's messages not sent by ReaderID as read.
// An empty ReaderID means the local user.
type MarkRead struct {
	ConversationID string
	ReaderID       string
}

type SetTypingUsers struct{ Users map[string]string }

type TypingStarted struct {
	ConversationID string
	UserID         string
	UserName       string
}

type TypingStopped struct{ UserID string }

type SetOnlineUsers struct{ UserIDs []string }

type UserOnline struct{ UserID string }

type UserOffline struct{ UserID string }

type SetConnected struct{ Connected bool }

type SetStatus struct{ Status Status }

// SetError records err; nil clears it.
type SetError struct{ Err error }

func (SetSocket) isAction()             {}
func (SetConversations) isAction()      {}
func (UpdateConversation) isAction()    {}
func (SetActiveConversation) isAction() {}
func (SetMessages) isAction()           {}
func (AddMessage) isAction()            {}
func (ConfirmMessage) isAction()        {}
func (RemoveMessage) isAction()         {}
func (UpdateMessage) isAction()         {}
func (MarkRead) isAction()              {}
func (SetTypingUsers) isAction()        {}
func (TypingStarted) isAction()         {}
func (TypingStopped) isAction()         {}
func (SetOnlineUsers) isAction()        {}
func (UserOnline) isAction()            {}
func (UserOffline) isAction()           {}
func (SetConnected) isAction()          {}
func (SetStatus) isAction()             {}
func (SetError) isAction()              {}
