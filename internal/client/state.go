// Package client is the chat client runtime: a reducer-driven store that
// mirrors conversations, messages, typing and presence, a supervisor that
// keeps the websocket alive, and a facade tying both to the REST API.
package client

import (
	"sort"

	"tutor-chat/internal/models"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// State is one immutable snapshot of the client. The reducer replaces
// slices and maps instead of mutating them, so snapshots can be shared
// freely; callers must not modify them either.
type State struct {
	Self                 models.Participant
	Socket               Transport
	Conversations        []models.Conversation
	ActiveConversationID string
	// Messages belong to the active conversation, oldest first.
	Messages    []models.Message
	OnlineUsers map[string]struct{}
	// TypingUsers maps user id to display name for other users typing.
	TypingUsers map[string]string
	Connected   bool
	Status      Status
	Err         error
}

func NewState(self models.Participant) State {
	return State{
		Self:        self,
		OnlineUsers: map[string]struct{}{},
		TypingUsers: map[string]string{},
		Status:      StatusDisconnected,
	}
}

func (s State) IsOnline(userID string) bool {
	_, ok := s.OnlineUsers[userID]
	return ok
}

// Typing returns the names of the users currently typing, sorted.
func (s State) Typing() []string {
	names := make([]string, 0, len(s.TypingUsers))
	for _, name := range s.TypingUsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s State) Conversation(id string) (models.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return models.Conversation{}, false
}

func (s State) hasMessage(id string) bool {
	for _, m := range s.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}
