package client

import (
	"sort"

	"tutor-chat/internal/models"
)

// Reduce returns the state that results from applying action to s. It
// never modifies s: slices and maps are rebuilt whenever they change, and
// an action that changes nothing returns s as is.
func Reduce(s State, action Action) State {
	switch a := action.(type) {
	case SetSocket:
		s.Socket = a.Socket
	case SetConversations:
		s.Conversations = sortConversations(append([]models.Conversation(nil), a.Conversations...))
	case UpdateConversation:
		s.Conversations = upsertConversation(s.Conversations, a.Conversation)
	case SetActiveConversation:
		if a.ConversationID == s.ActiveConversationID {
			return s
		}
		s.ActiveConversationID = a.ConversationID
		s.Messages = nil
		s.TypingUsers = map[string]string{}
	case SetMessages:
		if a.ConversationID != s.ActiveConversationID {
			return s
		}
		s.Messages = mergeHistory(a.Messages, s.Messages)
	case AddMessage:
		return addMessage(s, a.Message)
	case ConfirmMessage:
		return confirmMessage(s, a.TempID, a.Message)
	case RemoveMessage:
		return removeMessage(s, a.MessageID)
	case UpdateMessage:
		return updateMessage(s, a.Message)
	case MarkRead:
		return markRead(s, a)
	case SetTypingUsers:
		typing := make(map[string]string, len(a.Users))
		for id, name := range a.Users {
			if id != s.Self.ID {
				typing[id] = name
			}
		}
		s.TypingUsers = typing
	case TypingStarted:
		if a.UserID == "" || a.UserID == s.Self.ID {
			return s
		}
		if a.ConversationID != "" && a.ConversationID != s.ActiveConversationID {
			return s
		}
		if name, ok := s.TypingUsers[a.UserID]; ok && name == a.UserName {
			return s
		}
		typing := copyTyping(s.TypingUsers)
		typing[a.UserID] = a.UserName
		s.TypingUsers = typing
	case TypingStopped:
		return withoutTyping(s, a.UserID)
	case SetOnlineUsers:
		online := make(map[string]struct{}, len(a.UserIDs))
		for _, id := range a.UserIDs {
			online[id] = struct{}{}
		}
		s.OnlineUsers = online
	case UserOnline:
		if s.IsOnline(a.UserID) {
			return s
		}
		online := copyOnline(s.OnlineUsers)
		online[a.UserID] = struct{}{}
		s.OnlineUsers = online
	case UserOffline:
		if s.IsOnline(a.UserID) {
			online := copyOnline(s.OnlineUsers)
			delete(online, a.UserID)
			s.OnlineUsers = online
		}
		return withoutTyping(s, a.UserID)
	case SetConnected:
		s.Connected = a.Connected
		if !a.Connected && len(s.TypingUsers) > 0 {
			s.TypingUsers = map[string]string{}
		}
	case SetStatus:
		s.Status = a.Status
	case SetError:
		s.Err = a.Err
	}
	return s
}

func addMessage(s State, m models.Message) State {
	active := m.ConversationID == s.ActiveConversationID
	if active && s.hasMessage(m.ID) {
		return s
	}
	idx := conversationIndex(s.Conversations, m.ConversationID)
	// only the newest message of a closed conversation is known, so
	// anything not newer than it has already been counted
	if !active && idx >= 0 {
		if last := s.Conversations[idx].LastMessage; last != nil && (last.ID == m.ID || !m.CreatedAt.After(last.CreatedAt)) {
			return s
		}
	}

	if active {
		msgs := make([]models.Message, len(s.Messages), len(s.Messages)+1)
		copy(msgs, s.Messages)
		s.Messages = append(msgs, m)
	}

	if idx >= 0 {
		conv := s.Conversations[idx]
		last := m
		conv.LastMessage = &last
		if m.CreatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = m.CreatedAt
		}
		if !active && m.SenderID != s.Self.ID {
			conv.UnreadCount++
		}
		s.Conversations = upsertConversation(s.Conversations, conv)
	}

	return withoutTyping(s, m.SenderID)
}

func confirmMessage(s State, tempID string, m models.Message) State {
	m.Pending = false

	// if the canonical record arrived first, the placeholder just goes away
	if i := messageIndex(s.Messages, tempID); i >= 0 {
		msgs := make([]models.Message, 0, len(s.Messages))
		for j, existing := range s.Messages {
			if j != i {
				msgs = append(msgs, existing)
			} else if !s.hasMessage(m.ID) {
				msgs = append(msgs, m)
			}
		}
		s.Messages = msgs
	}

	if idx := conversationIndex(s.Conversations, m.ConversationID); idx >= 0 {
		conv := s.Conversations[idx]
		if conv.LastMessage == nil || conv.LastMessage.ID == tempID || !m.CreatedAt.Before(conv.LastMessage.CreatedAt) {
			last := m
			conv.LastMessage = &last
			if m.CreatedAt.After(conv.UpdatedAt) {
				conv.UpdatedAt = m.CreatedAt
			}
			s.Conversations = upsertConversation(s.Conversations, conv)
		}
	}
	return s
}

func removeMessage(s State, id string) State {
	i := messageIndex(s.Messages, id)
	if i >= 0 {
		msgs := make([]models.Message, 0, len(s.Messages)-1)
		msgs = append(msgs, s.Messages[:i]...)
		s.Messages = append(msgs, s.Messages[i+1:]...)
	}

	for idx, conv := range s.Conversations {
		if conv.LastMessage == nil || conv.LastMessage.ID != id {
			continue
		}
		conv.LastMessage = nil
		if conv.ID == s.ActiveConversationID && len(s.Messages) > 0 {
			last := s.Messages[len(s.Messages)-1]
			conv.LastMessage = &last
		}
		convs := append([]models.Conversation(nil), s.Conversations...)
		convs[idx] = conv
		s.Conversations = convs
		break
	}
	return s
}

func updateMessage(s State, m models.Message) State {
	i := messageIndex(s.Messages, m.ID)
	if i < 0 {
		return s
	}
	msgs := append([]models.Message(nil), s.Messages...)
	msgs[i] = m
	s.Messages = msgs
	return s
}

func markRead(s State, a MarkRead) State {
	reader := a.ReaderID
	if reader == "" {
		reader = s.Self.ID
	}

	if a.ConversationID == s.ActiveConversationID {
		var msgs []models.Message
		for i, m := range s.Messages {
			if m.Read || m.SenderID == reader {
				continue
			}
			if msgs == nil {
				msgs = append([]models.Message(nil), s.Messages...)
			}
			msgs[i].Read = true
		}
		if msgs != nil {
			s.Messages = msgs
		}
	}

	if idx := conversationIndex(s.Conversations, a.ConversationID); idx >= 0 {
		conv := s.Conversations[idx]
		changed := false
		if reader == s.Self.ID && conv.UnreadCount != 0 {
			conv.UnreadCount = 0
			changed = true
		}
		if last := conv.LastMessage; last != nil && !last.Read && last.SenderID != reader {
			read := *last
			read.Read = true
			conv.LastMessage = &read
			changed = true
		}
		if changed {
			convs := append([]models.Conversation(nil), s.Conversations...)
			convs[idx] = conv
			s.Conversations = convs
		}
	}
	return s
}

// mergeHistory takes the fetched history and re-appends local pending
// messages the server does not know about yet.
func mergeHistory(fetched, current []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(fetched))
	msgs := make([]models.Message, 0, len(fetched))
	for _, m := range fetched {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		msgs = append(msgs, m)
	}
	for _, m := range current {
		if _, known := seen[m.ID]; m.Pending && !known {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

func withoutTyping(s State, userID string) State {
	if _, ok := s.TypingUsers[userID]; !ok {
		return s
	}
	typing := copyTyping(s.TypingUsers)
	delete(typing, userID)
	s.TypingUsers = typing
	return s
}

func upsertConversation(convs []models.Conversation, c models.Conversation) []models.Conversation {
	out := make([]models.Conversation, 0, len(convs)+1)
	replaced := false
	for _, existing := range convs {
		if existing.ID == c.ID {
			out = append(out, c)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, c)
	}
	return sortConversations(out)
}

// sortConversations orders newest activity first, in place.
func sortConversations(convs []models.Conversation) []models.Conversation {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs
}

func conversationIndex(convs []models.Conversation, id string) int {
	for i, c := range convs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func messageIndex(msgs []models.Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func copyTyping(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyOnline(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in)+1)
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
