package client

import (
	"sync"
	"time"

	"tutor-chat/internal/models"
)

// TypingNotifier turns local keystrokes into typing_start / typing_stop
// events: start on the first keystroke, repeated at most every half
// timeout while typing continues, and stop once timeout passes without a
// keystroke.
type TypingNotifier struct {
	timeout time.Duration
	emit    func(models.EventType, models.TypingPayload)
	self    models.Participant
	now     func() time.Time

	mu             sync.Mutex
	conversationID string
	typing         bool
	lastSent       time.Time
	timer          *time.Timer
	generation     uint64
}

func NewTypingNotifier(self models.Participant, timeout time.Duration, emit func(models.EventType, models.TypingPayload)) *TypingNotifier {
	return &TypingNotifier{
		timeout: timeout,
		emit:    emit,
		self:    self,
		now:     time.Now,
	}
}

// Keystroke records local typing in conversationID.
func (n *TypingNotifier) Keystroke(conversationID string) {
	if conversationID == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.typing && n.conversationID != conversationID {
		n.stopLocked()
	}

	now := n.now()
	if !n.typing || now.Sub(n.lastSent) >= n.timeout/2 {
		n.conversationID = conversationID
		n.typing = true
		n.lastSent = now
		n.emit(models.EventTypingStart, n.payload(conversationID))
	}

	n.generation++
	gen := n.generation
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.timeout, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.generation == gen {
			n.stopLocked()
		}
	})
}

// Stop ends typing right away, e.g. when the message is sent.
func (n *TypingNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopLocked()
}

func (n *TypingNotifier) Typing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.typing
}

func (n *TypingNotifier) stopLocked() {
	n.generation++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if !n.typing {
		return
	}
	n.typing = false
	n.emit(models.EventTypingStop, n.payload(n.conversationID))
}

func (n *TypingNotifier) payload(conversationID string) models.TypingPayload {
	return models.TypingPayload{ConversationID: conversationID, UserID: n.self.ID, UserName: n.self.Name}
}

// TypingExpiry clears a remote user's typing indicator when no
// typing_start arrives for timeout, whether or not typing_stop ever comes.
type TypingExpiry struct {
	timeout  time.Duration
	dispatch func(Action)

	mu     sync.Mutex
	timers map[string]*expiryTimer
}

type expiryTimer struct {
	timer      *time.Timer
	generation uint64
}

func NewTypingExpiry(timeout time.Duration, dispatch func(Action)) *TypingExpiry {
	return &TypingExpiry{
		timeout:  timeout,
		dispatch: dispatch,
		timers:   make(map[string]*expiryTimer),
	}
}

// Started arms or re-arms the expiry for userID.
func (e *TypingExpiry) Started(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.timers[userID]
	if !ok {
		entry = &expiryTimer{}
		e.timers[userID] = entry
	} else if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.generation++
	gen := entry.generation

	entry.timer = time.AfterFunc(e.timeout, func() {
		e.mu.Lock()
		current, ok := e.timers[userID]
		expired := ok && current.generation == gen
		if expired {
			delete(e.timers, userID)
		}
		e.mu.Unlock()

		if expired {
			e.dispatch(TypingStopped{UserID: userID})
		}
	})
}

// Stopped cancels the expiry for userID.
func (e *TypingExpiry) Stopped(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.timers[userID]; ok {
		entry.timer.Stop()
		delete(e.timers, userID)
	}
}

// Reset cancels every pending expiry.
func (e *TypingExpiry) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, entry := range e.timers {
		entry.timer.Stop()
		delete(e.timers, id)
	}
}
