package broker

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"tutor-chat/internal/models"
)

var ErrInvalidUser = errors.New("missing or invalid user id")

// ConnectionRegistry tracks every open connection and, for users who have
// announced themselves, the single connection that represents them.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	byUser map[string]*Connection
	all    map[*Connection]struct{}
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byUser: make(map[string]*Connection),
		all:    make(map[*Connection]struct{}),
	}
}

// Attach records a newly opened connection so it receives presence events
// even before it joins.
func (r *ConnectionRegistry) Attach(c *Connection) {
	r.mu.Lock()
	r.all[c] = struct{}{}
	r.mu.Unlock()
}

// Detach forgets a closed connection.
func (r *ConnectionRegistry) Detach(c *Connection) {
	r.mu.Lock()
	delete(r.all, c)
	r.mu.Unlock()
}

// Register makes c the live connection for userID, replacing any prior
// one, which is returned so the caller can detach it from its rooms. The
// replaced connection stays open but no longer represents the user.
// wentOnline is true only when the user had no live connection before.
func (r *ConnectionRegistry) Register(userID, userName string, role models.Role, c *Connection) (replaced *Connection, wentOnline bool, err error) {
	if strings.TrimSpace(userID) == "" || c == nil {
		return nil, false, ErrInvalidUser
	}
	c.setIdentity(models.Member{UserID: userID, UserName: userName, UserType: role})

	r.mu.Lock()
	defer r.mu.Unlock()

	r.all[c] = struct{}{}
	prior, online := r.byUser[userID]
	r.byUser[userID] = c
	if prior == c {
		return nil, false, nil
	}
	return prior, !online, nil
}

// Represents reports whether c is the live connection for userID.
func (r *ConnectionRegistry) Represents(userID string, c *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID] == c
}

// Unregister removes the presence entry owned by c. It reports the user id
// and whether the user actually went offline; a connection that was
// already replaced, never joined, or is unregistered twice changes nothing.
func (r *ConnectionRegistry) Unregister(c *Connection) (string, bool) {
	member, ok := c.Identity()
	if !ok {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[member.UserID] != c {
		return member.UserID, false
	}
	delete(r.byUser, member.UserID)
	return member.UserID, true
}

func (r *ConnectionRegistry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Lookup returns the live connection for userID.
func (r *ConnectionRegistry) Lookup(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// OnlineUsers returns the ids of every online user, sorted.
func (r *ConnectionRegistry) OnlineUsers() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Connections returns a snapshot of every attached connection.
func (r *ConnectionRegistry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.all))
	for c := range r.all {
		out = append(out, c)
	}
	return out
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

func (r *ConnectionRegistry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
