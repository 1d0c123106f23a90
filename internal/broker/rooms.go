package broker

import (
	"sort"
	"sync"

	"tutor-chat/internal/models"
)

// RoomRegistry groups connections by conversation id. A room exists only
// while it has at least one member.
type RoomRegistry struct {
	mu          sync.RWMutex
	rooms       map[string]map[*Connection]struct{}
	memberships map[*Connection]map[string]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms:       make(map[string]map[*Connection]struct{}),
		memberships: make(map[*Connection]map[string]struct{}),
	}
}

// Join adds c to the room, creating it if needed. It returns false when c
// was already a member.
func (r *RoomRegistry) Join(conversationID string, c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[conversationID]
	if !ok {
		members = make(map[*Connection]struct{})
		r.rooms[conversationID] = members
	}
	if _, already := members[c]; already {
		return false
	}
	members[c] = struct{}{}

	joined, ok := r.memberships[c]
	if !ok {
		joined = make(map[string]struct{})
		r.memberships[c] = joined
	}
	joined[conversationID] = struct{}{}
	return true
}

// Leave removes c from the room and deletes the room once it is empty. It
// returns false when c was not a member.
func (r *RoomRegistry) Leave(conversationID string, c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conversationID, c)
}

func (r *RoomRegistry) leaveLocked(conversationID string, c *Connection) bool {
	members, ok := r.rooms[conversationID]
	if !ok {
		return false
	}
	if _, member := members[c]; !member {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, conversationID)
	}

	if joined, ok := r.memberships[c]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(r.memberships, c)
		}
	}
	return true
}

// LeaveAll removes c from every room it joined and returns those room ids,
// sorted.
func (r *RoomRegistry) LeaveAll(c *Connection) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.memberships[c]
	left := make([]string, 0, len(joined))
	for id := range joined {
		left = append(left, id)
	}
	for _, id := range left {
		r.leaveLocked(id, c)
	}
	sort.Strings(left)
	return left
}

// Broadcast queues frame on every open member except exclude and returns
// how many connections accepted it. Closed members are skipped silently.
func (r *RoomRegistry) Broadcast(conversationID string, frame []byte, exclude *Connection) int {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.rooms[conversationID]))
	for c := range r.rooms[conversationID] {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if !c.IsOpen() {
			continue
		}
		if c.Send(frame) {
			delivered++
		}
	}
	return delivered
}

// MembersOf lists the announced users currently in the room, one entry
// per user id, sorted by user id.
func (r *RoomRegistry) MembersOf(conversationID string) []models.Member {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.rooms[conversationID]))
	for c := range r.rooms[conversationID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	seen := make(map[string]struct{}, len(conns))
	members := make([]models.Member, 0, len(conns))
	for _, c := range conns {
		m, ok := c.Identity()
		if !ok {
			continue
		}
		if _, dup := seen[m.UserID]; dup {
			continue
		}
		seen[m.UserID] = struct{}{}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members
}

func (r *RoomRegistry) IsMember(conversationID string, c *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationID][c]
	return ok
}

// Size returns the number of connections in the room.
func (r *RoomRegistry) Size(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[conversationID])
}

// Count returns the number of non-empty rooms.
func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// RoomsOf returns the rooms c belongs to, sorted.
func (r *RoomRegistry) RoomsOf(c *Connection) []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.memberships[c]))
	for id := range r.memberships[c] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
