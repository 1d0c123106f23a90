package broker

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutor-chat/internal/config"
	"tutor-chat/internal/models"
	"tutor-chat/internal/protocol"
	"tutor-chat/pkg/logger"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	cfg := config.BrokerConfig{SendBuffer: 64, PongWait: time.Minute, WriteWait: time.Second}
	return New(cfg, NewMetrics(prometheus.NewRegistry()), logger.NewWithWriters(io.Discard, io.Discard))
}

// connect opens an in-memory connection verified for userID.
func connect(b *Broker, userID string) *Connection {
	c := NewConnection(nil, models.Participant{ID: userID}, 64)
	b.Router.Connect(c)
	return c
}

func send(t *testing.T, b *Broker, c *Connection, eventType models.EventType, payload any) {
	t.Helper()
	raw, err := protocol.Encode(eventType, payload)
	require.NoError(t, err)
	b.Router.HandleRaw(c, raw)
}

func join(t *testing.T, b *Broker, c *Connection, userID, name string) {
	t.Helper()
	send(t, b, c, models.EventJoin, models.JoinPayload{UserID: userID, UserName: name, UserType: models.RoleStudent})
}

func joinRoom(t *testing.T, b *Broker, c *Connection, conversationID, userID, name string) {
	t.Helper()
	send(t, b, c, models.EventJoinRoom, models.JoinRoomPayload{ConversationID: conversationID, UserID: userID, UserName: name})
}

// drain empties c's send queue and returns the decoded frames.
func drain(t *testing.T, c *Connection) []protocol.Frame {
	t.Helper()
	var frames []protocol.Frame
	for {
		select {
		case raw := <-c.send:
			frame, err := protocol.DecodeFrame(raw)
			require.NoError(t, err)
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func ofType(frames []protocol.Frame, eventType models.EventType) []protocol.Frame {
	var out []protocol.Frame
	for _, f := range frames {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

func TestConnectionRegistryReplacesPriorConnection(t *testing.T) {
	reg := NewConnectionRegistry()
	first := NewConnection(nil, models.Participant{}, 1)
	second := NewConnection(nil, models.Participant{}, 1)

	replaced, wentOnline, err := reg.Register("u1", "Ana", models.RoleTutor, first)
	require.NoError(t, err)
	assert.Nil(t, replaced)
	assert.True(t, wentOnline)

	replaced, wentOnline, err = reg.Register("u1", "Ana", models.RoleTutor, first)
	require.NoError(t, err)
	assert.Nil(t, replaced)
	assert.False(t, wentOnline, "joining again on the same connection changes nothing")

	replaced, wentOnline, err = reg.Register("u1", "Ana", models.RoleTutor, second)
	require.NoError(t, err)
	assert.Same(t, first, replaced)
	assert.False(t, wentOnline, "a replace keeps the user online")
	assert.Equal(t, []string{"u1"}, reg.OnlineUsers())
	assert.True(t, reg.Represents("u1", second))
	assert.False(t, reg.Represents("u1", first))

	// the replaced connection closing must not take the user offline
	userID, offline := reg.Unregister(first)
	assert.Equal(t, "u1", userID)
	assert.False(t, offline)
	assert.True(t, reg.IsOnline("u1"))

	_, offline = reg.Unregister(second)
	assert.True(t, offline)
	assert.False(t, reg.IsOnline("u1"))

	_, offline = reg.Unregister(second)
	assert.False(t, offline, "double unregister is a no-op")
}

func TestConnectionRegistryRejectsMissingUserID(t *testing.T) {
	reg := NewConnectionRegistry()
	c := NewConnection(nil, models.Participant{}, 1)

	_, _, err := reg.Register("  ", "Ana", models.RoleTutor, c)
	assert.ErrorIs(t, err, ErrInvalidUser)
	assert.Empty(t, reg.OnlineUsers())

	_, offline := reg.Unregister(c)
	assert.False(t, offline)
}

func TestRoomRegistryMatchesSetSemantics(t *testing.T) {
	rooms := NewRoomRegistry()
	conns := []*Connection{
		NewConnection(nil, models.Participant{}, 1),
		NewConnection(nil, models.Participant{}, 1),
		NewConnection(nil, models.Participant{}, 1),
	}
	roomIDs := []string{"conv-1", "conv-2", "conv-3"}
	model := map[string]map[*Connection]bool{}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		c := conns[rng.Intn(len(conns))]
		id := roomIDs[rng.Intn(len(roomIDs))]

		if rng.Intn(2) == 0 {
			wantNew := !model[id][c]
			assert.Equal(t, wantNew, rooms.Join(id, c))
			if model[id] == nil {
				model[id] = map[*Connection]bool{}
			}
			model[id][c] = true
		} else {
			wantLeft := model[id][c]
			assert.Equal(t, wantLeft, rooms.Leave(id, c))
			delete(model[id], c)
			if len(model[id]) == 0 {
				delete(model, id)
			}
		}

		for _, rid := range roomIDs {
			require.Equal(t, len(model[rid]), rooms.Size(rid))
		}
		require.Equal(t, len(model), rooms.Count(), "no empty rooms may linger")
	}

	for _, c := range conns {
		rooms.LeaveAll(c)
	}
	assert.Equal(t, 0, rooms.Count())
	assert.Empty(t, rooms.memberships)
}

func TestRoomBroadcastExcludesSenderAndSkipsClosed(t *testing.T) {
	rooms := NewRoomRegistry()
	sender := NewConnection(nil, models.Participant{}, 4)
	peer := NewConnection(nil, models.Participant{}, 4)
	dead := NewConnection(nil, models.Participant{}, 4)
	for _, c := range []*Connection{sender, peer, dead} {
		rooms.Join("conv-1", c)
	}
	dead.Close()

	delivered := rooms.Broadcast("conv-1", []byte(`{"type":"message"}`), sender)

	assert.Equal(t, 1, delivered)
	assert.Len(t, peer.send, 1)
	assert.Len(t, sender.send, 0)
	assert.Len(t, dead.send, 0)
	assert.Zero(t, rooms.Broadcast("missing", []byte(`{}`), nil))
}

func TestMessageReachesEveryOtherMemberExactlyOnce(t *testing.T) {
	b := newTestBroker(t)
	a := connect(b, "a")
	bb := connect(b, "b")
	c := connect(b, "c")
	join(t, b, a, "a", "Ana")
	join(t, b, bb, "b", "Ben")
	join(t, b, c, "c", "Cleo")
	joinRoom(t, b, a, "conv-1", "a", "Ana")
	joinRoom(t, b, bb, "conv-1", "b", "Ben")
	joinRoom(t, b, c, "conv-1", "c", "Cleo")
	drain(t, a)
	drain(t, bb)
	drain(t, c)

	send(t, b, a, models.EventMessage, map[string]any{
		"conversationId": "conv-1",
		"message":        map[string]any{"id": "m1", "content": "hi", "senderId": "a"},
	})

	for _, peer := range []*Connection{bb, c} {
		msgs := ofType(drain(t, peer), models.EventMessage)
		require.Len(t, msgs, 1)
		var payload models.MessagePayload
		require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
		var msg models.Message
		require.NoError(t, json.Unmarshal(payload.Message, &msg))
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, "conv-1", payload.ConversationID)
	}
	assert.Empty(t, ofType(drain(t, a), models.EventMessage), "sender gets no echo")
}

func TestPresenceIsGlobalButRoomEventsAreScoped(t *testing.T) {
	b := newTestBroker(t)
	a := connect(b, "a")
	bb := connect(b, "b")
	outsider := connect(b, "c")
	join(t, b, a, "a", "Ana")
	join(t, b, bb, "b", "Ben")
	join(t, b, outsider, "c", "Cleo")
	joinRoom(t, b, a, "conv-1", "a", "Ana")
	joinRoom(t, b, bb, "conv-1", "b", "Ben")
	joinRoom(t, b, outsider, "conv-2", "c", "Cleo")
	drain(t, a)
	drain(t, bb)
	drain(t, outsider)

	late := connect(b, "d")
	join(t, b, late, "d", "Dev")
	for _, c := range []*Connection{a, bb, outsider, late} {
		assert.Len(t, ofType(drain(t, c), models.EventUserOnline), 1)
	}

	send(t, b, a, models.EventTypingStart, models.TypingPayload{ConversationID: "conv-1", UserID: "a", UserName: "Ana"})
	send(t, b, a, models.EventMessage, map[string]any{"conversationId": "conv-1", "message": map[string]any{"id": "m1"}})

	peerFrames := drain(t, bb)
	assert.Len(t, ofType(peerFrames, models.EventTypingStart), 1)
	assert.Len(t, ofType(peerFrames, models.EventMessage), 1)
	assert.Empty(t, drain(t, outsider), "room events never leave the room")
	assert.Empty(t, ofType(drain(t, a), models.EventTypingStart), "typing is never echoed to the typist")

	b.Router.Disconnect(a)
	assert.Len(t, ofType(drain(t, outsider), models.EventUserOffline), 1)
	assert.Len(t, ofType(drain(t, late), models.EventUserOffline), 1)
}

func TestDisconnectShrinksAndDeletesRoom(t *testing.T) {
	b := newTestBroker(t)
	a := connect(b, "a")
	bb := connect(b, "b")
	join(t, b, a, "a", "Ana")
	join(t, b, bb, "b", "Ben")
	joinRoom(t, b, a, "conv-1", "a", "Ana")
	joinRoom(t, b, bb, "conv-1", "b", "Ben")
	require.Equal(t, 2, b.Rooms.Size("conv-1"))
	drain(t, bb)

	b.Router.Disconnect(a)
	a.Close()

	assert.Equal(t, 1, b.Rooms.Size("conv-1"))
	frames := drain(t, bb)
	require.Len(t, ofType(frames, models.EventUserLeftRoom), 1)
	require.Len(t, ofType(frames, models.EventUserOffline), 1)
	assert.False(t, b.Connections.IsOnline("a"))

	send(t, b, bb, models.EventLeaveRoom, models.LeaveRoomPayload{ConversationID: "conv-1", UserID: "b"})
	assert.Equal(t, 0, b.Rooms.Size("conv-1"))
	assert.Equal(t, 0, b.Rooms.Count())

	// a second disconnect changes nothing
	b.Router.Disconnect(a)
	assert.Equal(t, 1, b.Connections.Count())
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	b := newTestBroker(t)
	a := connect(b, "a")
	bb := connect(b, "b")
	join(t, b, a, "a", "Ana")
	join(t, b, bb, "b", "Ben")
	joinRoom(t, b, bb, "conv-1", "b", "Ben")
	drain(t, bb)

	joinRoom(t, b, a, "conv-1", "a", "Ana")
	joinRoom(t, b, a, "conv-1", "a", "Ana")

	assert.Equal(t, 2, b.Rooms.Size("conv-1"))
	assert.Len(t, ofType(drain(t, bb), models.EventUserJoinedRoom), 1)

	members := ofType(drain(t, a), models.EventRoomMembers)
	require.NotEmpty(t, members)
	var payload models.RoomMembersPayload
	require.NoError(t, json.Unmarshal(members[0].Data, &payload))
	assert.Equal(t, []models.Member{
		{UserID: "a", UserName: "Ana", UserType: models.RoleStudent},
		{UserID: "b", UserName: "Ben", UserType: models.RoleStudent},
	}, payload.Members)
}

func TestRepeatedJoinDoesNotRebroadcastOnline(t *testing.T) {
	b := newTestBroker(t)
	watcher := connect(b, "w")
	join(t, b, watcher, "w", "Wes")
	a := connect(b, "a")
	join(t, b, a, "a", "Ana")
	assert.Len(t, ofType(drain(t, watcher), models.EventUserOnline), 1)

	join(t, b, a, "a", "Ana")
	assert.Empty(t, ofType(drain(t, watcher), models.EventUserOnline))
	assert.Len(t, ofType(drain(t, a), models.EventOnlineUsers), 2, "every join still gets a snapshot")
}

func TestReplacedConnectionLeavesRoomsAndCannotAct(t *testing.T) {
	b := newTestBroker(t)
	peer := connect(b, "b")
	join(t, b, peer, "b", "Ben")
	joinRoom(t, b, peer, "conv-1", "b", "Ben")

	stale := connect(b, "a")
	join(t, b, stale, "a", "Ana")
	joinRoom(t, b, stale, "conv-1", "a", "Ana")
	drain(t, peer)

	fresh := connect(b, "a")
	join(t, b, fresh, "a", "Ana")
	peerFrames := drain(t, peer)
	assert.Empty(t, ofType(peerFrames, models.EventUserOnline), "a replace is not a presence change")
	assert.Empty(t, ofType(peerFrames, models.EventUserLeftRoom))
	assert.False(t, b.Rooms.IsMember("conv-1", stale))
	assert.Equal(t, 1, b.Rooms.Size("conv-1"))

	joinRoom(t, b, fresh, "conv-1", "a", "Ana")
	drain(t, stale)
	drain(t, peer)

	send(t, b, fresh, models.EventMessage, map[string]any{"conversationId": "conv-1", "message": map[string]any{"id": "m1"}})
	assert.Len(t, ofType(drain(t, peer), models.EventMessage), 1)
	assert.Empty(t, ofType(drain(t, stale), models.EventMessage), "the user's own stale connection gets no copy")
	assert.Empty(t, ofType(drain(t, fresh), models.EventMessage))

	send(t, b, stale, models.EventMessage, map[string]any{"conversationId": "conv-1", "message": map[string]any{"id": "m2"}})
	send(t, b, stale, models.EventTypingStart, models.TypingPayload{ConversationID: "conv-1", UserID: "a", UserName: "Ana"})
	send(t, b, stale, models.EventJoinRoom, models.JoinRoomPayload{ConversationID: "conv-1", UserID: "a", UserName: "Ana"})
	assert.Empty(t, drain(t, peer), "a replaced connection can no longer act for the user")
	assert.False(t, b.Rooms.IsMember("conv-1", stale))
	assert.ErrorIs(t, b.Router.Dispatch(stale, protocol.TypingStop{ConversationID: "conv-1", UserID: "a", UserName: "Ana"}), ErrReplaced)

	b.Router.Disconnect(stale)
	assert.Empty(t, drain(t, peer), "closing the stale connection is invisible to peers")
	assert.True(t, b.Connections.IsOnline("a"))
	assert.Equal(t, 2, b.Rooms.Size("conv-1"))
}

func TestRoomRegistryConcurrentJoinBroadcastLeave(t *testing.T) {
	rooms := NewRoomRegistry()
	const workers, cycles = 50, 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewConnection(nil, models.Participant{}, 16)
			for i := 0; i < cycles; i++ {
				rooms.Join("r", c)
				rooms.Broadcast("r", []byte(`{"type":"typing_start"}`), c)
				rooms.MembersOf("r")
				rooms.Leave("r", c)
				for len(c.send) > 0 {
					<-c.send
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, rooms.Size("r"))
	assert.Equal(t, 0, rooms.Count())
}

func TestRouterConcurrentJoinRoomAndDisconnect(t *testing.T) {
	b := newTestBroker(t)
	const users = 40

	conns := make([]*Connection, users)
	for i := range conns {
		id := fmt.Sprintf("u%d", i)
		conns[i] = connect(b, id)
		join(t, b, conns[i], id, id)
	}

	frames := make([][][]byte, users)
	for i := range conns {
		id := fmt.Sprintf("u%d", i)
		for _, ev := range []struct {
			eventType models.EventType
			payload   any
		}{
			{models.EventJoinRoom, models.JoinRoomPayload{ConversationID: "conv-1", UserID: id, UserName: id}},
			{models.EventTypingStart, models.TypingPayload{ConversationID: "conv-1", UserID: id, UserName: id}},
			{models.EventJoinRoom, models.JoinRoomPayload{ConversationID: "conv-2", UserID: id, UserName: id}},
			{models.EventLeaveRoom, models.LeaveRoomPayload{ConversationID: "conv-1", UserID: id}},
			{models.EventJoinRoom, models.JoinRoomPayload{ConversationID: "conv-1", UserID: id, UserName: id}},
		} {
			raw, err := protocol.Encode(ev.eventType, ev.payload)
			require.NoError(t, err)
			frames[i] = append(frames[i], raw)
		}
	}

	// each connection is served by its own goroutine, as in production
	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(c *Connection, raws [][]byte) {
			defer wg.Done()
			for _, raw := range raws {
				b.Router.HandleRaw(c, raw)
			}
			b.Router.Disconnect(c)
			c.Close()
		}(c, frames[i])
	}
	wg.Wait()

	assert.Equal(t, 0, b.Rooms.Count())
	assert.Equal(t, 0, b.Connections.Count())
	assert.Empty(t, b.Connections.OnlineUsers())
}

func TestJoinSendsOnlineSnapshot(t *testing.T) {
	b := newTestBroker(t)
	a := connect(b, "a")
	join(t, b, a, "a", "Ana")
	bb := connect(b, "b")
	join(t, b, bb, "b", "Ben")

	snapshots := ofType(drain(t, bb), models.EventOnlineUsers)
	require.Len(t, snapshots, 1)
	var payload models.OnlineUsersPayload
	require.NoError(t, json.Unmarshal(snapshots[0].Data, &payload))
	assert.Equal(t, []string{"a", "b"}, payload.UserIDs)
}

func TestRouterDropsInvalidEvents(t *testing.T) {
	b := newTestBroker(t)
	a := connect(b, "a")
	stranger := connect(b, "s")

	tests := []struct {
		name    string
		conn    *Connection
		ev      protocol.Event
		wantErr error
	}{
		{"room before join", a, protocol.JoinRoom{ConversationID: "conv-1", UserID: "a", UserName: "Ana"}, ErrNotJoined},
		{"join as someone else", a, protocol.Join{UserID: "mallory", UserName: "M", UserType: models.RoleTutor}, ErrIdentityMismatch},
		{"unknown type", a, protocol.Unrecognized{Name: "video_call"}, ErrUnrecognizedEvent},
		{"message before join", stranger, protocol.Message{ConversationID: "conv-1", Message: json.RawMessage(`{"id":"m"}`)}, ErrNotJoined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, b.Router.Dispatch(tt.conn, tt.ev), tt.wantErr)
		})
	}

	require.NoError(t, b.Router.Dispatch(a, protocol.Join{UserID: "a", UserName: "Ana", UserType: models.RoleTutor}))
	err := b.Router.Dispatch(a, protocol.Message{ConversationID: "conv-9", Message: json.RawMessage(`{"id":"m"}`)})
	assert.ErrorIs(t, err, ErrNotRoomMember)
	err = b.Router.Dispatch(a, protocol.TypingStart{ConversationID: "conv-9", UserID: "x", UserName: "X"})
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestMalformedFramesKeepConnectionOpen(t *testing.T) {
	b := newTestBroker(t)
	a := connect(b, "a")
	join(t, b, a, "a", "Ana")
	drain(t, a)

	for _, raw := range []string{"not json", `{"type":"join"}`, `{"type":"nope"}`, `[]`, ``} {
		b.Router.HandleRaw(a, []byte(raw))
	}

	assert.True(t, a.IsOpen())
	assert.Empty(t, drain(t, a))
	assert.True(t, b.Connections.IsOnline("a"))
}

func TestSlowPeerIsDropped(t *testing.T) {
	b := newTestBroker(t)
	slow := NewConnection(nil, models.Participant{ID: "slow"}, 1)
	b.Router.Connect(slow)

	assert.True(t, slow.Send([]byte("1")))
	assert.False(t, slow.Send([]byte("2")))
	assert.False(t, slow.IsOpen())
	assert.False(t, slow.Send([]byte("3")))
}

func TestMetricsTrackRooms(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	b := New(config.BrokerConfig{SendBuffer: 8, PongWait: time.Minute}, metrics, logger.NewWithWriters(io.Discard, io.Discard))

	a := connect(b, "a")
	join(t, b, a, "a", "Ana")
	joinRoom(t, b, a, "conv-1", "a", "Ana")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Rooms))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OnlineUsers))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Events.WithLabelValues("join_room", "handled")))

	b.Router.HandleRaw(a, []byte("garbage"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Events.WithLabelValues("invalid", "dropped")))

	b.Router.Disconnect(a)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Rooms))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Connections))
}
