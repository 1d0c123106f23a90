package broker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tutor-chat/internal/models"
	"tutor-chat/pkg/logger"
)

// PumpConfig holds the websocket timings used by the read and write pumps.
type PumpConfig struct {
	ReadLimit    int64
	PongWait     time.Duration
	PingInterval time.Duration
	WriteWait    time.Duration
}

// Connection is the broker's handle on one live websocket. It is created
// when the socket opens and discarded when it closes; nothing about it is
// persisted.
type Connection struct {
	id       string
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	open     atomic.Bool
	once     sync.Once
	verified models.Participant

	// onOverflow is called when the send queue is full and the peer is
	// dropped as too slow.
	onOverflow func(*Connection)

	mu     sync.RWMutex
	member *models.Member
}

// NewConnection wraps ws. verified is the identity established by the
// transport's authentication; an empty ID means join is trusted as sent.
func NewConnection(ws *websocket.Conn, verified models.Participant, sendBuffer int) *Connection {
	c := &Connection{
		id:       uuid.NewString(),
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		verified: verified,
	}
	c.open.Store(true)
	return c
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Verified() models.Participant {
	return c.verified
}

// Identity returns who announced themselves on this connection via join.
func (c *Connection) Identity() (models.Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.member == nil {
		return models.Member{}, false
	}
	return *c.member, true
}

func (c *Connection) setIdentity(m models.Member) {
	c.mu.Lock()
	c.member = &m
	c.mu.Unlock()
}

func (c *Connection) IsOpen() bool {
	return c.open.Load()
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send queues frame for the write pump without blocking. It reports false
// when the connection is closed or its queue overflowed.
func (c *Connection) Send(frame []byte) bool {
	if !c.open.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		if c.onOverflow != nil {
			c.onOverflow(c)
		}
		c.Close()
		return false
	}
}

// Close marks the connection dead and stops the write pump. Safe to call
// more than once and from any goroutine.
func (c *Connection) Close() {
	c.once.Do(func() {
		c.open.Store(false)
		close(c.done)
	})
}

// ReadPump reads frames until the socket fails, handing each one to the
// router before reading the next, so events from one connection are
// processed strictly in order.
func (c *Connection) ReadPump(router *Router, cfg PumpConfig) {
	defer func() {
		router.Disconnect(c)
		c.Close()
		c.ws.Close()
	}()

	if cfg.ReadLimit > 0 {
		c.ws.SetReadLimit(cfg.ReadLimit)
	}
	c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Debug("Connection %s read error: %v", c.id, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		router.HandleRaw(c, data)
	}
}

// WritePump drains the send queue to the socket and keeps it alive with
// pings. It exits when the connection is closed or a write fails.
func (c *Connection) WritePump(cfg PumpConfig) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("Connection %s write error: %v", c.id, err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
