// Package broker is the in-process real-time hub: it tracks live
// connections, groups them into per-conversation rooms, relays room events
// to the other members and announces presence to everyone. Nothing here is
// persisted; a restart empties every registry.
package broker

import (
	"github.com/gorilla/websocket"

	"tutor-chat/internal/config"
	"tutor-chat/internal/models"
	"tutor-chat/pkg/logger"
)

type Broker struct {
	Connections *ConnectionRegistry
	Rooms       *RoomRegistry
	Presence    *PresenceBroadcaster
	Router      *Router

	pump       PumpConfig
	sendBuffer int
	log        *logger.Logger
}

// New wires the registries and router. metrics may be nil.
func New(cfg config.BrokerConfig, metrics *Metrics, log *logger.Logger) *Broker {
	if log == nil {
		log = logger.GlobalLogger
	}
	conns := NewConnectionRegistry()
	rooms := NewRoomRegistry()
	presence := NewPresenceBroadcaster(conns, metrics, log)

	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = 256
	}

	return &Broker{
		Connections: conns,
		Rooms:       rooms,
		Presence:    presence,
		Router:      NewRouter(conns, rooms, presence, metrics, log),
		pump: PumpConfig{
			ReadLimit:    cfg.ReadLimit,
			PongWait:     cfg.PongWait,
			PingInterval: cfg.PingInterval(),
			WriteWait:    cfg.WriteWait,
		},
		sendBuffer: sendBuffer,
		log:        log,
	}
}

// Serve runs one upgraded websocket until it closes. verified is the
// identity the transport authenticated, or the zero value.
func (b *Broker) Serve(ws *websocket.Conn, verified models.Participant) {
	c := NewConnection(ws, verified, b.sendBuffer)
	b.Router.Connect(c)

	go c.WritePump(b.pump)
	c.ReadPump(b.Router, b.pump)
}

// Shutdown closes every open connection. Their pumps unwind and run the
// usual disconnect path.
func (b *Broker) Shutdown() {
	conns := b.Connections.Connections()
	for _, c := range conns {
		c.Close()
	}
	b.log.Info("Broker shut down, closed %d connections", len(conns))
}
