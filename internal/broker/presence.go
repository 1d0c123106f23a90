package broker

import (
	"tutor-chat/internal/models"
	"tutor-chat/internal/protocol"
	"tutor-chat/pkg/logger"
)

// PresenceBroadcaster announces online/offline transitions to every open
// connection in the process. Presence is global; room membership plays no
// part in who hears it.
type PresenceBroadcaster struct {
	conns   *ConnectionRegistry
	metrics *Metrics
	log     *logger.Logger
}

func NewPresenceBroadcaster(conns *ConnectionRegistry, metrics *Metrics, log *logger.Logger) *PresenceBroadcaster {
	return &PresenceBroadcaster{conns: conns, metrics: metrics, log: log}
}

func (p *PresenceBroadcaster) Online(userID string) int {
	return p.emit(models.EventUserOnline, userID)
}

func (p *PresenceBroadcaster) Offline(userID string) int {
	return p.emit(models.EventUserOffline, userID)
}

func (p *PresenceBroadcaster) emit(eventType models.EventType, userID string) int {
	frame, err := protocol.Encode(eventType, models.PresencePayload{UserID: userID})
	if err != nil {
		p.log.Error("Error encoding %s for %s: %v", eventType, userID, err)
		return 0
	}

	delivered := 0
	for _, c := range p.conns.Connections() {
		if c.IsOpen() && c.Send(frame) {
			delivered++
		}
	}
	p.metrics.delivered("presence", delivered)
	p.log.Debug("Presence %s for %s delivered to %d connections", eventType, userID, delivered)
	return delivered
}
