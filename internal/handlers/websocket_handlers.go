package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"tutor-chat/internal/auth"
	"tutor-chat/internal/broker"
	"tutor-chat/internal/config"
	"tutor-chat/pkg/logger"
)

type WebSocketHandlers struct {
	authService *auth.Service
	broker      *broker.Broker
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, b *broker.Broker, cfg config.BrokerConfig) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		broker:      b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

// HandleWebSocket authenticates the caller, upgrades the connection and
// hands it to the broker for its lifetime.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	participant, err := h.authService.Identify(auth.TokenFromRequest(r))
	if err != nil {
		logger.Warn("Rejected websocket from %s: %v", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	logger.Debug("Websocket opened for %s from %s", participant.ID, r.RemoteAddr)
	h.broker.Serve(conn, participant)
}

// originChecker allows every origin when the list is empty or holds "*".
// Requests without an Origin header (non-browser clients) always pass.
func originChecker(allowed []string) func(*http.Request) bool {
	hosts := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			hosts[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
		}
	}
	if len(hosts) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := hosts[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
