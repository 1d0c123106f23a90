package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"tutor-chat/internal/auth"
)

// NewAPIRouter mounts the REST collaborator. uploadDir, when set, is served
// read-only under /uploads/.
func NewAPIRouter(authService *auth.Service, chat *ChatHandlers, up *UploadHandlers, uploadDir string) http.Handler {
	r := mux.NewRouter()

	if uploadDir != "" {
		r.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadDir)))).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(authService.Middleware)
	api.HandleFunc("/conversations", chat.ListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", chat.CreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/messages/{conversationId}", chat.GetMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages", chat.SendMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/read/{conversationId}", chat.MarkRead).Methods(http.MethodPut)
	api.HandleFunc("/upload/{kind}", up.Upload).Methods(http.MethodPost)

	return corsMiddleware(r)
}

// NewBrokerRouter mounts the websocket endpoint; the broker exposes
// nothing else.
func NewBrokerRouter(ws *WebSocketHandlers) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", ws.HandleWebSocket).Methods(http.MethodGet)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
