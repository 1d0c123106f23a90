package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"tutor-chat/internal/auth"
	"tutor-chat/internal/database"
	"tutor-chat/internal/models"
	"tutor-chat/internal/services"
	"tutor-chat/pkg/logger"
)

// ChatHandlers is the REST side of messaging: conversations, history,
// persistence of new messages and read receipts.
type ChatHandlers struct {
	chatService *services.ChatService
}

func NewChatHandlers(chatService *services.ChatService) *ChatHandlers {
	return &ChatHandlers{chatService: chatService}
}

func (h *ChatHandlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.ParticipantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	convs, err := h.chatService.ListConversations(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, "List conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ChatHandlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.ParticipantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	conv, err := h.chatService.StartConversation(r.Context(), user, &req)
	if err != nil {
		writeServiceError(w, "Create conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandlers) GetMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.ParticipantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	msgs, err := h.chatService.GetMessages(r.Context(), user.ID, mux.Vars(r)["conversationId"])
	if err != nil {
		writeServiceError(w, "Get messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ChatHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.ParticipantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	msg, err := h.chatService.SendMessage(r.Context(), user, &req)
	if err != nil {
		writeServiceError(w, "Send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.ParticipantFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	receipt, err := h.chatService.MarkRead(r.Context(), user.ID, mux.Vars(r)["conversationId"])
	if err != nil {
		writeServiceError(w, "Mark read", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}

func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, database.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		logger.Error("%s error: %v", op, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
