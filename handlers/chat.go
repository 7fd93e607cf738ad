package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/pkg"
	"github.com/akinalp/casedesk/services"
)

// ChatHandler serves chat listing and creation.
type ChatHandler struct {
	chatService services.ChatService
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chatService services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// List godoc
// GET /api/chats
// Chats of the caller, most recently active first.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	chats, err := h.chatService.List(r.Context(), user.ID)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, chats)
}

// Create godoc
// POST /api/chats
// Body: { "title": "...", "matter_ref": "...", "member_ids": ["..."] }
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	var req models.CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	chat, err := h.chatService.Create(r.Context(), user.ID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, chat)
}

// Get godoc
// GET /api/chats/{id}
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	chat, err := h.chatService.Get(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, chat)
}
