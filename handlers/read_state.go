package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/pkg"
	"github.com/akinalp/casedesk/services"
)

// ReadStateHandler serves read watermarks and unread counts.
type ReadStateHandler struct {
	readStateService services.ReadStateService
}

// NewReadStateHandler creates a ReadStateHandler.
func NewReadStateHandler(readStateService services.ReadStateService) *ReadStateHandler {
	return &ReadStateHandler{readStateService: readStateService}
}

// MarkRead godoc
// POST /api/chats/{id}/read
// Body: { "message_id": "..." }
// Returns the stored read state, which may be newer than the request.
func (h *ReadStateHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	var req models.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rs, err := h.readStateService.MarkRead(r.Context(), r.PathValue("id"), user.ID, req.MessageID)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, rs)
}

// GetUnreads godoc
// GET /api/chats/unread
// Chats of the caller with at least one unread message.
func (h *ReadStateHandler) GetUnreads(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	unreads, err := h.readStateService.GetUnreadCounts(r.Context(), user.ID)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, unreads)
}
