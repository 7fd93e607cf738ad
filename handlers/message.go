package handlers

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/pkg"
	"github.com/akinalp/casedesk/services"
)

// MessageHandler serves message pages and posting.
type MessageHandler struct {
	messageService services.MessageService
	maxUploadSize  int64
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(messageService services.MessageService, maxUploadSize int64) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		maxUploadSize:  maxUploadSize,
	}
}

// parseLimit reads ?limit=. Missing or malformed values fall back to the
// service default.
func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// List godoc
// GET /api/chats/{id}/messages?direction=head|tail&cursor=ID&limit=N
//
// Without a cursor the newest page is returned. With one, direction=head
// reads older messages and direction=tail newer ones.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	q := r.URL.Query()
	page, err := h.messageService.Page(r.Context(), r.PathValue("id"), user.ID, services.PageQuery{
		Direction: models.PageDirection(q.Get("direction")),
		Cursor:    q.Get("cursor"),
		Limit:     parseLimit(r),
	})
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, page)
}

// LastRead godoc
// GET /api/chats/{id}/messages/last-read?limit=N
// The page a chat opens on, centred on the caller's watermark.
func (h *MessageHandler) LastRead(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	page, err := h.messageService.AroundLastRead(r.Context(), r.PathValue("id"), user.ID, parseLimit(r))
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, page)
}

// Create godoc
// POST /api/chats/{id}/messages
//
// JSON body: { "content": "..." }
// Multipart: content field plus any number of files fields.
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	var (
		req   models.CreateMessageRequest
		files []*multipart.FileHeader
	)

	if isMultipart(r.Header.Get("Content-Type")) {
		if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "failed to parse multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		req.Content = r.FormValue("content")
		files = r.MultipartForm.File["files"]
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	message, err := h.messageService.Create(r.Context(), r.PathValue("id"), user.ID, &req, files)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, message)
}

func isMultipart(contentType string) bool {
	return strings.HasPrefix(contentType, "multipart/form-data")
}
