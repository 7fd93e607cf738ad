package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/akinalp/casedesk/pkg"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status      string `json:"status"`
	OnlineUsers int    `json:"online_users"`
}

// HealthHandler reports whether the database answers.
type HealthHandler struct {
	db     Pinger
	online func() []string
}

// NewHealthHandler creates a HealthHandler. online may be nil.
func NewHealthHandler(db Pinger, online func() []string) *HealthHandler {
	return &HealthHandler{db: db, online: online}
}

// Check godoc
// GET /api/health
// Public. 503 when the database does not answer within two seconds.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		pkg.ErrorWithMessage(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	resp := HealthResponse{Status: "ok"}
	if h.online != nil {
		resp.OnlineUsers = len(h.online())
	}
	pkg.JSON(w, http.StatusOK, resp)
}
