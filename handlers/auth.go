// Package handlers turns HTTP requests into service calls. Handlers decode
// the request, call one service method and write the envelope; rules live in
// services.
package handlers

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/pkg"
	"github.com/akinalp/casedesk/pkg/ratelimit"
	"github.com/akinalp/casedesk/services"
)

type contextKey string

// UserContextKey holds the authenticated *models.User in a request context.
const UserContextKey contextKey = "user"

// AuthHandler serves the auth endpoints.
type AuthHandler struct {
	authService    services.AuthService
	loginLimiter   *ratelimit.Limiter
	trustedProxies []netip.Prefix
}

// NewAuthHandler creates an AuthHandler. A nil loginLimiter disables login
// throttling. Login attempts are keyed by client IP; forwarding headers are
// only honoured when the request comes through one of trustedProxies.
func NewAuthHandler(authService services.AuthService, loginLimiter *ratelimit.Limiter, trustedProxies []netip.Prefix) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		loginLimiter:   loginLimiter,
		trustedProxies: trustedProxies,
	}
}

// Register godoc
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tokens, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, tokens)
}

// Login godoc
// POST /api/auth/login
//
// Attempts are limited per client IP. A successful login clears the
// counter.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ExtractIP(r, h.trustedProxies)
	if h.loginLimiter != nil && !h.loginLimiter.Allow(ip) {
		w.Header().Set("Retry-After", strconv.Itoa(h.loginLimiter.RetryAfterSeconds(ip)))
		pkg.ErrorWithMessage(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		return
	}

	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tokens, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	if h.loginLimiter != nil {
		h.loginLimiter.Reset(ip)
	}

	pkg.JSON(w, http.StatusOK, tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh godoc
// POST /api/auth/refresh
// Body: { "refresh_token": "..." }
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	tokens, err := h.authService.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, tokens)
}

// Logout godoc
// POST /api/auth/logout
// Body: { "refresh_token": "..." }
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me godoc
// GET /api/users/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	pkg.JSON(w, http.StatusOK, user)
}
