package main

import (
	"net/http"
	"strings"

	"github.com/akinalp/casedesk/middleware"
	"github.com/akinalp/casedesk/repository"
	"github.com/akinalp/casedesk/services"
)

// initRoutes registers every endpoint. Literal segments such as
// /api/chats/unread are registered next to their {id} siblings; the 1.22
// mux prefers the more specific pattern.
func initRoutes(
	mux *http.ServeMux,
	h *Handlers,
	authService services.AuthService,
	userRepo repository.UserRepository,
	uploadDir string,
) {
	authMw := middleware.NewAuthMiddleware(authService, userRepo)
	auth := func(handler http.HandlerFunc) http.Handler {
		return authMw.Require(handler)
	}

	mux.HandleFunc("GET /api/health", h.Health.Check)

	// Auth
	mux.HandleFunc("POST /api/auth/register", h.Auth.Register)
	mux.HandleFunc("POST /api/auth/login", h.Auth.Login)
	mux.HandleFunc("POST /api/auth/refresh", h.Auth.Refresh)
	mux.HandleFunc("POST /api/auth/logout", h.Auth.Logout)
	mux.Handle("GET /api/users/me", auth(h.Auth.Me))

	// Chats
	mux.Handle("GET /api/chats", auth(h.Chat.List))
	mux.Handle("POST /api/chats", auth(h.Chat.Create))
	mux.Handle("GET /api/chats/unread", auth(h.ReadState.GetUnreads))
	mux.Handle("GET /api/chats/{id}", auth(h.Chat.Get))

	// Messages
	mux.Handle("GET /api/chats/{id}/messages", auth(h.Message.List))
	mux.Handle("GET /api/chats/{id}/messages/last-read", auth(h.Message.LastRead))
	mux.Handle("POST /api/chats/{id}/messages", auth(h.Message.Create))
	mux.Handle("POST /api/chats/{id}/read", auth(h.ReadState.MarkRead))

	// Uploaded files are served by name only; subdirectories are refused.
	files := http.FileServer(http.Dir(uploadDir))
	mux.Handle("GET /api/uploads/", http.StripPrefix("/api/uploads/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.ContainsAny(r.URL.Path, `/\`) {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})))

	// Browsers cannot set headers on a websocket upgrade, so the token
	// travels in the query string and the handler checks it.
	mux.HandleFunc("GET /ws", h.WS.HandleConnection)
}
