package main

import (
	"github.com/akinalp/casedesk/config"
	"github.com/akinalp/casedesk/handlers"
	"github.com/akinalp/casedesk/ws"
)

// Handlers groups every HTTP handler.
type Handlers struct {
	Health    *handlers.HealthHandler
	Auth      *handlers.AuthHandler
	Chat      *handlers.ChatHandler
	Message   *handlers.MessageHandler
	ReadState *handlers.ReadStateHandler
	WS        *ws.Handler
}

func initHandlers(svcs *Services, limiters *RateLimiters, hub *ws.Hub, db handlers.Pinger, cfg *config.Config) *Handlers {
	return &Handlers{
		Health:    handlers.NewHealthHandler(db, hub.GetOnlineUserIDs),
		Auth:      handlers.NewAuthHandler(svcs.Auth, limiters.Login, cfg.Server.TrustedProxies),
		Chat:      handlers.NewChatHandler(svcs.Chat),
		Message:   handlers.NewMessageHandler(svcs.Message, cfg.Upload.MaxSize),
		ReadState: handlers.NewReadStateHandler(svcs.ReadState),
		WS:        ws.NewHandler(hub, svcs.Auth, cfg.Server.AllowedOrigins),
	}
}
