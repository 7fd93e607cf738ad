package main

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/akinalp/casedesk/config"
	"github.com/akinalp/casedesk/pkg/email"
	"github.com/akinalp/casedesk/pkg/logger"
	"github.com/akinalp/casedesk/pkg/ratelimit"
	"github.com/akinalp/casedesk/services"
	"github.com/akinalp/casedesk/ws"
)

// Login attempts per IP: a burst of 10, then one every 30 seconds.
const (
	loginEvery = 30 * time.Second
	loginBurst = 10
)

// Services groups every service.
type Services struct {
	Auth      services.AuthService
	Chat      services.ChatService
	Message   services.MessageService
	Upload    services.UploadService
	ReadState services.ReadStateService
}

// RateLimiters groups the keyed limiters so main can run their cleanup.
type RateLimiters struct {
	Login   *ratelimit.Limiter
	Message *ratelimit.Limiter
}

// initServices builds the services. chat comes first because message and
// read state check membership through it.
func initServices(db *sql.DB, repos *Repositories, hub ws.EventPublisher, cfg *config.Config) (*Services, *RateLimiters) {
	limiters := &RateLimiters{
		Login:   ratelimit.New(loginEvery, loginBurst),
		Message: ratelimit.New(cfg.Chat.SendEvery, cfg.Chat.SendBurst),
	}

	var mailer email.Sender = email.Noop{}
	if cfg.Email.ResendAPIKey != "" {
		mailer = email.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.From, cfg.Email.AppURL)
		logger.Log.Info("email_enabled", zap.String("from", cfg.Email.From))
	} else {
		logger.Log.Info("email_disabled")
	}

	auth := services.NewAuthService(repos.User, repos.Session, services.AuthConfig{
		Secret:        cfg.JWT.Secret,
		AccessExpiry:  time.Duration(cfg.JWT.AccessTokenExpiry) * time.Minute,
		RefreshExpiry: time.Duration(cfg.JWT.RefreshTokenExpiry) * 24 * time.Hour,
	})
	chat := services.NewChatService(db, repos.Chat, repos.User, hub, cfg.Chat.MembershipTTL)
	upload := services.NewUploadService(repos.Attachment, cfg.Upload.Dir, cfg.Upload.MaxSize)
	message := services.NewMessageService(
		repos.Message,
		repos.Attachment,
		repos.ReadState,
		repos.User,
		chat,
		upload,
		hub,
		mailer,
		limiters.Message,
		services.PageLimits{Default: cfg.Chat.PageSize, Max: cfg.Chat.MaxPageSize},
	)
	readState := services.NewReadStateService(repos.ReadState, repos.Message, chat, hub)

	return &Services{
		Auth:      auth,
		Chat:      chat,
		Message:   message,
		Upload:    upload,
		ReadState: readState,
	}, limiters
}
