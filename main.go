// Command casedesk serves the chat API of the practice: REST endpoints for
// chats and cursor-paged messages plus a websocket stream for live events.
//
// Wiring is split over the init_*.go files; this file owns the process
// lifecycle.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/akinalp/casedesk/config"
	"github.com/akinalp/casedesk/database"
	"github.com/akinalp/casedesk/pkg/logger"
	"github.com/akinalp/casedesk/ws"
)

const (
	limiterCleanupEvery = 5 * time.Minute
	sessionCleanupEvery = time.Hour
)

// app is everything main starts and stops.
type app struct {
	db       *database.DB
	hub      *ws.Hub
	repos    *Repositories
	svcs     *Services
	limiters *RateLimiters
	handler  http.Handler
	stop     chan struct{}
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.Upload.Dir, 0755); err != nil {
		return nil, err
	}

	db, err := database.New(cfg.Database.Path, database.Migrations())
	if err != nil {
		return nil, err
	}

	repos := initRepositories(db.Conn)
	hub := ws.NewHub()
	svcs, limiters := initServices(db.Conn, repos, hub, cfg)
	registerHubCallbacks(hub, svcs)
	h := initHandlers(svcs, limiters, hub, db.Conn, cfg)

	mux := http.NewServeMux()
	initRoutes(mux, h, svcs.Auth, repos.User, cfg.Upload.Dir)

	var handler http.Handler = mux
	if len(cfg.Server.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}).Handler(handler)
	}
	handler = logger.Middleware(handler)

	return &app{
		db:       db,
		hub:      hub,
		repos:    repos,
		svcs:     svcs,
		limiters: limiters,
		handler:  handler,
		stop:     make(chan struct{}),
	}, nil
}

// start runs the hub and the periodic cleanups.
func (a *app) start() {
	go a.hub.Run()
	go a.limiters.Login.RunCleanup(limiterCleanupEvery, a.stop)
	go a.limiters.Message.RunCleanup(limiterCleanupEvery, a.stop)
	go a.cleanupSessions()
}

func (a *app) cleanupSessions() {
	ticker := time.NewTicker(sessionCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := a.repos.Session.DeleteExpired(ctx); err != nil {
				logger.Log.Warn("session_cleanup_failed", zap.Error(err))
			}
			cancel()
		case <-a.stop:
			return
		}
	}
}

// close stops background work and closes the database. The HTTP server
// must already be shut down.
func (a *app) close() {
	close(a.stop)
	a.hub.Shutdown()
	a.svcs.Chat.Close()
	if err := a.db.Close(); err != nil {
		logger.Log.Warn("database_close_failed", zap.Error(err))
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		_ = logger.Init("info", false)
		logger.Log.Fatal("config_load_failed", zap.Error(err))
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Dev); err != nil {
		_ = logger.Init("info", false)
		logger.Log.Fatal("logger_init_failed", zap.Error(err))
	}
	defer logger.Sync()

	a, err := newApp(cfg)
	if err != nil {
		logger.Log.Fatal("startup_failed", zap.Error(err))
	}
	a.start()

	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     a.handler,
		ReadTimeout: 15 * time.Second,
		// uploads can take a while on slow links
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Log.Info("server_listening", zap.String("addr", cfg.Server.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("server_failed", zap.Error(err))
		}
	}()

	<-done
	logger.Log.Info("shutting_down")

	// Websockets first so clients see the close before the listener goes.
	a.hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("forced_shutdown", zap.Error(err))
	}
	a.close()

	logger.Log.Info("server_stopped")
}
