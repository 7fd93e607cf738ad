package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akinalp/casedesk/pkg/logger"
	"github.com/akinalp/casedesk/ws"
)

// registerHubCallbacks connects hub events to services. The hub runs each
// callback in its own goroutine.
func registerHubCallbacks(hub *ws.Hub, svcs *Services) {
	log := logger.Named("presence")

	hub.OnUserFirstConnect(func(userID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		unreads, err := svcs.ReadState.GetUnreadCounts(ctx, userID)
		if err != nil {
			log.Warn("ready_unreads_failed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		hub.BroadcastToUser(userID, ws.Event{
			Op:   ws.OpReady,
			Data: ws.ReadyData{UserID: userID, Unreads: unreads},
		})
		log.Debug("user_online", zap.String("user_id", userID))
	})

	hub.OnUserFullyDisconnected(func(userID string) {
		log.Debug("user_offline", zap.String("user_id", userID))
	})

	hub.OnTyping(func(userID, username, chatID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svcs.Chat.Typing(ctx, userID, username, chatID)
	})
}

