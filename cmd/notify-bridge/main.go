package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/config"
	"github.com/mesh-marketplace/backend/internal/db"
	"github.com/mesh-marketplace/backend/internal/events"
	"github.com/mesh-marketplace/backend/internal/services"
)

// Notify bridge — small service that subscribes to notification events
// and forwards them to the dashboard's webhook endpoint.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	webhook := services.NewWebhookClient(cfg.DashboardWebhookURL, cfg.DashboardAPIKey, log)

	log.Info("notify-bridge started", zap.String("webhook", cfg.DashboardWebhookURL))

	_ = subscriber.Subscribe(ctx, events.StreamNotification, func(event events.Event) {
		userID, _ := event.Payload["user_id"].(string)
		if userID == "" {
			return
		}
		title, _ := event.Payload["title"].(string)
		message, _ := event.Payload["message"].(string)
		typ, _ := event.Payload["type"].(string)

		if err := webhook.Send(ctx, services.WebhookNotification{
			UserID:  userID,
			Title:   title,
			Message: message,
			Type:    typ,
		}); err != nil {
			log.Warn("failed to forward notification",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
