package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/config"
	"github.com/mesh-marketplace/backend/internal/http/handlers"
	"github.com/mesh-marketplace/backend/internal/middleware"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	agentHandler *handlers.AgentHandler,
	intentHandler *handlers.IntentHandler,
	escrowHandler *handlers.EscrowHandler,
	notificationHandler *handlers.NotificationHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-API-Key, X-Arbitrator-Key",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (dashboard-to-backend, gated by shared API key)
	api.Post("/auth/wallet", authHandler.WalletAuth)

	// Rate-limited endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// User
	protected.Get("/me", userHandler.GetMe)

	// Agents
	protected.Post("/agents", agentHandler.RegisterAgent)
	protected.Get("/agents/my", agentHandler.ListMyAgents)
	protected.Get("/agents/:id", agentHandler.GetAgent)

	// Intents
	protected.Post("/intents", intentHandler.CreateIntent)
	protected.Get("/intents", intentHandler.ListIntents)
	protected.Get("/intents/:id", intentHandler.GetIntent)
	protected.Post("/intents/:id/match", intentHandler.MatchIntent)
	protected.Post("/intents/:id/cancel", intentHandler.CancelIntent)

	// Escrow lifecycle
	protected.Get("/escrows", escrowHandler.ListEscrows)
	protected.Get("/intents/:intentId/escrow", escrowHandler.GetEscrow)
	protected.Get("/intents/:intentId/escrow/audit", escrowHandler.GetAuditTrail)
	protected.Post("/intents/:intentId/escrow/deposit", escrowHandler.Deposit)
	protected.Post("/intents/:intentId/escrow/release", escrowHandler.Release)
	protected.Post("/intents/:intentId/escrow/refund", escrowHandler.Refund)
	protected.Post("/intents/:intentId/escrow/dispute", escrowHandler.OpenDispute)

	// Dispute resolution (arbitrator key on top of a user session)
	arbitrator := protected.Group("", middleware.ArbitratorMiddleware(cfg))
	arbitrator.Post("/intents/:intentId/escrow/resolve", escrowHandler.ResolveDispute)

	// Notifications
	protected.Get("/notifications", notificationHandler.ListNotifications)
	protected.Post("/notifications/:id/read", notificationHandler.MarkRead)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
