package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/chain"
	"github.com/mesh-marketplace/backend/internal/config"
	"github.com/mesh-marketplace/backend/internal/db"
	"github.com/mesh-marketplace/backend/internal/events"
	apphttp "github.com/mesh-marketplace/backend/internal/http"
	"github.com/mesh-marketplace/backend/internal/http/handlers"
	"github.com/mesh-marketplace/backend/internal/repositories"
	"github.com/mesh-marketplace/backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	agentRepo := repositories.NewAgentRepo(pool)
	intentRepo := repositories.NewIntentRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	notificationRepo := repositories.NewNotificationRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Chain client
	arbitrator, err := chain.WalletFromSeedHex(cfg.ArbitratorSecret)
	if err != nil {
		log.Fatal("invalid ARBITRATOR_SECRET", zap.Error(err))
	}
	masterSeed, err := hex.DecodeString(cfg.WalletMasterSeed)
	if err != nil || len(masterSeed) == 0 {
		log.Fatal("invalid WALLET_MASTER_SEED")
	}

	var client chain.Client
	if cfg.RPCURL == "" {
		log.Warn("running against in-process fake escrow program")
		client = chain.NewFakeClient(cfg.EscrowProgramID, arbitrator.PublicKey())
	} else {
		conn := chain.NewRPCConnection(cfg.RPCURL, log)
		client = chain.NewProgramClient(conn, cfg.EscrowProgramID, arbitrator.PublicKey(), cfg.ConfirmTimeout, log)
	}

	// Services
	notifier := services.NewNotificationService(notificationRepo, publisher, log)
	escrowService := services.NewEscrowService(
		escrowRepo, disputeRepo, intentRepo, agentRepo, auditRepo,
		notifier, client, publisher, masterSeed, arbitrator, log,
	)
	intentService := services.NewIntentService(intentRepo, auditRepo, log)
	agentService := services.NewAgentService(agentRepo, auditRepo, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, cfg, log)
	userHandler := handlers.NewUserHandler(userRepo, masterSeed, log)
	agentHandler := handlers.NewAgentHandler(agentService, log)
	intentHandler := handlers.NewIntentHandler(intentService, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	notificationHandler := handlers.NewNotificationHandler(notifier, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, userHandler, agentHandler, intentHandler, escrowHandler, notificationHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
