package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/chain"
	"github.com/mesh-marketplace/backend/internal/config"
	"github.com/mesh-marketplace/backend/internal/db"
	"github.com/mesh-marketplace/backend/internal/events"
	"github.com/mesh-marketplace/backend/internal/repositories"
	"github.com/mesh-marketplace/backend/internal/services"
)

// Escrow indexer — periodically walks non-terminal escrow records,
// adopts chain state on divergence, and backfills records that were
// lost between a confirmed deposit and the mirror write.

const (
	redisReconciled = "escrow-indexer:reconciled:"
	reconciledTTL   = 24 * time.Hour
	gapLookback     = 7 * 24 * time.Hour
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	escrowRepo := repositories.NewEscrowRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	intentRepo := repositories.NewIntentRepo(pool)
	agentRepo := repositories.NewAgentRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	notificationRepo := repositories.NewNotificationRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)

	arbitrator, err := chain.WalletFromSeedHex(cfg.ArbitratorSecret)
	if err != nil {
		log.Fatal("invalid ARBITRATOR_SECRET", zap.Error(err))
	}
	masterSeed, err := hex.DecodeString(cfg.WalletMasterSeed)
	if err != nil {
		log.Fatal("invalid WALLET_MASTER_SEED", zap.Error(err))
	}

	var client chain.Client
	if cfg.RPCURL == "" {
		log.Fatal("SOLANA_RPC_URL is required for the indexer")
	}
	conn := chain.NewRPCConnection(cfg.RPCURL, log)
	client = chain.NewProgramClient(conn, cfg.EscrowProgramID, arbitrator.PublicKey(), cfg.ConfirmTimeout, log)

	notifier := services.NewNotificationService(notificationRepo, publisher, log)
	svc := services.NewEscrowService(
		escrowRepo, disputeRepo, intentRepo, agentRepo, auditRepo,
		notifier, client, publisher, masterSeed, arbitrator, log,
	)

	log.Info("escrow indexer started",
		zap.String("program_id", cfg.EscrowProgramID),
		zap.Duration("poll_interval", cfg.IndexerPollInterval),
	)

	ticker := time.NewTicker(cfg.IndexerPollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := pollCycle(ctx, cfg, svc, auditRepo, rdb, publisher, log); err != nil {
				log.Error("poll cycle failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down escrow indexer")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func pollCycle(
	ctx context.Context,
	cfg *config.Config,
	svc *services.EscrowService,
	auditRepo *repositories.AuditRepo,
	rdb *redis.Client,
	publisher events.Publisher,
	log *zap.Logger,
) error {
	records, err := svc.ListNonTerminal(ctx, cfg.IndexerBatchSize)
	if err != nil {
		return fmt.Errorf("list non-terminal escrows: %w", err)
	}

	for i := range records {
		record := &records[i]
		changed, err := svc.Reconcile(ctx, record)
		if err != nil {
			log.Warn("reconcile failed",
				zap.String("intent_id", record.IntentID),
				zap.Error(err),
			)
			continue
		}
		if changed {
			_ = markReconciled(ctx, rdb, record.IntentID)
		}
	}

	return backfillGaps(ctx, svc, auditRepo, rdb, publisher, log)
}

// backfillGaps replays reconciliation-gap audit entries: deposits that
// confirmed on chain but never got a record row.
func backfillGaps(
	ctx context.Context,
	svc *services.EscrowService,
	auditRepo *repositories.AuditRepo,
	rdb *redis.Client,
	publisher events.Publisher,
	log *zap.Logger,
) error {
	gaps, err := auditRepo.GetRecentByAction(ctx, "escrow_reconciliation_gap", time.Now().Add(-gapLookback), 100)
	if err != nil {
		return fmt.Errorf("list reconciliation gaps: %w", err)
	}

	for _, gap := range gaps {
		meta, ok := gap.Meta.(map[string]any)
		if !ok {
			continue
		}
		intentID, _ := meta["intent_id"].(string)
		signature, _ := meta["signature"].(string)
		if intentID == "" || signature == "" {
			continue
		}

		// Idempotency across cycles
		key := redisReconciled + intentID
		if rdb.Exists(ctx, key).Val() > 0 {
			continue
		}

		if _, err := svc.BackfillFromChain(ctx, intentID, signature); err != nil {
			log.Warn("backfill failed",
				zap.String("intent_id", intentID),
				zap.Error(err),
			)
			continue
		}
		rdb.Set(ctx, key, signature, reconciledTTL)
		_ = publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventReconciliationFilled,
			Payload: map[string]any{
				"intent_id": intentID,
				"signature": signature,
			},
		})
		log.Info("reconciliation gap closed", zap.String("intent_id", intentID))
	}
	return nil
}

func markReconciled(ctx context.Context, rdb *redis.Client, intentID string) error {
	return rdb.Set(ctx, redisReconciled+intentID, "reconciled", reconciledTTL).Err()
}
