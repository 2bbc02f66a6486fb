package main

import (
	"log"
	"time"

	"github.com/joho/godotenv"

	"tollgate/internal/engine/payouts"
	"tollgate/internal/pkg/logger"
	"tollgate/internal/platform/config"
	"tollgate/internal/platform/database"
	"tollgate/internal/platform/repositories"
	"tollgate/internal/workers"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	userRepo := repositories.NewUserRepository(db)
	appRepo := repositories.NewAppRepository(db)
	oauthRepo := repositories.NewOAuthRepository(db)
	transactionRepo := repositories.NewTransactionRepository(db)
	payoutRepo := repositories.NewPayoutRepository(db)

	rail := payouts.NewStripeRail(cfg.Payouts.StripeKey)
	payoutSvc := payouts.NewService(payoutRepo, transactionRepo, appRepo, userRepo, rail, cfg.Payouts)

	log.Println("Starting background workers...")

	go runPayoutSweep(payoutSvc, cfg.Payouts.SweepInterval)
	go runGrantPurge(oauthRepo)

	// Keep process alive
	select {}
}

func runPayoutSweep(svc *payouts.Service, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		workers.ReconcilePayouts(svc)
	}
}

func runGrantPurge(store *repositories.OAuthRepository) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		workers.PurgeExpiredGrants(store)
	}
}
