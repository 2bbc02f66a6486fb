package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/joho/godotenv"

	"tollgate/internal/api"
	"tollgate/internal/api/handlers"
	"tollgate/internal/api/middleware"
	"tollgate/internal/engine/ledger"
	"tollgate/internal/engine/oauth"
	"tollgate/internal/engine/payouts"
	"tollgate/internal/pkg/logger"
	"tollgate/internal/platform/auth"
	"tollgate/internal/platform/config"
	"tollgate/internal/platform/database"
	"tollgate/internal/platform/repositories"
)

func main() {
	// .env is optional; real deployments configure via config.yaml and env.
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

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	appRepo := repositories.NewAppRepository(db)
	oauthRepo := repositories.NewOAuthRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	markupRepo := repositories.NewMarkUpRepository(db)
	referralRepo := repositories.NewReferralRepository(db)
	transactionRepo := repositories.NewTransactionRepository(db)
	payoutRepo := repositories.NewPayoutRepository(db)
	freeTierRepo := repositories.NewFreeTierRepository(db)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	oauthSvc := oauth.NewService(appRepo, userRepo, oauthRepo, tokenSvc, cfg.OAuth)
	ledgerSvc := ledger.NewService(
		ledger.NewPriceTable(cfg.Pricing),
		ledger.NewSplitPolicy(cfg.Billing),
		appRepo, userRepo, markupRepo, referralRepo, transactionRepo, freeTierRepo,
	)
	rail := payouts.NewStripeRail(cfg.Payouts.StripeKey)
	payoutSvc := payouts.NewService(payoutRepo, transactionRepo, appRepo, userRepo, rail, cfg.Payouts)
	defer payoutSvc.Close()

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenSvc, apiKeyRepo)
	rateLimiter := middleware.NewRateLimiter(map[string]int{
		"auth":  cfg.RateLimit.APIWritePerMinute,
		"token": cfg.RateLimit.TokenPerMinute,
		"usage": cfg.RateLimit.UsagePerMinute,
	})

	// Router
	deps := &api.Dependencies{
		AuthHandler:     handlers.NewAuthHandler(userRepo, tokenSvc),
		OAuthHandler:    handlers.NewOAuthHandler(oauthSvc),
		AppHandler:      handlers.NewAppHandler(appRepo, freeTierRepo),
		APIKeyHandler:   handlers.NewAPIKeyHandler(apiKeyRepo, appRepo),
		UsageHandler:    handlers.NewUsageHandler(ledgerSvc, userRepo, transactionRepo),
		MarkupHandler:   handlers.NewMarkupHandler(appRepo, markupRepo),
		ReferralHandler: handlers.NewReferralHandler(referralRepo, appRepo),
		PayoutHandler:   handlers.NewPayoutHandler(payoutSvc, payoutRepo),
		HealthHandler:   handlers.NewHealthHandler(db),
		AuthMiddleware:  authMiddleware,
		RateLimiter:     rateLimiter,
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Printf("Server starting on %s", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
