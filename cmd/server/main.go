package main

import (
	"log"

	"heartpulse-billing/internal/api"
	"heartpulse-billing/internal/config"
	"heartpulse-billing/internal/database"
	"heartpulse-billing/internal/services"
	"heartpulse-billing/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	cfg := config.AppConfig

	// Build services; the database and redis clients are initialized once per
	// process and injected from here.
	verifier, err := services.NewSignedPayloadVerifier(cfg.AppleRootCerts, cfg.AppleEnvironment, cfg.AppleBundleID, cfg.AppleAppID)
	if err != nil {
		log.Fatal("Failed to initialize payload verifier:", err)
	}

	links := services.NewLinkService(database.GetDB())
	aggregator := services.NewAggregator(database.GetDB())
	reconciler := services.NewReconciler(database.GetDB(), links, aggregator)
	lock := services.NewBackfillLock(database.GetRedis())
	backfill := services.NewBackfillOrchestrator(links, reconciler, lock, func() (*services.AppStoreClient, error) {
		return services.NewAppStoreClient(services.AppStoreCredentials{
			IssuerID:    cfg.AppleIssuerID,
			KeyID:       cfg.AppleKeyID,
			BundleID:    cfg.AppleBundleID,
			PrivateKey:  cfg.ApplePrivateKey,
			Environment: cfg.AppleEnvironment,
		})
	})

	// Start the daily retry sweep
	sweeper := services.NewRetrySweeper(links, backfill, cfg.SweepSchedule, cfg.SweepLimit)
	if err := sweeper.Start(); err != nil {
		log.Fatal("Failed to start retry sweeper:", err)
	}
	defer sweeper.Stop()

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, &api.Dependencies{
		Links:      links,
		Reconciler: reconciler,
		Verifier:   verifier,
		Backfill:   backfill,
	})

	// Start server
	port := cfg.Port
	logging.Infof("Starting server on port %s", port)

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
