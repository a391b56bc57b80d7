package billingcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vitrinehq/vitrine-billing/internal/billingcp/entstore"
	bpstripe "github.com/vitrinehq/vitrine-billing/internal/billingcp/stripe"
	"github.com/vitrinehq/vitrine-billing/internal/entitlement"
	"github.com/vitrinehq/vitrine-billing/internal/logging"
)

// Run starts the billing control plane HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "billing",
	})

	log.Info().Str("version", version).Msg("Starting Vitrine billing service")

	if err := os.MkdirAll(cfg.EntitlementsDir(), 0o755); err != nil {
		return fmt.Errorf("create entitlements dir: %w", err)
	}

	store, err := entstore.Open(cfg.EntitlementsDir())
	if err != nil {
		return fmt.Errorf("open entitlement store: %w", err)
	}
	defer store.Close()

	resolver := entitlement.NewResolver(cfg.StandardPriceIDs, cfg.PremiumPriceIDs)
	fetcher := bpstripe.NewAPIFetcher(cfg.StripeAPIKey)

	// Build HTTP routes
	mux := http.NewServeMux()
	deps := &Deps{
		Config:   cfg,
		Store:    store,
		Resolver: resolver,
		Fetcher:  fetcher,
		Version:  version,
	}
	RegisterRoutes(mux, deps)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Create derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start processed-event ledger cleanup
	janitor := entstore.NewJanitor(store, cfg.EventRetention)
	go janitor.Run(ctx)

	// Start metrics updater
	go runTierMetrics(ctx, store)

	// Start server in background
	go func() {
		log.Info().Str("addr", addr).Msg("Billing service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Billing service stopped")
	return nil
}
