// Flex Protect embed gateway - serves the storefront embed's API on the
// shop's app-proxy path and keeps warranty cart lines consistent.
// Designed for Cloud Run deployment.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flexgate/internal/bus"
	"flexgate/internal/config"
	"flexgate/internal/engine"
	"flexgate/internal/handler"
	"flexgate/internal/middleware"
	"flexgate/internal/offer"
	"flexgate/internal/pricing"
	"flexgate/internal/reconcile"
	"flexgate/internal/session"
	"flexgate/internal/shopify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger
	logger := initLogger()

	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("shop_id", cfg.ShopID),
		slog.String("environment", cfg.Environment),
		slog.String("shop_domain", cfg.Shop.ShopDomain),
	)

	// Upstream clients
	storefront, err := shopify.New(shopify.Config{
		StorefrontURL: cfg.StorefrontURL(),
		AccessToken:   cfg.Shop.StorefrontToken,
	})
	if err != nil {
		return fmt.Errorf("creating storefront client: %w", err)
	}

	pricingClient, err := pricing.New(pricing.Config{
		BaseURL: cfg.PricingBase(),
		APIKey:  cfg.Shop.APIKey,
		ShopID:  cfg.ShopID,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating pricing client: %w", err)
	}

	// Merge remote placement flags over the local config when the pricing
	// service has them; a config fetch failure falls back to local flags
	placement := cfg.Shop.Placement
	if remote, err := pricingClient.GetConfig(ctx); err != nil {
		logger.Warn("remote config unavailable, using local placement",
			slog.String("error", err.Error()))
	} else if remote.Enabled {
		placement = remote.Placement
	}

	resolver := offer.NewResolver(pricingClient, offer.ResolverConfig{
		WarrantyVendor: cfg.Shop.WarrantyVendor,
		MinPriceCents:  cfg.Shop.MinPriceCents,
		Placement:      placement,
	}, logger)

	debouncer := reconcile.NewDebouncer(cfg.DebounceWindow)
	defer debouncer.Stop()

	eng := engine.New(resolver, pricingClient, pricingClient,
		bus.NewGuard(cfg.GuardTTL), bus.New(),
		reconcile.NewCleaner(logger), debouncer,
		engine.Config{
			SettleAttempts: cfg.SettleAttempts,
			SettleInterval: cfg.SettleInterval,
		}, logger)

	h := handler.New(eng, resolver, storefront, pricingClient,
		session.NewManager(cfg.SessionDir), logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery, session, logging, client info.
	// Recovery must be outermost to catch panics from the other layers
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Session(),
		middleware.Logging(logger),
		middleware.ClientInfo(cfg.Shop.MinEmbedRev, logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
