package main

import (
	"context"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"gigflow/application"
	"gigflow/auth"
	"gigflow/config"
	"gigflow/db"
	"gigflow/dispute"
	"gigflow/escrow"
	"gigflow/gig"
	"gigflow/provider"
	"gigflow/sweeper"
	"gigflow/webhook"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap database pool")
	}
	defer pool.Close()

	settings := config.NewStore(pool, log)

	appRepo := application.NewRepository()
	escrowRepo := escrow.NewRepository()
	gigRepo := gig.NewRepository(pool)
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, requiredEnv(log, "JWT_SECRET"))

	swiftpay := provider.NewCheckoutVerifier(provider.CheckoutConfig{
		Secret: requiredEnv(log, "SWIFTPAY_SECRET"),
	})
	payline := provider.NewFormPostVerifier(provider.FormPostConfig{
		Passphrase:     requiredEnv(log, "PAYLINE_PASSPHRASE"),
		Sandbox:        os.Getenv("PAYLINE_SANDBOX") == "true",
		AllowedSources: paylineSources(log),
	})
	paygate := provider.NewHeaderJSONVerifier(provider.HeaderJSONConfig{
		Secret: requiredEnv(log, "PAYGATE_SECRET"),
	})

	escrowService := escrow.NewService(pool, escrowRepo, appRepo, swiftpay, log)
	appService := application.NewService(pool, appRepo, escrowService)
	disputeService := dispute.NewService(pool, appRepo, authRepo, escrowService, log)
	sweepService := sweeper.NewService(pool, gigRepo, appRepo, appService, log)

	server := webhook.NewServer(webhook.Config{
		Payline:   payline,
		Paygate:   paygate,
		Swiftpay:  swiftpay,
		Escrow:    escrowService,
		Apps:      appService,
		Mediation: disputeService,
		Sweeper:   sweepService,
		Tokens:    authService,
		Settings:  settings,
		Log:       log,
	})

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(envOr("SWEEP_SCHEDULE", "@every 10m"), func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		res, err := sweepService.Sweep(sweepCtx, settings.Load(sweepCtx))
		if err != nil {
			log.Error().Err(err).Msg("sweep pass failed")
			return
		}
		log.Info().
			Int("cancelled_unfunded", res.CancelledUnfunded).
			Int("cancelled_overdue", res.CancelledOverdue).
			Int("released", res.Released).
			Int("errors", res.Errors).
			Msg("sweep pass finished")
	}); err != nil {
		log.Fatal().Err(err).Msg("schedule sweeper")
	}
	scheduler.Start()
	defer scheduler.Stop()

	addr := envOr("LISTEN_ADDR", ":8080")
	log.Info().Str("addr", addr).Msg("gigflow api listening")
	if err := http.ListenAndServe(addr, server.Handler()); err != nil {
		log.Fatal().Err(err).Msg("http server")
	}
}

func requiredEnv(log zerolog.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatal().Str("key", key).Msg("missing required environment variable")
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// paylineSources parses PAYLINE_SOURCES (comma-separated CIDRs) and falls
// back to the provider's published ranges.
func paylineSources(log zerolog.Logger) []netip.Prefix {
	raw := os.Getenv("PAYLINE_SOURCES")
	if raw == "" {
		return provider.DefaultPaylineSources
	}

	var prefixes []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(part))
		if err != nil {
			log.Fatal().Err(err).Str("cidr", part).Msg("invalid PAYLINE_SOURCES entry")
		}
		prefixes = append(prefixes, prefix)
	}
	return prefixes
}
