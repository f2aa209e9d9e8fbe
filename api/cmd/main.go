package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/popforge/popup-service/internal/audit"
	"github.com/popforge/popup-service/internal/botguard"
	"github.com/popforge/popup-service/internal/config"
	"github.com/popforge/popup-service/internal/domain"
	"github.com/popforge/popup-service/internal/infrastructure/postgres"
	"github.com/popforge/popup-service/internal/infrastructure/rabbitmq"
	"github.com/popforge/popup-service/internal/infrastructure/redis"
	"github.com/popforge/popup-service/internal/pkg/logger"
	"github.com/popforge/popup-service/internal/security"
	"github.com/popforge/popup-service/internal/service"
	"github.com/popforge/popup-service/internal/shopify"
	"github.com/popforge/popup-service/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "popup-service").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	repo := postgres.New(dbPool)

	// ---- Redis ----
	cache := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		// Best-effort: the cache fails open, an unreachable redis only
		// weakens frequency capping and bot heuristics.
		if err := cache.Client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Shopify Admin API ----
	gateway := shopify.NewGateway(cfg.ShopifyAPIVersion, shopify.ParseShopTokens(cfg.ShopifyShopTokens))

	// ---- Event publisher ----
	var publisher domain.EventPublisher
	if cfg.PublisherEnabled {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq connect failed, events disabled")
		} else {
			defer p.Close()
			publisher = p
			log.Info().Str("exchange", cfg.RabbitExchange).Msg("rabbitmq connected")
		}
	}

	// ---- Application service ----
	validator := botguard.NewValidator(cache)
	svc := service.NewPopupService(
		repo, cache, validator,
		gateway, gateway,
		publisher, audit.New(log),
	)
	h := rest.NewHandler(svc)

	// ---- Session token verifier ----
	verifier := security.NewHS256Verifier(cfg.ShopifyAPISecret, cfg.ShopifyAPIKey)

	// ---- Router ----
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Cache:    cache,
		Handler:  h,
		Verifier: verifier,
		RateLimit: rest.RateLimitOptions{
			Enabled: cfg.RLEnabled,
			Limit:   cfg.RLLimit,
			Window:  cfg.RLWindow,
		},
	})

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
