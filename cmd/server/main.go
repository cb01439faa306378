package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erauner12/articlesync-api/internal/config"
	"github.com/erauner12/articlesync-api/internal/httpapi"
	"github.com/erauner12/articlesync-api/internal/service/syncservice"
	"github.com/erauner12/articlesync-api/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(cfg.Level())
	log.Logger = log.With().Str("service", "articlesync-api").Logger()

	// Pretty logging for local dev
	if cfg.IsDev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	// Storage backend, chosen once from the DSN scheme
	st, err := store.Open(ctx, cfg.StoreDSN, store.Options{
		MongoDatabase:   cfg.MongoDatabase,
		MongoCollection: cfg.MongoCollection,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open article store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("article store close error")
		}
	}()

	svc := syncservice.NewService(st, syncservice.Options{
		MaxPage:       cfg.MaxPage,
		HealThreshold: cfg.HealThreshold,
	})

	// HTTP server setup
	srv := &httpapi.Server{
		Svc:          svc,
		SharedSecret: cfg.SharedSecret,
		RateLimitConfig: httpapi.RateLimitInfo{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		MaxBodyBytes: cfg.MaxBodyBytes,
	}

	if cfg.SharedSecret == "" {
		log.Warn().Msg("SYNC_SHARED_SECRET not set, sync endpoints are open")
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("backend", st.Backend()).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	srv.Close()

	log.Info().Msg("server stopped")
}
