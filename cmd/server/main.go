package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/cache"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/config"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/httpapi"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/logging"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/service"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/store"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/store/memory"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.AuthSecret == "" {
		logger.Fatal("AUTH_SECRET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			// A configured database that cannot be reached is fatal; silently
			// falling back to memory would hide every committed sale.
			logger.WithError(err).Fatal("postgres connection failed")
		}
		defer func() { _ = pg.Close() }()
		repo = pg
		logger.Info("using postgres store")
	} else {
		repo = memory.NewSeeded()
		logger.Warn("DATABASE_URL not set, using in-memory store with seed data")
	}

	var receipts cache.ReceiptCache = cache.NoopReceiptCache{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReceiptCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unreachable, receipt cache disabled")
		} else {
			defer func() { _ = redisCache.Close() }()
			receipts = redisCache
			logger.Info("receipt cache enabled")
		}
	}

	svc := service.New(
		repo,
		receipts,
		logger,
		time.Duration(cfg.ReceiptCacheTTLSeconds)*time.Second,
		time.Duration(cfg.SaleTimeoutSeconds)*time.Second,
	)
	auth := httpapi.NewAuthManager(repo, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	api := httpapi.NewServer(svc, auth, logger, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("graceful shutdown failed")
		}
	}
}
