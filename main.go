// api/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"storefront/api/config"
	"storefront/api/database"
	"storefront/api/handlers"
	"storefront/api/logger"
	"storefront/api/middleware"
	"storefront/api/publisher"
	"storefront/api/ragclient"
	"storefront/api/store"
)

func main() {
	// Load .env file at the very start
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	defer func() { _ = zapLogger.Sync() }()

	if cfg.Server.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Pub/Sub (no-op when disabled) ---
	eventPublisher := publisher.New(cfg.PubSub, zapLogger.Named("pubsub"))
	defer func() {
		if err := eventPublisher.Close(); err != nil {
			zapLogger.Warn("Publisher close failed", zap.Error(err))
		}
	}()

	// --- ClickHouse event archive (optional) ---
	var archive store.EventArchive
	if cfg.ClickHouse.Enabled() {
		chClient, err := database.NewClickHouseDB(cfg.ClickHouse, zapLogger.Named("clickhouse"))
		if err != nil {
			zapLogger.Error("ClickHouse unavailable, event archive disabled", zap.Error(err))
		} else {
			defer chClient.Close()
			analyticsStore := store.NewAnalyticsStore(chClient, zapLogger.Named("archive"))
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := analyticsStore.EnsureSchema(ctx); err != nil {
				zapLogger.Error("Failed to prepare archive schema", zap.Error(err))
			}
			cancel()
			archive = analyticsStore
		}
	}

	ragClient := ragclient.New(cfg.RAG, zapLogger.Named("rag"))

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	limiter.StartCleanup(cfg.RateLimit.Window)
	defer limiter.Stop()

	trackHandlers := handlers.NewTrackHandlers(eventPublisher, archive, zapLogger.Named("events"))
	chatHandlers := handlers.NewChatHandlers(ragClient, cfg.Auth.TrustClientCustomerID, zapLogger.Named("chat"))

	if cfg.Auth.JWTSecret == "" {
		zapLogger.Warn("JWT_SECRET_KEY is not set, all chat requests use visitor mode")
	}

	r := setupRouter(routerDeps{
		Logger:    zapLogger,
		ClientURL: cfg.Server.ClientURL,
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		Track:     trackHandlers,
		Chat:      chatHandlers,
		Limiter:   limiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLogger.Info("Server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Env),
			zap.String("rag_service", cfg.RAG.BaseURL),
			zap.Bool("pubsub_enabled", eventPublisher.IsReady()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	trackHandlers.Wait()

	zapLogger.Info("Server exiting")
}
