package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/comet-live/backend/api/handlers"
	"github.com/comet-live/backend/internal/config"
	"github.com/comet-live/backend/internal/logging"
	"github.com/comet-live/backend/internal/registry"
	"github.com/comet-live/backend/internal/ws"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return exitConfig, err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		return exitConfig, err
	}

	// Registry
	store, closeStore, err := registry.Open(registry.OpenConfig{
		Driver:     cfg.StoreDriver,
		SQLitePath: cfg.DBPath,
		BadgerPath: cfg.BadgerPath,
		TTL:        cfg.ConnectionTTL,
	}, log)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open registry: %w", err)
	}
	defer closeStore()

	sweeper, err := registry.NewSweeper(store, cfg.PurgeSchedule, log)
	if err != nil {
		return exitConfig, err
	}
	sweeper.Start()
	defer sweeper.Stop()

	// WebSocket service
	wsService := ws.NewService(store, log, ws.ServiceConfig{
		Room: cfg.DefaultRoom,
		Transport: ws.Options{
			SendBufferSize: cfg.SendBufferSize,
			MaxMessageSize: cfg.MaxMessageSize,
			MessageRate:    rate.Limit(cfg.MessageRate),
			MessageBurst:   cfg.MessageBurst,
			AllowedOrigin:  cfg.AllowedOrigin,
		},
	})
	// Deferred after closeStore, so it returns before the store is released.
	defer wsService.Close()

	// Handlers
	connectionHandler := handlers.NewConnectionHandler(wsService.Hub(), store, cfg.DefaultRoom, log)
	wsHandler := handlers.NewWebSocketHandler(wsService.Handler(), log)

	if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger(log), corsMiddleware(cfg.AllowedOrigin))

	connectionHandler.RegisterStatusRoutes(&r.RouterGroup)
	wsHandler.RegisterRoutes(&r.RouterGroup)

	api := r.Group("/api")
	{
		connectionHandler.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Str("room", cfg.DefaultRoom).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return exitRuntime, fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
	return exitOK, nil
}

// corsMiddleware returns a CORS middleware allowing origin.
func corsMiddleware(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
