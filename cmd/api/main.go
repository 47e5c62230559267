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

	"github.com/iago/vidai-studio/internal/app"
	"github.com/iago/vidai-studio/internal/config"
	httpserver "github.com/iago/vidai-studio/internal/http"
	"github.com/iago/vidai-studio/internal/http/handlers"
)

func main() {
	logger := log.New(os.Stdout, "[vidai] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to build runtime: %v", err)
	}

	api := handlers.NewAPI(runtime.Jobs, runtime.Settings, logger)
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		Context:        runtime.Context(),
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	// No WriteTimeout: event streams stay open for the whole job.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s download_workers=%d", cfg.Port, cfg.DownloadWorkers)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := runtime.Close(shutdownCtx); err != nil {
		logger.Printf("pipeline shutdown failed: %v", err)
	}
}
