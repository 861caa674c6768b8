// Package main runs the market-pulse dashboard backend.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-pulse/config"
	"market-pulse/internal/api"
	"market-pulse/internal/app"
	"market-pulse/observability"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	observability.InitLoggerWithLevel(cfg.Log.Production, observability.ParseLevel(cfg.Log.Level))
	observability.InitMetrics()

	if !cfg.HasWeather() {
		observability.Warn("WEATHER_API_KEY not set, weather panels unavailable")
	}
	if !cfg.HasNews() {
		observability.Warn("NEWS_API_KEY not set, news panel unavailable")
	}
	if !cfg.HasMarketListings() {
		observability.Warn("CRYPTO_API_KEY not set, listings proxy unavailable")
	}

	svc, err := app.NewServices(cfg)
	if err != nil {
		observability.Fatal("failed to build services", "error", err)
	}

	application, err := app.New(cfg, svc)
	if err != nil {
		observability.Fatal("failed to create app", "error", err)
	}
	if err := application.Start(); err != nil {
		observability.Fatal("failed to start app", "error", err)
	}

	handler := api.NewHandler(application, cfg)
	router := api.NewRouter(handler, cfg)

	// No WriteTimeout: /api/stream connections are long lived
	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		observability.Info("starting server", "port", cfg.HTTP.Port, "url", fmt.Sprintf("http://localhost:%s", cfg.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Fatal("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop the hub first so hijacked stream connections don't hold up Shutdown
	application.Shutdown(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Error("server forced to shutdown", "error", err)
	}

	observability.Info("server stopped")
}
