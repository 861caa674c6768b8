// Package main provides a standalone HTTP server for E2E testing.
// It runs the real routes and feeds against in-process mock providers, so
// browser tests can drive the dashboard without network access.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-pulse/config"
	"market-pulse/e2e/mocks"
	"market-pulse/internal/api"
	"market-pulse/internal/app"
	"market-pulse/observability"
)

func main() {
	// Initialize logger in development mode for tests
	observability.InitLogger(false)
	observability.InitMetrics()

	port := os.Getenv("E2E_SERVER_PORT")
	if port == "" {
		port = "9090"
	}

	mockServer := mocks.NewMockServer()
	defer mockServer.Close()
	observability.Info("mock providers listening", "url", mockServer.URL())

	cfg := config.NewTestConfig()
	cfg.HTTP.Port = port
	cfg.Crypto.MarketsBaseURL = mockServer.CoinGeckoURL()
	cfg.Crypto.TickerBaseURL = mockServer.TickerURL()
	cfg.Crypto.ListingsBaseURL = mockServer.ListingsURL()
	cfg.Crypto.ListingsAPIKey = mocks.ListingsAPIKey
	cfg.Weather.BaseURL = mockServer.OpenWeatherURL()
	cfg.Weather.APIKey = mocks.WeatherAPIKey
	cfg.News.BaseURL = mockServer.NewsDataURL()
	cfg.News.APIKey = mocks.NewsAPIKey
	if interval := os.Getenv("E2E_NOTIFICATION_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Notifications.Interval = d
		}
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

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		observability.Info("starting E2E test server", "port", port, "url", fmt.Sprintf("http://localhost:%s", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Fatal("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("shutting down E2E test server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	application.Shutdown(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Error("server forced to shutdown", "error", err)
	}

	observability.Info("E2E test server stopped")
}
