// Package e2e provides end-to-end testing infrastructure for market-pulse.
package e2e

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"market-pulse/config"
	"market-pulse/e2e/mocks"
	"market-pulse/internal/api"
	"market-pulse/internal/app"
)

// TestHarness runs the full application against the mock providers.
type TestHarness struct {
	t          *testing.T
	ctx        context.Context
	cancel     context.CancelFunc
	mockServer *mocks.MockServer
	app        *app.App
	router     http.Handler
	server     *httptest.Server
	config     *config.Config
}

// NewTestHarness creates a new test harness.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	return &TestHarness{
		t:      t,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Setup starts the mock providers and builds the application. Feeds are not
// refreshed until Start.
func (h *TestHarness) Setup() error {
	h.mockServer = mocks.NewMockServer()
	h.config = TestConfig(h.mockServer)

	svc, err := app.NewServices(h.config)
	if err != nil {
		return fmt.Errorf("failed to build services: %w", err)
	}

	h.app, err = app.New(h.config, svc)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	handler := api.NewHandler(h.app, h.config)
	h.router = api.NewRouter(handler, h.config)
	h.server = httptest.NewServer(h.router)

	return nil
}

// Start begins the refresh schedule.
func (h *TestHarness) Start() error {
	return h.app.Start()
}

// Teardown cleans up all test resources.
func (h *TestHarness) Teardown() {
	if h.cancel != nil {
		h.cancel()
	}

	if h.app != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		h.app.Shutdown(shutdownCtx)
		cancel()
	}

	if h.server != nil {
		h.server.Close()
	}

	if h.mockServer != nil {
		h.mockServer.Close()
	}
}

// Context returns the test context.
func (h *TestHarness) Context() context.Context {
	return h.ctx
}

// MockServer returns the mock server for configuring responses.
func (h *TestHarness) MockServer() *mocks.MockServer {
	return h.mockServer
}

// App returns the application instance.
func (h *TestHarness) App() *app.App {
	return h.app
}

// Router returns the HTTP router for making requests.
func (h *TestHarness) Router() http.Handler {
	return h.router
}

// StreamURL returns the WebSocket address of the event stream.
func (h *TestHarness) StreamURL() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/stream"
}

// Config returns the test configuration.
func (h *TestHarness) Config() *config.Config {
	return h.config
}

// DoRequest performs an HTTP request and returns the response.
func (h *TestHarness) DoRequest(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// Eventually polls cond until it holds or the timeout expires.
func (h *TestHarness) Eventually(timeout time.Duration, cond func() bool, msg string) {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	h.t.Fatalf("timed out: %s", msg)
}

// TestConfig returns a configuration pointing every provider at the mock
// server, with short intervals.
func TestConfig(m *mocks.MockServer) *config.Config {
	cfg := config.NewTestConfig()

	cfg.Crypto.MarketsBaseURL = m.CoinGeckoURL()
	cfg.Crypto.TickerBaseURL = m.TickerURL()
	cfg.Crypto.ListingsBaseURL = m.ListingsURL()
	cfg.Crypto.ListingsAPIKey = mocks.ListingsAPIKey
	cfg.Crypto.ReconnectBackoff = 100 * time.Millisecond
	cfg.Weather.BaseURL = m.OpenWeatherURL()
	cfg.Weather.APIKey = mocks.WeatherAPIKey
	cfg.News.BaseURL = m.NewsDataURL()
	cfg.News.APIKey = mocks.NewsAPIKey

	cfg.Fetch.Timeout = 2 * time.Second
	cfg.Notifications.Interval = time.Hour
	cfg.Notifications.CryptoWeight = 0.5
	cfg.Notifications.WeatherWeight = 0.5

	return cfg
}
