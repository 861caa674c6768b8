package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"market-pulse/config"
	"market-pulse/internal/app"
	"market-pulse/internal/stream"
	"market-pulse/models"
	"market-pulse/services"
)

type stubCrypto struct {
	assets []models.AssetSnapshot
	err    error
}

func (s *stubCrypto) ListAssets(ctx context.Context, limit int) ([]models.AssetSnapshot, error) {
	return s.assets, s.err
}

func (s *stubCrypto) AssetDetails(ctx context.Context, id string) (models.AssetSnapshot, error) {
	if s.err != nil {
		return models.AssetSnapshot{}, s.err
	}
	for _, a := range s.assets {
		if a.ID == id {
			return a, nil
		}
	}
	return models.AssetSnapshot{}, &services.FetchError{Feed: "crypto", Op: "asset details",
		Err: &services.UpstreamError{Status: http.StatusNotFound, StatusText: "Not Found"}}
}

func (s *stubCrypto) ApplyTick(symbol string, price decimal.Decimal) {}
func (s *stubCrypto) Snapshots() []models.AssetSnapshot             { return s.assets }
func (s *stubCrypto) RegisterObserver(o services.PriceObserver)     {}

type stubWeather struct {
	mu     sync.Mutex
	cities []string
	err    error
}

func (s *stubWeather) GetWeather(ctx context.Context, city string) (*models.LocationWeather, error) {
	return &models.LocationWeather{City: city}, s.err
}

func (s *stubWeather) GetMultiLocationWeather(ctx context.Context, cities []string) ([]models.LocationWeather, error) {
	s.mu.Lock()
	s.cities = cities
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.LocationWeather, 0, len(cities))
	for _, c := range cities {
		out = append(out, models.LocationWeather{City: c})
	}
	return out, nil
}

type stubNews struct {
	query services.NewsQuery
	err   error
}

func (s *stubNews) GetNews(ctx context.Context, limit int, category string) ([]models.NewsArticle, error) {
	return nil, s.err
}

func (s *stubNews) Search(ctx context.Context, q services.NewsQuery) (json.RawMessage, error) {
	s.query = q
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(`{"status":"success","results":[{"title":"Bitcoin rallies"}]}`), nil
}

type stubListings struct {
	limit   int
	convert string
}

func (s *stubListings) Listings(ctx context.Context, limit int, convert string) (json.RawMessage, error) {
	s.limit, s.convert = limit, convert
	return json.RawMessage(`{"data":[{"symbol":"BTC"}]}`), nil
}

// testConfig returns a test configuration with every provider key set
func testConfig() *config.Config {
	cfg := config.NewTestConfig()
	cfg.Weather.APIKey = "weather-key"
	cfg.News.APIKey = "news-key"
	cfg.Crypto.ListingsAPIKey = "cmc-key"
	cfg.Notifications.CryptoWeight = 0
	cfg.Notifications.WeatherWeight = 0
	return cfg
}

func testAssets() []models.AssetSnapshot {
	return []models.AssetSnapshot{
		{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Price: decimal.NewFromInt(64000), Change24h: 2.5},
	}
}

// testApp creates an App backed by stubs
func testApp(t *testing.T, cfg *config.Config, svc *app.Services) *app.App {
	t.Helper()
	a, err := app.New(cfg, svc)
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a
}

// testRouter creates a Chi router for the given app
func testRouter(a *app.App) http.Handler {
	return NewRouter(NewHandler(a, a.Config()), a.Config())
}

func defaultServices() *app.Services {
	return &app.Services{
		Breakers: services.NewCircuitBreakerRegistry(services.DefaultCircuitBreakerConfig),
		Crypto:   &stubCrypto{assets: testAssets()},
		Weather:  &stubWeather{},
		News:     &stubNews{},
		Listings: &stubListings{},
	}
}

func doRequest(router http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHandler_Health(t *testing.T) {
	a := testApp(t, testConfig(), defaultServices())
	w := doRequest(testRouter(a), http.MethodGet, "/api/health")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	decodeBody(t, w, &response)
	if response["status"] != "ok" {
		t.Errorf("expected status ok, got %v", response["status"])
	}
	if _, ok := response["circuit_breakers"]; !ok {
		t.Error("expected circuit_breakers in response")
	}
	providers, ok := response["providers"].(map[string]interface{})
	if !ok || providers["weather"] != true {
		t.Errorf("expected weather provider configured, got %v", response["providers"])
	}
}

func TestHandler_MissingKeys(t *testing.T) {
	cfg := config.NewTestConfig()
	a := testApp(t, cfg, defaultServices())
	router := testRouter(a)

	tests := []struct {
		path    string
		wantErr string
	}{
		{"/api/crypto", "Crypto API key is not configured"},
		{"/api/news", "News API key is not configured"},
		{"/api/weather", "Weather API key is not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, tt.path)
			if w.Code != http.StatusInternalServerError {
				t.Fatalf("expected status 500, got %d", w.Code)
			}

			var body ErrorResponse
			decodeBody(t, w, &body)
			if body.Error != tt.wantErr {
				t.Errorf("expected error %q, got %q", tt.wantErr, body.Error)
			}
			if body.Message != "Please check your environment variables" {
				t.Errorf("unexpected message %q", body.Message)
			}
		})
	}
}

func TestHandler_CryptoListings(t *testing.T) {
	svc := defaultServices()
	listings := svc.Listings.(*stubListings)
	a := testApp(t, testConfig(), svc)

	w := doRequest(testRouter(a), http.MethodGet, "/api/crypto?limit=25&convert=eur")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if listings.limit != 25 || listings.convert != "eur" {
		t.Errorf("expected limit 25 convert eur, got %d %s", listings.limit, listings.convert)
	}
	if !strings.Contains(w.Body.String(), `"symbol":"BTC"`) {
		t.Errorf("expected provider body, got %s", w.Body.String())
	}

	doRequest(testRouter(a), http.MethodGet, "/api/crypto?limit=abc")
	if listings.limit != services.DefaultListingsLimit {
		t.Errorf("expected default limit for invalid value, got %d", listings.limit)
	}
}

func TestHandler_NewsSearch(t *testing.T) {
	svc := defaultServices()
	news := svc.News.(*stubNews)
	a := testApp(t, testConfig(), svc)

	w := doRequest(testRouter(a), http.MethodGet, "/api/news?category=technology&q=bitcoin&language=de")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if news.query.Category != "technology" || news.query.Query != "bitcoin" || news.query.Language != "de" {
		t.Errorf("unexpected forwarded query %+v", news.query)
	}
}

func TestHandler_NewsSearchFailure(t *testing.T) {
	svc := defaultServices()
	svc.News = &stubNews{err: &services.FetchError{Feed: "news", Op: "search", Err: services.ErrNoData}}
	a := testApp(t, testConfig(), svc)

	w := doRequest(testRouter(a), http.MethodGet, "/api/news")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}

	var body ErrorResponse
	decodeBody(t, w, &body)
	if body.Error != "Failed to fetch news data" {
		t.Errorf("unexpected error %q", body.Error)
	}
	if !strings.Contains(body.Message, services.ErrNoData.Error()) {
		t.Errorf("expected cause in message, got %q", body.Message)
	}
}

func TestHandler_Weather(t *testing.T) {
	t.Run("default cities", func(t *testing.T) {
		svc := defaultServices()
		weather := svc.Weather.(*stubWeather)
		a := testApp(t, testConfig(), svc)

		w := doRequest(testRouter(a), http.MethodGet, "/api/weather")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		if len(weather.cities) != 3 || weather.cities[0] != "New York" {
			t.Errorf("expected default cities, got %v", weather.cities)
		}
	})

	t.Run("requested cities", func(t *testing.T) {
		svc := defaultServices()
		weather := svc.Weather.(*stubWeather)
		a := testApp(t, testConfig(), svc)

		w := doRequest(testRouter(a), http.MethodGet, "/api/weather?cities=Paris,%20Berlin")
		var got []models.LocationWeather
		decodeBody(t, w, &got)
		if len(got) != 2 || got[1].City != "Berlin" {
			t.Errorf("expected [Paris Berlin], got %v", weather.cities)
		}
	})

	t.Run("upstream failure", func(t *testing.T) {
		svc := defaultServices()
		svc.Weather = &stubWeather{err: errors.New("failed to fetch weather data for multiple cities: boom")}
		a := testApp(t, testConfig(), svc)

		w := doRequest(testRouter(a), http.MethodGet, "/api/weather")
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d", w.Code)
		}
		var body ErrorResponse
		decodeBody(t, w, &body)
		if body.Error != "Failed to fetch weather data" {
			t.Errorf("unexpected error %q", body.Error)
		}
	})
}

func TestHandler_DashboardPanels(t *testing.T) {
	a := testApp(t, testConfig(), defaultServices())
	router := testRouter(a)

	w := doRequest(router, http.MethodGet, "/api/dashboard/crypto")
	var before map[string]interface{}
	decodeBody(t, w, &before)
	if before["loading"] != true {
		t.Errorf("expected loading before first refresh, got %v", before)
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(a.CryptoState().Data) == 1 && len(a.WeatherState().Data) == 3 })

	for _, panel := range []string{"crypto", "weather", "weather-detail", "news"} {
		t.Run(panel, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, "/api/dashboard/"+panel)
			if w.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", w.Code)
			}
		})
	}

	w = doRequest(router, http.MethodGet, "/api/dashboard/crypto")
	var state struct {
		Data []models.AssetSnapshot `json:"data"`
	}
	decodeBody(t, w, &state)
	if len(state.Data) != 1 || state.Data[0].Symbol != "BTC" {
		t.Errorf("expected BTC snapshot, got %+v", state.Data)
	}
}

func TestHandler_Refresh(t *testing.T) {
	a := testApp(t, testConfig(), defaultServices())
	router := testRouter(a)
	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	w := doRequest(router, http.MethodPost, "/api/dashboard/crypto/refresh")
	if w.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/api/dashboard/unknown/refresh")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestHandler_AssetDetails(t *testing.T) {
	a := testApp(t, testConfig(), defaultServices())
	router := testRouter(a)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"known asset", "/api/assets/bitcoin", http.StatusOK},
		{"unknown asset", "/api/assets/not-a-coin", http.StatusNotFound},
		{"invalid id", "/api/assets/BTC!", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, tt.path)
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestHandler_ValidateAssetID(t *testing.T) {
	handler := NewHandler(nil, testConfig())

	tests := []struct {
		id        string
		wantError bool
	}{
		{"bitcoin", false},
		{"usd-coin", false},
		{"", true},
		{"Bitcoin", true},
		{"bit coin", true},
		{strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		err := handler.ValidateAssetID(tt.id)
		if (err != nil) != tt.wantError {
			t.Errorf("ValidateAssetID(%q) error = %v, wantError %v", tt.id, err, tt.wantError)
		}
	}
}

func TestHandler_Notifications(t *testing.T) {
	cfg := testConfig()
	cfg.Notifications.CryptoWeight = 1
	a := testApp(t, cfg, defaultServices())
	router := testRouter(a)

	ev := a.Notify(context.Background())
	if ev == nil {
		t.Fatal("expected a notification")
	}

	w := doRequest(router, http.MethodGet, "/api/notifications?category=crypto")
	var list struct {
		Notifications []models.NotificationEvent `json:"notifications"`
		Unread        int                        `json:"unread"`
	}
	decodeBody(t, w, &list)
	if len(list.Notifications) != 1 || list.Unread != 1 {
		t.Fatalf("expected 1 unread notification, got %+v", list)
	}

	w = doRequest(router, http.MethodGet, "/api/notifications?category=weather")
	decodeBody(t, w, &list)
	if len(list.Notifications) != 0 {
		t.Errorf("expected no weather notifications, got %d", len(list.Notifications))
	}

	w = doRequest(router, http.MethodGet, "/api/notifications?category=sports")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for unknown category, got %d", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/api/notifications/"+ev.ID.String()+"/read")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if a.UnreadCount() != 0 {
		t.Errorf("expected 0 unread, got %d", a.UnreadCount())
	}

	w = doRequest(router, http.MethodPost, "/api/notifications/550e8400-e29b-41d4-a716-446655440000/read")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/api/notifications/invalid-uuid/read")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	a.Notify(context.Background())
	a.Notify(context.Background())
	w = doRequest(router, http.MethodPost, "/api/notifications/read-all")
	var result map[string]interface{}
	decodeBody(t, w, &result)
	if result["marked"] != float64(2) || result["unread"] != float64(0) {
		t.Errorf("expected 2 marked and 0 unread, got %v", result)
	}
}

func TestHandler_Stream(t *testing.T) {
	a := testApp(t, testConfig(), defaultServices())
	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	srv := httptest.NewServer(testRouter(a))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	waitFor(t, time.Second, func() bool { return a.Hub().ClientCount() == 1 })

	a.MarkAllNotificationsRead()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev stream.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ev.Type != stream.EventToast || ev.Toast.Title != "All notifications marked as read" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestCORSMiddleware(t *testing.T) {
	a := testApp(t, testConfig(), defaultServices())
	router := testRouter(a)

	w := doRequest(router, http.MethodOptions, "/api/health")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 for preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected allow-origin *, got %q", got)
	}
}

func TestRouter_Metrics(t *testing.T) {
	a := testApp(t, testConfig(), defaultServices())
	w := doRequest(testRouter(a), http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}
