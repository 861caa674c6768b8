// Package mocks provides a fake server for every provider the dashboard
// talks to: markets, weather, news, listings and the live ticker stream.
package mocks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Provider path prefixes
const (
	PathCoinGecko   = "/coingecko"
	PathOpenWeather = "/openweather"
	PathNewsData    = "/newsdata"
	PathListings    = "/cmc"
	PathTicker      = "/ws"
)

// Keys accepted by the keyed providers
const (
	WeatherAPIKey  = "mock-weather-key"
	NewsAPIKey     = "mock-news-key"
	ListingsAPIKey = "mock-cmc-key"
)

// MockServer provides configurable responses for all external providers.
type MockServer struct {
	mu     sync.RWMutex
	server *httptest.Server

	markets  []CoinMarket
	weather  map[string]WeatherFixture
	articles []NewsArticle
	listings []Listing

	// Error injection: status codes returned instead of data
	marketsStatus int
	weatherStatus int
	newsStatus    int

	tickInterval time.Duration
	tickerConns  map[*websocket.Conn]string
	upgrader     websocket.Upgrader

	// Request tracking for assertions
	requestLog []RequestLog
}

// RequestLog records incoming requests for test assertions.
type RequestLog struct {
	Method string
	Path   string
	Query  string
}

// NewMockServer creates a new mock server with default responses.
func NewMockServer() *MockServer {
	m := &MockServer{
		weather:      make(map[string]WeatherFixture),
		tickInterval: 50 * time.Millisecond,
		tickerConns:  make(map[*websocket.Conn]string),
		requestLog:   make([]RequestLog, 0),
	}
	m.setDefaults()
	m.server = httptest.NewServer(m)
	return m
}

// URL returns the mock server's base URL.
func (m *MockServer) URL() string {
	return m.server.URL
}

// CoinGeckoURL returns the base URL of the fake markets API.
func (m *MockServer) CoinGeckoURL() string {
	return m.server.URL + PathCoinGecko
}

// OpenWeatherURL returns the base URL of the fake weather API.
func (m *MockServer) OpenWeatherURL() string {
	return m.server.URL + PathOpenWeather
}

// NewsDataURL returns the base URL of the fake news API.
func (m *MockServer) NewsDataURL() string {
	return m.server.URL + PathNewsData
}

// ListingsURL returns the base URL of the fake listings API.
func (m *MockServer) ListingsURL() string {
	return m.server.URL + PathListings
}

// TickerURL returns the base WebSocket URL of the fake ticker streams.
func (m *MockServer) TickerURL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + PathTicker
}

// Close shuts down the mock server and drops live ticker connections.
func (m *MockServer) Close() {
	m.DropTickerConnections()
	m.server.Close()
}

// ServeHTTP routes requests to the matching provider handler.
func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestLog = append(m.requestLog, RequestLog{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
	})
	m.mu.Unlock()

	path := r.URL.Path

	switch {
	case path == PathCoinGecko+"/coins/markets":
		m.handleMarkets(w, r)
	case strings.HasPrefix(path, PathCoinGecko+"/coins/"):
		m.handleCoinDetail(w, r, strings.TrimPrefix(path, PathCoinGecko+"/coins/"))
	case path == PathOpenWeather+"/weather":
		m.handleCurrentWeather(w, r)
	case path == PathOpenWeather+"/forecast":
		m.handleForecast(w, r)
	case path == PathNewsData+"/news":
		m.handleNews(w, r)
	case path == PathListings+"/cryptocurrency/listings/latest":
		m.handleListings(w, r)
	case strings.HasPrefix(path, PathTicker+"/"):
		m.handleTicker(w, r, strings.TrimPrefix(path, PathTicker+"/"))
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// GetRequestLog returns all logged requests for assertions.
func (m *MockServer) GetRequestLog() []RequestLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RequestLog{}, m.requestLog...)
}

// CountRequests returns how many requests hit path.
func (m *MockServer) CountRequests(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.requestLog {
		if r.Path == path {
			n++
		}
	}
	return n
}

// ClearRequestLog clears the request log.
func (m *MockServer) ClearRequestLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestLog = make([]RequestLog, 0)
}

// SetMarkets sets the markets listing.
func (m *MockServer) SetMarkets(markets []CoinMarket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets = markets
}

// SetMarketsStatus makes the markets API fail with status. Zero restores it.
func (m *MockServer) SetMarketsStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketsStatus = status
}

// SetWeather sets the conditions served for city.
func (m *MockServer) SetWeather(city string, fixture WeatherFixture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weather[strings.ToLower(city)] = fixture
}

// SetWeatherStatus makes the weather API fail with status. Zero restores it.
func (m *MockServer) SetWeatherStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weatherStatus = status
}

// SetNewsArticles sets the news results.
func (m *MockServer) SetNewsArticles(articles []NewsArticle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles = articles
}

// SetNewsStatus makes the news API fail with status. Zero restores it.
func (m *MockServer) SetNewsStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newsStatus = status
}

// SetTickInterval sets how often ticker streams push a price.
func (m *MockServer) SetTickInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickInterval = d
}

// TickerConnections returns the number of open ticker streams.
func (m *MockServer) TickerConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tickerConns)
}

// DropTickerConnections closes every ticker stream without a close frame,
// as a network failure would.
func (m *MockServer) DropTickerConnections() {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.tickerConns))
	for c := range m.tickerConns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (m *MockServer) setDefaults() {
	now := time.Now().UTC().Format(time.RFC3339)
	m.markets = []CoinMarket{
		{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: 64000.5, PriceChangePercentage24h: 2.41, MarketCap: 1260000000000, TotalVolume: 32000000000, LastUpdated: now},
		{ID: "ethereum", Symbol: "eth", Name: "Ethereum", CurrentPrice: 3100.25, PriceChangePercentage24h: -1.12, MarketCap: 372000000000, TotalVolume: 15000000000, LastUpdated: now},
		{ID: "solana", Symbol: "sol", Name: "Solana", CurrentPrice: 145.8, PriceChangePercentage24h: 4.9, MarketCap: 65000000000, TotalVolume: 2500000000, LastUpdated: now},
	}

	for _, city := range []string{"New York", "Los Angeles", "Chicago", "Miami", "Seattle"} {
		m.weather[strings.ToLower(city)] = WeatherFixture{
			Country:     "US",
			Temperature: 21.5,
			FeelsLike:   20.9,
			Humidity:    55,
			Pressure:    1015,
			WindSpeed:   4.2,
			WindDeg:     180,
			Condition:   "Clouds",
			Icon:        "03d",
			Pop:         0.2,
		}
	}

	m.articles = generateDefaultNewsArticles(8)

	m.listings = []Listing{
		{ID: 1, Name: "Bitcoin", Symbol: "BTC", Quote: map[string]ListingQuote{"USD": {Price: 64000.5, PercentChange24h: 2.41}}},
		{ID: 1027, Name: "Ethereum", Symbol: "ETH", Quote: map[string]ListingQuote{"USD": {Price: 3100.25, PercentChange24h: -1.12}}},
	}
}

func (m *MockServer) handleMarkets(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	status := m.marketsStatus
	markets := m.markets
	m.mu.RUnlock()

	if status != 0 {
		writeJSONStatus(w, status, map[string]string{"error": "markets unavailable"})
		return
	}

	limit := len(markets)
	if n := parsePositive(r.URL.Query().Get("per_page")); n > 0 && n < limit {
		limit = n
	}
	writeJSON(w, markets[:limit])
}

func (m *MockServer) handleCoinDetail(w http.ResponseWriter, r *http.Request, id string) {
	m.mu.RLock()
	markets := m.markets
	m.mu.RUnlock()

	for _, c := range markets {
		if c.ID != id {
			continue
		}
		writeJSON(w, map[string]interface{}{
			"id":           c.ID,
			"symbol":       c.Symbol,
			"name":         c.Name,
			"last_updated": c.LastUpdated,
			"market_data": map[string]interface{}{
				"current_price":               map[string]float64{"usd": c.CurrentPrice},
				"price_change_percentage_24h": c.PriceChangePercentage24h,
				"market_cap":                  map[string]float64{"usd": c.MarketCap},
				"total_volume":                map[string]float64{"usd": c.TotalVolume},
			},
		})
		return
	}
	writeJSONStatus(w, http.StatusNotFound, map[string]string{"error": "coin not found"})
}

// weatherFixture resolves the request's city and checks the key
func (m *MockServer) weatherFixture(w http.ResponseWriter, r *http.Request) (string, WeatherFixture, bool) {
	q := r.URL.Query()
	if q.Get("appid") != WeatherAPIKey {
		writeJSONStatus(w, http.StatusUnauthorized, map[string]interface{}{"cod": 401, "message": "Invalid API key"})
		return "", WeatherFixture{}, false
	}

	m.mu.RLock()
	status := m.weatherStatus
	fixture, ok := m.weather[strings.ToLower(q.Get("q"))]
	m.mu.RUnlock()

	if status != 0 {
		writeJSONStatus(w, status, map[string]interface{}{"cod": status, "message": "weather unavailable"})
		return "", WeatherFixture{}, false
	}
	if !ok {
		writeJSONStatus(w, http.StatusNotFound, map[string]interface{}{"cod": "404", "message": "city not found"})
		return "", WeatherFixture{}, false
	}
	return q.Get("q"), fixture, true
}

func (m *MockServer) handleCurrentWeather(w http.ResponseWriter, r *http.Request) {
	city, f, ok := m.weatherFixture(w, r)
	if !ok {
		return
	}

	writeJSON(w, map[string]interface{}{
		"name": city,
		"main": map[string]float64{
			"temp":       f.Temperature,
			"feels_like": f.FeelsLike,
			"temp_min":   f.Temperature - 3,
			"temp_max":   f.Temperature + 3,
			"pressure":   f.Pressure,
			"humidity":   f.Humidity,
		},
		"weather": []map[string]string{{"main": f.Condition, "description": strings.ToLower(f.Condition), "icon": f.Icon}},
		"wind":    map[string]float64{"speed": f.WindSpeed, "deg": f.WindDeg},
		"sys":     map[string]string{"country": f.Country},
	})
}

func (m *MockServer) handleForecast(w http.ResponseWriter, r *http.Request) {
	_, f, ok := m.weatherFixture(w, r)
	if !ok {
		return
	}

	// 40 three-hour steps, five days
	start := time.Now().UTC().Truncate(3 * time.Hour)
	list := make([]map[string]interface{}, 0, 40)
	for i := 0; i < 40; i++ {
		list = append(list, map[string]interface{}{
			"dt": start.Add(time.Duration(i) * 3 * time.Hour).Unix(),
			"main": map[string]float64{
				"temp":     f.Temperature + float64(i%8) - 4,
				"temp_min": f.Temperature - 5,
				"temp_max": f.Temperature + 5,
			},
			"weather": []map[string]string{{"main": f.Condition, "description": strings.ToLower(f.Condition), "icon": f.Icon}},
			"pop":     f.Pop,
		})
	}

	writeJSON(w, map[string]interface{}{
		"list": list,
		"city": map[string]interface{}{"timezone": -14400},
	})
}

func (m *MockServer) handleNews(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("apikey") != NewsAPIKey {
		writeJSONStatus(w, http.StatusUnauthorized, map[string]interface{}{
			"status":  "error",
			"results": map[string]string{"message": "API key invalid"},
		})
		return
	}

	m.mu.RLock()
	status := m.newsStatus
	articles := m.articles
	m.mu.RUnlock()

	if status != 0 {
		writeJSONStatus(w, status, map[string]string{"status": "error", "message": "news unavailable"})
		return
	}

	writeJSON(w, map[string]interface{}{
		"status":       "success",
		"totalResults": len(articles),
		"results":      articles,
	})
}

func (m *MockServer) handleListings(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-CMC_PRO_API_KEY") != ListingsAPIKey {
		writeJSONStatus(w, http.StatusUnauthorized, map[string]interface{}{
			"status": map[string]interface{}{"error_code": 1002, "error_message": "API key missing."},
		})
		return
	}

	m.mu.RLock()
	listings := m.listings
	m.mu.RUnlock()

	limit := len(listings)
	if n := parsePositive(r.URL.Query().Get("limit")); n > 0 && n < limit {
		limit = n
	}
	writeJSON(w, map[string]interface{}{
		"status": map[string]interface{}{"error_code": 0},
		"data":   listings[:limit],
	})
}

// handleTicker streams {"c": price} messages for a "<symbol>usdt@ticker" stream
func (m *MockServer) handleTicker(w http.ResponseWriter, r *http.Request, stream string) {
	symbol, ok := strings.CutSuffix(stream, "usdt@ticker")
	if !ok || symbol == "" {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.tickerConns[conn] = symbol
	interval := m.tickInterval
	base := 100.0
	for _, c := range m.markets {
		if c.Symbol == symbol {
			base = c.CurrentPrice
		}
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.tickerConns, conn)
		m.mu.Unlock()
		conn.Close()
	}()

	// Reader detects client close frames
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; ; i++ {
		select {
		case <-closed:
			return
		case <-ticker.C:
			price := fmt.Sprintf("%.2f", base+float64(i%10)*0.5)
			if err := conn.WriteJSON(map[string]string{"e": "24hrTicker", "s": strings.ToUpper(symbol) + "USDT", "c": price}); err != nil {
				return
			}
		}
	}
}

func generateDefaultNewsArticles(count int) []NewsArticle {
	topics := []string{"Bitcoin", "Ethereum", "Solana", "DeFi", "Stablecoins"}
	articles := make([]NewsArticle, 0, count)
	base := time.Now().UTC()
	for i := 0; i < count; i++ {
		topic := topics[i%len(topics)]
		articles = append(articles, NewsArticle{
			ArticleID:   fmt.Sprintf("mock-%d", i+1),
			Title:       fmt.Sprintf("%s market update #%d", topic, i+1),
			Description: fmt.Sprintf("Latest developments around %s.", topic),
			SourceID:    "mockwire",
			PubDate:     base.Add(-time.Duration(i) * time.Hour).Format("2006-01-02 15:04:05"),
			Link:        fmt.Sprintf("https://news.example.com/%d", i+1),
			Category:    []string{"business"},
		})
	}
	return articles
}

func parsePositive(raw string) int {
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n < 1 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
