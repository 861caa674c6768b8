package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Provider configurations
	Crypto  CryptoConfig
	Weather WeatherConfig
	News    NewsConfig

	// Outbound HTTP configuration
	Fetch FetchConfig

	// Refresh cadence for each feed
	Refresh RefreshConfig

	// Notification synthesizer configuration
	Notifications NotificationConfig

	// HTTP server configuration
	HTTP HTTPConfig

	// Logging configuration
	Log LogConfig
}

// CryptoConfig holds market data provider configuration
type CryptoConfig struct {
	MarketsBaseURL    string        // CoinGecko REST API
	TickerBaseURL     string        // Binance WebSocket streams
	ListingsAPIKey    string        // CoinMarketCap key for the /api/crypto proxy
	ListingsBaseURL   string        // CoinMarketCap REST API
	ListingsCacheTTL  time.Duration // proxy cache lifetime
	PanelLimit        int           // assets tracked by the dashboard panel
	ReconnectBackoff  time.Duration // delay before a failed live connection is reopened
	SimulationEnabled bool          // synthesize short price histories
}

// WeatherConfig holds OpenWeather configuration
type WeatherConfig struct {
	APIKey        string
	BaseURL       string
	Cities        []string // dashboard panel locations
	DetailCities  []string // weather detail page locations
	DefaultCities []string // used by /api/weather when no cities are given
}

// NewsConfig holds NewsData configuration
type NewsConfig struct {
	APIKey     string
	BaseURL    string
	PanelLimit int
}

// FetchConfig holds outbound HTTP configuration
type FetchConfig struct {
	PublicBaseURL string        // origin used to resolve relative paths
	Timeout       time.Duration // default per-request timeout
}

// RefreshConfig holds per-feed polling intervals
type RefreshConfig struct {
	CryptoInterval        time.Duration
	WeatherInterval       time.Duration
	WeatherDetailInterval time.Duration
	NewsInterval          time.Duration
}

// NotificationConfig holds notification synthesizer configuration
type NotificationConfig struct {
	Interval      time.Duration
	CryptoWeight  float64 // probability of an asset alert per tick
	WeatherWeight float64 // probability of a condition alert per tick
	QueueCapacity int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port               string
	CORSAllowedOrigins string
	RequestTimeout     time.Duration
}

// LogConfig holds logger configuration
type LogConfig struct {
	Production bool
	Level      string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Crypto: CryptoConfig{
			MarketsBaseURL:    getEnvString("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			TickerBaseURL:     getEnvString("BINANCE_WS_URL", "wss://stream.binance.com:9443/ws"),
			ListingsAPIKey:    os.Getenv("CRYPTO_API_KEY"),
			ListingsBaseURL:   getEnvString("CMC_BASE_URL", "https://pro-api.coinmarketcap.com/v1"),
			ListingsCacheTTL:  getEnvDuration("CRYPTO_LISTINGS_CACHE_TTL", 5*time.Minute),
			PanelLimit:        getEnvInt("CRYPTO_PANEL_LIMIT", 10),
			ReconnectBackoff:  getEnvDuration("RECONNECT_BACKOFF", 5*time.Second),
			SimulationEnabled: getEnvBool("CRYPTO_SIMULATED_HISTORY", true),
		},
		Weather: WeatherConfig{
			APIKey:        os.Getenv("WEATHER_API_KEY"),
			BaseURL:       getEnvString("WEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5"),
			Cities:        getEnvList("WEATHER_CITIES", []string{"New York", "Los Angeles", "Chicago"}),
			DetailCities:  getEnvList("WEATHER_DETAIL_CITIES", []string{"New York", "Los Angeles", "Chicago", "Miami", "Seattle"}),
			DefaultCities: []string{"New York", "Los Angeles", "Chicago"},
		},
		News: NewsConfig{
			APIKey:     os.Getenv("NEWS_API_KEY"),
			BaseURL:    getEnvString("NEWS_BASE_URL", "https://newsdata.io/api/1"),
			PanelLimit: getEnvInt("NEWS_PANEL_LIMIT", 6),
		},
		Fetch: FetchConfig{
			PublicBaseURL: getEnvString("PUBLIC_BASE_URL", "http://localhost:8080"),
			Timeout:       getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		},
		Refresh: RefreshConfig{
			CryptoInterval:        getEnvDuration("CRYPTO_REFRESH_INTERVAL", 5*time.Minute),
			WeatherInterval:       getEnvDuration("WEATHER_REFRESH_INTERVAL", 15*time.Minute),
			WeatherDetailInterval: getEnvDuration("WEATHER_DETAIL_REFRESH_INTERVAL", 2*time.Minute),
			NewsInterval:          getEnvDuration("NEWS_REFRESH_INTERVAL", 30*time.Minute),
		},
		Notifications: NotificationConfig{
			Interval:      getEnvDuration("NOTIFICATION_INTERVAL", time.Minute),
			CryptoWeight:  getEnvFloat("NOTIFICATION_CRYPTO_WEIGHT", 0.3),
			WeatherWeight: getEnvFloat("NOTIFICATION_WEATHER_WEIGHT", 0.3),
			QueueCapacity: getEnvInt("NOTIFICATION_QUEUE_CAPACITY", 100),
		},
		HTTP: HTTPConfig{
			Port:               getEnvString("PORT", "8080"),
			CORSAllowedOrigins: getEnvString("CORS_ALLOWED_ORIGINS", "*"),
			RequestTimeout:     getEnvDuration("HTTP_REQUEST_TIMEOUT", 60*time.Second),
		},
		Log: LogConfig{
			Production: getEnvBool("PRODUCTION", false),
			Level:      getEnvString("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	weightSum := c.Notifications.CryptoWeight + c.Notifications.WeatherWeight
	if weightSum > 1.0 {
		return fmt.Errorf("notification weights must not exceed 1.0, got %.2f (crypto=%.2f, weather=%.2f)",
			weightSum, c.Notifications.CryptoWeight, c.Notifications.WeatherWeight)
	}

	intervals := map[string]time.Duration{
		"CRYPTO_REFRESH_INTERVAL":         c.Refresh.CryptoInterval,
		"WEATHER_REFRESH_INTERVAL":        c.Refresh.WeatherInterval,
		"WEATHER_DETAIL_REFRESH_INTERVAL": c.Refresh.WeatherDetailInterval,
		"NEWS_REFRESH_INTERVAL":           c.Refresh.NewsInterval,
		"NOTIFICATION_INTERVAL":           c.Notifications.Interval,
		"RECONNECT_BACKOFF":               c.Crypto.ReconnectBackoff,
		"FETCH_TIMEOUT":                   c.Fetch.Timeout,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.Crypto.PanelLimit <= 0 {
		return fmt.Errorf("CRYPTO_PANEL_LIMIT must be positive, got %d", c.Crypto.PanelLimit)
	}
	if c.Notifications.QueueCapacity <= 0 {
		return fmt.Errorf("NOTIFICATION_QUEUE_CAPACITY must be positive, got %d", c.Notifications.QueueCapacity)
	}

	return nil
}

// HasWeather returns true if OpenWeather configuration is available
func (c *Config) HasWeather() bool {
	return c.Weather.APIKey != ""
}

// HasNews returns true if NewsData configuration is available
func (c *Config) HasNews() bool {
	return c.News.APIKey != ""
}

// HasMarketListings returns true if CoinMarketCap configuration is available
func (c *Config) HasMarketListings() bool {
	return c.Crypto.ListingsAPIKey != ""
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil && parsed >= 0 && parsed <= 1 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

// NewTestConfig creates a Config with default values for testing
func NewTestConfig() *Config {
	return &Config{
		Crypto: CryptoConfig{
			MarketsBaseURL:    "https://api.coingecko.com/api/v3",
			TickerBaseURL:     "wss://stream.binance.com:9443/ws",
			ListingsAPIKey:    "",
			ListingsBaseURL:   "https://pro-api.coinmarketcap.com/v1",
			ListingsCacheTTL:  5 * time.Minute,
			PanelLimit:        10,
			ReconnectBackoff:  5 * time.Second,
			SimulationEnabled: true,
		},
		Weather: WeatherConfig{
			APIKey:        "",
			BaseURL:       "https://api.openweathermap.org/data/2.5",
			Cities:        []string{"New York", "Los Angeles", "Chicago"},
			DetailCities:  []string{"New York", "Los Angeles", "Chicago", "Miami", "Seattle"},
			DefaultCities: []string{"New York", "Los Angeles", "Chicago"},
		},
		News: NewsConfig{
			APIKey:     "",
			BaseURL:    "https://newsdata.io/api/1",
			PanelLimit: 6,
		},
		Fetch: FetchConfig{
			PublicBaseURL: "http://localhost:8080",
			Timeout:       10 * time.Second,
		},
		Refresh: RefreshConfig{
			CryptoInterval:        5 * time.Minute,
			WeatherInterval:       15 * time.Minute,
			WeatherDetailInterval: 2 * time.Minute,
			NewsInterval:          30 * time.Minute,
		},
		Notifications: NotificationConfig{
			Interval:      time.Minute,
			CryptoWeight:  0.3,
			WeatherWeight: 0.3,
			QueueCapacity: 100,
		},
		HTTP: HTTPConfig{
			Port:               "8080",
			CORSAllowedOrigins: "*",
			RequestTimeout:     60 * time.Second,
		},
		Log: LogConfig{
			Production: false,
			Level:      "info",
		},
	}
}
