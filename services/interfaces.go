package services

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"market-pulse/models"
)

// CryptoFeedInterface defines the interface for crypto market data operations
type CryptoFeedInterface interface {
	ListAssets(ctx context.Context, limit int) ([]models.AssetSnapshot, error)
	AssetDetails(ctx context.Context, id string) (models.AssetSnapshot, error)
	ApplyTick(symbol string, price decimal.Decimal)
	Snapshots() []models.AssetSnapshot
	RegisterObserver(o PriceObserver)
}

// WeatherServiceInterface defines the interface for weather data operations
type WeatherServiceInterface interface {
	GetWeather(ctx context.Context, city string) (*models.LocationWeather, error)
	GetMultiLocationWeather(ctx context.Context, cities []string) ([]models.LocationWeather, error)
}

// NewsServiceInterface defines the interface for news data operations
type NewsServiceInterface interface {
	GetNews(ctx context.Context, limit int, category string) ([]models.NewsArticle, error)
	Search(ctx context.Context, q NewsQuery) (json.RawMessage, error)
}

// ListingsServiceInterface defines the interface for the market listings proxy
type ListingsServiceInterface interface {
	Listings(ctx context.Context, limit int, convert string) (json.RawMessage, error)
}

// LiveTickerInterface defines the interface for live price connections
type LiveTickerInterface interface {
	LiveTracker
	States() map[string]models.ConnectionState
	TeardownAll()
}

// Compile-time interface verification
var _ CryptoFeedInterface = (*CryptoFeed)(nil)
var _ WeatherServiceInterface = (*WeatherService)(nil)
var _ NewsServiceInterface = (*NewsService)(nil)
var _ ListingsServiceInterface = (*CoinMarketCapService)(nil)
var _ LiveTickerInterface = (*LiveTicker)(nil)
