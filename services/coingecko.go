package services

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market-pulse/models"
	"market-pulse/observability"
)

// PriceObserver is notified after a live tick has been applied to a snapshot
type PriceObserver interface {
	OnPrice(asset models.AssetSnapshot)
}

// CryptoFeed tracks crypto assets: a REST baseline from CoinGecko merged with
// the latest price from the live ticker.
type CryptoFeed struct {
	gateway  *Gateway
	baseURL  string
	simulate bool
	random   func() float64
	now      func() time.Time

	mu        sync.RWMutex
	order     []string                         // provider ids in rank order
	assets    map[string]*models.AssetSnapshot // by provider id
	bySymbol  map[string]string                // symbol to the highest ranked id
	ticker    LiveTracker
	observers []PriceObserver
}

// NewCryptoFeed creates a new CryptoFeed instance
func NewCryptoFeed(gateway *Gateway, baseURL string, simulateHistory bool) *CryptoFeed {
	return &CryptoFeed{
		gateway:  gateway,
		baseURL:  strings.TrimRight(baseURL, "/"),
		simulate: simulateHistory,
		random:   rand.Float64,
		now:      time.Now,
		assets:   make(map[string]*models.AssetSnapshot),
		bySymbol: make(map[string]string),
	}
}

// UseTicker attaches the live ticker that tracked symbols are subscribed on
func (f *CryptoFeed) UseTicker(ticker LiveTracker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticker = ticker
}

// SetRandom replaces the source used for simulated price histories
func (f *CryptoFeed) SetRandom(random func() float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.random = random
}

// RegisterObserver adds an observer for applied live prices
func (f *CryptoFeed) RegisterObserver(o PriceObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, o)
}

// coinMarket is one entry of the /coins/markets response
type coinMarket struct {
	ID                       string           `json:"id"`
	Symbol                   string           `json:"symbol"`
	Name                     string           `json:"name"`
	CurrentPrice             *decimal.Decimal `json:"current_price"`
	PriceChangePercentage24h *float64         `json:"price_change_percentage_24h"`
	MarketCap                decimal.Decimal  `json:"market_cap"`
	TotalVolume              decimal.Decimal  `json:"total_volume"`
	LastUpdated              string           `json:"last_updated"`
}

// coinDetail is the subset of /coins/{id} used for asset details
type coinDetail struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	LastUpdated string `json:"last_updated"`
	MarketData  *struct {
		CurrentPrice             map[string]decimal.Decimal `json:"current_price"`
		PriceChangePercentage24h *float64                   `json:"price_change_percentage_24h"`
		MarketCap                map[string]decimal.Decimal `json:"market_cap"`
		TotalVolume              map[string]decimal.Decimal `json:"total_volume"`
	} `json:"market_data"`
}

// ListAssets fetches the top assets by market cap and makes them the tracked set
func (f *CryptoFeed) ListAssets(ctx context.Context, limit int) ([]models.AssetSnapshot, error) {
	if limit < 1 {
		return nil, &FetchError{Feed: "crypto", Op: "list assets", Err: ErrInvalidLimit}
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(limit))
	params.Set("page", "1")
	params.Set("sparkline", "false")

	resp, err := f.gateway.Fetch(ctx, f.baseURL+"/coins/markets", FetchOptions{
		Query:     params,
		Service:   BreakerCoinGecko,
		Operation: "markets",
	})
	if err != nil {
		observability.Error("failed to fetch crypto markets", "error", err)
		return nil, &FetchError{Feed: "crypto", Op: "list assets", Err: err}
	}

	var markets []coinMarket
	if err := resp.DecodeJSON("coingecko", &markets); err != nil {
		return nil, &FetchError{Feed: "crypto", Op: "list assets", Err: err}
	}
	if len(markets) > limit {
		markets = markets[:limit]
	}

	now := f.now()
	assets := make([]models.AssetSnapshot, 0, len(markets))
	for i, m := range markets {
		if m.ID == "" || m.Symbol == "" {
			return nil, &FetchError{Feed: "crypto", Op: "list assets",
				Err: &MalformedResponseError{Provider: "coingecko", Field: fmt.Sprintf("[%d].id/symbol", i)}}
		}
		if m.CurrentPrice == nil || m.CurrentPrice.IsNegative() {
			return nil, &FetchError{Feed: "crypto", Op: "list assets",
				Err: &MalformedResponseError{Provider: "coingecko", Field: fmt.Sprintf("[%d].current_price", i)}}
		}

		asset := models.AssetSnapshot{
			ID:          m.ID,
			Symbol:      strings.ToUpper(m.Symbol),
			Name:        m.Name,
			Price:       *m.CurrentPrice,
			MarketCap:   m.MarketCap,
			Volume24h:   m.TotalVolume,
			Volume:      models.FormatUSD(m.TotalVolume),
			LastUpdated: parseProviderTime(m.LastUpdated, now),
		}
		if m.PriceChangePercentage24h != nil {
			asset.Change24h = *m.PriceChangePercentage24h
		}
		asset.LastUpdatedLabel = models.RelativeTime(asset.LastUpdated, now)
		assets = append(assets, asset)
	}

	f.replaceTracked(assets)

	observability.Debug("crypto markets refreshed", "assets", len(assets))
	return f.Snapshots(), nil
}

// AssetDetails fetches a single asset by provider id and starts tracking it
func (f *CryptoFeed) AssetDetails(ctx context.Context, id string) (models.AssetSnapshot, error) {
	if strings.TrimSpace(id) == "" {
		return models.AssetSnapshot{}, &FetchError{Feed: "crypto", Op: "asset details",
			Err: &MalformedResponseError{Provider: "coingecko", Field: "id"}}
	}

	params := url.Values{}
	params.Set("localization", "false")
	params.Set("tickers", "false")
	params.Set("market_data", "true")
	params.Set("community_data", "false")
	params.Set("developer_data", "false")
	params.Set("sparkline", "false")

	resp, err := f.gateway.Fetch(ctx, f.baseURL+"/coins/"+url.PathEscape(id), FetchOptions{
		Query:     params,
		Service:   BreakerCoinGecko,
		Operation: "coin",
	})
	if err != nil {
		observability.Error("failed to fetch crypto details", "id", id, "error", err)
		return models.AssetSnapshot{}, &FetchError{Feed: "crypto", Op: "asset details", Err: err}
	}

	var detail coinDetail
	if err := resp.DecodeJSON("coingecko", &detail); err != nil {
		return models.AssetSnapshot{}, &FetchError{Feed: "crypto", Op: "asset details", Err: err}
	}
	if detail.ID == "" || detail.Symbol == "" {
		return models.AssetSnapshot{}, &FetchError{Feed: "crypto", Op: "asset details",
			Err: &MalformedResponseError{Provider: "coingecko", Field: "id/symbol"}}
	}
	if detail.MarketData == nil {
		return models.AssetSnapshot{}, &FetchError{Feed: "crypto", Op: "asset details",
			Err: &MalformedResponseError{Provider: "coingecko", Field: "market_data"}}
	}
	price, ok := detail.MarketData.CurrentPrice["usd"]
	if !ok || price.IsNegative() {
		return models.AssetSnapshot{}, &FetchError{Feed: "crypto", Op: "asset details",
			Err: &MalformedResponseError{Provider: "coingecko", Field: "market_data.current_price.usd"}}
	}

	now := f.now()
	asset := models.AssetSnapshot{
		ID:          detail.ID,
		Symbol:      strings.ToUpper(detail.Symbol),
		Name:        detail.Name,
		Price:       price,
		MarketCap:   detail.MarketData.MarketCap["usd"],
		Volume24h:   detail.MarketData.TotalVolume["usd"],
		Volume:      models.FormatUSD(detail.MarketData.TotalVolume["usd"]),
		LastUpdated: parseProviderTime(detail.LastUpdated, now),
	}
	if detail.MarketData.PriceChangePercentage24h != nil {
		asset.Change24h = *detail.MarketData.PriceChangePercentage24h
	}
	asset.LastUpdatedLabel = models.RelativeTime(asset.LastUpdated, now)

	return f.upsert(asset), nil
}

// ApplyTick updates the price of the highest ranked asset trading under
// symbol. Unknown symbols are ignored.
func (f *CryptoFeed) ApplyTick(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	asset, ok := f.assets[f.bySymbol[strings.ToUpper(symbol)]]
	if !ok {
		f.mu.Unlock()
		return
	}
	asset.Price = price
	updated := asset.Clone()
	observers := f.observers
	f.mu.Unlock()

	for _, o := range observers {
		o.OnPrice(updated)
	}
}

// Snapshots returns copies of the tracked assets in rank order
func (f *CryptoFeed) Snapshots() []models.AssetSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := f.now()
	out := make([]models.AssetSnapshot, 0, len(f.order))
	for _, id := range f.order {
		asset := f.assets[id].Clone()
		asset.LastUpdatedLabel = models.RelativeTime(asset.LastUpdated, now)
		out = append(out, asset)
	}
	return out
}

// Snapshot returns a copy of the highest ranked tracked asset with the given symbol
func (f *CryptoFeed) Snapshot(symbol string) (models.AssetSnapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	asset, ok := f.assets[f.bySymbol[strings.ToUpper(symbol)]]
	if !ok {
		return models.AssetSnapshot{}, false
	}
	return asset.Clone(), true
}

// replaceTracked makes assets the complete tracked set. Every entry is kept;
// live subscriptions are per symbol.
func (f *CryptoFeed) replaceTracked(assets []models.AssetSnapshot) {
	f.mu.Lock()
	next := make(map[string]*models.AssetSnapshot, len(assets))
	bySymbol := make(map[string]string, len(assets))
	order := make([]string, 0, len(assets))
	var symbols []string
	for _, a := range assets {
		if _, dup := next[a.ID]; dup {
			continue
		}
		a.PriceHistory, a.HistorySimulated = f.simulateHistoryLocked(a.Price)
		asset := a
		next[a.ID] = &asset
		order = append(order, a.ID)
		if _, seen := bySymbol[a.Symbol]; !seen {
			bySymbol[a.Symbol] = a.ID
			symbols = append(symbols, a.Symbol)
		}
	}

	var dropped []string
	for symbol := range f.bySymbol {
		if _, ok := bySymbol[symbol]; !ok {
			dropped = append(dropped, symbol)
		}
	}
	f.assets = next
	f.order = order
	f.bySymbol = bySymbol
	ticker := f.ticker
	f.mu.Unlock()

	if ticker == nil {
		return
	}
	for _, symbol := range dropped {
		ticker.Unsubscribe(symbol)
	}
	for _, symbol := range symbols {
		if !ticker.Tracking(symbol) {
			ticker.Subscribe(symbol)
		}
	}
}

// upsert stores a single asset and makes sure it is tracked
func (f *CryptoFeed) upsert(asset models.AssetSnapshot) models.AssetSnapshot {
	f.mu.Lock()
	asset.PriceHistory, asset.HistorySimulated = f.simulateHistoryLocked(asset.Price)
	if _, ok := f.assets[asset.ID]; !ok {
		f.order = append(f.order, asset.ID)
	}
	if _, ok := f.bySymbol[asset.Symbol]; !ok {
		f.bySymbol[asset.Symbol] = asset.ID
	}
	stored := asset
	f.assets[asset.ID] = &stored
	ticker := f.ticker
	f.mu.Unlock()

	if ticker != nil && !ticker.Tracking(asset.Symbol) {
		ticker.Subscribe(asset.Symbol)
	}
	return asset.Clone()
}

// simulateHistoryLocked synthesizes 24 hourly points within ±5% of price
func (f *CryptoFeed) simulateHistoryLocked(price decimal.Decimal) ([]models.PricePoint, bool) {
	if !f.simulate {
		return nil, false
	}

	history := make([]models.PricePoint, models.PriceHistoryLength)
	for i := range history {
		jitter := decimal.NewFromFloat(1 + (f.random()-0.5)*0.1)
		history[i] = models.PricePoint{
			Time:  fmt.Sprintf("%d:00", i),
			Price: price.Mul(jitter),
		}
	}
	return history, true
}

// parseProviderTime parses an RFC3339 timestamp, falling back to now
func parseProviderTime(raw string, now time.Time) time.Time {
	if raw == "" {
		return now
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		observability.Debug("unparsable provider timestamp", "value", raw, "error", err)
		return now
	}
	return t
}
