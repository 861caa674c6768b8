package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"market-pulse/observability"
)

const (
	// DefaultListingsLimit is used when the proxy receives no usable limit
	DefaultListingsLimit = 10
	// DefaultListingsConvert is the default quote currency
	DefaultListingsConvert = "USD"
)

// CoinMarketCapService proxies the CoinMarketCap listings endpoint
type CoinMarketCapService struct {
	gateway *Gateway
	apiKey  string
	baseURL string
	cache   *cache.Cache
}

// NewCoinMarketCapService creates a new CoinMarketCapService instance
func NewCoinMarketCapService(gateway *Gateway, apiKey, baseURL string, ttl time.Duration) *CoinMarketCapService {
	return &CoinMarketCapService{
		gateway: gateway,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   cache.New(ttl, 2*ttl),
	}
}

// Listings returns the latest listings JSON, served from cache when fresh
func (s *CoinMarketCapService) Listings(ctx context.Context, limit int, convert string) (json.RawMessage, error) {
	if s.apiKey == "" {
		return nil, &ConfigurationError{Setting: "CRYPTO_API_KEY"}
	}
	if limit < 1 {
		limit = DefaultListingsLimit
	}
	if convert == "" {
		convert = DefaultListingsConvert
	}
	convert = strings.ToUpper(convert)

	key := strconv.Itoa(limit) + ":" + convert
	if x, found := s.cache.Get(key); found {
		return x.(json.RawMessage), nil
	}

	params := url.Values{}
	params.Set("start", "1")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("convert", convert)

	resp, err := s.gateway.Fetch(ctx, s.baseURL+"/cryptocurrency/listings/latest", FetchOptions{
		Header:    http.Header{"X-CMC_PRO_API_KEY": []string{s.apiKey}},
		Query:     params,
		Service:   BreakerCoinMarketCap,
		Operation: "listings",
	})
	if err != nil {
		observability.Error("failed to fetch listings", "limit", limit, "convert", convert, "error", err)
		return nil, &FetchError{Feed: "crypto", Op: "listings", Err: err}
	}
	if !json.Valid(resp.Body) {
		return nil, &FetchError{Feed: "crypto", Op: "listings",
			Err: &MalformedResponseError{Provider: "coinmarketcap", Field: "body"}}
	}

	body := json.RawMessage(resp.Body)
	s.cache.SetDefault(key, body)
	return body, nil
}
