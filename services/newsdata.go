package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"market-pulse/models"
	"market-pulse/observability"
)

const (
	// DefaultNewsLimit is used when a non-positive limit is requested
	DefaultNewsLimit = 10

	newsFeedQuery   = "crypto OR blockchain OR cryptocurrency OR bitcoin"
	newsSearchQuery = "crypto OR cryptocurrency OR bitcoin OR blockchain"
	newsPubDate     = "2006-01-02 15:04:05"
)

// newsCategories maps dashboard categories onto NewsData categories
var newsCategories = map[string]string{
	"crypto":     "cryptocurrency",
	"blockchain": "technology",
	"defi":       "cryptocurrency",
	"nft":        "technology",
	"regulation": "business",
}

// NewsService handles communication with the NewsData API
type NewsService struct {
	gateway *Gateway
	apiKey  string
	baseURL string
	now     func() time.Time
}

// NewNewsService creates a new NewsService instance
func NewNewsService(gateway *Gateway, apiKey, baseURL string) *NewsService {
	return &NewsService{
		gateway: gateway,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// NewsQuery holds the proxy search parameters. Empty fields take defaults.
type NewsQuery struct {
	Category string
	Query    string
	Language string
}

// newsDataResponse represents the response from NewsData
type newsDataResponse struct {
	Status       string          `json:"status"`
	TotalResults int             `json:"totalResults"`
	Results      json.RawMessage `json:"results"`
}

type newsDataArticle struct {
	ArticleID   string   `json:"article_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	SourceID    string   `json:"source_id"`
	PubDate     string   `json:"pubDate"`
	Link        string   `json:"link"`
	Category    []string `json:"category"`
	ImageURL    string   `json:"image_url"`
}

// MapNewsCategory returns the provider category for a dashboard category
func MapNewsCategory(category string) string {
	if mapped, ok := newsCategories[strings.ToLower(category)]; ok {
		return mapped
	}
	return "cryptocurrency"
}

// GetNews returns the latest articles, newest first
func (s *NewsService) GetNews(ctx context.Context, limit int, category string) ([]models.NewsArticle, error) {
	if s.apiKey == "" {
		return nil, &ConfigurationError{Setting: "NEWS_API_KEY"}
	}
	if limit < 1 {
		limit = DefaultNewsLimit
	}

	params := url.Values{}
	params.Set("apikey", s.apiKey)
	params.Set("language", "en")
	if category != "" && category != "all" {
		params.Set("category", MapNewsCategory(category))
	} else {
		params.Set("q", newsFeedQuery)
	}

	raw, err := s.fetch(ctx, params, "latest")
	if err != nil {
		observability.Error("failed to fetch news", "category", category, "error", err)
		return nil, &FetchError{Feed: "news", Op: "get news", Err: err}
	}

	var items []newsDataArticle
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &FetchError{Feed: "news", Op: "get news",
			Err: &MalformedResponseError{Provider: "newsdata", Field: "results", Err: err}}
	}

	now := s.now()
	articles := make([]models.NewsArticle, 0, len(items))
	for _, item := range items {
		published := s.parsePubDate(item.PubDate, now)
		articleCategory := "general"
		if len(item.Category) > 0 && item.Category[0] != "" {
			articleCategory = item.Category[0]
		}

		articles = append(articles, models.NewsArticle{
			ID:          item.ArticleID,
			Title:       item.Title,
			Summary:     item.Description,
			Source:      item.SourceID,
			PublishedAt: published,
			Timestamp:   published.UnixMilli(),
			Time:        models.RelativeTime(published, now),
			URL:         item.Link,
			Category:    articleCategory,
			ImageURL:    item.ImageURL,
		})
	}

	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Timestamp > articles[j].Timestamp
	})
	if len(articles) > limit {
		articles = articles[:limit]
	}

	return articles, nil
}

// Search forwards a query to NewsData and returns the provider JSON unchanged
func (s *NewsService) Search(ctx context.Context, q NewsQuery) (json.RawMessage, error) {
	if s.apiKey == "" {
		return nil, &ConfigurationError{Setting: "NEWS_API_KEY"}
	}

	category := q.Category
	if category == "" {
		category = "business"
	}
	query := q.Query
	if query == "" {
		query = newsSearchQuery
	}
	language := q.Language
	if language == "" {
		language = "en"
	}

	params := url.Values{}
	params.Set("apikey", s.apiKey)
	params.Set("q", query)
	params.Set("category", category)
	params.Set("language", language)

	resp, err := s.gateway.Fetch(ctx, s.baseURL+"/news", FetchOptions{
		Query:     params,
		Service:   BreakerNewsData,
		Operation: "search",
	})
	if err != nil {
		return nil, &FetchError{Feed: "news", Op: "search", Err: err}
	}
	if _, err := validateNewsBody(resp); err != nil {
		return nil, &FetchError{Feed: "news", Op: "search", Err: err}
	}
	return json.RawMessage(resp.Body), nil
}

func (s *NewsService) fetch(ctx context.Context, params url.Values, operation string) (json.RawMessage, error) {
	resp, err := s.gateway.Fetch(ctx, s.baseURL+"/news", FetchOptions{
		Query:     params,
		Service:   BreakerNewsData,
		Operation: operation,
	})
	if err != nil {
		return nil, err
	}
	return validateNewsBody(resp)
}

// validateNewsBody checks the envelope and returns the raw results array
func validateNewsBody(resp *Response) (json.RawMessage, error) {
	var body newsDataResponse
	if err := resp.DecodeJSON("newsdata", &body); err != nil {
		return nil, err
	}
	if body.Status != "success" {
		return nil, &MalformedResponseError{Provider: "newsdata", Field: "status",
			Err: fmt.Errorf("%w: %q", ErrProviderStatus, body.Status)}
	}

	var results []json.RawMessage
	if len(body.Results) == 0 || string(body.Results) == "null" || json.Unmarshal(body.Results, &results) != nil {
		return nil, &MalformedResponseError{Provider: "newsdata", Field: "results", Err: ErrMissingField}
	}
	if len(results) == 0 {
		return nil, ErrNoData
	}
	return body.Results, nil
}

// parsePubDate reads NewsData's UTC timestamp, falling back to now
func (s *NewsService) parsePubDate(raw string, now time.Time) time.Time {
	if t, err := time.ParseInLocation(newsPubDate, raw, time.UTC); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	observability.Warn("unparsable article timestamp, using current time", "value", raw)
	return now
}
