package mocks

// CoinMarket is one entry of the markets listing.
type CoinMarket struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	CurrentPrice             float64 `json:"current_price"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	MarketCap                float64 `json:"market_cap"`
	TotalVolume              float64 `json:"total_volume"`
	LastUpdated              string  `json:"last_updated"`
}

// WeatherFixture describes the conditions served for one city.
type WeatherFixture struct {
	Country     string
	Temperature float64
	FeelsLike   float64
	Humidity    float64
	Pressure    float64
	WindSpeed   float64
	WindDeg     float64
	Condition   string
	Icon        string
	Pop         float64
}

// NewsArticle is one NewsData result.
type NewsArticle struct {
	ArticleID   string   `json:"article_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	SourceID    string   `json:"source_id"`
	PubDate     string   `json:"pubDate"`
	Link        string   `json:"link"`
	Category    []string `json:"category"`
	ImageURL    string   `json:"image_url,omitempty"`
}

// ListingQuote is the quote block of a listings entry.
type ListingQuote struct {
	Price            float64 `json:"price"`
	PercentChange24h float64 `json:"percent_change_24h"`
	MarketCap        float64 `json:"market_cap"`
	Volume24h        float64 `json:"volume_24h"`
}

// Listing is one CoinMarketCap listings entry.
type Listing struct {
	ID     int                     `json:"id"`
	Name   string                  `json:"name"`
	Symbol string                  `json:"symbol"`
	Quote  map[string]ListingQuote `json:"quote"`
}
