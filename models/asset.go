package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceHistoryLength is the number of points in a synthesized price history.
const PriceHistoryLength = 24

// PricePoint is a single entry of an asset's short price history
type PricePoint struct {
	Time  string          `json:"time"`
	Price decimal.Decimal `json:"price"`
}

// AssetSnapshot is the merged view of a tracked crypto asset: the REST
// baseline plus the latest live ticker price.
type AssetSnapshot struct {
	ID               string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	Change24h        float64         `json:"change_24h"`
	MarketCap        decimal.Decimal `json:"market_cap"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	LastUpdated      time.Time       `json:"last_updated"`
	LastUpdatedLabel string          `json:"last_updated_label"`
	Volume           string          `json:"volume"`

	// PriceHistory is generated locally around the current price and is not
	// provider data. HistorySimulated is always true when it is present.
	PriceHistory     []PricePoint `json:"price_history,omitempty"`
	HistorySimulated bool         `json:"history_simulated"`
}

// Clone returns a deep copy safe to hand to readers.
func (a AssetSnapshot) Clone() AssetSnapshot {
	if a.PriceHistory != nil {
		history := make([]PricePoint, len(a.PriceHistory))
		copy(history, a.PriceHistory)
		a.PriceHistory = history
	}
	return a
}

// Direction returns up for a positive 24h change and down otherwise
func (a AssetSnapshot) Direction() Direction {
	if a.Change24h > 0 {
		return DirectionUp
	}
	return DirectionDown
}
