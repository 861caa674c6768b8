package models

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// RelativeTime renders t relative to now, e.g. "5 minutes ago"
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// FormatUSD renders an amount as "$1,234.57"
func FormatUSD(amount decimal.Decimal) string {
	f, _ := amount.Round(2).Float64()
	return "$" + humanize.CommafWithDigits(f, 2)
}
