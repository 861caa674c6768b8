package models

import "time"

const (
	// MaxDailyForecast caps LocationWeather.Forecast
	MaxDailyForecast = 5
	// MaxHourlyForecast caps LocationWeather.HourlyForecast
	MaxHourlyForecast = 8
)

// LocationWeather holds current conditions and forecasts for one location.
// It is replaced wholesale on every successful poll.
type LocationWeather struct {
	City           string           `json:"city"`
	Country        string           `json:"country"`
	Temperature    float64          `json:"temperature"`
	FeelsLike      float64          `json:"feels_like"`
	Humidity       float64          `json:"humidity"`
	Condition      string           `json:"condition"`
	ConditionIcon  string           `json:"condition_icon"`
	WindSpeed      float64          `json:"wind_speed"`
	WindDirection  string           `json:"wind_direction"`
	Pressure       float64          `json:"pressure"`
	UV             float64          `json:"uv"` // not offered by the provider, always 0
	Forecast       []DailyForecast  `json:"forecast"`
	HourlyForecast []HourlyForecast `json:"hourly_forecast"`
}

// DailyForecast is one day of the multi-day forecast
type DailyForecast struct {
	Date          string  `json:"date"`
	MaxTemp       float64 `json:"max_temp"`
	MinTemp       float64 `json:"min_temp"`
	Condition     string  `json:"condition"`
	ConditionIcon string  `json:"condition_icon"`
	ChanceOfRain  int     `json:"chance_of_rain"`
}

// HourlyForecast is one entry of the short-range forecast
type HourlyForecast struct {
	Time          time.Time `json:"time"`
	Label         string    `json:"label"`
	Temperature   float64   `json:"temperature"`
	Condition     string    `json:"condition"`
	ConditionIcon string    `json:"condition_icon"`
}
