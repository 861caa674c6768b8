package services

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"market-pulse/models"
	"market-pulse/observability"
)

const weatherIconURL = "https://openweathermap.org/img/wn/%s@2x.png"

var compassPoints = [16]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// WeatherService handles communication with the OpenWeather API
type WeatherService struct {
	gateway *Gateway
	apiKey  string
	baseURL string
}

// NewWeatherService creates a new WeatherService instance
func NewWeatherService(gateway *Gateway, apiKey, baseURL string) *WeatherService {
	return &WeatherService{
		gateway: gateway,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type owCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type owMain struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	TempMin   float64 `json:"temp_min"`
	TempMax   float64 `json:"temp_max"`
	Pressure  float64 `json:"pressure"`
	Humidity  float64 `json:"humidity"`
}

// owCurrent is the /weather response
type owCurrent struct {
	Name    string        `json:"name"`
	Main    *owMain       `json:"main"`
	Weather []owCondition `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Sys struct {
		Country string `json:"country"`
	} `json:"sys"`
}

// owForecast is the /forecast response: 3-hour steps over five days
type owForecast struct {
	List []struct {
		Dt      int64         `json:"dt"`
		Main    *owMain       `json:"main"`
		Weather []owCondition `json:"weather"`
		Pop     float64       `json:"pop"`
	} `json:"list"`
	City struct {
		Timezone int `json:"timezone"`
	} `json:"city"`
}

// GetWeather returns current conditions and forecasts for a city
func (s *WeatherService) GetWeather(ctx context.Context, city string) (*models.LocationWeather, error) {
	if s.apiKey == "" {
		return nil, &ConfigurationError{Setting: "WEATHER_API_KEY"}
	}

	observability.Debug("fetching weather", "city", city)

	var current owCurrent
	if err := s.get(ctx, "/weather", "weather", city, &current); err != nil {
		observability.Error("weather request failed", "city", city, "error", err)
		return nil, &FetchError{Feed: "weather", Op: city, Err: err}
	}

	var forecast owForecast
	if err := s.get(ctx, "/forecast", "forecast", city, &forecast); err != nil {
		observability.Error("forecast request failed", "city", city, "error", err)
		return nil, &FetchError{Feed: "weather", Op: city, Err: err}
	}

	weather, err := buildLocationWeather(&current, &forecast)
	if err != nil {
		return nil, &FetchError{Feed: "weather", Op: city, Err: err}
	}
	return weather, nil
}

// GetMultiLocationWeather fetches all cities concurrently. Any failure fails
// the whole batch; results keep the input order.
func (s *WeatherService) GetMultiLocationWeather(ctx context.Context, cities []string) ([]models.LocationWeather, error) {
	results := make([]models.LocationWeather, len(cities))

	g, gctx := errgroup.WithContext(ctx)
	for i, city := range cities {
		i, city := i, city
		g.Go(func() error {
			weather, err := s.GetWeather(gctx, city)
			if err != nil {
				return err
			}
			results[i] = *weather
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch weather data for multiple cities: %w", err)
	}
	return results, nil
}

func (s *WeatherService) get(ctx context.Context, path, operation, city string, v any) error {
	params := url.Values{}
	params.Set("q", city)
	params.Set("appid", s.apiKey)
	params.Set("units", "metric")

	resp, err := s.gateway.Fetch(ctx, s.baseURL+path, FetchOptions{
		Query:     params,
		Service:   BreakerOpenWeather,
		Operation: operation,
	})
	if err != nil {
		return err
	}
	return resp.DecodeJSON("openweather", v)
}

func buildLocationWeather(current *owCurrent, forecast *owForecast) (*models.LocationWeather, error) {
	if current.Main == nil {
		return nil, &MalformedResponseError{Provider: "openweather", Field: "main"}
	}
	if len(current.Weather) == 0 {
		return nil, &MalformedResponseError{Provider: "openweather", Field: "weather[0]"}
	}
	if forecast.List == nil {
		return nil, &MalformedResponseError{Provider: "openweather", Field: "list"}
	}

	zone := time.FixedZone("", forecast.City.Timezone)

	hourly := make([]models.HourlyForecast, 0, models.MaxHourlyForecast)
	daily := make([]models.DailyForecast, 0, models.MaxDailyForecast)
	for i, item := range forecast.List {
		if item.Main == nil || len(item.Weather) == 0 {
			return nil, &MalformedResponseError{Provider: "openweather", Field: fmt.Sprintf("list[%d]", i)}
		}
		at := time.Unix(item.Dt, 0)

		if len(hourly) < models.MaxHourlyForecast {
			hourly = append(hourly, models.HourlyForecast{
				Time:          at.UTC(),
				Label:         at.In(zone).Format("03 PM"),
				Temperature:   item.Main.Temp,
				Condition:     item.Weather[0].Main,
				ConditionIcon: iconURL(item.Weather[0].Icon),
			})
		}

		if i%8 == 0 && len(daily) < models.MaxDailyForecast {
			daily = append(daily, models.DailyForecast{
				Date:          at.UTC().Format("2006-01-02"),
				MaxTemp:       item.Main.TempMax,
				MinTemp:       item.Main.TempMin,
				Condition:     item.Weather[0].Main,
				ConditionIcon: iconURL(item.Weather[0].Icon),
				ChanceOfRain:  int(math.Round(item.Pop * 100)),
			})
		}
	}

	return &models.LocationWeather{
		City:           current.Name,
		Country:        current.Sys.Country,
		Temperature:    current.Main.Temp,
		FeelsLike:      current.Main.FeelsLike,
		Humidity:       current.Main.Humidity,
		Condition:      current.Weather[0].Main,
		ConditionIcon:  iconURL(current.Weather[0].Icon),
		WindSpeed:      current.Wind.Speed,
		WindDirection:  WindDirection(current.Wind.Deg),
		Pressure:       current.Main.Pressure,
		UV:             0,
		Forecast:       daily,
		HourlyForecast: hourly,
	}, nil
}

// WindDirection maps a bearing in degrees to a 16-point compass label
func WindDirection(degrees float64) string {
	index := int(math.Round(degrees/22.5)) % 16
	if index < 0 {
		index += 16
	}
	return compassPoints[index]
}

func iconURL(code string) string {
	return fmt.Sprintf(weatherIconURL, code)
}
