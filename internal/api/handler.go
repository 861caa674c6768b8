package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"market-pulse/config"
	"market-pulse/internal/app"
	"market-pulse/models"
	"market-pulse/observability"
	"market-pulse/services"

	"github.com/go-chi/chi/v5"
)

// Handler handles HTTP API requests
type Handler struct {
	app *app.App
	cfg *config.Config
}

// NewHandler creates a new Handler
func NewHandler(application *app.App, cfg *config.Config) *Handler {
	return &Handler{app: application, cfg: cfg}
}

// ErrorResponse is the body of a failed proxy request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusResponse represents a status response
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleHealth returns the health status of the application
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"providers": map[string]bool{
			"weather":  h.cfg.HasWeather(),
			"news":     h.cfg.HasNews(),
			"listings": h.cfg.HasMarketListings(),
		},
		"live_connections": h.app.LiveStates(),
		"stream_clients":   h.app.Hub().ClientCount(),
	}

	cbStatus := h.app.BreakerStatus()
	status["circuit_breakers"] = cbStatus

	// Any open breaker means a provider is currently being skipped
	for _, cb := range cbStatus {
		if cb.State == "open" {
			status["status"] = "degraded"
			break
		}
	}

	h.jsonResponse(w, status)
}

// HandleCryptoListings proxies the market listings provider
func (h *Handler) HandleCryptoListings(w http.ResponseWriter, r *http.Request) {
	listings := h.app.Services().Listings
	if listings == nil || !h.cfg.HasMarketListings() {
		h.proxyError(w, "Crypto API key is not configured", "Please check your environment variables")
		return
	}

	limit := h.ParseLimitParam(r, services.DefaultListingsLimit)
	convert := r.URL.Query().Get("convert")

	data, err := listings.Listings(r.Context(), limit, convert)
	if err != nil {
		h.handleProxyError(w, r, err, "Crypto API key is not configured", "Failed to fetch cryptocurrency data")
		return
	}
	h.rawJSONResponse(w, data)
}

// HandleNewsSearch proxies a news query
func (h *Handler) HandleNewsSearch(w http.ResponseWriter, r *http.Request) {
	news := h.app.Services().News
	if news == nil || !h.cfg.HasNews() {
		h.proxyError(w, "News API key is not configured", "Please check your environment variables")
		return
	}

	q := r.URL.Query()
	data, err := news.Search(r.Context(), services.NewsQuery{
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Language: q.Get("language"),
	})
	if err != nil {
		h.handleProxyError(w, r, err, "News API key is not configured", "Failed to fetch news data")
		return
	}
	h.rawJSONResponse(w, data)
}

// HandleWeather returns current weather for the requested cities
func (h *Handler) HandleWeather(w http.ResponseWriter, r *http.Request) {
	weather := h.app.Services().Weather
	if weather == nil || !h.cfg.HasWeather() {
		h.proxyError(w, "Weather API key is not configured", "Please check your environment variables")
		return
	}

	cities := h.cfg.Weather.DefaultCities
	if raw := r.URL.Query().Get("cities"); raw != "" {
		cities = splitCities(raw)
	}

	data, err := weather.GetMultiLocationWeather(r.Context(), cities)
	if err != nil {
		h.handleProxyError(w, r, err, "Weather API key is not configured", "Failed to fetch weather data")
		return
	}
	h.jsonResponse(w, data)
}

// HandleDashboardCrypto returns the crypto panel state
func (h *Handler) HandleDashboardCrypto(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.app.CryptoState())
}

// HandleDashboardWeather returns the weather panel state
func (h *Handler) HandleDashboardWeather(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.app.WeatherState())
}

// HandleDashboardWeatherDetail returns the weather detail page state
func (h *Handler) HandleDashboardWeatherDetail(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.app.WeatherDetailState())
}

// HandleDashboardNews returns the news panel state
func (h *Handler) HandleDashboardNews(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.app.NewsState())
}

// HandleRefresh triggers an immediate refresh of one panel
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	panel := chi.URLParam(r, "panel")
	if err := h.app.Refresh(panel); err != nil {
		h.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(StatusResponse{Status: "refreshing", Message: panel})
}

// HandleAssetDetails returns details for one asset
func (h *Handler) HandleAssetDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ValidateAssetID(id); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	asset, err := h.app.AssetDetails(r.Context(), id)
	if err != nil {
		var upstream *services.UpstreamError
		if errors.As(err, &upstream) && upstream.Status == http.StatusNotFound {
			h.jsonError(w, "Asset not found", http.StatusNotFound)
			return
		}
		observability.WithContext(r.Context()).Error("failed to fetch asset details", "id", id, "error", err)
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, asset)
}

// HandleGetNotifications returns queued notifications, optionally filtered
func (h *Handler) HandleGetNotifications(w http.ResponseWriter, r *http.Request) {
	category, ok := parseCategory(r.URL.Query().Get("category"))
	if !ok {
		h.jsonError(w, "Invalid notification category", http.StatusBadRequest)
		return
	}

	h.jsonResponse(w, map[string]interface{}{
		"notifications": h.app.Notifications(category),
		"unread":        h.app.UnreadCount(),
	})
}

// HandleMarkNotificationRead marks a single notification as read
func (h *Handler) HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.jsonError(w, "Missing notification ID", http.StatusBadRequest)
		return
	}

	if err := h.app.MarkNotificationRead(id); err != nil {
		if errors.Is(err, app.ErrNotificationNotFound) {
			h.jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.jsonResponse(w, map[string]interface{}{"status": "read", "id": id, "unread": h.app.UnreadCount()})
}

// HandleMarkAllNotificationsRead marks every notification as read
func (h *Handler) HandleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n := h.app.MarkAllNotificationsRead()
	h.jsonResponse(w, map[string]interface{}{"status": "read", "marked": n, "unread": h.app.UnreadCount()})
}

// ValidateAssetID checks a provider coin id such as "bitcoin" or "usd-coin"
func (h *Handler) ValidateAssetID(id string) error {
	if id == "" {
		return errors.New("asset id is required")
	}
	if len(id) > 64 {
		return errors.New("asset id too long")
	}
	for _, c := range id {
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' {
			return errors.New("asset id contains invalid characters")
		}
	}
	return nil
}

// ParseLimitParam parses the limit query parameter
func (h *Handler) ParseLimitParam(r *http.Request, defaultLimit int) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			return l
		}
	}
	return defaultLimit
}

func parseCategory(raw string) (models.NotificationCategory, bool) {
	switch strings.ToLower(raw) {
	case "", "all":
		return "", true
	case "crypto", string(models.CategoryAssetAlert):
		return models.CategoryAssetAlert, true
	case "weather", string(models.CategoryConditionAlert):
		return models.CategoryConditionAlert, true
	default:
		return "", false
	}
}

func splitCities(raw string) []string {
	var cities []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cities = append(cities, c)
		}
	}
	return cities
}

func (h *Handler) handleProxyError(w http.ResponseWriter, r *http.Request, err error, keyMessage, failureMessage string) {
	var cfgErr *services.ConfigurationError
	if errors.As(err, &cfgErr) {
		h.proxyError(w, keyMessage, "Please check your environment variables")
		return
	}
	observability.WithContext(r.Context()).Error(failureMessage, "error", err)
	h.proxyError(w, failureMessage, err.Error())
}

func (h *Handler) proxyError(w http.ResponseWriter, errMessage, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMessage, Message: message})
}

func (h *Handler) rawJSONResponse(w http.ResponseWriter, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
