package api

import (
	"net/http"

	"market-pulse/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates and configures a Chi router with all routes
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(cfg.HTTP.CORSAllowedOrigins))
	r.Use(MetricsMiddleware)

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Long-lived WebSocket stream, outside the request timeout
		r.Handle("/stream", h.app.Hub())

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))

			r.Get("/health", h.HandleHealth)

			// Provider proxies
			r.Get("/crypto", h.HandleCryptoListings)
			r.Get("/news", h.HandleNewsSearch)
			r.Get("/weather", h.HandleWeather)

			// Dashboard panels
			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/crypto", h.HandleDashboardCrypto)
				r.Get("/weather", h.HandleDashboardWeather)
				r.Get("/weather-detail", h.HandleDashboardWeatherDetail)
				r.Get("/news", h.HandleDashboardNews)
				r.Post("/{panel}/refresh", h.HandleRefresh)
			})

			r.Get("/assets/{id}", h.HandleAssetDetails)

			// Notifications
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.HandleGetNotifications)
				r.Post("/read-all", h.HandleMarkAllNotificationsRead)
				r.Post("/{id}/read", h.HandleMarkNotificationRead)
			})
		})
	})

	return r
}

// CORSMiddleware returns CORS middleware with the specified allowed origins
func CORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
