package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"market-pulse/config"
	"market-pulse/dashboard"
	"market-pulse/internal/stream"
	"market-pulse/models"
	"market-pulse/notifier"
	"market-pulse/observability"
	"market-pulse/scheduler"
	"market-pulse/services"

	"github.com/google/uuid"
)

// Refresh task names
const (
	TaskCrypto        = "crypto"
	TaskWeather       = "weather"
	TaskWeatherDetail = "weather-detail"
	TaskNews          = "news"
	TaskNotifications = "notifications"
)

// ErrNotificationNotFound is returned when marking an unknown notification
var ErrNotificationNotFound = errors.New("notification not found")

// Services groups the provider adapters used by App
type Services struct {
	Breakers *services.CircuitBreakerRegistry
	Crypto   services.CryptoFeedInterface
	Weather  services.WeatherServiceInterface
	News     services.NewsServiceInterface
	Listings services.ListingsServiceInterface
	Ticker   services.LiveTickerInterface
}

// NewServices builds the provider adapters from configuration and links the
// live ticker to the crypto feed
func NewServices(cfg *config.Config) (*Services, error) {
	breakers := services.NewCircuitBreakerRegistry(services.DefaultCircuitBreakerConfig)
	gateway, err := services.NewGateway(cfg.Fetch.PublicBaseURL, cfg.Fetch.Timeout, breakers)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	feed := services.NewCryptoFeed(gateway, cfg.Crypto.MarketsBaseURL, cfg.Crypto.SimulationEnabled)
	ticker := services.NewLiveTicker(cfg.Crypto.TickerBaseURL, cfg.Crypto.ReconnectBackoff, feed.ApplyTick)
	feed.UseTicker(ticker)

	return &Services{
		Breakers: breakers,
		Crypto:   feed,
		Weather:  services.NewWeatherService(gateway, cfg.Weather.APIKey, cfg.Weather.BaseURL),
		News:     services.NewNewsService(gateway, cfg.News.APIKey, cfg.News.BaseURL),
		Listings: services.NewCoinMarketCapService(gateway, cfg.Crypto.ListingsAPIKey, cfg.Crypto.ListingsBaseURL, cfg.Crypto.ListingsCacheTTL),
		Ticker:   ticker,
	}, nil
}

// App owns the feeds, the refresh schedule, the notification queue and the
// stream hub
type App struct {
	cfg   *config.Config
	svc   *Services
	hub   *stream.Hub
	sched *scheduler.Scheduler
	queue *notifier.Queue
	synth *notifier.Synthesizer

	cryptoPanel   *dashboard.Snapshot[[]models.AssetSnapshot]
	weatherPanel  *dashboard.Snapshot[[]models.LocationWeather]
	weatherDetail *dashboard.Snapshot[[]models.LocationWeather]
	newsPanel     *dashboard.Snapshot[[]models.NewsArticle]

	mu       sync.Mutex
	started  bool
	shutdown bool
}

// New creates the application. Nothing runs until Start.
func New(cfg *config.Config, svc *Services) (*App, error) {
	hub := stream.NewHub(cfg.HTTP.CORSAllowedOrigins)
	if svc.Crypto != nil {
		svc.Crypto.RegisterObserver(hub)
	}

	sched, err := scheduler.New(hub)
	if err != nil {
		return nil, err
	}

	queue := notifier.NewQueue(cfg.Notifications.QueueCapacity)
	synth := notifier.NewSynthesizer(svc.Crypto, queue, hub, notifier.Config{
		CryptoWeight:  cfg.Notifications.CryptoWeight,
		WeatherWeight: cfg.Notifications.WeatherWeight,
		Locations:     cfg.Weather.DetailCities,
	})

	return &App{
		cfg:           cfg,
		svc:           svc,
		hub:           hub,
		sched:         sched,
		queue:         queue,
		synth:         synth,
		cryptoPanel:   dashboard.NewSnapshot[[]models.AssetSnapshot](TaskCrypto),
		weatherPanel:  dashboard.NewSnapshot[[]models.LocationWeather](TaskWeather),
		weatherDetail: dashboard.NewSnapshot[[]models.LocationWeather](TaskWeatherDetail),
		newsPanel:     dashboard.NewSnapshot[[]models.NewsArticle](TaskNews),
	}, nil
}

// Start registers the refresh tasks and starts the scheduler and hub
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	if a.shutdown {
		return errors.New("app has been shut down")
	}

	go a.hub.Run()

	if err := a.scheduleFeeds(); err != nil {
		a.sched.Shutdown()
		a.hub.Stop()
		return err
	}

	a.sched.Start()
	a.started = true
	observability.Info("dashboard feeds started",
		"crypto_interval", a.cfg.Refresh.CryptoInterval,
		"weather_interval", a.cfg.Refresh.WeatherInterval,
		"news_interval", a.cfg.Refresh.NewsInterval,
		"notification_interval", a.cfg.Notifications.Interval,
	)
	return nil
}

func (a *App) scheduleFeeds() error {
	if a.svc.Crypto != nil {
		limit := a.cfg.Crypto.PanelLimit
		if _, err := scheduler.Watch(a.sched, TaskCrypto, a.cfg.Refresh.CryptoInterval,
			func(ctx context.Context) ([]models.AssetSnapshot, error) {
				return a.svc.Crypto.ListAssets(ctx, limit)
			},
			a.cryptoPanel, scheduler.WithFailureTitle("Error fetching cryptocurrency data")); err != nil {
			return err
		}
	}

	if a.svc.Weather != nil {
		cities := a.cfg.Weather.Cities
		if _, err := scheduler.Watch(a.sched, TaskWeather, a.cfg.Refresh.WeatherInterval,
			func(ctx context.Context) ([]models.LocationWeather, error) {
				return a.svc.Weather.GetMultiLocationWeather(ctx, cities)
			},
			a.weatherPanel, scheduler.WithFailureTitle("Error fetching weather data")); err != nil {
			return err
		}

		detailCities := a.cfg.Weather.DetailCities
		if _, err := scheduler.Watch(a.sched, TaskWeatherDetail, a.cfg.Refresh.WeatherDetailInterval,
			func(ctx context.Context) ([]models.LocationWeather, error) {
				return a.svc.Weather.GetMultiLocationWeather(ctx, detailCities)
			},
			a.weatherDetail, scheduler.WithFailureTitle("Error fetching weather data")); err != nil {
			return err
		}
	}

	if a.svc.News != nil {
		limit := a.cfg.News.PanelLimit
		if _, err := scheduler.Watch(a.sched, TaskNews, a.cfg.Refresh.NewsInterval,
			func(ctx context.Context) ([]models.NewsArticle, error) {
				return a.svc.News.GetNews(ctx, limit, "")
			},
			a.newsPanel, scheduler.WithFailureTitle("Error fetching news data")); err != nil {
			return err
		}
	}

	_, err := a.sched.Every(TaskNotifications, a.cfg.Notifications.Interval,
		func(ctx context.Context) error {
			a.synth.Tick(ctx)
			return nil
		}, scheduler.Silent())
	return err
}

// Shutdown cancels the refresh tasks, closes every live connection and
// disconnects stream clients
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return
	}
	a.shutdown = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.sched.Shutdown(); err != nil {
			observability.Warn("scheduler shutdown error", "error", err)
		}
		if a.svc.Ticker != nil {
			a.svc.Ticker.TeardownAll()
		}
		a.hub.Stop()
	}()

	select {
	case <-done:
		observability.Info("app shutdown complete")
	case <-ctx.Done():
		observability.Warn("app shutdown interrupted", "error", ctx.Err())
	}
}

// Config returns the application configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Services returns the provider adapters
func (a *App) Services() *Services {
	return a.svc
}

// Hub returns the stream hub
func (a *App) Hub() *stream.Hub {
	return a.hub
}

// CryptoState returns the crypto panel with live prices merged in
func (a *App) CryptoState() dashboard.State[[]models.AssetSnapshot] {
	state := a.cryptoPanel.State()
	if _, ok := a.cryptoPanel.Load(); ok && a.svc.Crypto != nil {
		state.Data = a.svc.Crypto.Snapshots()
	}
	return state
}

// WeatherState returns the dashboard weather panel
func (a *App) WeatherState() dashboard.State[[]models.LocationWeather] {
	return a.weatherPanel.State()
}

// WeatherDetailState returns the weather detail page state
func (a *App) WeatherDetailState() dashboard.State[[]models.LocationWeather] {
	return a.weatherDetail.State()
}

// NewsState returns the news panel
func (a *App) NewsState() dashboard.State[[]models.NewsArticle] {
	return a.newsPanel.State()
}

// Refresh runs the named refresh task immediately
func (a *App) Refresh(name string) error {
	task, ok := a.sched.Task(name)
	if !ok {
		return fmt.Errorf("unknown refresh task: %s", name)
	}
	return task.RunNow()
}

// AssetDetails returns the details of one asset
func (a *App) AssetDetails(ctx context.Context, id string) (models.AssetSnapshot, error) {
	if a.svc.Crypto == nil {
		return models.AssetSnapshot{}, fmt.Errorf("crypto feed not initialized")
	}
	return a.svc.Crypto.AssetDetails(ctx, id)
}

// LiveStates returns the live ticker connection state per symbol
func (a *App) LiveStates() map[string]models.ConnectionState {
	if a.svc.Ticker == nil {
		return map[string]models.ConnectionState{}
	}
	return a.svc.Ticker.States()
}

// BreakerStatus returns the state of every circuit breaker
func (a *App) BreakerStatus() map[string]services.CircuitBreakerStatus {
	if a.svc.Breakers == nil {
		return map[string]services.CircuitBreakerStatus{}
	}
	return a.svc.Breakers.Status()
}

// Notifications lists queued notifications in category, newest first
func (a *App) Notifications(category models.NotificationCategory) []models.NotificationEvent {
	return a.queue.List(category)
}

// UnreadCount returns the number of unread notifications
func (a *App) UnreadCount() int {
	return a.queue.UnreadCount()
}

// MarkNotificationRead marks one notification as read and confirms with a toast
func (a *App) MarkNotificationRead(id string) error {
	parsed, err := ParseUUID(id)
	if err != nil {
		return err
	}
	if !a.queue.MarkRead(parsed) {
		return ErrNotificationNotFound
	}
	a.hub.Toast(models.Toast{
		Title:       "Notification marked as read",
		Description: "The notification has been marked as read.",
		Variant:     models.ToastDefault,
	})
	return nil
}

// MarkAllNotificationsRead marks every notification as read and confirms
// with a toast
func (a *App) MarkAllNotificationsRead() int {
	n := a.queue.MarkAllRead()
	a.hub.Toast(models.Toast{
		Title:       "All notifications marked as read",
		Description: "All notifications have been marked as read.",
		Variant:     models.ToastDefault,
	})
	return n
}

// Notify runs one notification synthesizer tick
func (a *App) Notify(ctx context.Context) *models.NotificationEvent {
	return a.synth.Tick(ctx)
}

// ParseUUID parses a notification ID
func ParseUUID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	return parsed, nil
}
