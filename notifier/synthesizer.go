// Package notifier synthesizes demo alerts from the tracked market and a
// fixed weather catalogue.
package notifier

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"market-pulse/models"
	"market-pulse/observability"
)

// maxAlertCandidates limits asset alerts to the top-ranked snapshots
const maxAlertCandidates = 5

// Toaster delivers transient user-facing messages
type Toaster interface {
	Toast(toast models.Toast)
}

// AssetSource provides the current tracked asset snapshots
type AssetSource interface {
	Snapshots() []models.AssetSnapshot
}

// Condition is a simulated weather hazard
type Condition struct {
	Type        string
	Description string
}

// Conditions is the fixed catalogue of condition alerts
var Conditions = []Condition{
	{Type: "rain", Description: "Rain expected"},
	{Type: "extreme heat", Description: "Temperatures above 30°C"},
	{Type: "high winds", Description: "Wind speeds above 20 km/h"},
	{Type: "storm", Description: "Thunderstorms possible"},
}

// Config holds the per-tick probabilities
type Config struct {
	CryptoWeight  float64
	WeatherWeight float64
	Locations     []string
}

// Synthesizer produces at most one notification per tick
type Synthesizer struct {
	assets  AssetSource
	queue   *Queue
	toaster Toaster
	cfg     Config

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSynthesizer creates a synthesizer writing to queue and toaster
func NewSynthesizer(assets AssetSource, queue *Queue, toaster Toaster, cfg Config) *Synthesizer {
	seed := uint64(time.Now().UnixNano())
	return &Synthesizer{
		assets:  assets,
		queue:   queue,
		toaster: toaster,
		cfg:     cfg,
		rnd:     rand.New(rand.NewPCG(seed, seed>>1)),
	}
}

// SetRand replaces the random source
func (s *Synthesizer) SetRand(rnd *rand.Rand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rnd = rnd
}

// Tick rolls once and emits an asset alert, a condition alert or nothing.
// It never fails; problems are logged. The returned event is a copy of the
// queued one.
func (s *Synthesizer) Tick(ctx context.Context) (ev *models.NotificationEvent) {
	defer func() {
		if r := recover(); r != nil {
			observability.Error("notification tick panicked", "panic", r)
			ev = nil
		}
	}()

	if ctx.Err() != nil {
		return nil
	}

	roll := s.float()
	switch {
	case roll < s.cfg.CryptoWeight:
		ev = s.assetAlert()
	case roll < s.cfg.CryptoWeight+s.cfg.WeatherWeight:
		ev = s.conditionAlert()
	default:
		return nil
	}
	if ev == nil {
		return nil
	}

	s.queue.Push(ev)
	observability.GetMetrics().RecordNotification(string(ev.Category))
	if s.toaster != nil {
		s.toaster.Toast(models.Toast{
			Title:       ev.Title,
			Description: ev.Body,
			Variant:     models.ToastDefault,
		})
	}
	observability.Debug("notification synthesized", "category", ev.Category, "title", ev.Title)

	// The queued event is owned by the queue; callers get their own copy
	out := *ev
	if ev.Magnitude != nil {
		magnitude := *ev.Magnitude
		out.Magnitude = &magnitude
	}
	return &out
}

func (s *Synthesizer) assetAlert() *models.NotificationEvent {
	if s.assets == nil {
		return nil
	}
	snapshots := s.assets.Snapshots()
	if len(snapshots) == 0 {
		observability.Debug("no tracked assets for an asset alert")
		return nil
	}

	n := min(maxAlertCandidates, len(snapshots))
	asset := snapshots[s.intN(n)]

	verb, move := "decreased", "fell"
	if asset.Change24h > 0 {
		verb, move = "increased", "rose"
	}
	magnitude := math.Abs(asset.Change24h)

	ev := models.NewNotificationEvent(
		models.CategoryAssetAlert,
		fmt.Sprintf("%s %s by %.2f%%", asset.Name, verb, magnitude),
		fmt.Sprintf("%s price %s to $%s in the last hour.", asset.Name, move, asset.Price.StringFixed(2)),
	)
	ev.Direction = asset.Direction()
	ev.Magnitude = &magnitude
	return ev
}

func (s *Synthesizer) conditionAlert() *models.NotificationEvent {
	if len(s.cfg.Locations) == 0 {
		observability.Debug("no locations configured for a condition alert")
		return nil
	}

	city := s.cfg.Locations[s.intN(len(s.cfg.Locations))]
	condition := Conditions[s.intN(len(Conditions))]

	return models.NewNotificationEvent(
		models.CategoryConditionAlert,
		fmt.Sprintf("Weather Alert: %s in %s", condition.Type, city),
		fmt.Sprintf("%s in %s in the next few hours.", condition.Description, city),
	)
}

func (s *Synthesizer) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

func (s *Synthesizer) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.IntN(n)
}
