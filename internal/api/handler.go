package api

import (
	"context"
	"log/slog"

	"github.com/SherClockHolmes/webpush-go"

	"publish-calendar-backend/internal/calendar"
	"publish-calendar-backend/internal/mw"
	"publish-calendar-backend/internal/queue"
	"publish-calendar-backend/internal/stats"
	"publish-calendar-backend/internal/store"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the handlers call into.
type Deps struct {
	Calendars     *calendar.Service
	Queue         *queue.Service
	Stats         *stats.Aggregator
	Subscriptions store.SubscriptionRepository
	Health        Pinger
	WebPush       *webpush.Options
	Cache         *mw.ResponseCache
	Log           *slog.Logger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	calendars     *calendar.Service
	queue         *queue.Service
	stats         *stats.Aggregator
	subscriptions store.SubscriptionRepository
	health        Pinger
	webpush       *webpush.Options
	cache         *mw.ResponseCache
	log           *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		calendars:     d.Calendars,
		queue:         d.Queue,
		stats:         d.Stats,
		subscriptions: d.Subscriptions,
		health:        d.Health,
		webpush:       d.WebPush,
		cache:         d.Cache,
		log:           log.With("component", "api"),
	}
}
