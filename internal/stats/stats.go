// Package stats derives per-user calendar and queue counts.
package stats

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"publish-calendar-backend/internal/clock"
	"publish-calendar-backend/internal/model"
)

// Week is the trailing window of PublishedThisWeek.
const Week = 7 * 24 * time.Hour

// Source is the read side the aggregator needs from the stores.
type Source interface {
	CalendarSummaries(ctx context.Context, userID string) ([]model.CalendarSummary, error)
	CountByStatus(ctx context.Context, userID string) (map[model.QueueStatus]int64, error)
	CountPublishedSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// CalendarStats is the per-calendar part of Stats.
type CalendarStats struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"isActive"`
	SlotCount int    `json:"slotCount"`
}

// Stats is a user's dashboard summary.
type Stats struct {
	TotalCalendars    int             `json:"totalCalendars"`
	ActiveCalendars   int             `json:"activeCalendars"`
	InactiveCalendars int             `json:"inactiveCalendars"`
	TotalSlots        int             `json:"totalSlots"`
	Calendars         []CalendarStats `json:"calendars"`

	QueuedItems       int64 `json:"queuedItems"`
	ProcessingItems   int64 `json:"processingItems"`
	PublishedItems    int64 `json:"publishedItems"`
	FailedItems       int64 `json:"failedItems"`
	CancelledItems    int64 `json:"cancelledItems"`
	PublishedThisWeek int64 `json:"publishedThisWeek"`
}

// Aggregator computes Stats. It never writes.
type Aggregator struct {
	source Source
	clock  clock.Clock
	log    *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(source Source, clk clock.Clock, log *slog.Logger) *Aggregator {
	return &Aggregator{source: source, clock: clk, log: log.With("component", "stats")}
}

// ForUser computes the stats of one user. The three reads run concurrently.
func (a *Aggregator) ForUser(ctx context.Context, userID string) (Stats, error) {
	var (
		summaries []model.CalendarSummary
		counts    map[model.QueueStatus]int64
		thisWeek  int64
	)
	since := a.clock.Now().Add(-Week)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summaries, err = a.source.CalendarSummaries(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = a.source.CountByStatus(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		thisWeek, err = a.source.CountPublishedSince(gctx, userID, since)
		return err
	})
	if err := g.Wait(); err != nil {
		a.log.Error("failed to aggregate stats", "user_id", userID, "error", err)
		return Stats{}, err
	}

	st := Stats{
		TotalCalendars:    len(summaries),
		Calendars:         make([]CalendarStats, 0, len(summaries)),
		QueuedItems:       counts[model.StatusQueued],
		ProcessingItems:   counts[model.StatusProcessing],
		PublishedItems:    counts[model.StatusPublished],
		FailedItems:       counts[model.StatusFailed],
		CancelledItems:    counts[model.StatusCancelled],
		PublishedThisWeek: thisWeek,
	}
	for _, c := range summaries {
		if c.IsActive {
			st.ActiveCalendars++
		} else {
			st.InactiveCalendars++
		}
		st.TotalSlots += c.SlotCount
		st.Calendars = append(st.Calendars, CalendarStats(c))
	}
	return st, nil
}
