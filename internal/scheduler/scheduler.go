// Package scheduler turns weekly calendar slots into queue items. A scan
// enqueues one item per due occurrence; re-scanning the same minute is a
// no-op because enqueue is insert-if-absent on the occurrence key.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"publish-calendar-backend/config"
	"publish-calendar-backend/internal/clock"
	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/timezone"
)

// CalendarSource supplies the calendars eligible for scheduling.
type CalendarSource interface {
	FindActiveWithEnabledSlots(ctx context.Context) ([]model.PublishCalendar, error)
}

// Enqueuer inserts a queue item unless its occurrence is already queued.
type Enqueuer interface {
	EnqueueIfAbsent(ctx context.Context, item *model.CalendarQueueItem) (bool, error)
}

// ScanResult summarizes one scan.
type ScanResult struct {
	Calendars  int
	Due        int
	Enqueued   int
	Duplicates int
	Errors     int
}

// Service periodically scans active calendars for due slots.
type Service struct {
	cfg       config.SchedulerConfig
	calendars CalendarSource
	queue     Enqueuer
	tz        *timezone.Converter
	clock     clock.Clock
	log       *slog.Logger

	scans singleflight.Group
}

// NewService creates a scheduler service.
func NewService(cfg config.SchedulerConfig, calendars CalendarSource, queue Enqueuer, tz *timezone.Converter, clk clock.Clock, log *slog.Logger) *Service {
	if cfg.Interval <= 0 || cfg.Interval > config.MaxSchedulerInterval {
		cfg.Interval = config.MaxSchedulerInterval
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModeExact
	}
	if cfg.Mode == config.ModeCatchUp && cfg.CatchUpWindow <= 0 {
		cfg.CatchUpWindow = time.Hour
	}
	return &Service{
		cfg:       cfg,
		calendars: calendars,
		queue:     queue,
		tz:        tz,
		clock:     clk,
		log:       log.With("component", "scheduler"),
	}
}

// Run scans immediately and then on every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("scheduler is disabled, not starting")
		return
	}
	s.log.Info("starting scheduler", "interval", s.cfg.Interval, "mode", s.cfg.Mode)

	s.scanAndLog(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler shutting down")
			return
		case <-timer.C:
			s.scanAndLog(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Service) scanAndLog(ctx context.Context) {
	res, err := s.ScanOnce(ctx)
	if err != nil {
		s.log.Error("scan failed", "error", err)
		return
	}
	level := slog.LevelDebug
	if res.Enqueued > 0 || res.Errors > 0 {
		level = slog.LevelInfo
	}
	s.log.Log(ctx, level, "scan finished",
		"calendars", res.Calendars,
		"due", res.Due,
		"enqueued", res.Enqueued,
		"duplicates", res.Duplicates,
		"errors", res.Errors)
}

// ScanOnce runs a single scan. Concurrent callers share the scan already in
// flight instead of starting another.
func (s *Service) ScanOnce(ctx context.Context) (ScanResult, error) {
	v, err, _ := s.scans.Do("scan", func() (any, error) {
		return s.scan(ctx)
	})
	if err != nil {
		return ScanResult{}, err
	}
	return v.(ScanResult), nil
}

func (s *Service) scan(ctx context.Context) (ScanResult, error) {
	now := s.clock.Now().UTC()

	calendars, err := s.calendars.FindActiveWithEnabledSlots(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to load active calendars: %w", err)
	}

	res := ScanResult{Calendars: len(calendars)}
	for i := range calendars {
		cal := &calendars[i]

		loc, err := s.tz.Location(cal.Timezone)
		if err != nil {
			s.log.Warn("skipping calendar with unknown timezone",
				"calendar_id", cal.ID, "timezone", cal.Timezone, "error", err)
			res.Errors++
			continue
		}

		for _, slot := range cal.Slots {
			if !slot.IsEnabled {
				continue
			}
			at, due := s.due(now, loc, cal, slot)
			if !due {
				continue
			}
			res.Due++

			item := &model.CalendarQueueItem{
				ID:          uuid.NewString(),
				CalendarID:  cal.ID,
				UserID:      cal.UserID,
				SlotID:      slot.ID,
				ScheduledAt: at,
				Status:      model.StatusQueued,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			inserted, err := s.queue.EnqueueIfAbsent(ctx, item)
			if err != nil {
				s.log.Error("failed to enqueue occurrence",
					"calendar_id", cal.ID, "slot_id", slot.ID, "scheduled_at", at, "error", err)
				res.Errors++
				continue
			}
			if inserted {
				res.Enqueued++
				s.log.Debug("enqueued occurrence",
					"item_id", item.ID, "calendar_id", cal.ID, "slot_id", slot.ID, "scheduled_at", at)
			} else {
				res.Duplicates++
			}
		}
	}
	return res, nil
}

func (s *Service) due(now time.Time, loc *time.Location, cal *model.PublishCalendar, slot model.Slot) (time.Time, bool) {
	if s.cfg.Mode == config.ModeCatchUp {
		return DueCatchUp(now, loc, slot, s.cfg.CatchUpWindow, cal.CreatedAt)
	}
	return DueExact(now, loc, slot)
}
