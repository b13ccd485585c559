// Package queue owns the lifecycle of calendar queue items: atomic claims,
// outcome reporting, cascading cancellation and recovery of stale claims.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"publish-calendar-backend/config"
	"publish-calendar-backend/internal/clock"
	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/store"
)

// CalendarLookup is the part of the calendar repository the queue needs.
type CalendarLookup interface {
	GetCalendar(ctx context.Context, id string) (*model.PublishCalendar, error)
	IncrementPublishCount(ctx context.Context, id string, at time.Time) error
}

// Service implements the queue state machine on top of a QueueRepository.
type Service struct {
	items     store.QueueRepository
	calendars CalendarLookup
	clock     clock.Clock
	reaper    config.ReaperConfig
	log       *slog.Logger
}

// NewService creates a queue service.
func NewService(items store.QueueRepository, calendars CalendarLookup, clk clock.Clock, reaper config.ReaperConfig, log *slog.Logger) *Service {
	if reaper.MaxAttempts <= 0 {
		reaper.MaxAttempts = 3
	}
	if reaper.StaleAfter <= 0 {
		reaper.StaleAfter = 10 * time.Minute
	}
	if reaper.Interval <= 0 {
		reaper.Interval = time.Minute
	}
	return &Service{
		items:     items,
		calendars: calendars,
		clock:     clk,
		reaper:    reaper,
		log:       log.With("component", "queue"),
	}
}

// ItemPage is a page of queue items.
type ItemPage struct {
	Items      []model.CalendarQueueItem `json:"items"`
	Total      int64                     `json:"total"`
	Page       int                       `json:"page"`
	Limit      int                       `json:"limit"`
	TotalPages int                       `json:"totalPages"`
}

// ClaimNext claims up to limit queued items, oldest occurrence first. Each
// claim is a conditional update, so an item is returned to exactly one
// caller. Items already claimed are returned even if a later claim fails.
func (s *Service) ClaimNext(ctx context.Context, limit int) ([]model.CalendarQueueItem, error) {
	if limit <= 0 {
		limit = 1
	}
	candidates, err := s.items.ListQueued(ctx, limit)
	if err != nil {
		return nil, err
	}

	claimed := make([]model.CalendarQueueItem, 0, len(candidates))
	for _, item := range candidates {
		now := s.clock.Now()
		ok, err := s.items.CompareAndSwapStatus(ctx, item.ID, model.StatusQueued, store.StatusUpdate{
			Status: model.StatusProcessing,
			At:     now,
		})
		if err != nil {
			return claimed, err
		}
		if !ok {
			// Another worker won this one.
			continue
		}
		item.Status = model.StatusProcessing
		item.UpdatedAt = now
		claimed = append(claimed, item)
	}
	return claimed, nil
}

// MarkPublished records a successful publish and bumps the parent
// calendar's counter. The counter update is a follow-up: its failure is
// logged and does not undo the transition.
func (s *Service) MarkPublished(ctx context.Context, id string) (*model.CalendarQueueItem, error) {
	now := s.clock.Now()
	item, err := s.transition(ctx, id, model.StatusPublished, store.StatusUpdate{
		Status:      model.StatusPublished,
		At:          now,
		PublishedAt: &now,
	})
	if err != nil {
		return nil, err
	}

	if err := s.calendars.IncrementPublishCount(ctx, item.CalendarID, now); err != nil {
		s.log.Error("publish count not incremented",
			"item_id", item.ID, "calendar_id", item.CalendarID, "error", err)
	}
	return item, nil
}

// MarkFailed records a failed publish attempt.
func (s *Service) MarkFailed(ctx context.Context, id, reason string) (*model.CalendarQueueItem, error) {
	return s.transition(ctx, id, model.StatusFailed, store.StatusUpdate{
		Status:            model.StatusFailed,
		At:                s.clock.Now(),
		Error:             &reason,
		IncrementAttempts: true,
	})
}

// Cancel cancels a single pending item owned by userID. Items of other users
// are reported as not found.
func (s *Service) Cancel(ctx context.Context, id, userID string) (*model.CalendarQueueItem, error) {
	item, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, model.ErrQueueItemNotFound
	}
	return s.transition(ctx, id, model.StatusCancelled, store.StatusUpdate{
		Status: model.StatusCancelled,
		At:     s.clock.Now(),
	})
}

// CancelForCalendar cancels every queued or processing item of a calendar
// and returns how many were cancelled.
func (s *Service) CancelForCalendar(ctx context.Context, calendarID string) (int64, error) {
	n, err := s.items.CancelForCalendar(ctx, calendarID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("cancelled pending items", "calendar_id", calendarID, "count", n)
	}
	return n, nil
}

// CancelForSlot cancels the pending items generated by one slot.
func (s *Service) CancelForSlot(ctx context.Context, calendarID, slotID string) (int64, error) {
	n, err := s.items.CancelForSlot(ctx, calendarID, slotID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("cancelled pending items", "calendar_id", calendarID, "slot_id", slotID, "count", n)
	}
	return n, nil
}

// JobContext returns what a worker needs to publish a claimed item.
func (s *Service) JobContext(ctx context.Context, id string) (*model.PublishJob, error) {
	item, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	cal, err := s.calendars.GetCalendar(ctx, item.CalendarID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("calendar %s of item %s: %w", item.CalendarID, id, model.ErrCalendarNotFound)
	}
	if err != nil {
		return nil, err
	}

	slot, ok := cal.FindSlot(item.SlotID)
	if !ok {
		return nil, fmt.Errorf("slot %s of item %s no longer exists: %w", item.SlotID, id, model.ErrCalendarNotFound)
	}
	return &model.PublishJob{Item: *item, Calendar: *cal, Slot: slot}, nil
}

// List returns a page of a user's items, newest occurrence first.
func (s *Service) List(ctx context.Context, filter store.QueueFilter, page int) (ItemPage, error) {
	if page < 1 {
		page = 1
	}
	filter.Offset = (page - 1) * filter.Limit

	items, total, err := s.items.ListItems(ctx, filter)
	if err != nil {
		return ItemPage{}, err
	}
	if items == nil {
		items = []model.CalendarQueueItem{}
	}

	totalPages := 0
	if filter.Limit > 0 {
		totalPages = int((total + int64(filter.Limit) - 1) / int64(filter.Limit))
	}
	return ItemPage{Items: items, Total: total, Page: page, Limit: filter.Limit, TotalPages: totalPages}, nil
}

// ReapStale returns processing items whose claim has gone stale to the
// queue, or fails them once they have used up their attempts.
func (s *Service) ReapStale(ctx context.Context) (store.ReapResult, error) {
	now := s.clock.Now()
	res, err := s.items.ResetStale(ctx, now.Add(-s.reaper.StaleAfter), s.reaper.MaxAttempts, now)
	if err != nil {
		return store.ReapResult{}, err
	}
	if res.Requeued > 0 || res.Failed > 0 {
		s.log.Warn("reaped stale claims", "requeued", res.Requeued, "failed", res.Failed)
	}
	return res, nil
}

// RunReaper calls ReapStale on every reaper interval until ctx is done.
func (s *Service) RunReaper(ctx context.Context) {
	if !s.reaper.Enabled {
		s.log.Info("reaper is disabled, not starting")
		return
	}
	s.log.Info("starting reaper", "interval", s.reaper.Interval, "stale_after", s.reaper.StaleAfter)

	ticker := time.NewTicker(s.reaper.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("reaper shutting down")
			return
		case <-ticker.C:
			if _, err := s.ReapStale(ctx); err != nil {
				s.log.Error("reaper pass failed", "error", err)
			}
		}
	}
}

func (s *Service) get(ctx context.Context, id string) (*model.CalendarQueueItem, error) {
	item, err := s.items.GetItem(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrQueueItemNotFound
	}
	return item, err
}

// transition moves an item to a new status if the state machine allows it.
// The write is conditional on the status that was checked; when that status
// changes underneath, the check is repeated against the new one.
func (s *Service) transition(ctx context.Context, id string, to model.QueueStatus, upd store.StatusUpdate) (*model.CalendarQueueItem, error) {
	for attempt := 0; attempt < len(model.AllStatuses); attempt++ {
		item, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}

		if !CanTransition(item.Status, to) {
			illegal := &model.IllegalTransitionError{ItemID: id, From: item.Status, To: to}
			s.log.Error("illegal queue transition rejected",
				"item_id", id, "from", item.Status, "to", to)
			return nil, illegal
		}

		ok, err := s.items.CompareAndSwapStatus(ctx, id, item.Status, upd)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.get(ctx, id)
		}
	}
	return nil, store.ErrConcurrentUpdate
}
