package store

import (
	"context"
	"time"

	"publish-calendar-backend/internal/model"
)

// CalendarRepository persists PublishCalendar documents. Every write that
// can be issued by a user is scoped by (id, ownerID).
type CalendarRepository interface {
	CreateCalendar(ctx context.Context, cal *model.PublishCalendar) error
	GetCalendar(ctx context.Context, id string) (*model.PublishCalendar, error)
	ListCalendars(ctx context.Context, userID string, filter CalendarFilter) ([]model.PublishCalendar, int64, error)
	// UpdateOwned loads the calendar matching (id, ownerID), applies mutate
	// and writes it back only if nobody else wrote in between. matched is
	// false when no calendar matched the scope. An error from mutate aborts
	// the write and is returned as is.
	UpdateOwned(ctx context.Context, id, ownerID string, mutate func(*model.PublishCalendar) error) (updated *model.PublishCalendar, matched bool, err error)
	DeleteOwned(ctx context.Context, id, ownerID string) (bool, error)
	IncrementPublishCount(ctx context.Context, id string, at time.Time) error
	FindActiveWithEnabledSlots(ctx context.Context) ([]model.PublishCalendar, error)
	CalendarSummaries(ctx context.Context, userID string) ([]model.CalendarSummary, error)
}

// QueueRepository persists CalendarQueueItem documents. All status changes
// are conditional on the current status.
type QueueRepository interface {
	// EnqueueIfAbsent inserts item unless a non-cancelled item with the same
	// (CalendarID, SlotID, ScheduledAt) exists. It reports whether it inserted.
	EnqueueIfAbsent(ctx context.Context, item *model.CalendarQueueItem) (bool, error)
	GetItem(ctx context.Context, id string) (*model.CalendarQueueItem, error)
	ListQueued(ctx context.Context, limit int) ([]model.CalendarQueueItem, error)
	CompareAndSwapStatus(ctx context.Context, id string, from model.QueueStatus, upd StatusUpdate) (bool, error)
	CancelForCalendar(ctx context.Context, calendarID string, at time.Time) (int64, error)
	CancelForSlot(ctx context.Context, calendarID, slotID string, at time.Time) (int64, error)
	ResetStale(ctx context.Context, staleBefore time.Time, maxAttempts int, at time.Time) (ReapResult, error)
	ListItems(ctx context.Context, filter QueueFilter) ([]model.CalendarQueueItem, int64, error)
	CountByStatus(ctx context.Context, userID string) (map[model.QueueStatus]int64, error)
	CountPublishedSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// SubscriptionRepository persists browser push subscriptions.
type SubscriptionRepository interface {
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint, userID string) (bool, error)
	SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
}

// Store defines the interface for all database operations.
type Store interface {
	CalendarRepository
	QueueRepository
	SubscriptionRepository
	Ping(ctx context.Context) error
}
