package store

import (
	"errors"
	"time"

	"publish-calendar-backend/internal/model"
)

var (
	// ErrNotFound is returned by single-record reads that matched nothing.
	ErrNotFound = errors.New("store: record not found")
	// ErrConcurrentUpdate is returned when an optimistic update keeps losing
	// to concurrent writers.
	ErrConcurrentUpdate = errors.New("store: too many concurrent updates")
)

// maxUpdateRetries bounds the compare-and-set loop of UpdateOwned.
const maxUpdateRetries = 5

// CalendarFilter narrows ListCalendars. Nil fields impose no constraint.
type CalendarFilter struct {
	IsActive    *bool
	CharacterID *string
	Offset      int
	Limit       int
}

// QueueFilter narrows ListItems. UserID is always required.
type QueueFilter struct {
	UserID     string
	CalendarID string
	Status     *model.QueueStatus
	Offset     int
	Limit      int
}

// StatusUpdate is the write side of a conditional queue transition.
type StatusUpdate struct {
	Status            model.QueueStatus
	At                time.Time
	PublishedAt       *time.Time
	Error             *string
	IncrementAttempts bool
}

// ReapResult counts what a stale-claim sweep did.
type ReapResult struct {
	Requeued int64
	Failed   int64
}

// StaleClaimError is the error recorded on items failed by the reaper.
const StaleClaimError = "claim expired: worker did not report an outcome"
