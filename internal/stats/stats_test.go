package stats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"publish-calendar-backend/internal/clock"
	"publish-calendar-backend/internal/logging"
	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/store"
	"publish-calendar-backend/internal/store/storetest"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func seedCalendar(t *testing.T, st store.Store, id, userID string, active bool, slots int) {
	t.Helper()
	cal := &model.PublishCalendar{
		ID: id, UserID: userID, Name: id, IsActive: active, Timezone: "UTC",
		Slots: []model.Slot{}, CreatedAt: now, UpdatedAt: now,
	}
	for i := 0; i < slots; i++ {
		cal.Slots = append(cal.Slots, model.Slot{ID: fmt.Sprintf("%s-s%d", id, i), DayOfWeek: i % 7, Hour: 9, IsEnabled: true})
	}
	require.NoError(t, st.CreateCalendar(context.Background(), cal))
}

func seedItems(t *testing.T, st store.Store, userID string, status model.QueueStatus, n int, publishedAt time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		item := &model.CalendarQueueItem{
			ID:          fmt.Sprintf("%s-%s-%d-%d", userID, status, i, publishedAt.Unix()),
			CalendarID:  userID + "-cal",
			UserID:      userID,
			SlotID:      "c1-s0",
			ScheduledAt: publishedAt.Add(-time.Duration(i+1) * time.Hour),
			Status:      status,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if status == model.StatusPublished {
			at := publishedAt
			item.PublishedAt = &at
		}
		inserted, err := st.EnqueueIfAbsent(context.Background(), item)
		require.NoError(t, err)
		require.True(t, inserted)
	}
}

func TestForUser(t *testing.T) {
	st := store.NewGormStore(storetest.NewSQLite(t))

	seedCalendar(t, st, "c1", "user-1", true, 2)
	seedCalendar(t, st, "c2", "user-1", true, 1)
	seedCalendar(t, st, "c3", "user-1", false, 1)
	seedCalendar(t, st, "other", "user-2", true, 5)

	seedItems(t, st, "user-1", model.StatusQueued, 2, now.Add(24*time.Hour))
	seedItems(t, st, "user-1", model.StatusProcessing, 1, now)
	seedItems(t, st, "user-1", model.StatusPublished, 3, now.Add(-2*24*time.Hour))
	seedItems(t, st, "user-1", model.StatusPublished, 2, now.Add(-20*24*time.Hour))
	seedItems(t, st, "user-1", model.StatusFailed, 1, now.Add(-3*time.Hour))
	seedItems(t, st, "user-2", model.StatusPublished, 4, now.Add(-time.Hour))

	agg := NewAggregator(st, clock.NewFake(now), logging.Discard())
	got, err := agg.ForUser(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 3, got.TotalCalendars)
	assert.Equal(t, 2, got.ActiveCalendars)
	assert.Equal(t, 1, got.InactiveCalendars)
	assert.Equal(t, 4, got.TotalSlots)
	assert.Equal(t, int64(2), got.QueuedItems)
	assert.Equal(t, int64(1), got.ProcessingItems)
	assert.Equal(t, int64(5), got.PublishedItems)
	assert.Equal(t, int64(1), got.FailedItems)
	assert.Zero(t, got.CancelledItems)
	assert.Equal(t, int64(3), got.PublishedThisWeek)

	require.Len(t, got.Calendars, 3)
	slots := map[string]int{}
	for _, c := range got.Calendars {
		slots[c.ID] = c.SlotCount
	}
	assert.Equal(t, map[string]int{"c1": 2, "c2": 1, "c3": 1}, slots)
}

func TestForUser_Empty(t *testing.T) {
	st := store.NewGormStore(storetest.NewSQLite(t))
	got, err := NewAggregator(st, clock.NewFake(now), logging.Discard()).ForUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, Stats{Calendars: []CalendarStats{}}, got)
}

type brokenSource struct{ store.Store }

func (brokenSource) CountByStatus(context.Context, string) (map[model.QueueStatus]int64, error) {
	return nil, errors.New("timeout")
}

func TestForUser_PropagatesErrors(t *testing.T) {
	st := store.NewGormStore(storetest.NewSQLite(t))
	_, err := NewAggregator(brokenSource{st}, clock.NewFake(now), logging.Discard()).ForUser(context.Background(), "user-1")
	assert.Error(t, err)
}
