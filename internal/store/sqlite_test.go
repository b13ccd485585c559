package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/store/storetest"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func newCalendar(id, userID string, createdAt time.Time, slots ...model.Slot) *model.PublishCalendar {
	if slots == nil {
		slots = []model.Slot{}
	}
	return &model.PublishCalendar{
		ID:        id,
		UserID:    userID,
		Name:      "calendar " + id,
		IsActive:  true,
		Timezone:  "UTC",
		Slots:     slots,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func newItem(id, calendarID, slotID string, at time.Time, status model.QueueStatus) *model.CalendarQueueItem {
	return &model.CalendarQueueItem{
		ID:          id,
		CalendarID:  calendarID,
		UserID:      "user-1",
		SlotID:      slotID,
		ScheduledAt: at,
		Status:      status,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

func TestEnqueueIfAbsent_Idempotent(t *testing.T) {
	s := NewGormStore(storetest.NewSQLite(t))
	ctx := context.Background()

	inserted, err := s.EnqueueIfAbsent(ctx, newItem("a", "cal-1", "slot-1", base, model.StatusQueued))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.EnqueueIfAbsent(ctx, newItem("b", "cal-1", "slot-1", base, model.StatusQueued))
	require.NoError(t, err)
	assert.False(t, inserted, "same occurrence must not be enqueued twice")

	inserted, err = s.EnqueueIfAbsent(ctx, newItem("c", "cal-1", "slot-1", base.Add(7*24*time.Hour), model.StatusQueued))
	require.NoError(t, err)
	assert.True(t, inserted, "next week is a different occurrence")

	// A cancelled occurrence no longer blocks a fresh one.
	_, err = s.CancelForSlot(ctx, "cal-1", "slot-1", base)
	require.NoError(t, err)
	inserted, err = s.EnqueueIfAbsent(ctx, newItem("d", "cal-1", "slot-1", base, model.StatusQueued))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestCompareAndSwapStatus_SingleWinner(t *testing.T) {
	s := NewGormStore(storetest.NewSQLite(t))
	ctx := context.Background()

	_, err := s.EnqueueIfAbsent(ctx, newItem("a", "cal-1", "slot-1", base, model.StatusQueued))
	require.NoError(t, err)

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.CompareAndSwapStatus(ctx, "a", model.StatusQueued, StatusUpdate{Status: model.StatusProcessing, At: base})
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won)

	item, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, item.Status)
}

func TestUpdateOwned(t *testing.T) {
	s := NewGormStore(storetest.NewSQLite(t))
	ctx := context.Background()
	require.NoError(t, s.CreateCalendar(ctx, newCalendar("cal-1", "owner", base)))

	t.Run("other user does not match", func(t *testing.T) {
		cal, matched, err := s.UpdateOwned(ctx, "cal-1", "intruder", func(c *model.PublishCalendar) error {
			c.Name = "hijacked"
			return nil
		})
		require.NoError(t, err)
		assert.False(t, matched)
		assert.Nil(t, cal)

		stored, err := s.GetCalendar(ctx, "cal-1")
		require.NoError(t, err)
		assert.Equal(t, "calendar cal-1", stored.Name)
	})

	t.Run("owner update bumps version and slot count", func(t *testing.T) {
		cal, matched, err := s.UpdateOwned(ctx, "cal-1", "owner", func(c *model.PublishCalendar) error {
			c.Name = "renamed"
			c.IsActive = false
			c.Slots = append(c.Slots, model.Slot{ID: "slot-1", DayOfWeek: 1, Hour: 9, IsEnabled: true})
			c.UpdatedAt = base.Add(time.Minute)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, matched)
		assert.Equal(t, int64(1), cal.Version)

		stored, err := s.GetCalendar(ctx, "cal-1")
		require.NoError(t, err)
		assert.Equal(t, "renamed", stored.Name)
		assert.False(t, stored.IsActive)
		assert.Equal(t, 1, stored.EnabledSlotCount)
		assert.Len(t, stored.Slots, 1)
	})

	t.Run("mutate error aborts the write", func(t *testing.T) {
		boom := errors.New("boom")
		_, matched, err := s.UpdateOwned(ctx, "cal-1", "owner", func(c *model.PublishCalendar) error {
			c.Name = "never stored"
			return boom
		})
		assert.True(t, matched)
		assert.ErrorIs(t, err, boom)

		stored, err := s.GetCalendar(ctx, "cal-1")
		require.NoError(t, err)
		assert.Equal(t, "renamed", stored.Name)
	})
}

func TestListCalendars_PaginationAndFilters(t *testing.T) {
	s := NewGormStore(storetest.NewSQLite(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cal := newCalendar(fmt.Sprintf("cal-%d", i), "user-1", base.Add(time.Duration(i)*time.Hour))
		cal.IsActive = i%2 == 0
		require.NoError(t, s.CreateCalendar(ctx, cal))
	}
	require.NoError(t, s.CreateCalendar(ctx, newCalendar("other", "user-2", base)))

	page, total, err := s.ListCalendars(ctx, "user-1", CalendarFilter{Offset: 0, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, "cal-4", page[0].ID, "newest first")
	assert.Equal(t, "cal-3", page[1].ID)

	page, _, err = s.ListCalendars(ctx, "user-1", CalendarFilter{Offset: 4, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "cal-0", page[0].ID)

	active := true
	page, total, err = s.ListCalendars(ctx, "user-1", CalendarFilter{IsActive: &active, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 3)
}

func TestFindActiveWithEnabledSlots(t *testing.T) {
	s := NewGormStore(storetest.NewSQLite(t))
	ctx := context.Background()

	enabled := model.Slot{ID: "s1", DayOfWeek: 1, Hour: 9, IsEnabled: true}
	disabled := model.Slot{ID: "s2", DayOfWeek: 1, Hour: 10, IsEnabled: false}

	require.NoError(t, s.CreateCalendar(ctx, newCalendar("with-slot", "u", base, enabled)))
	require.NoError(t, s.CreateCalendar(ctx, newCalendar("only-disabled", "u", base, disabled)))
	require.NoError(t, s.CreateCalendar(ctx, newCalendar("empty", "u", base)))
	inactive := newCalendar("inactive", "u", base, enabled)
	inactive.IsActive = false
	require.NoError(t, s.CreateCalendar(ctx, inactive))

	cals, err := s.FindActiveWithEnabledSlots(ctx)
	require.NoError(t, err)
	require.Len(t, cals, 1)
	assert.Equal(t, "with-slot", cals[0].ID)
	assert.Equal(t, []model.Slot{enabled}, []model.Slot(cals[0].Slots))
}

func TestCancelForCalendar_OnlyPending(t *testing.T) {
	s := NewGormStore(storetest.NewSQLite(t))
	ctx := context.Background()

	statuses := []model.QueueStatus{
		model.StatusQueued, model.StatusQueued, model.StatusQueued,
		model.StatusProcessing, model.StatusProcessing,
		model.StatusPublished, model.StatusFailed,
	}
	for i, st := range statuses {
		_, err := s.EnqueueIfAbsent(ctx, newItem(fmt.Sprintf("i%d", i), "cal-1", "slot-1", base.Add(time.Duration(i)*time.Hour), st))
		require.NoError(t, err)
	}
	_, err := s.EnqueueIfAbsent(ctx, newItem("elsewhere", "cal-2", "slot-1", base, model.StatusQueued))
	require.NoError(t, err)

	n, err := s.CancelForCalendar(ctx, "cal-1", base)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = s.CancelForCalendar(ctx, "cal-1", base)
	require.NoError(t, err)
	assert.Zero(t, n)

	other, err := s.GetItem(ctx, "elsewhere")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, other.Status)
}

func TestResetStale(t *testing.T) {
	s := NewGormStore(storetest.NewSQLite(t))
	ctx := context.Background()

	stale := newItem("stale", "cal-1", "slot-1", base, model.StatusProcessing)
	exhausted := newItem("exhausted", "cal-1", "slot-1", base.Add(time.Hour), model.StatusProcessing)
	exhausted.Attempts = 2
	fresh := newItem("fresh", "cal-1", "slot-1", base.Add(2*time.Hour), model.StatusProcessing)
	fresh.UpdatedAt = base.Add(10 * time.Minute)
	for _, it := range []*model.CalendarQueueItem{stale, exhausted, fresh} {
		_, err := s.EnqueueIfAbsent(ctx, it)
		require.NoError(t, err)
	}

	now := base.Add(10 * time.Minute)
	res, err := s.ResetStale(ctx, base.Add(5*time.Minute), 3, now)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{Requeued: 1, Failed: 1}, res)

	got, err := s.GetItem(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)

	got, err = s.GetItem(ctx, "exhausted")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.Error)
	assert.Equal(t, StaleClaimError, *got.Error)

	got, err = s.GetItem(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
}

func TestCounts(t *testing.T) {
	s := NewGormStore(storetest.NewSQLite(t))
	ctx := context.Background()

	published := newItem("p1", "cal-1", "slot-1", base, model.StatusPublished)
	publishedAt := base.Add(time.Minute)
	published.PublishedAt = &publishedAt
	old := newItem("p2", "cal-1", "slot-1", base.Add(-10*24*time.Hour), model.StatusPublished)
	oldAt := base.Add(-10 * 24 * time.Hour)
	old.PublishedAt = &oldAt

	for _, it := range []*model.CalendarQueueItem{
		published, old,
		newItem("q1", "cal-1", "slot-1", base.Add(time.Hour), model.StatusQueued),
		newItem("f1", "cal-1", "slot-1", base.Add(2*time.Hour), model.StatusFailed),
	} {
		_, err := s.EnqueueIfAbsent(ctx, it)
		require.NoError(t, err)
	}

	counts, err := s.CountByStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, map[model.QueueStatus]int64{
		model.StatusPublished: 2,
		model.StatusQueued:    1,
		model.StatusFailed:    1,
	}, counts)

	n, err := s.CountPublishedSince(ctx, "user-1", base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err = s.CountByStatus(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestSubscriptions(t *testing.T) {
	s := NewGormStore(storetest.NewSQLite(t))
	ctx := context.Background()

	sub := &model.PushSubscription{Endpoint: "https://push.example/1", UserID: "u1", P256DH: "k", Auth: "a", CreatedAt: base}
	require.NoError(t, s.UpsertSubscription(ctx, sub))

	// Re-subscribing the same endpoint moves it to the new user.
	moved := &model.PushSubscription{Endpoint: "https://push.example/1", UserID: "u2", P256DH: "k2", Auth: "a2", CreatedAt: base}
	require.NoError(t, s.UpsertSubscription(ctx, moved))

	subs, err := s.SubscriptionsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, subs)
	subs, err = s.SubscriptionsForUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "k2", subs[0].P256DH)

	deleted, err := s.DeleteSubscription(ctx, "https://push.example/1", "u1")
	require.NoError(t, err)
	assert.False(t, deleted)
	deleted, err = s.DeleteSubscription(ctx, "https://push.example/1", "u2")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetSubscription(ctx, "https://push.example/1")
	assert.ErrorIs(t, err, ErrNotFound)
}
