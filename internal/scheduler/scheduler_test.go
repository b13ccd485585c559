package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"publish-calendar-backend/config"
	"publish-calendar-backend/internal/clock"
	"publish-calendar-backend/internal/logging"
	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/timezone"
)

type fakeSource struct {
	calendars []model.PublishCalendar
	err       error
}

func (f *fakeSource) FindActiveWithEnabledSlots(context.Context) ([]model.PublishCalendar, error) {
	return f.calendars, f.err
}

type occurrenceKey struct {
	calendarID, slotID string
	at                 time.Time
}

// memQueue dedupes on the occurrence key like the real repositories.
type memQueue struct {
	mu    sync.Mutex
	items map[occurrenceKey]*model.CalendarQueueItem
	err   error
}

func newMemQueue() *memQueue {
	return &memQueue{items: make(map[occurrenceKey]*model.CalendarQueueItem)}
}

func (q *memQueue) EnqueueIfAbsent(_ context.Context, item *model.CalendarQueueItem) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	key := occurrenceKey{item.CalendarID, item.SlotID, item.ScheduledAt}
	if _, exists := q.items[key]; exists {
		return false, nil
	}
	q.items[key] = item
	return true, nil
}

func (q *memQueue) all() []*model.CalendarQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.CalendarQueueItem, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it)
	}
	return out
}

func mondayCalendar(tz string) model.PublishCalendar {
	return model.PublishCalendar{
		ID:       "cal-1",
		UserID:   "user-1",
		Name:     "weekly",
		IsActive: true,
		Timezone: tz,
		Slots: []model.Slot{
			{ID: "mon-9", DayOfWeek: 1, Hour: 9, Minute: 0, IsEnabled: true},
			{ID: "mon-9-off", DayOfWeek: 1, Hour: 9, Minute: 0, IsEnabled: false},
		},
		CreatedAt: monday9.Add(-30 * 24 * time.Hour),
	}
}

func newTestService(cfg config.SchedulerConfig, src CalendarSource, q Enqueuer, clk clock.Clock) *Service {
	return NewService(cfg, src, q, timezone.NewConverter(), clk, logging.Discard())
}

func TestScanOnce_EnqueuesDueSlotExactlyOnce(t *testing.T) {
	clk := clock.NewFake(monday9)
	q := newMemQueue()
	svc := newTestService(config.SchedulerConfig{}, &fakeSource{calendars: []model.PublishCalendar{mondayCalendar("UTC")}}, q, clk)

	res, err := svc.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Calendars: 1, Due: 1, Enqueued: 1}, res)

	items := q.all()
	require.Len(t, items, 1)
	assert.Equal(t, "mon-9", items[0].SlotID)
	assert.Equal(t, "user-1", items[0].UserID)
	assert.Equal(t, model.StatusQueued, items[0].Status)
	assert.Equal(t, monday9, items[0].ScheduledAt)

	// Overlapping poll within the same minute.
	clk.Advance(20 * time.Second)
	res, err = svc.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Calendars: 1, Due: 1, Duplicates: 1}, res)

	// One minute later nothing is due.
	clk.Set(monday9.Add(time.Minute))
	res, err = svc.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due)
	assert.Len(t, q.all(), 1)
}

func TestScanOnce_UsesCalendarTimezone(t *testing.T) {
	// 09:00 in Tokyo on Monday is 00:00 UTC the same day.
	tokyoNine := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	q := newMemQueue()
	svc := newTestService(config.SchedulerConfig{}, &fakeSource{calendars: []model.PublishCalendar{mondayCalendar("Asia/Tokyo")}}, q, clock.NewFake(tokyoNine))

	res, err := svc.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
	assert.Equal(t, tokyoNine, q.all()[0].ScheduledAt)

	svc = newTestService(config.SchedulerConfig{}, &fakeSource{calendars: []model.PublishCalendar{mondayCalendar("Asia/Tokyo")}}, newMemQueue(), clock.NewFake(monday9))
	res, err = svc.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due)
}

func TestScanOnce_CountsErrors(t *testing.T) {
	broken := mondayCalendar("Mars/Olympus_Mons")
	broken.ID = "broken"
	src := &fakeSource{calendars: []model.PublishCalendar{broken, mondayCalendar("UTC")}}

	svc := newTestService(config.SchedulerConfig{}, src, newMemQueue(), clock.NewFake(monday9))
	res, err := svc.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Calendars: 2, Due: 1, Enqueued: 1, Errors: 1}, res)

	failing := newMemQueue()
	failing.err = errors.New("store down")
	svc = newTestService(config.SchedulerConfig{}, &fakeSource{calendars: []model.PublishCalendar{mondayCalendar("UTC")}}, failing, clock.NewFake(monday9))
	res, err = svc.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)

	svc = newTestService(config.SchedulerConfig{}, &fakeSource{err: errors.New("store down")}, newMemQueue(), clock.NewFake(monday9))
	_, err = svc.ScanOnce(context.Background())
	assert.Error(t, err)
}

func TestScanOnce_CatchUpEnqueuesMissedOccurrenceOnce(t *testing.T) {
	// The process was down at 09:00 and comes back at 09:25.
	clk := clock.NewFake(monday9.Add(25 * time.Minute))
	q := newMemQueue()
	cfg := config.SchedulerConfig{Mode: config.ModeCatchUp, CatchUpWindow: time.Hour}
	svc := newTestService(cfg, &fakeSource{calendars: []model.PublishCalendar{mondayCalendar("UTC")}}, q, clk)

	res, err := svc.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
	assert.Equal(t, monday9, q.all()[0].ScheduledAt)

	clk.Advance(time.Minute)
	res, err = svc.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Enqueued)
	assert.Equal(t, 1, res.Duplicates)

	// Exact mode skips the missed minute.
	exact := newTestService(config.SchedulerConfig{}, &fakeSource{calendars: []model.PublishCalendar{mondayCalendar("UTC")}}, newMemQueue(), clock.NewFake(monday9.Add(25*time.Minute)))
	res, err = exact.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due)
}

func TestRun_StopsOnCancel(t *testing.T) {
	q := newMemQueue()
	cfg := config.SchedulerConfig{Enabled: true, Interval: 10 * time.Millisecond}
	svc := newTestService(cfg, &fakeSource{calendars: []model.PublishCalendar{mondayCalendar("UTC")}}, q, clock.NewFake(monday9))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(q.all()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
