package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"publish-calendar-backend/config"
	"publish-calendar-backend/internal/api"
	"publish-calendar-backend/internal/calendar"
	"publish-calendar-backend/internal/clock"
	"publish-calendar-backend/internal/logging"
	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/publisher"
	"publish-calendar-backend/internal/queue"
	"publish-calendar-backend/internal/scheduler"
	"publish-calendar-backend/internal/stats"
	"publish-calendar-backend/internal/store"
	"publish-calendar-backend/internal/store/storetest"
	"publish-calendar-backend/internal/timezone"
)

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []*model.PublishJob
}

func (p *recordingPublisher) Publish(_ context.Context, job *model.PublishJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// TestPublishLifecycle drives one calendar from creation through scheduling,
// publishing and stats, checking the stored state at each step.
func TestPublishLifecycle(t *testing.T) {
	// --- Test Setup ---
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewGormStore(storetest.NewSQLite(t))
	// Sunday 23:58 in Tokyo.
	clk := clock.NewFake(time.Date(2024, 3, 3, 14, 58, 0, 0, time.UTC))
	log := logging.Discard()
	tz := timezone.NewConverter()

	queueSvc := queue.NewService(st, st, clk, config.ReaperConfig{StaleAfter: 10 * time.Minute, MaxAttempts: 3}, log)
	calendarSvc := calendar.NewService(st, queueSvc, tz, clk, log)
	schedulerSvc := scheduler.NewService(config.SchedulerConfig{Mode: config.ModeExact}, st, st, tz, clk, log)
	pub := &recordingPublisher{}
	pool := publisher.NewWorkerPool(config.WorkerConfig{Size: 2, BatchSize: 4}, queueSvc, pub, log)
	pool.Start(ctx)

	router := api.NewRouter(api.NewHandler(api.Deps{
		Calendars:     calendarSvc,
		Queue:         queueSvc,
		Stats:         stats.NewAggregator(st, clk, log),
		Subscriptions: st,
		Health:        st,
		Log:           log,
	}), config.ServerConfig{RateLimitPerSec: 100, RateLimitBurst: 100, UserHeader: "X-User-ID"})

	call := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req, _ := http.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", "user-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// 1. Create a calendar with a Monday 00:00 slot in Tokyo.
	w := call(http.MethodPost, "/api/calendars", map[string]any{
		"name":     "midnight drop",
		"timezone": "Asia/Tokyo",
		"slots":    []map[string]any{{"dayOfWeek": 1, "hour": 0, "minute": 0}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var cal model.PublishCalendar
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cal))

	// 2. Not due yet.
	res, err := schedulerSvc.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Calendars)
	assert.Equal(t, 0, res.Enqueued)

	// 3. Monday 00:00 Tokyo is Sunday 15:00 UTC.
	clk.Set(time.Date(2024, 3, 3, 15, 0, 20, 0, time.UTC))
	res, err = schedulerSvc.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)

	// A second scan in the same minute is a no-op.
	res, err = schedulerSvc.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Enqueued)
	assert.Equal(t, 1, res.Duplicates)

	items, total, err := st.ListItems(ctx, store.QueueFilter{UserID: "user-1", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	item := items[0]
	assert.Equal(t, model.StatusQueued, item.Status)
	assert.True(t, item.ScheduledAt.Equal(time.Date(2024, 3, 3, 15, 0, 0, 0, time.UTC)))

	// 4. The worker pool claims and publishes it.
	assert.Equal(t, 1, pool.DispatchOnce(ctx))
	require.Eventually(t, func() bool {
		got, err := st.GetItem(ctx, item.ID)
		return err == nil && got.Status == model.StatusPublished
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, pub.count())

	// 5. Calendar counters and stats reflect the publish.
	w = call(http.MethodGet, "/api/calendars/"+cal.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cal))
	assert.Equal(t, int64(1), cal.TotalPublished)
	require.NotNil(t, cal.LastPublishedAt)

	w = call(http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var s stats.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, 1, s.TotalCalendars)
	assert.Equal(t, 1, s.TotalSlots)
	assert.Equal(t, int64(1), s.PublishedItems)
	assert.Equal(t, int64(1), s.PublishedThisWeek)

	// 6. Next week's occurrence is cancelled by deleting the calendar.
	clk.Set(time.Date(2024, 3, 10, 15, 0, 5, 0, time.UTC))
	res, err = schedulerSvc.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)

	w = call(http.MethodDelete, "/api/calendars/"+cal.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":true,"cancelledQueueItems":1}`, w.Body.String())

	counts, err := st.CountByStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.StatusPublished])
	assert.Equal(t, int64(1), counts[model.StatusCancelled])
	assert.Zero(t, counts[model.StatusQueued])

	// 7. Nothing is due for a deleted calendar.
	res, err = schedulerSvc.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Calendars)
}
