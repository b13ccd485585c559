package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/mw"
	"publish-calendar-backend/internal/store"
)

const (
	defaultQueueLimit = 20
	maxQueueLimit     = 100
)

// ListCalendarQueue handles GET /api/calendars/:id/queue.
func (h *Handler) ListCalendarQueue(c *gin.Context) {
	h.listQueue(c, c.Param("id"))
}

// ListQueue handles GET /api/queue, optionally narrowed by ?calendarId=.
func (h *Handler) ListQueue(c *gin.Context) {
	h.listQueue(c, c.Query("calendarId"))
}

func (h *Handler) listQueue(c *gin.Context, calendarID string) {
	filter := store.QueueFilter{UserID: mw.UserID(c), CalendarID: calendarID}

	if raw := c.Query("status"); raw != "" {
		status := model.QueueStatus(raw)
		if !status.Valid() {
			badRequest(c, "unknown status "+raw)
			return
		}
		filter.Status = &status
	}

	page, ok := intQuery(c, "page")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	if limit > maxQueueLimit {
		limit = maxQueueLimit
	}
	filter.Limit = limit

	items, err := h.queue.List(c.Request.Context(), filter, page)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// CancelQueueItem handles DELETE /api/queue/:itemId.
func (h *Handler) CancelQueueItem(c *gin.Context) {
	userID := mw.UserID(c)
	item, err := h.queue.Cancel(c.Request.Context(), c.Param("itemId"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(userID)
	c.JSON(http.StatusOK, item)
}

// GetStats handles GET /api/stats.
func (h *Handler) GetStats(c *gin.Context) {
	s, err := h.stats.ForUser(c.Request.Context(), mw.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}
