package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"publish-calendar-backend/internal/calendar"
	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/mw"
)

// CreateCalendar handles POST /api/calendars.
func (h *Handler) CreateCalendar(c *gin.Context) {
	var in calendar.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request")
		return
	}

	userID := mw.UserID(c)
	cal, err := h.calendars.CreateCalendar(c.Request.Context(), userID, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(userID)
	c.JSON(http.StatusCreated, cal)
}

// ListCalendars handles GET /api/calendars.
func (h *Handler) ListCalendars(c *gin.Context) {
	var filter calendar.ListFilter

	if raw := c.Query("isActive"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "isActive must be true or false")
			return
		}
		filter.IsActive = &active
	}
	if raw, ok := c.GetQuery("characterId"); ok {
		filter.CharacterID = &raw
	}

	var ok bool
	if filter.Page, ok = intQuery(c, "page"); !ok {
		return
	}
	if filter.Limit, ok = intQuery(c, "limit"); !ok {
		return
	}

	page, err := h.calendars.GetUserCalendars(c.Request.Context(), mw.UserID(c), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetCalendar handles GET /api/calendars/:id. Calendars of other users are
// reported as missing.
func (h *Handler) GetCalendar(c *gin.Context) {
	cal, err := h.calendars.GetCalendarByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if cal.UserID != mw.UserID(c) {
		h.respondError(c, model.ErrCalendarNotFound)
		return
	}
	c.JSON(http.StatusOK, cal)
}

// UpdateCalendar handles PATCH /api/calendars/:id.
func (h *Handler) UpdateCalendar(c *gin.Context) {
	var patch calendar.CalendarPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid request")
		return
	}

	userID := mw.UserID(c)
	cal, applied, err := h.calendars.UpdateCalendar(c.Request.Context(), c.Param("id"), userID, patch)
	if cal != nil || applied {
		h.invalidate(userID)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !applied {
		h.respondError(c, model.ErrNotFoundOrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, cal)
}

// DeleteCalendar handles DELETE /api/calendars/:id.
func (h *Handler) DeleteCalendar(c *gin.Context) {
	userID := mw.UserID(c)
	res, err := h.calendars.DeleteCalendar(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(userID)
	c.JSON(http.StatusOK, res)
}

// UpcomingOccurrences handles GET /api/calendars/:id/upcoming.
func (h *Handler) UpcomingOccurrences(c *gin.Context) {
	count, ok := intQuery(c, "count")
	if !ok {
		return
	}

	upcoming, err := h.calendars.UpcomingOccurrences(c.Request.Context(), c.Param("id"), mw.UserID(c), count)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"occurrences": upcoming})
}

func (h *Handler) invalidate(userID string) {
	if h.cache != nil {
		h.cache.Invalidate(userID)
	}
}
