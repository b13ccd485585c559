package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/mw"
	"publish-calendar-backend/internal/parse"
)

type slotResponse struct {
	Calendar *model.PublishCalendar `json:"calendar"`
	Slot     model.Slot             `json:"slot"`
}

// AddSlot handles POST /api/calendars/:id/slots.
func (h *Handler) AddSlot(c *gin.Context) {
	var raw parse.RawSlot
	if err := c.ShouldBindJSON(&raw); err != nil {
		badRequest(c, "invalid request")
		return
	}

	userID := mw.UserID(c)
	cal, slot, err := h.calendars.AddSlot(c.Request.Context(), c.Param("id"), userID, raw)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(userID)
	c.JSON(http.StatusCreated, slotResponse{Calendar: cal, Slot: slot})
}

// UpdateSlot handles PATCH /api/calendars/:id/slots/:slotId.
func (h *Handler) UpdateSlot(c *gin.Context) {
	var patch parse.RawSlot
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid request")
		return
	}

	userID := mw.UserID(c)
	cal, slot, err := h.calendars.UpdateSlot(c.Request.Context(), c.Param("id"), userID, c.Param("slotId"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(userID)
	c.JSON(http.StatusOK, slotResponse{Calendar: cal, Slot: slot})
}

// RemoveSlot handles DELETE /api/calendars/:id/slots/:slotId. Removing an
// unknown slot returns the calendar unchanged.
func (h *Handler) RemoveSlot(c *gin.Context) {
	userID := mw.UserID(c)
	cal, err := h.calendars.RemoveSlot(c.Request.Context(), c.Param("id"), userID, c.Param("slotId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(userID)
	c.JSON(http.StatusOK, cal)
}
