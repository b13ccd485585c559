package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type claimRequest struct {
	Limit int `json:"limit"`
}

type failRequest struct {
	Error string `json:"error" binding:"required"`
}

// ClaimItems handles POST /internal/queue/claim for out-of-process workers.
func (h *Handler) ClaimItems(c *gin.Context) {
	var req claimRequest
	// An empty body claims a single item.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}

	items, err := h.queue.ClaimNext(c.Request.Context(), req.Limit)
	if err != nil && len(items) == 0 {
		h.respondError(c, err)
		return
	}
	if err != nil {
		// Hand out what was already claimed; the reaper covers the rest.
		h.log.Error("claim stopped early", "claimed", len(items), "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// JobContext handles GET /internal/queue/:id/context.
func (h *Handler) JobContext(c *gin.Context) {
	job, err := h.queue.JobContext(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// MarkPublished handles POST /internal/queue/:id/published.
func (h *Handler) MarkPublished(c *gin.Context) {
	item, err := h.queue.MarkPublished(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(item.UserID)
	c.JSON(http.StatusOK, item)
}

// MarkFailed handles POST /internal/queue/:id/failed.
func (h *Handler) MarkFailed(c *gin.Context) {
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "error is required")
		return
	}

	item, err := h.queue.MarkFailed(c.Request.Context(), c.Param("id"), req.Error)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(item.UserID)
	c.JSON(http.StatusOK, item)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	if err := h.health.Ping(c.Request.Context()); err != nil {
		h.log.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
