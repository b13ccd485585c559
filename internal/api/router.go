package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"publish-calendar-backend/config"
	"publish-calendar-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	r.GET("/healthz", h.Healthz)

	// API group
	api := r.Group("/api")
	api.Use(mw.Identity(cfg.UserHeader), rateLimiter)
	{
		api.POST("/calendars", h.CreateCalendar)
		api.GET("/calendars", h.ListCalendars)
		api.GET("/calendars/:id", h.GetCalendar)
		api.PATCH("/calendars/:id", h.UpdateCalendar)
		api.DELETE("/calendars/:id", h.DeleteCalendar)

		api.POST("/calendars/:id/slots", h.AddSlot)
		api.PATCH("/calendars/:id/slots/:slotId", h.UpdateSlot)
		api.DELETE("/calendars/:id/slots/:slotId", h.RemoveSlot)

		api.GET("/calendars/:id/upcoming", h.UpcomingOccurrences)
		api.GET("/calendars/:id/queue", h.ListCalendarQueue)
		api.GET("/queue", h.ListQueue)
		api.DELETE("/queue/:itemId", h.CancelQueueItem)

		if h.cache != nil {
			api.GET("/stats", h.cache.Middleware(), h.GetStats)
		} else {
			api.GET("/stats", h.GetStats)
		}

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	internal := r.Group("/internal", mw.WorkerToken(cfg.WorkerToken))
	{
		internal.POST("/queue/claim", h.ClaimItems)
		internal.GET("/queue/:id/context", h.JobContext)
		internal.POST("/queue/:id/published", h.MarkPublished)
		internal.POST("/queue/:id/failed", h.MarkFailed)
	}

	return r
}
