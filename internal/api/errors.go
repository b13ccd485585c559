package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/store"
)

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// respondError maps a service error to a status code. Unknown errors are
// logged and hidden behind a generic message.
func (h *Handler) respondError(c *gin.Context, err error) {
	var validation *model.ValidationError
	var illegal *model.IllegalTransitionError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, errorResponse{
			Error: validation.Message,
			Code:  string(validation.Code),
			Field: validation.Field,
		})
	case errors.Is(err, model.ErrNotFoundOrUnauthorized),
		errors.Is(err, model.ErrCalendarNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "calendar not found"})
	case errors.Is(err, model.ErrQueueItemNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "queue item not found"})
	case errors.As(err, &illegal):
		h.log.Error("illegal queue transition requested",
			"item_id", illegal.ItemID, "from", illegal.From, "to", illegal.To, "path", c.FullPath())
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, errorResponse{Error: "calendar is being modified concurrently, retry"})
	default:
		h.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// intQuery parses an optional integer query parameter.
func intQuery(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, key+" must be an integer")
		return 0, false
	}
	return n, true
}
