package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/availability"
	"github.com/zulandar/signalbox/internal/campaign"
	"github.com/zulandar/signalbox/internal/dispatch"
	"github.com/zulandar/signalbox/internal/identity"
	"github.com/zulandar/signalbox/internal/placeholder"
	"github.com/zulandar/signalbox/internal/queue"
	"github.com/zulandar/signalbox/internal/store"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Detail              string   `json:"detail"`
	InvalidPlaceholders []string `json:"invalid_placeholders,omitempty"`
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, placeholder.ErrInvalidPlaceholder),
		errors.Is(err, queue.ErrInvalidPayload),
		errors.Is(err, campaign.ErrInvalid),
		errors.Is(err, availability.ErrUnknownTimezone):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, identity.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrEmailNotSent):
		return http.StatusBadGateway
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrStopped),
		errors.Is(err, store.ErrUnavailable), errors.Is(err, identity.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	body := errorBody{Detail: err.Error()}
	var invalid *placeholder.InvalidPlaceholderError
	if errors.As(err, &invalid) {
		body.InvalidPlaceholders = invalid.Tokens
	}
	c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), body)
}

func badRequest(c *gin.Context, err error) {
	c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Detail: err.Error()})
}
