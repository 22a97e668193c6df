package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/across/internal/ephemeris"
	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/schedule"
	"github.com/signalsfoundry/across/model"
)

// ErrForbidden is returned when a valid principal lacks a required scope.
var ErrForbidden = errors.New("forbidden")

// StatusFor maps a domain error onto its HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, model.ErrDuplicateSchedule):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidParameters), errors.Is(err, model.ErrUnprocessableEntity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON error envelope. Payload fields of typed errors are
// merged next to detail.
func errorBody(err error, status int) gin.H {
	body := gin.H{"detail": err.Error()}
	if status == http.StatusInternalServerError {
		body["detail"] = http.StatusText(status)
	}

	var dup *schedule.DuplicateScheduleError
	if errors.As(err, &dup) {
		body["id"] = dup.ID
	}
	var calc *ephemeris.CalculationNotFoundError
	if errors.As(err, &calc) {
		body["attempted"] = calc.Attempted
	}
	return body
}

func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	log := logging.FromContext(c.Request.Context(), s.log)
	if status >= http.StatusInternalServerError {
		log.Error(c.Request.Context(), "request failed", logging.String("route", c.FullPath()), logging.Err(err))
	} else {
		log.Debug(c.Request.Context(), "request rejected", logging.Int("status", status), logging.Err(err))
	}
	c.AbortWithStatusJSON(status, errorBody(err, status))
}
