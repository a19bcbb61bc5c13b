package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/shpitdev/autoprospect/internal/bulk"
	"github.com/shpitdev/autoprospect/internal/gateway"
	"github.com/shpitdev/autoprospect/internal/lead"
	"github.com/shpitdev/autoprospect/internal/lifecycle"
	"github.com/shpitdev/autoprospect/internal/search"
	"github.com/shpitdev/autoprospect/internal/util"
)

// errBadRequest marks malformed input decoded by the handlers themselves.
var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps an error to an HTTP status and a stable machine-readable code.
func classify(err error) (int, string) {
	var fe *gateway.FormatError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, search.ErrInvalidRequest), errors.Is(err, lifecycle.ErrIncompleteEdit):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, lead.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, lead.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, bulk.ErrBusy):
		return http.StatusConflict, "bulk_busy"
	case errors.Is(err, lifecycle.ErrInFlight):
		return http.StatusConflict, "in_flight"
	case errors.Is(err, bulk.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, gateway.ErrMissingCredentials):
		return http.StatusServiceUnavailable, "missing_credentials"
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, gateway.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.As(err, &fe):
		return http.StatusBadGateway, "format_error"
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusBadGateway, "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := util.RedactSecrets(err.Error())
	if status >= 500 {
		s.logger.Error("request failed", requestFields(r, status, msg)...)
	} else {
		s.logger.Debug("request rejected", requestFields(r, status, msg)...)
	}
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
