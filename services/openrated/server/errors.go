package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"openrate/native/market"
	"openrate/services/openrated/api"
)

var (
	errBadJSON = errors.New("invalid request body")
	errBadID   = errors.New("invalid identifier")
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, api.ErrorResponse{Code: code, Message: msg})
}

// statusFor maps engine error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrMarketHalted), errors.Is(err, market.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, market.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, market.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, market.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, market.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError renders err. Uncoded failures are logged and reported without
// detail.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBadJSON):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, errBadID):
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	status := statusFor(err)
	var coded *market.Error
	if errors.As(err, &coded) {
		if status >= http.StatusInternalServerError {
			s.logger.Error("market fault", slog.String("path", r.URL.Path), slog.String("code", coded.Code()), slog.Any("error", err))
		}
		writeError(w, status, coded.Code(), coded.Error())
		return
	}
	if status == http.StatusGatewayTimeout {
		writeError(w, status, "timeout", "operation timed out")
		return
	}
	s.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}
