package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	accountguard "github.com/securyflex/accountguard"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondSuccess(w http.ResponseWriter) {
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

// respondError writes the public message for err with the status it maps to.
// Server-side failures are logged with their audit code; the body never
// carries the underlying error.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", string(accountguard.ErrorCode(err))),
			zap.Error(err),
		)
	} else {
		h.logger.Debug("request rejected",
			zap.String("path", r.URL.Path),
			zap.String("code", string(accountguard.ErrorCode(err))),
		)
	}
	respondJSON(w, status, errorResponse{Error: accountguard.PublicMessage(err)})
}

func (h *Handler) badRequest(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: message})
}

func statusFor(err error) int {
	switch {
	case accountguard.IsTokenError(err):
		return http.StatusBadRequest
	case errors.Is(err, accountguard.ErrAccountLocked), errors.Is(err, accountguard.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, accountguard.ErrInvalidCredentials),
		errors.Is(err, accountguard.ErrAccountSuspended),
		errors.Is(err, accountguard.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, accountguard.ErrAccountUnverified), errors.Is(err, accountguard.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, accountguard.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, accountguard.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, accountguard.ErrInvalidEmail),
		errors.Is(err, accountguard.ErrInvalidRole),
		errors.Is(err, accountguard.ErrPasswordPolicy):
		return http.StatusBadRequest
	case errors.Is(err, accountguard.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
