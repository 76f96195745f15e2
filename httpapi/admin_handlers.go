package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	accountguard "github.com/securyflex/accountguard"
)

type adminAccountRequest struct {
	Email string `json:"email"`
}

// adminAccountResponse includes the lockout fields end users never see.
type adminAccountResponse struct {
	accountResponse
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LastFailedLoginAt   *time.Time `json:"last_failed_login_at"`
	LockedUntil         *time.Time `json:"locked_until"`
}

type adminAccountResult struct {
	Success bool                 `json:"success"`
	Account adminAccountResponse `json:"account"`
}

type eventsResponse struct {
	Events []accountguard.SecurityEvent `json:"events"`
	Count  int                          `json:"count"`
}

func toAdminAccountResponse(a accountguard.Account) adminAccountResponse {
	return adminAccountResponse{
		accountResponse:     toAccountResponse(a),
		FailedLoginAttempts: a.FailedLoginAttempts,
		LastFailedLoginAt:   a.LastFailedLoginAt,
		LockedUntil:         a.LockedUntil,
	}
}

// AdminStatus handles GET /admin/status.
func (h *Handler) AdminStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.AdminStatus(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// UnlockAccount handles POST /admin/accounts/unlock.
func (h *Handler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	h.accountAction(w, r, h.engine.AdminUnlockAccount)
}

// SuspendAccount handles POST /admin/accounts/suspend.
func (h *Handler) SuspendAccount(w http.ResponseWriter, r *http.Request) {
	h.accountAction(w, r, h.engine.SuspendAccount)
}

// ReactivateAccount handles POST /admin/accounts/reactivate.
func (h *Handler) ReactivateAccount(w http.ResponseWriter, r *http.Request) {
	h.accountAction(w, r, h.engine.ReactivateAccount)
}

func (h *Handler) accountAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (accountguard.Account, error)) {
	var req adminAccountRequest
	if err := decode(w, r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		h.badRequest(w, "An email address is required.")
		return
	}

	account, err := action(r.Context(), req.Email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, adminAccountResult{
		Success: true,
		Account: toAdminAccountResponse(account),
	})
}

// AccountSecurity handles GET /admin/accounts/security?email=.
func (h *Handler) AccountSecurity(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if strings.TrimSpace(email) == "" {
		h.badRequest(w, "An email address is required.")
		return
	}

	view, err := h.engine.AccountSecurity(r.Context(), email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// SecurityEvents handles GET /admin/security-events. Supported query
// parameters are kind (repeatable or comma separated), email, account_id,
// since (RFC 3339) and limit.
func (h *Handler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := accountguard.EventFilter{
		Email:     q.Get("email"),
		AccountID: q.Get("account_id"),
	}
	for _, raw := range q["kind"] {
		for _, kind := range strings.Split(raw, ",") {
			if kind = strings.TrimSpace(kind); kind != "" {
				filter.Kinds = append(filter.Kinds, accountguard.EventKind(kind))
			}
		}
	}

	since, ok := parseSince(q.Get("since"))
	if !ok {
		h.badRequest(w, "since must be an RFC 3339 timestamp.")
		return
	}
	filter.Since = since

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.badRequest(w, "limit must be a positive number.")
			return
		}
		limit = n
	}

	events, err := h.engine.SecurityEvents(r.Context(), filter, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if events == nil {
		events = []accountguard.SecurityEvent{}
	}
	respondJSON(w, http.StatusOK, eventsResponse{Events: events, Count: len(events)})
}

// SecurityStats handles GET /admin/security-stats?since=.
func (h *Handler) SecurityStats(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(r.URL.Query().Get("since"))
	if !ok {
		h.badRequest(w, "since must be an RFC 3339 timestamp.")
		return
	}

	stats, err := h.engine.SecurityStats(r.Context(), since)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Health handles GET /admin/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.engine.Health(r.Context())
	status := http.StatusOK
	if !health.EventLogOK || (health.RedisConfigured && !health.RedisAvailable) {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}

func parseSince(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
