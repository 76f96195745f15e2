package httpapi

import (
	"context"
	"net/http"
	"time"

	accountguard "github.com/securyflex/accountguard"
	"go.uber.org/zap"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string          `json:"access_token,omitempty"`
	Account     accountResponse `json:"account"`
}

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Password    string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type validResponse struct {
	Valid bool `json:"valid"`
}

// accountResponse is the end-user view of an account. Lockout fields are
// left out.
type accountResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

func toAccountResponse(a accountguard.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Role:        string(a.Role),
		Status:      string(a.Status),
		Verified:    a.Verified,
		VerifiedAt:  a.VerifiedAt,
	}
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, "Invalid request body.")
		return
	}

	res, err := h.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse{
		AccessToken: res.AccessToken,
		Account:     toAccountResponse(res.Account),
	})
}

// Register handles POST /auth/register and sends the first verification
// mail.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, "Invalid request body.")
		return
	}

	account, err := h.engine.CreateAccount(r.Context(), accountguard.CreateAccountInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Role:        accountguard.Role(req.Role),
		Password:    req.Password,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.engine.RequestEmailVerification(r.Context(), account.Email); err != nil {
		h.logger.Warn("verification request after registration failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}
	respondJSON(w, http.StatusCreated, toAccountResponse(account))
}

// RequestPasswordReset handles POST /auth/password-reset. Known and unknown
// emails get the same answer.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	h.requestToken(w, r, h.engine.RequestPasswordReset)
}

// RequestEmailVerification handles POST /auth/verify-email.
func (h *Handler) RequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	h.requestToken(w, r, h.engine.RequestEmailVerification)
}

func (h *Handler) requestToken(w http.ResponseWriter, r *http.Request, request func(context.Context, string) error) {
	var req emailRequest
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, "Invalid request body.")
		return
	}

	if err := request(r.Context(), req.Email); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondSuccess(w)
}

// ValidateResetToken handles POST /auth/password-reset/validate so the reset
// page can reject a dead link before asking for a new password.
func (h *Handler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, accountguard.PublicTokenMessage)
		return
	}

	if _, err := h.engine.ValidateToken(r.Context(), req.Token, accountguard.PurposeReset); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, validResponse{Valid: true})
}

// ConfirmPasswordReset handles POST /auth/password-reset/confirm.
func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, "Invalid request body.")
		return
	}

	if _, err := h.engine.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondSuccess(w)
}

// ConfirmEmailVerification handles POST /auth/verify-email/confirm.
func (h *Handler) ConfirmEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, accountguard.PublicTokenMessage)
		return
	}

	if _, err := h.engine.ConfirmEmailVerification(r.Context(), req.Token); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondSuccess(w)
}
