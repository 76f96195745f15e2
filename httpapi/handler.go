package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	accountguard "github.com/securyflex/accountguard"
	"github.com/securyflex/accountguard/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// Options configures the router.
type Options struct {
	Logger *zap.Logger
	// Guard is passed to middleware.Guard for every route.
	Guard middleware.GuardConfig
	// Metrics, when set, is mounted at GET /metrics without authentication.
	Metrics http.Handler
	// DisableRegistration removes POST /auth/register.
	DisableRegistration bool
}

// Handler serves the account security routes.
type Handler struct {
	engine *accountguard.Engine
	logger *zap.Logger
}

// NewRouter builds the mux router for engine.
func NewRouter(engine *accountguard.Engine, opts Options) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{engine: engine, logger: logger.Named("httpapi")}

	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(middleware.Guard(engine, opts.Guard)))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "Not found."})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed."})
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	if !opts.DisableRegistration {
		auth.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	}
	auth.HandleFunc("/password-reset", h.RequestPasswordReset).Methods(http.MethodPost)
	auth.HandleFunc("/password-reset/validate", h.ValidateResetToken).Methods(http.MethodPost)
	auth.HandleFunc("/password-reset/confirm", h.ConfirmPasswordReset).Methods(http.MethodPost)
	auth.HandleFunc("/verify-email", h.RequestEmailVerification).Methods(http.MethodPost)
	auth.HandleFunc("/verify-email/confirm", h.ConfirmEmailVerification).Methods(http.MethodPost)

	// /admin/status only needs a principal; it answers false for non-admins
	// instead of recording a denial.
	status := r.Path("/admin/status").Subrouter()
	status.Use(mux.MiddlewareFunc(middleware.RequireAuth()))
	status.Methods(http.MethodGet).HandlerFunc(h.AdminStatus)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(mux.MiddlewareFunc(middleware.RequireAdmin(engine)))
	admin.HandleFunc("/accounts/unlock", h.UnlockAccount).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/suspend", h.SuspendAccount).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/reactivate", h.ReactivateAccount).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/security", h.AccountSecurity).Methods(http.MethodGet)
	admin.HandleFunc("/security-events", h.SecurityEvents).Methods(http.MethodGet)
	admin.HandleFunc("/security-stats", h.SecurityStats).Methods(http.MethodGet)
	admin.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	return r
}
