package middleware

import (
	"errors"
	"net/http"

	accountguard "github.com/securyflex/accountguard"
)

// RequireAdmin lets a request through only when Engine.Authorize accepts the
// principal placed by Guard. Denials answer 401 or 403 without saying why the
// allow-list check failed; the Engine records the attempt.
func RequireAdmin(engine *accountguard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, http.StatusUnauthorized, accountguard.PublicMessage(accountguard.ErrUnauthenticated))
				return
			}

			_, err := engine.Authorize(r.Context())
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, accountguard.ErrUnauthenticated):
				writeError(w, http.StatusUnauthorized, accountguard.PublicMessage(err))
			case errors.Is(err, accountguard.ErrForbidden):
				writeError(w, http.StatusForbidden, accountguard.PublicMessage(err))
			default:
				writeError(w, http.StatusInternalServerError, accountguard.PublicMessage(err))
			}
		})
	}
}
