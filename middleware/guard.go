package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	accountguard "github.com/securyflex/accountguard"
)

// GuardConfig controls how request metadata is read.
type GuardConfig struct {
	// TrustForwardedFor takes the client IP from the first X-Forwarded-For
	// entry. Enable only behind a proxy that overwrites the header.
	TrustForwardedFor bool
}

// Guard attaches the client IP, user agent and request path to the request
// context and, when a valid bearer token is present, the authenticated
// principal. It never rejects a request; use RequireAuth or RequireAdmin
// for that.
func Guard(engine *accountguard.Engine, cfg GuardConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = accountguard.WithClientIP(ctx, clientIP(r, cfg.TrustForwardedFor))
			ctx = accountguard.WithUserAgent(ctx, r.UserAgent())
			ctx = accountguard.WithRequestPath(ctx, r.URL.Path)

			if token, ok := bearerToken(r.Header.Get("Authorization")); ok && engine != nil {
				if principal, err := engine.AuthenticateAccess(token); err == nil {
					ctx = accountguard.WithPrincipal(ctx, principal)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests without an authenticated principal. It must
// run after Guard.
func RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := accountguard.PrincipalFromContext(r.Context()); !ok {
				writeError(w, http.StatusUnauthorized, accountguard.PublicMessage(accountguard.ErrUnauthenticated))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
