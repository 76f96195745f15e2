// Package httpapi exposes the account security Engine over JSON HTTP using
// gorilla/mux.
//
// Public routes live under /auth, privileged routes under /admin. Every route
// runs behind middleware.Guard so client IP, user agent and request path
// reach the security event log. Error bodies carry accountguard.PublicMessage
// text only.
package httpapi
