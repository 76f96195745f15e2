// Package jwt signs and verifies the short-lived access tokens that carry an
// authenticated principal (account id, email, role) to the admin routes.
package jwt
