package flows

import (
	"crypto/subtle"
	"time"
)

// TokenVerdict is the classification of a presented token against its record.
type TokenVerdict uint8

const (
	TokenValid TokenVerdict = iota
	TokenInvalid
	TokenUsed
	TokenExpired
)

// TokenView is the subset of a stored token needed to classify it.
type TokenView struct {
	Found      bool
	AccountID  string
	Purpose    string
	SecretHash [32]byte
	ExpiresAt  time.Time
	Used       bool
}

// ClassifyToken applies the checks in a fixed order: absence, purpose, owner
// and secret first, then consumption, then expiry. A token is valid only when
// it is unused and now is strictly before its expiry.
//
// accountID may be empty when the caller does not yet know the owner.
func ClassifyToken(view TokenView, purpose, accountID string, presented [32]byte, now time.Time) TokenVerdict {
	if !view.Found || view.Purpose != purpose {
		return TokenInvalid
	}
	if accountID != "" && view.AccountID != accountID {
		return TokenInvalid
	}
	if subtle.ConstantTimeCompare(view.SecretHash[:], presented[:]) != 1 {
		return TokenInvalid
	}
	if view.Used {
		return TokenUsed
	}
	if !now.Before(view.ExpiresAt) {
		return TokenExpired
	}
	return TokenValid
}
