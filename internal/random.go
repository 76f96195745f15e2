package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	tokenIDSize     = 16
	tokenSecretSize = 32
	tokenRawSize    = tokenIDSize + tokenSecretSize
)

// TokenID is the public lookup half of an issued token.
type TokenID [tokenIDSize]byte

// String encodes the id as unpadded base64url.
func (t TokenID) String() string {
	return base64.RawURLEncoding.EncodeToString(t[:])
}

// NewToken returns a fresh id, the encoded token handed to the user and the
// hash of its secret half, which is all that gets stored.
func NewToken() (TokenID, string, [32]byte, error) {
	var raw [tokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return TokenID{}, "", [32]byte{}, err
	}

	var id TokenID
	copy(id[:], raw[:tokenIDSize])

	return id, base64.RawURLEncoding.EncodeToString(raw[:]), sha256.Sum256(raw[tokenIDSize:]), nil
}

// ParseToken splits an encoded token into its id and the hash of its secret.
func ParseToken(token string) (string, [32]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", [32]byte{}, err
	}
	if len(raw) != tokenRawSize {
		return "", [32]byte{}, errors.New("invalid token size")
	}

	var id TokenID
	copy(id[:], raw[:tokenIDSize])

	return id.String(), sha256.Sum256(raw[tokenIDSize:]), nil
}
