package internal

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestNewTokenRoundTrip(t *testing.T) {
	id, token, hash, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}

	parsedID, parsedHash, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if parsedID != id.String() || parsedHash != hash {
		t.Fatal("parsed token does not match issued token")
	}

	raw, _ := base64.RawURLEncoding.DecodeString(token)
	if hash != sha256.Sum256(raw[tokenIDSize:]) {
		t.Fatal("hash must cover the secret half only")
	}
}

func TestNewTokenUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		_, token, _, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatal("duplicate token")
		}
		seen[token] = struct{}{}
	}
}

func TestParseTokenRejectsMalformed(t *testing.T) {
	for _, token := range []string{"", "not base64!", base64.RawURLEncoding.EncodeToString(make([]byte, tokenRawSize-1))} {
		if _, _, err := ParseToken(token); err == nil {
			t.Fatalf("expected %q rejected", token)
		}
	}
}
