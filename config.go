package accountguard

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Build a value from DefaultConfig,
// override fields, and pass it to Builder.WithConfig. It is treated as
// immutable once the Engine is built.
type Config struct {
	Lockout   LockoutConfig
	Tokens    TokenConfig
	Admin     AdminConfig
	Login     LoginConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	JWT       JWTConfig
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig drives the account lockout policy.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

// Policy returns the policy value handed to stores.
func (c LockoutConfig) Policy() LockoutPolicy {
	return LockoutPolicy{Threshold: c.Threshold, Duration: c.Duration}
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig drives reset and verification tokens.
type TokenConfig struct {
	ResetTTL  time.Duration
	VerifyTTL time.Duration
	// RevokePreviousOnIssue invalidates outstanding tokens of the same account
	// and purpose whenever a new one is issued.
	RevokePreviousOnIssue bool
	// EnumerationDelayMin/Max pad the unknown-email path so it is not
	// measurably faster than a real issuance. Zero max disables it.
	EnumerationDelayMin time.Duration
	EnumerationDelayMax time.Duration
}

// AdminConfig holds the privileged identities. Matching is exact and
// case-insensitive.
type AdminConfig struct {
	Emails []string
}

// LoginConfig holds login policy that is not lockout.
type LoginConfig struct {
	RequireVerifiedEmail bool
}

// PasswordConfig holds argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int // bytes
}

// RateLimitConfig throttles token issuance. It only takes effect when the
// builder is given a Redis client.
type RateLimitConfig struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
	ByEmail     bool
	ByIP        bool
}

// AuditConfig controls the asynchronous fan-out of security events to an
// AuditSink. The SecurityEventLog append is always synchronous.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// JWTConfig configures principal access tokens issued on login. Leaving
// PrivateKey empty disables issuance.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// Enabled reports whether access tokens are configured.
func (c JWTConfig) Enabled() bool {
	return len(c.PrivateKey) > 0
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults: lock after 5 failures for
// 30 minutes, reset tokens valid for 1 hour, verification for 24 hours.
func DefaultConfig() Config {
	return Config{
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		Tokens: TokenConfig{
			ResetTTL:              time.Hour,
			VerifyTTL:             24 * time.Hour,
			RevokePreviousOnIssue: true,
			EnumerationDelayMin:   20 * time.Millisecond,
			EnumerationDelayMax:   40 * time.Millisecond,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   10,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			MaxRequests: 5,
			Window:      15 * time.Minute,
			ByEmail:     true,
			ByIP:        true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "securyflex",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Admin.Emails = append([]string(nil), cfg.Admin.Emails...)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations that would make the policy meaningless.
func (c *Config) Validate() error {
	if c.Lockout.Threshold < 1 {
		return errors.New("Lockout Threshold must be >= 1")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	if c.Tokens.ResetTTL <= 0 {
		return errors.New("Tokens ResetTTL must be > 0")
	}
	if c.Tokens.VerifyTTL <= 0 {
		return errors.New("Tokens VerifyTTL must be > 0")
	}
	if c.Tokens.EnumerationDelayMin < 0 || c.Tokens.EnumerationDelayMax < 0 {
		return errors.New("Tokens enumeration delay must be >= 0")
	}
	if c.Tokens.EnumerationDelayMax > 0 && c.Tokens.EnumerationDelayMin > c.Tokens.EnumerationDelayMax {
		return errors.New("Tokens EnumerationDelayMin must be <= EnumerationDelayMax")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequests <= 0 {
			return errors.New("RateLimit MaxRequests must be > 0")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	if c.JWT.Enabled() {
		if c.JWT.AccessTTL <= 0 {
			return errors.New("JWT AccessTTL must be > 0")
		}
		switch c.JWT.SigningMethod {
		case "hs256":
			if len(c.JWT.PrivateKey) < 32 {
				return errors.New("hs256 requires a key of at least 32 bytes")
			}
		case "ed25519":
			if len(c.JWT.PublicKey) == 0 {
				return errors.New("ed25519 requires PublicKey")
			}
		default:
			return errors.New("unsupported JWT signing method")
		}
	}

	return nil
}
