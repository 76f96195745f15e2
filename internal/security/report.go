package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

type Report struct {
	LockoutThreshold      int
	LockoutDuration       time.Duration
	ResetTokenTTL         time.Duration
	VerifyTokenTTL        time.Duration
	RevokePreviousOnIssue bool
	EnumerationDelay      bool
	AdminCount            int
	RateLimitingActive    bool
	RequireVerifiedEmail  bool
	AccessTokensEnabled   bool
	SigningAlgorithm      string
	AccessTTL             time.Duration
	AuditSinkEnabled      bool
	Argon2                PasswordReport
	Warnings              []string
}

type ReportInput struct {
	LockoutThreshold      int
	LockoutDuration       time.Duration
	ResetTokenTTL         time.Duration
	VerifyTokenTTL        time.Duration
	RevokePreviousOnIssue bool
	EnumerationDelayMax   time.Duration
	AdminCount            int
	RateLimitEnabled      bool
	RateLimitByEmail      bool
	RateLimitByIP         bool
	RedisConfigured       bool
	RequireVerifiedEmail  bool
	JWTEnabled            bool
	SigningAlgorithm      string
	AccessTTL             time.Duration
	AuditEnabled          bool
	Password              PasswordReport
}

// BuildReport summarizes the effective security posture and lists settings
// an operator should look at.
func BuildReport(input ReportInput) Report {
	rateLimiting := input.RateLimitEnabled && input.RedisConfigured &&
		(input.RateLimitByEmail || input.RateLimitByIP)

	r := Report{
		LockoutThreshold:      input.LockoutThreshold,
		LockoutDuration:       input.LockoutDuration,
		ResetTokenTTL:         input.ResetTokenTTL,
		VerifyTokenTTL:        input.VerifyTokenTTL,
		RevokePreviousOnIssue: input.RevokePreviousOnIssue,
		EnumerationDelay:      input.EnumerationDelayMax > 0,
		AdminCount:            input.AdminCount,
		RateLimitingActive:    rateLimiting,
		RequireVerifiedEmail:  input.RequireVerifiedEmail,
		AccessTokensEnabled:   input.JWTEnabled,
		AuditSinkEnabled:      input.AuditEnabled,
		Argon2:                input.Password,
	}
	if input.JWTEnabled {
		r.SigningAlgorithm = input.SigningAlgorithm
		r.AccessTTL = input.AccessTTL
	}

	if input.AdminCount == 0 {
		r.Warnings = append(r.Warnings, "admin allow-list is empty")
	}
	if input.AdminCount > 0 && !input.RequireVerifiedEmail {
		r.Warnings = append(r.Warnings, "unverified accounts can log in; only verified admin accounts pass the admin gate")
	}
	if !input.RevokePreviousOnIssue {
		r.Warnings = append(r.Warnings, "re-issuing a token leaves earlier tokens valid")
	}
	if input.RateLimitEnabled && !input.RedisConfigured {
		r.Warnings = append(r.Warnings, "rate limiting enabled but no redis client configured")
	}
	if !r.EnumerationDelay {
		r.Warnings = append(r.Warnings, "enumeration delay disabled")
	}
	if !input.JWTEnabled {
		r.Warnings = append(r.Warnings, "access tokens disabled; admin routes cannot authenticate")
	}
	return r
}
