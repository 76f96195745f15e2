package accountguard

import "github.com/securyflex/accountguard/internal/security"

// SecurityReport is the effective security posture of an Engine, with
// warnings for risky settings.
type SecurityReport = security.Report

// SecurityReport summarizes the Engine's effective configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return security.BuildReport(security.ReportInput{
		LockoutThreshold:      e.config.Lockout.Threshold,
		LockoutDuration:       e.config.Lockout.Duration,
		ResetTokenTTL:         e.config.Tokens.ResetTTL,
		VerifyTokenTTL:        e.config.Tokens.VerifyTTL,
		RevokePreviousOnIssue: e.config.Tokens.RevokePreviousOnIssue,
		EnumerationDelayMax:   e.config.Tokens.EnumerationDelayMax,
		AdminCount:            e.admins.Len(),
		RateLimitEnabled:      e.config.RateLimit.Enabled,
		RateLimitByEmail:      e.config.RateLimit.ByEmail,
		RateLimitByIP:         e.config.RateLimit.ByIP,
		RedisConfigured:       e.issuance != nil,
		RequireVerifiedEmail:  e.config.Login.RequireVerifiedEmail,
		JWTEnabled:            e.jwtManager != nil,
		SigningAlgorithm:      e.config.JWT.SigningMethod,
		AccessTTL:             e.config.JWT.AccessTTL,
		AuditEnabled:          e.config.Audit.Enabled,
		Password: security.PasswordReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
			MinLength:   e.config.Password.MinLength,
		},
	})
}
