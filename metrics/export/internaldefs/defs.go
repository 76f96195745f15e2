package internaldefs

import (
	accountguard "github.com/securyflex/accountguard"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   accountguard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   accountguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: accountguard.MetricLoginSuccess, Name: "securyflex_login_success_total", Help: "Successful logins."},
	{ID: accountguard.MetricLoginFailure, Name: "securyflex_login_failure_total", Help: "Failed logins (unknown email, wrong password, suspended)."},
	{ID: accountguard.MetricLoginLockedAttempt, Name: "securyflex_login_locked_attempt_total", Help: "Login attempts rejected because the account was locked."},
	{ID: accountguard.MetricAccountLocked, Name: "securyflex_account_locked_total", Help: "Accounts locked after reaching the failure threshold."},
	{ID: accountguard.MetricAccountUnlocked, Name: "securyflex_account_unlocked_total", Help: "Explicit account unlocks."},
	{ID: accountguard.MetricAccountCreated, Name: "securyflex_account_created_total", Help: "Registered accounts."},
	{ID: accountguard.MetricAccountCreationDuplicate, Name: "securyflex_account_creation_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: accountguard.MetricTokenIssued, Name: "securyflex_token_issued_total", Help: "Issued reset and verification tokens."},
	{ID: accountguard.MetricTokenIssueUnknownEmail, Name: "securyflex_token_issue_unknown_email_total", Help: "Token requests for unknown emails."},
	{ID: accountguard.MetricTokenRevoked, Name: "securyflex_token_revoked_total", Help: "Outstanding tokens revoked by re-issue."},
	{ID: accountguard.MetricTokenRateLimited, Name: "securyflex_token_rate_limited_total", Help: "Throttled token requests."},
	{ID: accountguard.MetricTokenInvalid, Name: "securyflex_token_invalid_total", Help: "Rejected invalid tokens."},
	{ID: accountguard.MetricTokenExpired, Name: "securyflex_token_expired_total", Help: "Rejected expired tokens."},
	{ID: accountguard.MetricTokenReused, Name: "securyflex_token_reused_total", Help: "Rejected replays of used tokens."},
	{ID: accountguard.MetricPasswordResetSuccess, Name: "securyflex_password_reset_success_total", Help: "Completed password resets."},
	{ID: accountguard.MetricEmailVerificationSuccess, Name: "securyflex_email_verification_success_total", Help: "Completed email verifications."},
	{ID: accountguard.MetricAdminAllowed, Name: "securyflex_admin_allowed_total", Help: "Privileged requests allowed by the allow-list."},
	{ID: accountguard.MetricAdminDenied, Name: "securyflex_admin_denied_total", Help: "Privileged requests denied by the allow-list."},
	{ID: accountguard.MetricEventAppendFailure, Name: "securyflex_event_append_failure_total", Help: "Security events the event log failed to store."},
	{ID: accountguard.MetricMailFailure, Name: "securyflex_mail_failure_total", Help: "Token mails that could not be delivered."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: accountguard.MetricLoginLatency, Name: "securyflex_login_latency_seconds", Help: "Login latency including password hashing."},
}

// AuditDroppedName is the counter for events dropped by the async audit
// dispatcher.
const AuditDroppedName = "securyflex_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Security events dropped by the audit dispatcher under backpressure."

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one more bucket for +Inf.
var HistogramUpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// HistogramBoundSuffix names each bucket, +Inf last, for exporters that
// flatten buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
