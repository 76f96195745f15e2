package accountguard

import (
	"time"

	"github.com/securyflex/accountguard/internal/flows"
	"github.com/securyflex/accountguard/internal/limiters"
	"github.com/securyflex/accountguard/jwt"
	"github.com/securyflex/accountguard/password"
	"go.uber.org/zap"
)

// Engine ties the lockout policy, the token lifecycle and the admin gate to
// the configured stores. Methods are safe for concurrent use once built.
type Engine struct {
	config       Config
	policy       LockoutPolicy
	credentials  CredentialStore
	tokens       TokenStore
	events       SecurityEventLog
	mailer       Mailer
	clock        Clock
	logger       *zap.Logger
	admins       flows.AllowList
	issuance     *limiters.IssuanceLimiter
	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
}

// Close drains the audit dispatcher. It does not close the stores.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	_ = e.logger.Sync()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// AuditDropped reports events the async sink lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeLatency(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}
