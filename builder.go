package accountguard

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/securyflex/accountguard/internal/flows"
	"github.com/securyflex/accountguard/internal/limiters"
	"github.com/securyflex/accountguard/jwt"
	"github.com/securyflex/accountguard/password"
	"go.uber.org/zap"
)

// Backend is a store that implements all three persistence contracts, which
// is what atomic token consumption requires in practice.
type Backend interface {
	CredentialStore
	TokenStore
	SecurityEventLog
}

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	credentials CredentialStore
	tokens      TokenStore
	events      SecurityEventLog
	mailer      Mailer
	clock       Clock
	logger      *zap.Logger
	auditSink   AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBackend sets the credential, token and event stores at once.
func (b *Builder) WithBackend(backend Backend) *Builder {
	b.credentials = backend
	b.tokens = backend
	b.events = backend
	return b
}

func (b *Builder) WithCredentialStore(s CredentialStore) *Builder {
	b.credentials = s
	return b
}

func (b *Builder) WithTokenStore(s TokenStore) *Builder {
	b.tokens = s
	return b
}

func (b *Builder) WithSecurityEventLog(l SecurityEventLog) *Builder {
	b.events = l
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithRedis enables the per-email and per-IP issuance throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithAdminEmails replaces the admin allow-list.
func (b *Builder) WithAdminEmails(emails ...string) *Builder {
	b.config.Admin.Emails = append([]string(nil), emails...)
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	if b.tokens == nil {
		return nil, errors.New("token store required")
	}
	if b.events == nil {
		return nil, errors.New("security event log required")
	}

	engine := &Engine{
		config:      cfg,
		policy:      cfg.Lockout.Policy(),
		credentials: b.credentials,
		tokens:      b.tokens,
		events:      b.events,
		mailer:      b.mailer,
		clock:       b.clock,
		logger:      b.logger,
		admins:      flows.NewAllowList(cfg.Admin.Emails),
	}
	if engine.clock == nil {
		engine.clock = SystemClock{}
	}
	if engine.logger == nil {
		engine.logger = zap.NewNop()
	}
	if engine.mailer == nil {
		engine.mailer = discardMailer{}
	}
	if engine.admins.Len() == 0 {
		engine.logger.Warn("admin allow-list is empty; every privileged request will be denied")
	}

	if b.redis != nil && cfg.RateLimit.Enabled {
		engine.issuance = limiters.NewIssuanceLimiter(b.redis, limiters.IssuanceConfig{
			EnableEmailThrottle: cfg.RateLimit.ByEmail,
			EnableIPThrottle:    cfg.RateLimit.ByIP,
			MaxRequests:         cfg.RateLimit.MaxRequests,
			Window:              cfg.RateLimit.Window,
		})
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, engine.logger)
	engine.metrics = NewMetrics(cfg.Metrics)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		engine.audit.Close()
		return nil, err
	}
	engine.passwordHash = ph

	if cfg.JWT.Enabled() {
		jm, err := jwt.NewManager(jwt.Config{
			AccessTTL:     cfg.JWT.AccessTTL,
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
			PublicKey:     cloneBytes(cfg.JWT.PublicKey),
			Issuer:        cfg.JWT.Issuer,
			Now:           engine.now,
		})
		if err != nil {
			engine.audit.Close()
			return nil, err
		}
		engine.jwtManager = jm
	}

	b.built = true

	return engine, nil
}
