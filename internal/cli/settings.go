package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	accountguard "github.com/securyflex/accountguard"
	"github.com/spf13/viper"
)

const envPrefix = "SECURYFLEX"

// Settings is the on-disk and environment configuration of securyflexctl.
// Keys map to SECURYFLEX_* environment variables with dots replaced by
// underscores, e.g. SECURYFLEX_JWT_SECRET.
type Settings struct {
	Listen      string          `mapstructure:"listen"`
	Backend     string          `mapstructure:"backend"`
	DatabaseURL string          `mapstructure:"database_url"`
	Redis       RedisSettings   `mapstructure:"redis"`
	Log         LogSettings     `mapstructure:"log"`
	HTTP        HTTPSettings    `mapstructure:"http"`
	Lockout     LockoutSettings `mapstructure:"lockout"`
	Tokens      TokenSettings   `mapstructure:"tokens"`
	Admin       AdminSettings   `mapstructure:"admin"`
	Login       LoginSettings   `mapstructure:"login"`
	RateLimit   RateSettings    `mapstructure:"rate_limit"`
	JWT         JWTSettings     `mapstructure:"jwt"`
	Audit       AuditSettings   `mapstructure:"audit"`
	Mail        MailSettings    `mapstructure:"mail"`
	Metrics     MetricsSettings `mapstructure:"metrics"`
}

type RedisSettings struct {
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Prefix   string   `mapstructure:"prefix"`
}

type LogSettings struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type HTTPSettings struct {
	TrustForwardedFor   bool          `mapstructure:"trust_forwarded_for"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
	DisableRegistration bool          `mapstructure:"disable_registration"`
}

type LockoutSettings struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

type TokenSettings struct {
	ResetTTL              time.Duration `mapstructure:"reset_ttl"`
	VerifyTTL             time.Duration `mapstructure:"verify_ttl"`
	RevokePreviousOnIssue bool          `mapstructure:"revoke_previous_on_issue"`
}

type AdminSettings struct {
	Emails []string `mapstructure:"emails"`
}

type LoginSettings struct {
	RequireVerifiedEmail bool `mapstructure:"require_verified_email"`
}

type RateSettings struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type JWTSettings struct {
	Secret    string        `mapstructure:"secret"`
	AccessTTL time.Duration `mapstructure:"access_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

type AuditSettings struct {
	BufferSize   int      `mapstructure:"buffer_size"`
	Stdout       bool     `mapstructure:"stdout"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

type MailSettings struct {
	Mode         string `mapstructure:"mode"`
	BaseURL      string `mapstructure:"base_url"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	SMTPImplicit bool   `mapstructure:"smtp_implicit_tls"`
	From         string `mapstructure:"from"`
}

type MetricsSettings struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	def := accountguard.DefaultConfig()

	v.SetDefault("listen", ":8080")
	v.SetDefault("backend", "memory")
	v.SetDefault("database_url", "")
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "sf")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("http.trust_forwarded_for", false)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.disable_registration", false)
	v.SetDefault("lockout.threshold", def.Lockout.Threshold)
	v.SetDefault("lockout.duration", def.Lockout.Duration)
	v.SetDefault("tokens.reset_ttl", def.Tokens.ResetTTL)
	v.SetDefault("tokens.verify_ttl", def.Tokens.VerifyTTL)
	v.SetDefault("tokens.revoke_previous_on_issue", def.Tokens.RevokePreviousOnIssue)
	v.SetDefault("admin.emails", []string{})
	v.SetDefault("login.require_verified_email", def.Login.RequireVerifiedEmail)
	v.SetDefault("rate_limit.enabled", def.RateLimit.Enabled)
	v.SetDefault("rate_limit.max_requests", def.RateLimit.MaxRequests)
	v.SetDefault("rate_limit.window", def.RateLimit.Window)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_ttl", def.JWT.AccessTTL)
	v.SetDefault("jwt.issuer", def.JWT.Issuer)
	v.SetDefault("audit.buffer_size", def.Audit.BufferSize)
	v.SetDefault("audit.stdout", false)
	v.SetDefault("audit.kafka_brokers", []string{})
	v.SetDefault("audit.kafka_topic", "securyflex.security-events")
	v.SetDefault("mail.mode", "log")
	v.SetDefault("mail.base_url", "http://localhost:3000")
	v.SetDefault("mail.smtp_host", "")
	v.SetDefault("mail.smtp_port", 587)
	v.SetDefault("mail.smtp_username", "")
	v.SetDefault("mail.smtp_password", "")
	v.SetDefault("mail.smtp_implicit_tls", false)
	v.SetDefault("mail.from", "no-reply@securyflex.nl")
	v.SetDefault("metrics.enabled", true)
}

// loadSettings reads path (or securyflex.yaml from the usual locations when
// path is empty) and overlays the environment.
func loadSettings(v *viper.Viper, path string) (Settings, error) {
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("securyflex")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/securyflex/")
		v.AddConfigPath("$HOME/.securyflex")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	return s, nil
}

// engineConfig maps settings onto an engine Config and validates it.
func (s Settings) engineConfig() (accountguard.Config, error) {
	cfg := accountguard.DefaultConfig()

	cfg.Lockout.Threshold = s.Lockout.Threshold
	cfg.Lockout.Duration = s.Lockout.Duration
	cfg.Tokens.ResetTTL = s.Tokens.ResetTTL
	cfg.Tokens.VerifyTTL = s.Tokens.VerifyTTL
	cfg.Tokens.RevokePreviousOnIssue = s.Tokens.RevokePreviousOnIssue
	cfg.Admin.Emails = append([]string(nil), s.Admin.Emails...)
	cfg.Login.RequireVerifiedEmail = s.Login.RequireVerifiedEmail
	cfg.RateLimit.Enabled = s.RateLimit.Enabled
	cfg.RateLimit.MaxRequests = s.RateLimit.MaxRequests
	cfg.RateLimit.Window = s.RateLimit.Window
	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = s.Metrics.Enabled
	cfg.JWT.AccessTTL = s.JWT.AccessTTL
	cfg.JWT.Issuer = s.JWT.Issuer
	if s.JWT.Secret != "" {
		cfg.JWT.PrivateKey = []byte(s.JWT.Secret)
	}
	if s.Audit.Stdout || len(s.Audit.KafkaBrokers) > 0 {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = s.Audit.BufferSize
	}

	if err := cfg.Validate(); err != nil {
		return accountguard.Config{}, err
	}
	return cfg, nil
}
