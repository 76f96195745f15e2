package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	accountguard "github.com/securyflex/accountguard"
	"github.com/securyflex/accountguard/mailer"
	"github.com/securyflex/accountguard/sinks/kafkasink"
	"github.com/securyflex/accountguard/store/memstore"
	"github.com/securyflex/accountguard/store/pgstore"
	"github.com/securyflex/accountguard/store/redisstore"
	"go.uber.org/zap"
)

// app holds everything a command needs to talk to the engine.
type app struct {
	settings Settings
	logger   *zap.Logger
	engine   *accountguard.Engine
	pg       *pgstore.Store
	closers  []func()
}

func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newRedisClient(s RedisSettings) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.Addrs,
		Password: s.Password,
		DB:       s.DB,
	})
}

// openApp connects the configured backend and builds the engine.
func openApp(ctx context.Context, s Settings, logger *zap.Logger) (*app, error) {
	cfg, err := s.engineConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{settings: s, logger: logger}
	b := accountguard.New().WithConfig(cfg).WithLogger(logger)

	var client redis.UniversalClient
	if len(s.Redis.Addrs) > 0 {
		client = newRedisClient(s.Redis)
		a.closers = append(a.closers, func() { _ = client.Close() })
		b.WithRedis(client)
	}

	switch strings.ToLower(s.Backend) {
	case "memory", "":
		logger.Warn("using in-memory backend; state is lost on exit")
		b.WithBackend(memstore.New())
	case "redis":
		if client == nil {
			a.Close()
			return nil, fmt.Errorf("backend redis requires redis.addrs")
		}
		b.WithBackend(redisstore.New(client, redisstore.Options{Prefix: s.Redis.Prefix}))
	case "postgres":
		store, err := pgstore.Open(ctx, s.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pg = store
		a.closers = append(a.closers, store.Close)
		b.WithBackend(store)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown backend %q (want memory, redis or postgres)", s.Backend)
	}

	m, err := newMailer(s.Mail, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	b.WithMailer(m)

	var sinks accountguard.MultiSink
	if s.Audit.Stdout {
		sinks = append(sinks, accountguard.NewJSONWriterSink(os.Stdout))
	}
	if len(s.Audit.KafkaBrokers) > 0 {
		sink, err := kafkasink.New(kafkasink.Config{
			Brokers: s.Audit.KafkaBrokers,
			Topic:   s.Audit.KafkaTopic,
			Source:  "securyflex-accountguard",
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := sink.Close(); err != nil {
				logger.Warn("close kafka sink", zap.Error(err))
			}
		})
		sinks = append(sinks, sink)
	}
	switch len(sinks) {
	case 0:
	case 1:
		b.WithAuditSink(sinks[0])
	default:
		b.WithAuditSink(sinks)
	}

	engine, err := b.Build()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine
	return a, nil
}

func newMailer(s MailSettings, logger *zap.Logger) (accountguard.Mailer, error) {
	links := mailer.Links{BaseURL: s.BaseURL}
	switch strings.ToLower(s.Mode) {
	case "smtp":
		return mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:        s.SMTPHost,
			Port:        s.SMTPPort,
			Username:    s.SMTPUsername,
			Password:    s.SMTPPassword,
			From:        s.From,
			ImplicitTLS: s.SMTPImplicit,
			Links:       links,
		}, logger.Named("mailer"))
	case "log", "":
		return mailer.LogMailer{Logger: logger.Named("mailer"), Links: links}, nil
	case "log-links":
		return mailer.LogMailer{Logger: logger.Named("mailer"), Links: links, IncludeLinks: true}, nil
	default:
		return nil, fmt.Errorf("unknown mail mode %q (want log, log-links or smtp)", s.Mode)
	}
}
