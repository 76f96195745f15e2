package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrIssuanceRateLimited      = errors.New("token issuance rate limited")
	ErrIssuanceRedisUnavailable = errors.New("token issuance redis unavailable")
)

type IssuanceConfig struct {
	EnableEmailThrottle bool
	EnableIPThrottle    bool
	MaxRequests         int
	Window              time.Duration
	Prefix              string
}

// IssuanceLimiter throttles token requests per email and per client IP with
// fixed windows. Unknown and known emails are counted alike.
type IssuanceLimiter struct {
	redis  redis.UniversalClient
	config IssuanceConfig
}

func NewIssuanceLimiter(redisClient redis.UniversalClient, cfg IssuanceConfig) *IssuanceLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "agi"
	}
	return &IssuanceLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *IssuanceLimiter) Check(ctx context.Context, purpose, email, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if l.config.EnableEmailThrottle && email != "" {
		if err := l.enforceFixedWindow(ctx, l.config.Prefix+":"+purpose+":e:"+email); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, l.config.Prefix+":"+purpose+":ip:"+ip); err != nil {
			return err
		}
	}
	return nil
}

func (l *IssuanceLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIssuanceRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrIssuanceRedisUnavailable, err)
		}
	}

	if count > int64(l.config.MaxRequests) {
		return ErrIssuanceRateLimited
	}

	return nil
}

// Ping measures a round trip to the limiter's Redis.
func (l *IssuanceLimiter) Ping(ctx context.Context) (time.Duration, error) {
	if l == nil || l.redis == nil {
		return 0, errors.New("issuance limiter not configured")
	}
	start := time.Now()
	if err := l.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIssuanceRedisUnavailable, err)
	}
	return time.Since(start), nil
}
