package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"loanflow/internal/config"
	"loanflow/internal/loan"
)

// NewProviderFromConfig builds a Provider with the configured challenge
// store and limiter. The returned close func releases the Redis client, if
// any.
func NewProviderFromConfig(ctx context.Context, cfg config.IdentityConfig, clock loan.Clock, ids loan.IDGenerator, logger loan.Logger) (*Provider, func() error, error) {
	tokens, err := NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenIssuer, cfg.TokenTTL.Duration, clock)
	if err != nil {
		return nil, nil, fmt.Errorf("token issuer (set LOANFLOW_JWT_SECRET): %w", err)
	}

	var sender Sender
	switch cfg.SMSSender {
	case "log", "":
		sender = NewLogSender(logger)
	default:
		return nil, nil, fmt.Errorf("unknown sms sender: %s", cfg.SMSSender)
	}

	var (
		store   ChallengeStore
		limiter Limiter
		closeFn = func() error { return nil }
	)
	switch cfg.ChallengeStore {
	case "memory", "":
		store = NewMemoryChallengeStore()
		limiter = NewMemoryLimiter(cfg.RateLimit, cfg.RateWindow.Duration, clock)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("redis challenge store requires redis_addr to be set")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		store = NewRedisChallengeStore(client, "")
		limiter = NewRedisLimiter(client, "", cfg.RateLimit, cfg.RateWindow.Duration, clock)
		closeFn = client.Close
	default:
		return nil, nil, fmt.Errorf("unknown challenge store: %s", cfg.ChallengeStore)
	}

	p := NewProvider(store, limiter, sender, tokens, clock, ids, logger, Options{
		CodeTTL:     cfg.CodeTTL.Duration,
		MaxAttempts: cfg.MaxAttempts,
	})
	return p, closeFn, nil
}
