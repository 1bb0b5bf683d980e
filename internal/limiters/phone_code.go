package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrPhoneCodeRateLimited        = errors.New("phone code submissions rate limited")
	ErrPhoneCodeLimiterUnavailable = errors.New("phone code limiter unavailable")
)

type PhoneCodeConfig struct {
	Enabled     bool
	Prefix      string
	MaxAttempts int
	Window      time.Duration
}

// PhoneCodeLimiter throttles verification code submissions per session with
// a fixed window counter.
type PhoneCodeLimiter struct {
	redis  redis.UniversalClient
	config PhoneCodeConfig
}

func NewPhoneCodeLimiter(redisClient redis.UniversalClient, cfg PhoneCodeConfig) *PhoneCodeLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "gpvc"
	}
	return &PhoneCodeLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckSubmit counts one submission for sessionID.
func (l *PhoneCodeLimiter) CheckSubmit(ctx context.Context, sessionID string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	return l.enforceFixedWindow(ctx, l.submitKey(sessionID))
}

// Reset clears the counter after a successful verification or a phone change.
func (l *PhoneCodeLimiter) Reset(ctx context.Context, sessionID string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	if err := l.redis.Del(ctx, l.submitKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPhoneCodeLimiterUnavailable, err)
	}
	return nil
}

func (l *PhoneCodeLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPhoneCodeLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrPhoneCodeLimiterUnavailable, err)
		}
	}

	if count > int64(l.config.MaxAttempts) {
		return ErrPhoneCodeRateLimited
	}

	return nil
}

func (l *PhoneCodeLimiter) submitKey(sessionID string) string {
	return l.config.Prefix + ":" + sessionID
}
