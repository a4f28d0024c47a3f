package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goRecovery/internal/limiters"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned by a Limiter when the window is exhausted.
	ErrRateLimited = errors.New("recovery rate limited")
	// ErrLimiterUnavailable is returned when the limiter backend cannot be reached.
	ErrLimiterUnavailable = errors.New("recovery limiter unavailable")
)

// RetryAfterError is a rate-limit rejection that knows how long the caller
// has to wait. It matches ErrRateLimited.
type RetryAfterError struct {
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RetryAfterError) Unwrap() error {
	return ErrRateLimited
}

// Limiter throttles OTP requests and verifications per contact and client IP.
type Limiter interface {
	CheckRequest(ctx context.Context, contact, ip string) error
	CheckVerify(ctx context.Context, contact, ip string) error
}

// LimiterConfig configures the Redis fixed-window limiter.
type LimiterConfig struct {
	PerContact   bool
	PerIP        bool
	RequestLimit int
	VerifyLimit  int
	Window       time.Duration
}

// DefaultLimiterConfig allows 5 OTP requests and 10 verify attempts per
// contact and per IP every 15 minutes.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		PerContact:   true,
		PerIP:        true,
		RequestLimit: 5,
		VerifyLimit:  10,
		Window:       15 * time.Minute,
	}
}

// RedisLimiter is the Limiter backed by Redis INCR/EXPIRE windows.
type RedisLimiter struct {
	limiter *limiters.OTPLimiter
}

func NewRedisLimiter(client redis.UniversalClient, cfg LimiterConfig) *RedisLimiter {
	return &RedisLimiter{
		limiter: limiters.NewOTPLimiter(client, limiters.OTPConfig{
			EnableContactThrottle: cfg.PerContact,
			EnableIPThrottle:      cfg.PerIP,
			RequestLimit:          cfg.RequestLimit,
			VerifyLimit:           cfg.VerifyLimit,
			Window:                cfg.Window,
		}),
	}
}

func (r *RedisLimiter) CheckRequest(ctx context.Context, contact, ip string) error {
	return mapLimiterError(r.limiter.CheckRequest(ctx, contact, ip))
}

func (r *RedisLimiter) CheckVerify(ctx context.Context, contact, ip string) error {
	return mapLimiterError(r.limiter.CheckVerify(ctx, contact, ip))
}

// Window is the configured window length, used as the retry hint when a
// rejection carries no remaining time.
func (r *RedisLimiter) Window() time.Duration {
	return r.limiter.Cooldown()
}

func mapLimiterError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrOTPRateLimited):
		var retry *limiters.RetryAfterError
		if errors.As(err, &retry) {
			return &RetryAfterError{RetryAfter: retry.RetryAfter}
		}
		return ErrRateLimited
	case errors.Is(err, limiters.ErrOTPRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	default:
		return err
	}
}
