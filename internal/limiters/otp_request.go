package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPRateLimited      = errors.New("otp rate limited")
	ErrOTPRedisUnavailable = errors.New("otp limiter redis unavailable")
)

// RetryAfterError is returned when a window is exhausted. It matches
// ErrOTPRateLimited and carries the time left on the exhausted key.
type RetryAfterError struct {
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrOTPRateLimited, e.RetryAfter)
}

func (e *RetryAfterError) Unwrap() error {
	return ErrOTPRateLimited
}

type OTPConfig struct {
	EnableContactThrottle bool
	EnableIPThrottle      bool
	// RequestLimit OTP requests per contact (and per IP) within Window.
	RequestLimit int
	// VerifyLimit verify attempts per contact (and per IP) within Window.
	VerifyLimit int
	Window      time.Duration
}

// OTPLimiter throttles OTP issuance and verification with fixed windows.
type OTPLimiter struct {
	redis  redis.UniversalClient
	config OTPConfig
}

func NewOTPLimiter(redisClient redis.UniversalClient, cfg OTPConfig) *OTPLimiter {
	return &OTPLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckRequest counts one OTP request for contact and ip.
func (l *OTPLimiter) CheckRequest(ctx context.Context, contact, ip string) error {
	if l == nil {
		return nil
	}
	return l.check(ctx, requestContactKey(contact), requestIPKey(ip), contact, ip, l.config.RequestLimit)
}

// CheckVerify counts one OTP verification for contact and ip.
func (l *OTPLimiter) CheckVerify(ctx context.Context, contact, ip string) error {
	if l == nil {
		return nil
	}
	return l.check(ctx, verifyContactKey(contact), verifyIPKey(ip), contact, ip, l.config.VerifyLimit)
}

// Cooldown is the configured window length.
func (l *OTPLimiter) Cooldown() time.Duration {
	if l == nil {
		return 0
	}
	return l.config.Window
}

func (l *OTPLimiter) check(ctx context.Context, contactKey, ipKey, contact, ip string, limit int) error {
	if limit <= 0 {
		return nil
	}
	if l.config.EnableContactThrottle && contact != "" {
		if err := l.enforceFixedWindow(ctx, contactKey, limit); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, ipKey, limit); err != nil {
			return err
		}
	}
	return nil
}

func (l *OTPLimiter) enforceFixedWindow(ctx context.Context, key string, limit int) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
		}
	}

	if count > int64(limit) {
		return &RetryAfterError{RetryAfter: l.remaining(ctx, key)}
	}

	return nil
}

// remaining is the key's PTTL, falling back to the full window when Redis
// reports no expiry.
func (l *OTPLimiter) remaining(ctx context.Context, key string) time.Duration {
	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return l.config.Window
	}
	return ttl
}

func normalizeContact(contact string) string {
	return strings.ToLower(strings.TrimSpace(contact))
}

func requestContactKey(contact string) string {
	return "arq:" + normalizeContact(contact)
}

func requestIPKey(ip string) string {
	return "arqip:" + ip
}

func verifyContactKey(contact string) string {
	return "arv:" + normalizeContact(contact)
}

func verifyIPKey(ip string) string {
	return "arvip:" + ip
}
