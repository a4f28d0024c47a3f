package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	goRecovery "github.com/MrEthical07/goRecovery"
	"github.com/MrEthical07/goRecovery/internal/stores"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound is returned by a SessionStore for an unknown or expired flow.
	ErrSessionNotFound = errors.New("recovery session not found")
	// ErrSessionUnavailable is returned when the session backend cannot be reached.
	ErrSessionUnavailable = errors.New("recovery session store unavailable")
)

// Session is what the proxy remembers between the steps of one flow.
type Session struct {
	Method  goRecovery.Method
	Contact string
	Token   string
	OTPRef  string
}

// SessionStore is a session-scoped key/value store with TTL.
type SessionStore interface {
	Get(ctx context.Context, flowID string) (Session, error)
	Set(ctx context.Context, flowID string, s Session, ttl time.Duration) error
	Clear(ctx context.Context, flowID string) error
}

// TokenRotator is implemented by stores that can swap the flow token
// atomically. The proxy falls back to Get+Set otherwise.
type TokenRotator interface {
	RotateToken(ctx context.Context, flowID, expected, next string) error
}

// RedisSessionStore keeps sessions in Redis through the flow-session record
// codec.
type RedisSessionStore struct {
	store *stores.FlowSessionStore
	now   func() time.Time
}

// NewRedisSessionStore returns a store writing "<prefix>:<flowID>" keys.
// An empty prefix uses "arf".
func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	return &RedisSessionStore{
		store: stores.NewFlowSessionStore(client, prefix),
		now:   time.Now,
	}
}

func (r *RedisSessionStore) Get(ctx context.Context, flowID string) (Session, error) {
	rec, err := r.store.Get(ctx, flowID)
	if err != nil {
		return Session{}, mapStoreError(err)
	}
	return Session{
		Method:  goRecovery.Method(rec.Method),
		Contact: rec.Contact,
		Token:   rec.Token,
		OTPRef:  rec.OTPRef,
	}, nil
}

func (r *RedisSessionStore) Set(ctx context.Context, flowID string, s Session, ttl time.Duration) error {
	err := r.store.Save(ctx, flowID, &stores.FlowSession{
		Method:    string(s.Method),
		Contact:   s.Contact,
		Token:     s.Token,
		OTPRef:    s.OTPRef,
		CreatedAt: r.now().Unix(),
	}, ttl)
	return mapStoreError(err)
}

func (r *RedisSessionStore) Clear(ctx context.Context, flowID string) error {
	return mapStoreError(r.store.Delete(ctx, flowID))
}

func (r *RedisSessionStore) RotateToken(ctx context.Context, flowID, expected, next string) error {
	_, err := r.store.RotateToken(ctx, flowID, expected, next)
	return mapStoreError(err)
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrFlowNotFound), errors.Is(err, stores.ErrFlowTokenMismatch):
		return ErrSessionNotFound
	case errors.Is(err, stores.ErrFlowRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	default:
		return err
	}
}
