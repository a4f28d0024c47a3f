package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newFlowStoreTest(t *testing.T) (*FlowSessionStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFlowSessionStore(rdb, "arf"), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func testFlowSession() *FlowSession {
	return &FlowSession{
		Method:    "phone",
		Contact:   "0812345678",
		Token:     "tok-1",
		OTPRef:    "ref-1",
		CreatedAt: time.Unix(1_700_000_000, 0).Unix(),
	}
}

func TestFlowSessionSaveGetDelete(t *testing.T) {
	store, mr, done := newFlowStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "flow-1", testFlowSession(), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("arf:flow-1") {
		t.Fatal("expected prefixed key")
	}

	got, err := store.Get(ctx, "flow-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got != *testFlowSession() {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := store.Delete(ctx, "flow-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "flow-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.Get(ctx, "flow-1"); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestFlowSessionExpires(t *testing.T) {
	store, mr, done := newFlowStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "flow-1", testFlowSession(), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, "flow-1"); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound after ttl, got %v", err)
	}
}

func TestFlowSessionRotateToken(t *testing.T) {
	store, mr, done := newFlowStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "flow-1", testFlowSession(), 10*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(4 * time.Minute)

	rotated, err := store.RotateToken(ctx, "flow-1", "tok-1", "tok-2")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.Token != "tok-2" || rotated.Rotations != 1 || rotated.Contact != "0812345678" {
		t.Fatalf("unexpected rotated record %+v", rotated)
	}
	if ttl := mr.TTL("arf:flow-1"); ttl > 6*time.Minute || ttl <= 0 {
		t.Fatalf("expected remaining ttl to be kept, got %v", ttl)
	}

	if _, err := store.RotateToken(ctx, "flow-1", "tok-1", "tok-3"); !errors.Is(err, ErrFlowTokenMismatch) {
		t.Fatalf("expected ErrFlowTokenMismatch for stale token, got %v", err)
	}

	// An empty expected token skips the comparison.
	rotated, err = store.RotateToken(ctx, "flow-1", "", "tok-3")
	if err != nil || rotated.Token != "tok-3" || rotated.Rotations != 2 {
		t.Fatalf("unexpected unconditional rotate result %+v, %v", rotated, err)
	}
}

func TestFlowSessionRotateMissing(t *testing.T) {
	store, _, done := newFlowStoreTest(t)
	defer done()

	if _, err := store.RotateToken(context.Background(), "nope", "", "x"); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestFlowSessionRedisDown(t *testing.T) {
	store, mr, done := newFlowStoreTest(t)
	defer done()
	mr.Close()

	err := store.Save(context.Background(), "flow-1", testFlowSession(), time.Minute)
	if !errors.Is(err, ErrFlowRedisUnavailable) {
		t.Fatalf("expected ErrFlowRedisUnavailable, got %v", err)
	}
	if _, err := store.Get(context.Background(), "flow-1"); !errors.Is(err, ErrFlowRedisUnavailable) {
		t.Fatalf("expected ErrFlowRedisUnavailable on get, got %v", err)
	}
}

func TestFlowSessionDecodeRejectsGarbage(t *testing.T) {
	if _, err := decodeFlowSession([]byte{9, 0, 0}); err == nil {
		t.Fatal("expected version error")
	}
	encoded, err := encodeFlowSession(testFlowSession())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := decodeFlowSession(encoded[:len(encoded)-2]); err == nil {
		t.Fatal("expected error for truncated record")
	}
	if _, err := encodeFlowSession(nil); err == nil {
		t.Fatal("expected error for nil record")
	}
}
