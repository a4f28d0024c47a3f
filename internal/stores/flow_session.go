package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	flowSessionVersionV1 = 1
	maxFieldLen          = 65535
)

var (
	ErrFlowNotFound         = errors.New("flow session not found")
	ErrFlowTokenMismatch    = errors.New("flow session token mismatch")
	ErrFlowRedisUnavailable = errors.New("flow session redis unavailable")
)

// FlowSession is the server-side continuation state of one recovery flow.
type FlowSession struct {
	Method    string
	Contact   string
	Token     string
	OTPRef    string
	CreatedAt int64
	Rotations uint16
}

// FlowSessionStore keeps FlowSession records under "<prefix>:<flowID>".
type FlowSessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewFlowSessionStore(redisClient redis.UniversalClient, prefix string) *FlowSessionStore {
	if prefix == "" {
		prefix = "arf"
	}
	return &FlowSessionStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *FlowSessionStore) key(flowID string) string {
	return s.prefix + ":" + flowID
}

func (s *FlowSessionStore) Save(ctx context.Context, flowID string, record *FlowSession, ttl time.Duration) error {
	encoded, err := encodeFlowSession(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(flowID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrFlowRedisUnavailable, err)
	}

	return nil
}

func (s *FlowSessionStore) Get(ctx context.Context, flowID string) (*FlowSession, error) {
	data, err := s.redis.Get(ctx, s.key(flowID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrFlowNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFlowRedisUnavailable, err)
	}

	return decodeFlowSession(data)
}

func (s *FlowSessionStore) Delete(ctx context.Context, flowID string) error {
	if err := s.redis.Del(ctx, s.key(flowID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrFlowRedisUnavailable, err)
	}
	return nil
}

// RotateToken replaces the stored token with next, keeping the remaining
// TTL. When expected is non-empty the stored token must match it.
func (s *FlowSessionStore) RotateToken(ctx context.Context, flowID, expected, next string) (*FlowSession, error) {
	const maxRetries = 4
	key := s.key(flowID)

	for i := 0; i < maxRetries; i++ {
		var rotated *FlowSession

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return ErrFlowNotFound
			}

			record, err := decodeFlowSession(data)
			if err != nil {
				return err
			}
			if expected != "" && subtle.ConstantTimeCompare([]byte(record.Token), []byte(expected)) != 1 {
				return ErrFlowTokenMismatch
			}

			record.Token = next
			if record.Rotations < maxFieldLen {
				record.Rotations++
			}
			updated, err := encodeFlowSession(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			rotated = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrFlowNotFound
			case errors.Is(err, ErrFlowNotFound), errors.Is(err, ErrFlowTokenMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrFlowRedisUnavailable, err)
			}
		}

		return rotated, nil
	}

	return nil, ErrFlowTokenMismatch
}

func encodeFlowSession(record *FlowSession) ([]byte, error) {
	if record == nil {
		return nil, errors.New("flow session is nil")
	}

	var buf bytes.Buffer

	buf.WriteByte(flowSessionVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.Rotations); err != nil {
		return nil, err
	}

	for _, field := range []string{record.Method, record.Contact, record.Token, record.OTPRef} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeFlowSession(data []byte) (*FlowSession, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != flowSessionVersionV1 {
		return nil, errors.New("invalid flow session version")
	}

	record := &FlowSession{}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.Rotations); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&record.Method, &record.Contact, &record.Token, &record.OTPRef} {
		v, err := readString(reader)
		if err != nil {
			return nil, err
		}
		*dst = v
	}

	return record, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > maxFieldLen {
		return errors.New("flow session field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.WriteString(v)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return "", err
	}
	return string(out), nil
}
