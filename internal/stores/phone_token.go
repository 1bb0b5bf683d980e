package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// v1 stored the cooldown in seconds, v2 in milliseconds.
	phoneTokenRecordVersionV1 = 1
	phoneTokenRecordVersionV2 = 2
	phoneTokenRecordSize      = 1 + 1 + 8 + 4
)

// PhoneTokenState is the lifecycle position of a session's verification token.
type PhoneTokenState uint8

const (
	// PhoneTokenClaimed means an issuance request is in flight.
	PhoneTokenClaimed PhoneTokenState = iota + 1
	// PhoneTokenIssued means a token was issued or found active.
	PhoneTokenIssued
	// PhoneTokenCooldown means issuance failed with a server cooldown.
	PhoneTokenCooldown
)

var (
	ErrPhoneTokenNotFound         = errors.New("phone token marker not found")
	ErrPhoneTokenRedisUnavailable = errors.New("phone token marker redis unavailable")
)

// releaseClaimLua deletes the marker only while it is still an unfinished claim.
// KEYS[1] = marker key
//
// Returns 1 when a claim was released, 0 otherwise.
var releaseClaimLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
local version = string.byte(data, 1)
if version ~= 1 and version ~= 2 then
  redis.call('DEL', KEYS[1])
  return 1
end
if string.byte(data, 2) == 1 then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// PhoneTokenRecord is the persisted marker of a session's verification token.
// IssuedAt is captured once at issuance; the resend deadline is
// IssuedAt + Cooldown.
type PhoneTokenRecord struct {
	State    PhoneTokenState
	IssuedAt time.Time
	Cooldown time.Duration
}

// ResendAt returns the earliest time a resend is permitted.
func (r *PhoneTokenRecord) ResendAt() time.Time {
	if r == nil || r.IssuedAt.IsZero() {
		return time.Time{}
	}
	return r.IssuedAt.Add(r.Cooldown)
}

// PhoneTokenStore persists the "token already issued" marker per session.
type PhoneTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPhoneTokenStore(redisClient redis.UniversalClient, prefix string) *PhoneTokenStore {
	if prefix == "" {
		prefix = "gpv"
	}
	return &PhoneTokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PhoneTokenStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Load returns the marker of sessionID or ErrPhoneTokenNotFound.
func (s *PhoneTokenStore) Load(ctx context.Context, sessionID string) (*PhoneTokenRecord, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPhoneTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPhoneTokenRedisUnavailable, err)
	}
	record, err := decodePhoneTokenRecord(data)
	if err != nil {
		// A corrupt marker is treated as absent and removed.
		_ = s.redis.Del(ctx, s.key(sessionID)).Err()
		return nil, ErrPhoneTokenNotFound
	}
	return record, nil
}

// Claim sets a claimed marker if none exists. It reports false when another
// caller already holds a marker for sessionID.
func (s *PhoneTokenStore) Claim(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	encoded, err := encodePhoneTokenRecord(&PhoneTokenRecord{State: PhoneTokenClaimed})
	if err != nil {
		return false, err
	}
	ok, err := s.redis.SetNX(ctx, s.key(sessionID), encoded, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPhoneTokenRedisUnavailable, err)
	}
	return ok, nil
}

// Save overwrites the marker of sessionID.
func (s *PhoneTokenStore) Save(ctx context.Context, sessionID string, record *PhoneTokenRecord, ttl time.Duration) error {
	encoded, err := encodePhoneTokenRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sessionID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPhoneTokenRedisUnavailable, err)
	}
	return nil
}

// Release removes a claimed marker left behind by a failed issuance. Issued
// and cooldown markers are kept.
func (s *PhoneTokenStore) Release(ctx context.Context, sessionID string) error {
	if err := releaseClaimLua.Run(ctx, s.redis, []string{s.key(sessionID)}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPhoneTokenRedisUnavailable, err)
	}
	return nil
}

// Delete removes the marker. Deleting a missing marker is not an error.
func (s *PhoneTokenStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPhoneTokenRedisUnavailable, err)
	}
	return nil
}

func encodePhoneTokenRecord(record *PhoneTokenRecord) ([]byte, error) {
	if record == nil {
		return nil, errors.New("phone token record is nil")
	}
	if record.Cooldown < 0 {
		return nil, errors.New("phone token cooldown is negative")
	}

	var buf bytes.Buffer
	buf.Grow(phoneTokenRecordSize)
	buf.WriteByte(phoneTokenRecordVersionV2)
	buf.WriteByte(byte(record.State))

	var issuedAt int64
	if !record.IssuedAt.IsZero() {
		issuedAt = record.IssuedAt.UnixMilli()
	}
	if err := binary.Write(&buf, binary.BigEndian, issuedAt); err != nil {
		return nil, err
	}
	if record.Cooldown/time.Millisecond > math.MaxUint32 {
		return nil, errors.New("phone token cooldown too large")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(record.Cooldown/time.Millisecond)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodePhoneTokenRecord(data []byte) (*PhoneTokenRecord, error) {
	if len(data) != phoneTokenRecordSize {
		return nil, errors.New("invalid phone token record length")
	}
	version := data[0]
	if version != phoneTokenRecordVersionV1 && version != phoneTokenRecordVersionV2 {
		return nil, errors.New("invalid phone token record version")
	}

	state := PhoneTokenState(data[1])
	switch state {
	case PhoneTokenClaimed, PhoneTokenIssued, PhoneTokenCooldown:
	default:
		return nil, errors.New("invalid phone token record state")
	}

	record := &PhoneTokenRecord{State: state}
	if ms := int64(binary.BigEndian.Uint64(data[2:10])); ms > 0 {
		record.IssuedAt = time.UnixMilli(ms)
	}
	unit := time.Millisecond
	if version == phoneTokenRecordVersionV1 {
		unit = time.Second
	}
	record.Cooldown = time.Duration(binary.BigEndian.Uint32(data[10:14])) * unit

	return record, nil
}
