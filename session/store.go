package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	goPortal "github.com/MrEthical07/goPortal"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is an exported constant or variable used by the routing engine.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionNotFound is returned when the session does not exist or expired.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionCorrupt is returned when the stored blob cannot be decoded.
var ErrSessionCorrupt = errors.New("session corrupt")

// ErrApplyContention is returned when Apply loses its optimistic
// transaction on every retry.
var ErrApplyContention = errors.New("session apply contention")

const applyMaxRetries = 4

// Store is the authoritative owner of portal sessions. The engine never
// calls it; the HTTP gate loads a session with Get and applies the patches
// the engine returns with Apply.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewStore returns a Store keeping sessions under prefix for ttl.
func NewStore(redis redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "gps"
	}
	return &Store{
		redis:  redis,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Create persists a new session and returns it with a fresh id.
//
//	Performance: 1 Redis SET.
//	Docs: docs/session.md
func (s *Store) Create(ctx context.Context, org string, state goPortal.SessionState) (goPortal.SessionState, error) {
	state.ID = uuid.NewString()
	now := time.Now()
	record := &Record{
		State:     state,
		Org:       org,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	data, err := Encode(record)
	if err != nil {
		return goPortal.SessionState{}, err
	}
	if err := s.redis.Set(ctx, s.key(state.ID), data, s.ttl).Err(); err != nil {
		return goPortal.SessionState{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return state, nil
}

// Save overwrites the session state.ID, keeping its remaining TTL. It is used
// to attach values minted after Create, such as a token bound to the id.
//
//	Performance: PTTL + SET.
//	Docs: docs/session.md
func (s *Store) Save(ctx context.Context, org string, state goPortal.SessionState) error {
	if state.ID == "" {
		return ErrSessionNotFound
	}
	key := s.key(state.ID)

	ttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		return ErrSessionNotFound
	}

	now := time.Now()
	data, err := Encode(&Record{
		State:     state,
		Org:       org,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the session state and organization of sessionID.
//
//	Performance: 1 Redis GET, plus 1 SET when an older schema is migrated.
//	Docs: docs/session.md
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	key := s.key(sessionID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	record, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	record.State.ID = sessionID

	if record.ExpiresAt > 0 && time.Now().Unix() > record.ExpiresAt {
		if err := s.Delete(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}

	if err := s.maybeMigrateSessionSchema(ctx, key, record); err != nil {
		return nil, err
	}

	return record, nil
}

// Apply applies patch to the stored session atomically and returns the new
// state. The remaining TTL of the session is preserved.
//
//	Performance: WATCH + GET + PTTL + MULTI/SET/EXEC, retried on contention.
//	Docs: docs/session.md
func (s *Store) Apply(ctx context.Context, sessionID string, patch goPortal.SessionPatch) (goPortal.SessionState, error) {
	key := s.key(sessionID)

	for i := 0; i < applyMaxRetries; i++ {
		var applied goPortal.SessionState

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := Decode(data)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
			}
			record.State.ID = sessionID

			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return ErrSessionNotFound
			}

			record.State = record.State.Apply(patch)
			encoded, err := Encode(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			applied = record.State
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, ErrSessionNotFound):
				return goPortal.SessionState{}, ErrSessionNotFound
			case errors.Is(err, ErrSessionCorrupt):
				return goPortal.SessionState{}, err
			default:
				return goPortal.SessionState{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}

		return applied, nil
	}

	return goPortal.SessionState{}, ErrApplyContention
}

// Delete removes a session. Deleting a missing session is not an error.
//
//	Performance: 1 Redis DEL.
//	Docs: docs/session.md
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) maybeMigrateSessionSchema(ctx context.Context, key string, record *Record) error {
	if record == nil || record.SchemaVersion == CurrentSchemaVersion {
		return nil
	}

	pttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if pttl <= 0 {
		return nil
	}

	record.SchemaVersion = CurrentSchemaVersion
	encoded, err := Encode(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, key, encoded, pttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
