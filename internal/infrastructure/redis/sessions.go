package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-flashcall-auth/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "flashcall:session:"
	maxTxRetries = 4
	scanBatch    = 100
)

// SessionStore keeps verification sessions in Redis as JSON strings.
// Keys live for twice the session TTL so that a late verify still reports
// "expired" instead of "unknown"; the sweep removes them earlier.
// TakeIfValid relies on GETDEL, so Redis 6.2 or newer is required.
type SessionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewSessionStore(client redis.UniversalClient, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) key(sessionID string) string {
	return keyPrefix + sessionID
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *SessionStore) load(ctx context.Context, c getter, key string) (*domain.VerificationSession, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (*domain.VerificationSession, error) {
	var sess domain.VerificationSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *SessionStore) Put(ctx context.Context, sess *domain.VerificationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(sess.SessionID), data, 2*s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists: %w", sess.SessionID, domain.ErrConflict)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.VerificationSession, error) {
	return s.load(ctx, s.client, s.key(sessionID))
}

// TakeIfValid removes the key with GETDEL, so at most one caller ever sees the
// record. An expired record is still removed and reported as ErrExpired.
func (s *SessionStore) TakeIfValid(ctx context.Context, sessionID string, now time.Time) (*domain.VerificationSession, error) {
	data, err := s.client.GetDel(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel: %w", err)
	}
	sess, err := decode(data)
	if err != nil {
		return nil, err
	}
	if sess.IsExpired(now, s.ttl) {
		return nil, fmt.Errorf("session %s expired: %w", sessionID, domain.ErrExpired)
	}
	return sess, nil
}

// RecordFailedAttempt increments Attempts inside a WATCH transaction and
// retries when another writer touched the key first.
func (s *SessionStore) RecordFailedAttempt(ctx context.Context, sessionID string, maxAttempts int) (int, error) {
	key := s.key(sessionID)
	for i := 0; i < maxTxRetries; i++ {
		attempts := 0
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			sess, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}
			sess.Attempts++
			attempts = sess.Attempts

			if maxAttempts > 0 && attempts >= maxAttempts {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return fmt.Errorf("session %s: %w", sessionID, domain.ErrAttemptsExceeded)
			}

			data, err := json.Marshal(sess)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return attempts, err
	}
	return 0, fmt.Errorf("record failed attempt for %s: too much contention", sessionID)
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// SweepExpired walks the session keyspace with SCAN and deletes every record
// whose age exceeds the TTL at now.
func (s *SessionStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		sess, err := s.load(ctx, s.client, key)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		if !sess.IsExpired(now, s.ttl) {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}
