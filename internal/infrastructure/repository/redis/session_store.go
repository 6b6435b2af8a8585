package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

const (
	keyPrefix       = "intake:session:"
	maxWatchRetries = 5
)

// SessionStore keeps each session as a JSON document. Updates run as an
// optimistic WATCH/MULTI transaction on the user's key.
type SessionStore struct {
	client *goredis.Client
	ttl    time.Duration
	now    func() time.Time
}

func Open(ctx context.Context, rawURL string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewSessionStore stores sessions without expiry when ttl is zero.
func NewSessionStore(client *goredis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func sessionKey(userID string) string {
	return keyPrefix + userID
}

func (s *SessionStore) Get(ctx context.Context, userID string) (domain.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Session{}, domain.WrapError(domain.ErrInvalidInput, "get session", errors.New("user id is empty"))
	}
	key := sessionKey(userID)

	raw, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		return decode(raw)
	}
	if !errors.Is(err, goredis.Nil) {
		return domain.Session{}, domain.WrapError(domain.ErrTemporary, "get session", err)
	}

	fresh := domain.NewSession(userID, s.now())
	encoded, err := json.Marshal(fresh)
	if err != nil {
		return domain.Session{}, fmt.Errorf("marshal session: %w", err)
	}
	created, err := s.client.SetNX(ctx, key, encoded, s.ttl).Result()
	if err != nil {
		return domain.Session{}, domain.WrapError(domain.ErrTemporary, "create session", err)
	}
	if created {
		return fresh, nil
	}
	// Lost the race to another writer; read what it stored.
	raw, err = s.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.Session{}, domain.WrapError(domain.ErrTemporary, "get session", err)
	}
	return decode(raw)
}

func (s *SessionStore) Update(ctx context.Context, userID string, patch domain.SessionPatch) error {
	if strings.TrimSpace(userID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "update session", errors.New("user id is empty"))
	}
	if patch.Empty() {
		return nil
	}
	key := sessionKey(userID)

	txn := func(tx *goredis.Tx) error {
		session := domain.NewSession(userID, s.now())
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if session, err = decode(raw); err != nil {
				return err
			}
		case !errors.Is(err, goredis.Nil):
			return err
		}

		session.Apply(patch)
		session.UpdatedAt = s.now()
		encoded, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return domain.WrapError(domain.ErrTemporary, "update session", err)
		}
	}
	return domain.WrapError(domain.ErrTemporary, "update session", goredis.TxFailedErr)
}

func decode(raw []byte) (domain.Session, error) {
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if session.Queue == nil {
		session.Queue = []domain.QueueEntry{}
	}
	return session, nil
}
