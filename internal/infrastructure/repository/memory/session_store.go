package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

const defaultShards = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// SessionStore is an in-process session store partitioned by user id.
// Sessions are cloned on every read and write.
type SessionStore struct {
	shards []*shard
	now    func() time.Time
}

func NewSessionStore(shards int) *SessionStore {
	if shards <= 0 {
		shards = defaultShards
	}
	s := &SessionStore{
		shards: make([]*shard, shards),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*domain.Session)}
	}
	return s
}

func (s *SessionStore) Get(_ context.Context, userID string) (domain.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Session{}, domain.WrapError(domain.ErrInvalidInput, "get session", errors.New("user id is empty"))
	}
	sh := s.shardFor(userID)

	sh.mu.RLock()
	session, ok := sh.sessions[userID]
	if ok {
		out := session.Clone()
		sh.mu.RUnlock()
		return out, nil
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	session, ok = sh.sessions[userID]
	if !ok {
		fresh := domain.NewSession(userID, s.now())
		session = &fresh
		sh.sessions[userID] = session
	}
	return session.Clone(), nil
}

func (s *SessionStore) Update(_ context.Context, userID string, patch domain.SessionPatch) error {
	if strings.TrimSpace(userID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "update session", errors.New("user id is empty"))
	}
	sh := s.shardFor(userID)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	session, ok := sh.sessions[userID]
	if !ok {
		fresh := domain.NewSession(userID, s.now())
		session = &fresh
		sh.sessions[userID] = session
	}
	session.Apply(patch)
	session.UpdatedAt = s.now()
	return nil
}

// Len counts stored sessions.
func (s *SessionStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return total
}

func (s *SessionStore) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}
