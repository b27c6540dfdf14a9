package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phixlab/nutrilens/backend/internal/session"
)

var (
	// ErrSessionNotFound is returned for unknown or expired sessions
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when creating a session whose id is taken
	ErrSessionExists = errors.New("session already exists")
)

const (
	sessionKeyPrefix = "nutrilens:session:"
	maxUpdateRetries = 10
)

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemorySessionStore keeps sessions in process memory. Sessions are stored
// serialized so callers never share state with the store.
type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]memoryEntry
	onExpire func(*session.Session)
	// expired holds sessions dropped under mu, reported once mu is released
	expired []*session.Session
}

// NewMemorySessionStore creates a store whose sessions expire ttl after their last write
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memoryEntry),
	}
}

// OnExpire registers fn to be called with every session that expires. fn
// runs outside the store lock.
func (m *MemorySessionStore) OnExpire(fn func(*session.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

func (m *MemorySessionStore) Create(_ context.Context, s *session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	m.mu.Lock()
	defer m.unlock()
	m.sweep()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrSessionExists
	}
	m.sessions[s.ID] = memoryEntry{data: data, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.unlock()
	return m.load(id)
}

func (m *MemorySessionStore) Update(_ context.Context, id string, fn func(*session.Session) error) (*session.Session, error) {
	m.mu.Lock()
	defer m.unlock()

	s, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	m.sessions[id] = memoryEntry{data: data, expires: m.now().Add(m.ttl)}
	return s, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// load must be called with mu held
func (m *MemorySessionStore) load(id string) (*session.Session, error) {
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !m.now().Before(e.expires) {
		m.expire(id, e)
		return nil, ErrSessionNotFound
	}
	var s session.Session
	if err := json.Unmarshal(e.data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

// sweep drops expired sessions. mu must be held.
func (m *MemorySessionStore) sweep() {
	now := m.now()
	for id, e := range m.sessions {
		if !now.Before(e.expires) {
			m.expire(id, e)
		}
	}
}

// expire drops an expired session. mu must be held.
func (m *MemorySessionStore) expire(id string, e memoryEntry) {
	delete(m.sessions, id)
	if m.onExpire == nil {
		return
	}
	var s session.Session
	if err := json.Unmarshal(e.data, &s); err == nil {
		m.expired = append(m.expired, &s)
	}
}

// unlock releases mu and reports the sessions that expired while it was held
func (m *MemorySessionStore) unlock() {
	expired, fn := m.expired, m.onExpire
	m.expired = nil
	m.mu.Unlock()
	if fn == nil {
		return
	}
	for _, s := range expired {
		fn(s)
	}
}

// RedisSessionStore keeps sessions in Redis with a sliding TTL
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a Redis backed session store
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (r *RedisSessionStore) Create(ctx context.Context, s *session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	ok, err := r.client.SetNX(ctx, sessionKey(s.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}
	return nil
}

func (r *RedisSessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	return r.load(ctx, r.client, id)
}

// Update runs fn inside an optimistic WATCH transaction and retries when
// another writer touched the session in between.
func (r *RedisSessionStore) Update(ctx context.Context, id string, fn func(*session.Session) error) (*session.Session, error) {
	key := sessionKey(id)
	var updated *session.Session

	txf := func(tx *redis.Tx) error {
		s, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			// keep an image held in Redis alive as long as its session
			if img, ok := session.ImageOf(s.State); ok && r.ttl > 0 {
				pipe.Expire(ctx, redisImageKey(img.Key), r.ttl)
			}
			return nil
		})
		if err == nil {
			updated = s
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("failed to update session %s: too many concurrent writes", id)
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisSessionStore) load(ctx context.Context, c stringGetter, id string) (*session.Session, error) {
	data, err := c.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}
