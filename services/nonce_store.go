package services

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore remembers webhook nonces for a while. Remember reports false
// when the nonce was already seen.
type NonceStore interface {
	Remember(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

type RedisNonceStore struct {
	client *redis.Client
	prefix string
}

func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client, prefix: "webhook:nonce:"}
}

func (s *RedisNonceStore) Remember(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+nonce, 1, ttl).Result()
}

// MemoryNonceStore is the single-instance fallback when Redis is not
// configured.
type MemoryNonceStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	clock Clock
}

func NewMemoryNonceStore(clock Clock) *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[string]time.Time), clock: clock}
}

func (s *MemoryNonceStore) Remember(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.now()
	for k, exp := range s.seen {
		if now.After(exp) {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[nonce]; ok {
		return false, nil
	}
	s.seen[nonce] = now.Add(ttl)
	return true, nil
}
