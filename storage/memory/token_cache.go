package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds a TokenStore created with max <= 0.
const DefaultMaxEntries = 1000

// TokenStore is an in-memory, size-bounded implementation of
// clientkit.TokenStore. The least recently used entry is evicted when full.
type TokenStore struct {
	mu     sync.Mutex
	data   *lru.Cache[string, item]
	now    func() time.Time
	closed chan struct{}
	once   sync.Once
}

type item struct {
	v   core.AccessTokenResponse
	exp time.Time
}

// NewTokenStore creates a store holding at most max entries.
// Starts a background goroutine to clean up expired entries every minute.
func NewTokenStore(max int) *TokenStore {
	s := newTokenStore(max, time.Now)
	go s.cleanupLoop()
	return s
}

func newTokenStore(max int, now func() time.Time) *TokenStore {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	data, _ := lru.New[string, item](max) // only fails for size <= 0
	return &TokenStore{data: data, now: now, closed: make(chan struct{})}
}

func (s *TokenStore) Put(ctx context.Context, key string, v core.AccessTokenResponse, ttl time.Duration) error {
	_ = ctx
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Add(key, item{v: v, exp: s.now().Add(ttl)})
	return nil
}

// Get never moves an entry's deadline.
func (s *TokenStore) Get(ctx context.Context, key string) (core.AccessTokenResponse, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data.Get(key)
	if !ok {
		return core.AccessTokenResponse{}, false, nil
	}
	if !s.now().Before(it.exp) {
		s.data.Remove(key)
		return core.AccessTokenResponse{}, false, nil
	}
	return it.v, true, nil
}

func (s *TokenStore) Del(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Remove(key)
	return nil
}

// Len reports the number of entries, expired ones included until cleanup.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Len()
}

func (s *TokenStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.closed:
			return
		}
	}
}

func (s *TokenStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, k := range s.data.Keys() {
		if it, ok := s.data.Peek(k); ok && !now.Before(it.exp) {
			s.data.Remove(k)
		}
	}
}

// Close stops the background cleanup goroutine.
func (s *TokenStore) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
