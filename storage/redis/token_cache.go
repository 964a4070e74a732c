package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	"github.com/redis/go-redis/v9"
)

// TokenStore shares cached access tokens between instances through Redis.
// Redis expires each entry after its TTL; reads never refresh it.
type TokenStore struct {
	rdb   redis.Cmdable
	keyNS string
}

func NewTokenStore(rdb redis.Cmdable, keyPrefix string) *TokenStore {
	if keyPrefix == "" {
		keyPrefix = "tokenkit:token:"
	}
	return &TokenStore{rdb: rdb, keyNS: keyPrefix}
}

func (s *TokenStore) key(k string) string { return s.keyNS + k }

func (s *TokenStore) Put(ctx context.Context, key string, resp core.AccessTokenResponse, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(key), b, ttl).Err()
}

func (s *TokenStore) Get(ctx context.Context, key string) (core.AccessTokenResponse, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.AccessTokenResponse{}, false, nil
	}
	if err != nil {
		return core.AccessTokenResponse{}, false, err
	}
	var resp core.AccessTokenResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return core.AccessTokenResponse{}, false, err
	}
	return resp, true, nil
}

func (s *TokenStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}
