package clientkit

import (
	"context"
	"time"

	"github.com/PaulFidika/tokenkit/core"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// TokenStore keeps token responses until their deadline. Reads must not
// extend an entry's remaining lifetime.
type TokenStore interface {
	Get(ctx context.Context, key string) (core.AccessTokenResponse, bool, error)
	Put(ctx context.Context, key string, resp core.AccessTokenResponse, ttl time.Duration) error
}

// FetchFunc performs the actual token endpoint exchange.
type FetchFunc func(ctx context.Context) (core.AccessTokenResponse, error)

// TokenCache fronts a TokenStore with per-key single flight: concurrent
// callers for a key share one fetch, and a failed fetch leaves nothing behind.
type TokenCache struct {
	store TokenStore
	group singleflight.Group
	log   logrus.FieldLogger
}

func NewTokenCache(store TokenStore, log logrus.FieldLogger) *TokenCache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TokenCache{store: store, log: log}
}

// TTL is expiresIn minus skew, or the full expiresIn when it does not exceed
// the skew.
func TTL(expiresIn int64, skew time.Duration) time.Duration {
	lifetime := time.Duration(expiresIn) * time.Second
	if lifetime <= 0 {
		return 0
	}
	if lifetime <= skew {
		return lifetime
	}
	return lifetime - skew
}

// FlightTimeout bounds a shared fetch. The fetch runs detached from the
// caller that started it, so one caller cancelling does not fail the others;
// each caller still stops waiting when its own ctx is done.
const FlightTimeout = 30 * time.Second

// GetOrFetch returns the cached response for key or runs fetch once for all
// concurrent callers and caches its result for TTL(expires_in, skew).
func (c *TokenCache) GetOrFetch(ctx context.Context, key string, skew time.Duration, fetch FetchFunc) (core.AccessTokenResponse, error) {
	if resp, ok := c.lookup(ctx, key); ok {
		return resp, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FlightTimeout)
		defer cancel()
		// A flight that finished between our miss and DoChan has already stored it.
		if resp, ok := c.lookup(fctx, key); ok {
			return resp, nil
		}
		resp, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		if ttl := TTL(resp.ExpiresIn, skew); ttl > 0 {
			if err := c.store.Put(fctx, key, resp, ttl); err != nil {
				c.log.WithError(err).WithField("key", key).Warn("token cache store failed")
			}
		}
		return resp, nil
	})
	select {
	case <-ctx.Done():
		return core.AccessTokenResponse{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return core.AccessTokenResponse{}, res.Err
		}
		if res.Shared {
			c.log.WithField("key", key).Debug("token fetch shared with concurrent callers")
		}
		return res.Val.(core.AccessTokenResponse), nil
	}
}

func (c *TokenCache) lookup(ctx context.Context, key string) (core.AccessTokenResponse, bool) {
	resp, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("token cache read failed")
		return core.AccessTokenResponse{}, false
	}
	return resp, ok
}
