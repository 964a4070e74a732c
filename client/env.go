package clientkit

import (
	"github.com/PaulFidika/tokenkit/core"
	memorystore "github.com/PaulFidika/tokenkit/storage/memory"
	redisstore "github.com/PaulFidika/tokenkit/storage/redis"
	"github.com/redis/go-redis/v9"
)

// ConfigFromEnv fills the process-wide parts of a Config: default skew,
// assertion lifetime and the token store. The store is shared through Redis
// when RedisAddr is set and kept in memory otherwise. The returned func
// releases the store.
func ConfigFromEnv(env core.EnvConfig) (Config, func() error) {
	cfg := Config{
		DefaultSkew:  env.TokenCacheSkew,
		AssertionTTL: env.ClientAssertionTTL,
	}
	if env.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: env.RedisAddr})
		cfg.Store = redisstore.NewTokenStore(rdb, env.RedisKeyPrefix)
		return cfg, rdb.Close
	}
	store := memorystore.NewTokenStore(env.TokenCacheMaxEntries)
	cfg.Store = store
	return cfg, store.Close
}
