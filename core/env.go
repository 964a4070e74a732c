package core

import (
	"errors"
	"time"

	"github.com/joeshaw/envdecode"
)

// EnvConfig holds process-wide knobs that operators usually set through the
// environment. Defaults are provided via struct tags.
type EnvConfig struct {
	// TokenCacheMaxEntries bounds the in-process token store. ENV: TOKEN_CACHE_MAX_ENTRIES
	TokenCacheMaxEntries int `env:"TOKEN_CACHE_MAX_ENTRIES,default=1000"`
	// TokenCacheSkew is the default skew for clients that set none. ENV: TOKEN_CACHE_SKEW
	TokenCacheSkew time.Duration `env:"TOKEN_CACHE_SKEW,default=10s"`
	// ClientAssertionTTL is the lifetime of private-key-JWT assertions. ENV: CLIENT_ASSERTION_TTL
	ClientAssertionTTL time.Duration `env:"CLIENT_ASSERTION_TTL,default=60s"`
	// JWKSRefreshSpec is a cron spec for proactive key refresh; empty disables. ENV: JWKS_REFRESH_SPEC
	JWKSRefreshSpec string `env:"JWKS_REFRESH_SPEC"`
	// RedisAddr enables the shared token store when set. ENV: TOKEN_CACHE_REDIS_ADDR
	RedisAddr string `env:"TOKEN_CACHE_REDIS_ADDR"`
	// RedisKeyPrefix namespaces token keys. ENV: TOKEN_CACHE_REDIS_PREFIX
	RedisKeyPrefix string `env:"TOKEN_CACHE_REDIS_PREFIX,default=tokenkit:token:"`
}

// DefaultEnvConfig mirrors the struct tag defaults.
func DefaultEnvConfig() EnvConfig {
	return EnvConfig{
		TokenCacheMaxEntries: 1000,
		TokenCacheSkew:       10 * time.Second,
		ClientAssertionTTL:   60 * time.Second,
		RedisKeyPrefix:       "tokenkit:token:",
	}
}

// EnvConfigFromEnv decodes EnvConfig from the process environment.
func EnvConfigFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envdecode.Decode(&cfg); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return DefaultEnvConfig(), nil
		}
		return EnvConfig{}, configErr("environment: %v", err)
	}
	return cfg, nil
}
