package recordkit

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Ratio1/collection_sdk_go/pkg/collection"
	"github.com/Ratio1/collection_sdk_go/pkg/store"
)

const (
	envCacheTTL  = "COLLECTION_CACHE_TTL"
	envCacheSize = "COLLECTION_CACHE_SIZE"
)

// Config is the resolved runtime configuration.
type Config struct {
	collection.Env

	// CacheTTL is how long an unused entry is retained.
	CacheTTL time.Duration
	// CacheSize bounds the cache to that many entries when positive; the
	// TTL substrate is used otherwise.
	CacheSize int
}

// LoadConfig reads the backend and cache settings from the environment.
func LoadConfig() (Config, error) {
	env, err := collection.LoadEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Env: env, CacheTTL: store.DefaultTTL}

	if raw := strings.TrimSpace(os.Getenv(envCacheTTL)); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return Config{}, fmt.Errorf("recordkit: invalid %s %q", envCacheTTL, raw)
		}
		cfg.CacheTTL = ttl
	}
	if raw := strings.TrimSpace(os.Getenv(envCacheSize)); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Config{}, fmt.Errorf("recordkit: invalid %s %q", envCacheSize, raw)
		}
		cfg.CacheSize = size
	}
	return cfg, nil
}

func (c Config) substrate() (store.Substrate, error) {
	if c.CacheSize > 0 {
		return store.NewLRUSubstrate(c.CacheSize)
	}
	ttl := c.CacheTTL
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}
	cleanup := store.DefaultCleanupInterval
	if ttl < cleanup {
		cleanup = ttl
	}
	return store.NewTTLSubstrate(ttl, cleanup), nil
}
