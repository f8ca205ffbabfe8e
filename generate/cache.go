package generate

import (
	"fmt"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// CompletionCache is a TTL cache of cleaned continuations keyed by the
// trimmed draft and the generation parameters used to produce them.
type CompletionCache struct {
	cache *ttlcache.Cache[string, string]
}

// NewCompletionCache creates a cache with the given TTL. A non-positive
// TTL yields a nil cache, which is safe to use and never hits.
func NewCompletionCache(ttl time.Duration) *CompletionCache {
	if ttl <= 0 {
		return nil
	}
	c := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go c.Start()
	return &CompletionCache{cache: c}
}

func cacheKey(input string, s Sampling) string {
	return fmt.Sprintf("%d|%g|%g|%s", s.MaxTokens, s.Temperature, s.TopP, strings.TrimSpace(input))
}

// Get returns the cached continuation for input, if present and unexpired.
func (cc *CompletionCache) Get(input string, s Sampling) (string, bool) {
	if cc == nil {
		return "", false
	}
	item := cc.cache.Get(cacheKey(input, s))
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Set stores a continuation. Empty continuations are not cached.
func (cc *CompletionCache) Set(input string, s Sampling, completion string) {
	if cc == nil || completion == "" {
		return
	}
	cc.cache.Set(cacheKey(input, s), completion, ttlcache.DefaultTTL)
}

// Len returns the number of live entries.
func (cc *CompletionCache) Len() int {
	if cc == nil {
		return 0
	}
	return cc.cache.Len()
}

// Close stops the cache expiration loop.
func (cc *CompletionCache) Close() {
	if cc == nil {
		return
	}
	cc.cache.Stop()
}
