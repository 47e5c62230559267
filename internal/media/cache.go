package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	Stream    Stream
	CreatedAt time.Time
	ExpiresAt time.Time
}

type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// CachingResolver remembers recent resolutions per source URL and format, so a
// download requested right after a generation skips a second yt-dlp round trip.
type CachingResolver struct {
	next Resolver

	mu         sync.RWMutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewCachingResolver(next Resolver, config CacheConfig) *CachingResolver {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 256
	}
	return &CachingResolver{
		next:       next,
		entries:    make(map[string]cacheEntry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *CachingResolver) Resolve(ctx context.Context, sourceURL string, format Format) (Stream, error) {
	key := cacheKey(sourceURL, string(format))
	if stream, ok := c.get(key); ok {
		return stream, nil
	}

	stream, err := c.next.Resolve(ctx, sourceURL, format)
	if err != nil {
		return Stream{}, err
	}
	c.set(key, stream)
	return stream, nil
}

// Forget drops a cached resolution, e.g. after its direct url stopped working.
func (c *CachingResolver) Forget(sourceURL string, format Format) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(sourceURL, string(format)))
}

func (c *CachingResolver) get(key string) (Stream, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return Stream{}, false
	}
	if c.now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return Stream{}, false
	}
	return cloneStream(entry.Stream), true
}

func (c *CachingResolver) set(key string, stream Stream) {
	now := c.now()
	entry := cacheEntry{
		Stream:    cloneStream(stream),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = entry
}

func (c *CachingResolver) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value cacheEntry
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.CreatedAt.Before(pairs[j].value.CreatedAt)
	})
	delete(c.entries, pairs[0].key)
}

func cacheKey(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, strings.TrimSpace(part))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "||")))
	return hex.EncodeToString(sum[:])
}

func cloneStream(stream Stream) Stream {
	clone := stream
	if stream.Headers != nil {
		clone.Headers = make(map[string]string, len(stream.Headers))
		for key, value := range stream.Headers {
			clone.Headers[key] = value
		}
	}
	return clone
}
