package recurrence

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cyp0633/libhorizon/storage"
)

// cacheEntry represents a cached preview result
type cacheEntry struct {
	result     []Occurrence
	expiresAt  time.Time
	accessedAt time.Time
}

// PreviewCache memoizes "next N occurrences" lookups, which are requested
// repeatedly for the same series by read paths.
type PreviewCache struct {
	entries         map[string]*cacheEntry
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// CacheConfig holds configuration for the preview cache
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries before eviction
	CleanupInterval time.Duration // How often to run cleanup
}

// DefaultCacheConfig provides sensible defaults for preview caching
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// NewPreviewCache creates a cache and starts its cleanup goroutine. Call Close to stop it.
func NewPreviewCache(config CacheConfig) *PreviewCache {
	if config.TTL <= 0 {
		config.TTL = DefaultCacheConfig.TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultCacheConfig.MaxEntries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCacheConfig.CleanupInterval
	}
	cache := &PreviewCache{
		entries:         make(map[string]*cacheEntry),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go cache.cleanupLoop()

	return cache
}

// cacheKey hashes everything that influences a preview.
func cacheKey(rule storage.RecurrenceRule, tpl storage.Template, from time.Time, n int) string {
	hasher := sha256.New()

	fmt.Fprintf(hasher, "%s|%s|%d|%d|", tpl.ID, rule.Frequency, rule.Interval, rule.Count)
	hasher.Write([]byte(tpl.StartAt.UTC().Format(time.RFC3339Nano)))
	hasher.Write([]byte(tpl.EndAt.UTC().Format(time.RFC3339Nano)))
	hasher.Write([]byte(tpl.Timezone))
	hasher.Write([]byte(from.UTC().Format(time.RFC3339Nano)))
	if rule.RecurrenceEndDate != nil {
		hasher.Write([]byte(rule.RecurrenceEndDate.UTC().Format(time.RFC3339Nano)))
	}
	fmt.Fprintf(hasher, "|%s|%v|%v|%d", strings.Join(rule.ByDay, ","), rule.ByMonthDay, rule.ByMonth, n)

	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Get retrieves a cached result if it exists and hasn't expired
func (c *PreviewCache) Get(rule storage.RecurrenceRule, tpl storage.Template, from time.Time, n int) ([]Occurrence, bool) {
	key := cacheKey(rule, tpl, from, n)
	now := time.Now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	entry.accessedAt = now
	return slices.Clone(entry.result), true
}

// Set stores a result in the cache
func (c *PreviewCache) Set(rule storage.RecurrenceRule, tpl storage.Template, from time.Time, n int, result []Occurrence) {
	key := cacheKey(rule, tpl, from, n)
	now := time.Now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &cacheEntry{
		result:     slices.Clone(result),
		expiresAt:  now.Add(c.ttl),
		accessedAt: now,
	}
	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
}

// cleanup removes expired entries, then the least recently accessed ones
// while over the limit. Callers hold the write lock.
func (c *PreviewCache) cleanup() {
	now := time.Now()

	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}

	if len(c.entries) <= c.maxEntries {
		return
	}
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].accessedAt.Before(c.entries[keys[j]].accessedAt)
	})
	for _, key := range keys[:len(c.entries)-c.maxEntries] {
		delete(c.entries, key)
	}
}

func (c *PreviewCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.cleanup()
			c.mutex.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache
func (c *PreviewCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
	c.mutex.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mutex.Unlock()
}

// Stats returns cache statistics
func (c *PreviewCache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := time.Now()
	expired := 0
	for _, entry := range c.entries {
		if now.After(entry.expiresAt) {
			expired++
		}
	}
	return CacheStats{
		TotalEntries:   len(c.entries),
		ExpiredEntries: expired,
		ActiveEntries:  len(c.entries) - expired,
	}
}

// CacheStats provides information about cache usage
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}
