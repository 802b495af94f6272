package recurrence

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sync"
	"time"
)

// cacheEntry holds one compiled schedule.
type cacheEntry struct {
	schedule   *Schedule
	expiresAt  time.Time
	accessedAt time.Time
}

// ScheduleCache keeps compiled schedules so that stored rules checked over
// and over are normalized once. Only successful compilations are cached.
type ScheduleCache struct {
	entries     map[string]*cacheEntry
	mutex       sync.Mutex
	ttl         time.Duration
	maxEntries  int
	stopCleanup chan struct{}
	closeOnce   sync.Once
	now         func() time.Time

	hits, misses uint64
}

// CacheConfig holds configuration for the schedule cache
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries kept
	CleanupInterval time.Duration // How often expired entries are dropped, 0 disables the sweeper
}

// DefaultCacheConfig provides sensible defaults for schedule caching
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// NewScheduleCache creates a cache with the given configuration. Call Close
// to stop its cleanup goroutine.
func NewScheduleCache(config CacheConfig) *ScheduleCache {
	if config.TTL <= 0 {
		config.TTL = DefaultCacheConfig.TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultCacheConfig.MaxEntries
	}

	cache := &ScheduleCache{
		entries:     make(map[string]*cacheEntry),
		ttl:         config.TTL,
		maxEntries:  config.MaxEntries,
		stopCleanup: make(chan struct{}),
		now:         time.Now,
	}

	if config.CleanupInterval > 0 {
		go cache.cleanupLoop(config.CleanupInterval)
	}

	return cache
}

// cacheKey hashes everything Compile depends on.
func cacheKey(rule Rule, loc *time.Location) string {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%d\x00%s\x00%d\x00%s\x00", rule.Kind, rule.Text, rule.DurationMinutes, rule.EffectiveStart)
	if end, ok := rule.EffectiveEnd.Get(); ok {
		hasher.Write([]byte(end.String()))
	}
	hasher.Write([]byte{0})
	hasher.Write([]byte(loc.String()))
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Compile returns the cached schedule for rule in loc, compiling and storing
// it on a miss. A nil cache compiles every time.
func (c *ScheduleCache) Compile(rule Rule, loc *time.Location) (*Schedule, error) {
	if c == nil {
		return Compile(rule, loc)
	}
	if loc == nil {
		return nil, fmt.Errorf("location is required")
	}
	key := cacheKey(rule, loc)

	c.mutex.Lock()
	now := c.now()
	if entry, ok := c.entries[key]; ok {
		if now.Before(entry.expiresAt) {
			entry.accessedAt = now
			c.hits++
			c.mutex.Unlock()
			return entry.schedule, nil
		}
		delete(c.entries, key)
	}
	c.misses++
	c.mutex.Unlock()

	// Concurrent misses may compile the same rule twice.
	s, err := Compile(rule, loc)
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[key] = &cacheEntry{schedule: s, expiresAt: now.Add(c.ttl), accessedAt: now}
	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
	return s, nil
}

// cleanup removes expired entries, then the least recently used ones while
// over the limit. The caller holds the mutex.
func (c *ScheduleCache) cleanup() {
	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type keyAccess struct {
		key        string
		accessedAt time.Time
	}
	list := make([]keyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		list = append(list, keyAccess{key: key, accessedAt: entry.accessedAt})
	}
	slices.SortFunc(list, func(a, b keyAccess) int { return a.accessedAt.Compare(b.accessedAt) })

	for _, ka := range list[:len(c.entries)-c.maxEntries] {
		delete(c.entries, ka.key)
	}
}

func (c *ScheduleCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
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

// Close stops the cleanup goroutine and clears the cache. It is safe to call
// more than once.
func (c *ScheduleCache) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.stopCleanup) })
	c.mutex.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mutex.Unlock()
}

// CacheStats provides information about cache performance
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// Stats returns cache statistics
func (c *ScheduleCache) Stats() CacheStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
