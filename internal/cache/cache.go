// Package cache is a bounded memoization layer shared by every expensive
// query. Entries expire by age (TTL), are evicted least-recently-used when the
// entry or byte budget is exceeded, and can be invalidated by key pattern.
//
// Entries stored with the Soft option form a second tier that the host can
// drop wholesale under memory pressure with ReleaseSoft.
package cache

import (
	"container/list"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxEntries = 10000
	DefaultMaxBytes   = 64 << 20
	DefaultTTL        = 5 * time.Minute

	// evictionSlack is added to the entry count to bound capacity enforcement.
	evictionSlack = 8
)

type entry struct {
	key         string
	value       any
	created     time.Time
	lastAccess  time.Time
	accessCount int
	category    string
	size        int64
	soft        bool
}

// Cache is safe for concurrent use. Reads update recency, so all operations
// take the same mutex.
type Cache struct {
	mu        sync.Mutex
	items     map[string]*list.Element
	lru       *list.List // front is most recently used
	softKeys  map[string]struct{}
	totalSize int64
	gen       uint64 // bumped by every removal other than eviction

	hits      int64
	misses    int64
	evictions int64

	maxEntries int
	maxBytes   int64
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries bounds the number of entries.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithMaxBytes bounds the summed size estimate of all entries.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithTTL sets the maximum entry age. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.ttl = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		softKeys:   make(map[string]struct{}),
		maxEntries: DefaultMaxEntries,
		maxBytes:   DefaultMaxBytes,
		ttl:        DefaultTTL,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type setOptions struct {
	size    int64
	hasSize bool
	soft    bool
}

// SetOption adjusts a single Set call.
type SetOption func(*setOptions)

// SizeHint overrides the estimated size of the value in bytes.
func SizeHint(n int64) SetOption {
	return func(o *setOptions) {
		o.size = n
		o.hasSize = true
	}
}

// Soft places the entry in the soft tier.
func Soft() SetOption {
	return func(o *setOptions) { o.soft = true }
}

// Get returns the value for key. An entry older than the TTL is removed,
// counted as an eviction, and reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	now := c.now()
	if c.expiredLocked(e, now) {
		c.removeLocked(el)
		c.evictions++
		c.misses++
		return nil, false
	}
	e.accessCount++
	e.lastAccess = now
	c.lru.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set stores value under key, replacing any previous entry. Capacity is
// enforced before insertion. A value whose size alone exceeds the byte
// budget is not cached.
func (c *Cache) Set(key string, value any, category string, opts ...SetOption) {
	c.set(key, value, category, nil, opts...)
}

// generation returns the current invalidation generation.
func (c *Cache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// set stores value like Set. With a non-nil gen the store is skipped when an
// invalidation happened since *gen was read.
func (c *Cache) set(key string, value any, category string, gen *uint64, opts ...SetOption) bool {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	size := o.size
	if !o.hasSize {
		size = estimateSize(value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != nil && *gen != c.gen {
		c.logger.Debug("skip cache value computed before invalidation",
			slog.String("key", key))
		return false
	}
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	if size > c.maxBytes {
		c.logger.Debug("skip oversized cache value",
			slog.String("key", key),
			slog.Int64("size", size))
		return false
	}
	c.enforceCapacityLocked(size, 1)

	now := c.now()
	e := &entry{
		key:        key,
		value:      value,
		created:    now,
		lastAccess: now,
		category:   category,
		size:       size,
		soft:       o.soft,
	}
	c.items[key] = c.lru.PushFront(e)
	c.totalSize += size
	if o.soft {
		c.softKeys[key] = struct{}{}
	}
	return true
}

// Delete removes key. Returns whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	el, ok := c.items[key]
	if ok {
		c.removeLocked(el)
	}
	return ok
}

// InvalidatePattern removes every key matching pattern, a case-insensitive
// regular expression. A pattern that does not compile is matched as a plain
// case-insensitive substring. Returns the number of entries removed.
func (c *Cache) InvalidatePattern(pattern string) int {
	match := patternMatcher(pattern)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	removed := 0
	for key, el := range c.items {
		if match(key) {
			c.removeLocked(el)
			removed++
		}
	}
	return removed
}

func patternMatcher(pattern string) func(string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err == nil {
		return re.MatchString
	}
	lower := strings.ToLower(pattern)
	return func(key string) bool {
		return strings.Contains(strings.ToLower(key), lower)
	}
}

// ReleaseSoft drops the whole soft tier in response to memory pressure. The
// dropped entries are counted as evictions. Returns the number dropped.
func (c *Cache) ReleaseSoft() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	n := 0
	for key := range c.softKeys {
		if el, ok := c.items[key]; ok {
			c.removeLocked(el)
			n++
		}
	}
	c.softKeys = make(map[string]struct{})
	c.evictions += int64(n)
	if n > 0 {
		c.logger.Debug("release soft cache tier", slog.Int("entries", n))
	}
	return n
}

// OptimizeResult reports what Optimize removed.
type OptimizeResult struct {
	Expired int
	Evicted int
}

// Optimize sweeps every TTL-expired entry and then re-applies capacity
// limits. A cache exactly at its limits loses nothing. Meant to run
// periodically, not per request.
func (c *Cache) Optimize() OptimizeResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res OptimizeResult
	now := c.now()
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if c.expiredLocked(el.Value.(*entry), now) {
			c.removeLocked(el)
			res.Expired++
		}
		el = prev
	}
	c.evictions += int64(res.Expired)

	before := c.evictions
	c.enforceCapacityLocked(0, 0)
	res.Evicted = int(c.evictions - before)
	return res
}

// Clear removes every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.softKeys = make(map[string]struct{})
	c.totalSize = 0
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// enforceCapacityLocked evicts least-recently-used entries until slots more
// entries totalling incoming bytes fit within the limits. The number of
// attempts is bounded so the loop always terminates.
func (c *Cache) enforceCapacityLocked(incoming int64, slots int) {
	limit := len(c.items) + evictionSlack
	for attempt := 0; attempt < limit; attempt++ {
		if len(c.items)+slots <= c.maxEntries && c.totalSize+incoming <= c.maxBytes {
			return
		}
		oldest := c.lru.Back()
		if oldest == nil {
			return
		}
		c.removeLocked(oldest)
		c.evictions++
	}
}

func (c *Cache) expiredLocked(e *entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.created) > c.ttl
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.items, e.key)
	delete(c.softKeys, e.key)
	c.totalSize -= e.size
	if c.totalSize < 0 {
		c.totalSize = 0
	}
}
