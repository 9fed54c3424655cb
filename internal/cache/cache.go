// Package cache memoizes analysis results by provider, model, language and
// a fingerprint of the statistics that were analyzed.
//
// Entries expire after a fixed TTL and are removed lazily when read; the
// only proactive sweep happens in Load. When the cache holds more than
// MaxEntries, the least recently accessed entries are evicted. Every
// mutation is mirrored to the durable store under StorageKey.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/rcliao/netpulse/internal/kv"
	"github.com/rcliao/netpulse/internal/logging"
	"github.com/rcliao/netpulse/internal/metrics"
	"github.com/rcliao/netpulse/internal/model"
)

// StorageKey is the durable key holding all entries.
const StorageKey = "aiAnalysisCache"

const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 30
)

// Entry is one memoized result.
type Entry struct {
	Result       model.AnalysisResult `json:"result"`
	Timestamp    time.Time            `json:"timestamp"`
	Expiration   time.Time            `json:"expiration"`
	LastAccessed time.Time            `json:"lastAccessed"`
}

// Stats describes the cache contents.
type Stats struct {
	TotalEntries        int        `json:"totalEntries"`
	MaxEntries          int        `json:"maxEntries"`
	OldestEntry         *time.Time `json:"oldestEntry"`
	NewestEntry         *time.Time `json:"newestEntry"`
	ApproximateByteSize int        `json:"approximateByteSize"`
	Size                string     `json:"size"`
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry

	store      kv.Store
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

func WithTTL(d time.Duration) Option { return func(c *Cache) { c.ttl = d } }

func WithMaxEntries(n int) Option { return func(c *Cache) { c.maxEntries = n } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func WithLogger(l *zap.Logger) Option { return func(c *Cache) { c.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Cache) { c.metrics = m } }

// New returns an empty cache mirrored to store. Call Load to restore
// previously persisted entries.
func New(store kv.Store, opts ...Option) *Cache {
	c := &Cache{
		entries:    map[string]Entry{},
		store:      store,
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.maxEntries <= 0 {
		c.maxEntries = DefaultMaxEntries
	}
	c.logger = logging.OrNop(c.logger)
	return c
}

// Load restores entries from the durable store and drops expired ones.
func (c *Cache) Load(ctx context.Context) error {
	stored, _, err := kv.GetJSON[map[string]Entry](ctx, c.store, StorageKey)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = map[string]Entry{}
	now := c.now()
	swept := 0
	for k, e := range stored {
		if now.After(e.Expiration) {
			swept++
			continue
		}
		c.entries[k] = e
	}
	if swept > 0 {
		c.logger.Debug("swept expired cache entries", zap.Int("count", swept))
		c.persistLocked(ctx)
	}
	return nil
}

// Get returns a copy of the cached result, or false on a miss. An expired
// entry is deleted and reported as a miss.
func (c *Cache) Get(ctx context.Context, provider, modelName string, statistics any, language string) (*model.AnalysisResult, bool) {
	fp, err := Fingerprint(statistics)
	if err != nil {
		c.logger.Debug("cache bypassed", zap.Error(err))
		return nil, false
	}
	key := Key(provider, modelName, language, fp)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.metrics.CacheLookup("miss")
		return nil, false
	}
	now := c.now()
	if now.After(e.Expiration) {
		delete(c.entries, key)
		c.persistLocked(ctx)
		c.metrics.CacheLookup("expired")
		return nil, false
	}

	e.LastAccessed = now
	c.entries[key] = e
	c.persistLocked(ctx)
	c.metrics.CacheLookup("hit")

	res := e.Result
	return &res, true
}

// Put stores a copy of result, replacing any entry under the same key and
// resetting its TTL. It returns false when statistics or result is empty
// or the statistics cannot be fingerprinted.
func (c *Cache) Put(ctx context.Context, provider, modelName string, statistics any, language string, result *model.AnalysisResult) bool {
	if result == nil || result.Analysis == "" {
		return false
	}
	fp, err := Fingerprint(statistics)
	if err != nil {
		c.logger.Debug("cache bypassed", zap.Error(err))
		return false
	}
	if fp == EmptyFingerprint {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key := Key(provider, modelName, language, fp)
	c.entries[key] = Entry{
		Result:       *result,
		Timestamp:    now,
		Expiration:   now.Add(c.ttl),
		LastAccessed: now,
	}
	c.evictLocked(key)
	c.persistLocked(ctx)
	return true
}

// EvictIfOverCapacity removes the least recently accessed entries until
// the cache holds at most MaxEntries. It returns how many were removed.
func (c *Cache) EvictIfOverCapacity(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.evictLocked("")
	if n > 0 {
		c.persistLocked(ctx)
	}
	return n
}

// evictLocked trims to capacity, never choosing keep.
func (c *Cache) evictLocked(keep string) int {
	over := len(c.entries) - c.maxEntries
	if over <= 0 {
		return 0
	}
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		if k != keep {
			keys = append(keys, k)
		}
	}
	over = min(over, len(keys))
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]].LastAccessed, c.entries[keys[j]].LastAccessed
		if !a.Equal(b) {
			return a.Before(b)
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys[:over] {
		delete(c.entries, k)
	}
	c.logger.Debug("evicted cache entries", zap.Int("count", over))
	return over
}

// Clear removes every entry and the durable mirror.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]Entry{}
	if err := c.store.Delete(ctx, StorageKey); err != nil {
		return err
	}
	return nil
}

// Stats summarizes the cache. Oldest and newest are by creation time.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{TotalEntries: len(c.entries), MaxEntries: c.maxEntries}
	for _, e := range c.entries {
		ts := e.Timestamp
		if s.OldestEntry == nil || ts.Before(*s.OldestEntry) {
			s.OldestEntry = &ts
		}
		if s.NewestEntry == nil || ts.After(*s.NewestEntry) {
			s.NewestEntry = &ts
		}
	}
	if b, err := json.Marshal(c.entries); err == nil {
		s.ApproximateByteSize = len(b)
	}
	s.Size = humanize.Bytes(uint64(s.ApproximateByteSize))
	return s
}

func (c *Cache) persistLocked(ctx context.Context) {
	if err := kv.SetJSON(ctx, c.store, StorageKey, c.entries); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Warn("persist analysis cache failed", zap.Error(err))
	}
}
