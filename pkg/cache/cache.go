// Package cache implements the shared multi-keyspace LRU cache with TTL
// expiry, byte-accounted memory bounds, cross-keyspace pressure eviction and
// optional semantic-similarity alias hits for vector-keyed entries.
package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Keyspace names a cache partition with its own entry cap and TTL policy.
type Keyspace string

const (
	KeyspaceEmbedding    Keyspace = "embedding"
	KeyspaceLLMResponse  Keyspace = "llm_response"
	KeyspaceIPEnrichment Keyspace = "ip_enrichment"
	KeyspaceVectorSearch Keyspace = "vector_search"
)

// Keyspaces lists all partitions, for stats and clearing.
var Keyspaces = []Keyspace{
	KeyspaceEmbedding, KeyspaceLLMResponse, KeyspaceIPEnrichment, KeyspaceVectorSearch,
}

// Options configures a Cache.
type Options struct {
	MaxMemoryBytes        int64
	PerKeyspaceMaxEntries int
	SimilarityThreshold   float64
	DefaultTTL            time.Duration
}

// Stats is a point-in-time cache statistics snapshot.
type Stats struct {
	Hits               int64            `json:"hits"`
	Misses             int64            `json:"misses"`
	SemanticHits       int64            `json:"semantic_hits"`
	Evictions          int64            `json:"evictions"`
	SizeBytes          int64            `json:"size_bytes"`
	EntriesPerKeyspace map[Keyspace]int `json:"entries_per_keyspace"`
}

type entry struct {
	key        string
	value      any
	vector     []float32 // non-nil enables semantic alias matching
	created    time.Time
	ttl        time.Duration
	sliding    bool // reads restart the TTL clock
	lastAccess time.Time
	sizeBytes  int64
	elem       *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.After(e.created.Add(e.ttl))
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lru     *list.List // front = most recently used
}

// Cache is the process-wide cache layer. Safe for concurrent use.
type Cache struct {
	opts   Options
	shards map[Keyspace]*shard

	mu        sync.Mutex // guards the counters below
	sizeBytes int64
	hits      int64
	misses    int64
	semantic  int64
	evictions int64

	flight singleflight.Group
}

// New creates a cache with the given options.
func New(opts Options) *Cache {
	if opts.PerKeyspaceMaxEntries <= 0 {
		opts.PerKeyspaceMaxEntries = 10000
	}
	c := &Cache{
		opts:   opts,
		shards: make(map[Keyspace]*shard, len(Keyspaces)),
	}
	for _, ks := range Keyspaces {
		c.shards[ks] = &shard{
			entries: make(map[string]*entry),
			lru:     list.New(),
		}
	}
	return c
}

// Get returns the cached value for the key if present and not expired.
// Reading extends the entry's recency; entries stored with SlidingTTL also
// restart their TTL clock.
func (c *Cache) Get(ks Keyspace, key string) (any, bool) {
	s := c.shards[ks]
	now := time.Now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		c.count(&c.misses)
		return nil, false
	}
	if e.expired(now) {
		c.removeLocked(s, e)
		s.mu.Unlock()
		c.count(&c.misses)
		return nil, false
	}
	e.lastAccess = now
	if e.sliding {
		e.created = now
	}
	s.lru.MoveToFront(e.elem)
	val := e.value
	s.mu.Unlock()

	c.count(&c.hits)
	return val, true
}

// GetSimilar returns a value whose stored vector's cosine similarity to the
// query meets the configured threshold. Linear scan over the keyspace; entry
// counts are bounded so this stays cheap relative to a provider round trip.
func (c *Cache) GetSimilar(ks Keyspace, query []float32) (any, float64, bool) {
	s := c.shards[ks]
	now := time.Now()

	s.mu.RLock()
	var best *entry
	var bestSim float64
	for _, e := range s.entries {
		if e.vector == nil || e.expired(now) {
			continue
		}
		sim := Cosine(query, e.vector)
		if sim >= c.opts.SimilarityThreshold && sim > bestSim {
			best, bestSim = e, sim
		}
	}
	s.mu.RUnlock()

	if best == nil {
		c.count(&c.misses)
		return nil, 0, false
	}

	s.mu.Lock()
	best.lastAccess = now
	if best.sliding {
		best.created = now
	}
	s.lru.MoveToFront(best.elem)
	val := best.value
	s.mu.Unlock()

	c.mu.Lock()
	c.hits++
	c.semantic++
	c.mu.Unlock()
	return val, bestSim, true
}

// PutOptions carries optional per-entry settings.
type PutOptions struct {
	TTL        time.Duration // 0 = keyspace/cache default
	SlidingTTL bool          // reads restart the TTL clock (embedding keyspace)
	Vector     []float32     // enables semantic alias matching
	SizeBytes  int64         // 0 = estimated from the value
}

// Put stores a value, evicting LRU entries as needed to honor the keyspace
// entry cap and the global memory bound.
func (c *Cache) Put(ks Keyspace, key string, value any, opts PutOptions) {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = c.opts.DefaultTTL
	}
	size := opts.SizeBytes
	if size == 0 {
		size = estimateSize(value)
	}
	size += int64(len(key)) + int64(4*len(opts.Vector))

	s := c.shards[ks]
	now := time.Now()

	s.mu.Lock()
	if old, ok := s.entries[key]; ok {
		c.removeLocked(s, old)
	}
	e := &entry{
		key:        key,
		value:      value,
		vector:     opts.Vector,
		created:    now,
		ttl:        ttl,
		sliding:    opts.SlidingTTL,
		lastAccess: now,
		sizeBytes:  size,
	}
	e.elem = s.lru.PushFront(e)
	s.entries[key] = e
	c.addSize(size)

	// Strict LRU within the keyspace when its cap is reached.
	for len(s.entries) > c.opts.PerKeyspaceMaxEntries {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(s, oldest.Value.(*entry))
		c.count(&c.evictions)
	}
	s.mu.Unlock()

	// Global memory bound: evict least-recently-used across all keyspaces.
	if c.opts.MaxMemoryBytes > 0 && c.size() > c.opts.MaxMemoryBytes {
		c.EvictToBytes(c.opts.MaxMemoryBytes * 8 / 10)
	}
}

// Do runs fn once for concurrent callers with the same keyspace+key
// (stampede prevention); all callers share the result.
func (c *Cache) Do(ks Keyspace, key string, fn func() (any, error)) (any, error) {
	v, err, _ := c.flight.Do(string(ks)+"\x00"+key, fn)
	return v, err
}

// Invalidate removes a single entry.
func (c *Cache) Invalidate(ks Keyspace, key string) {
	s := c.shards[ks]
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		c.removeLocked(s, e)
	}
	s.mu.Unlock()
}

// Clear empties one keyspace, or every keyspace when ks is empty.
func (c *Cache) Clear(ks Keyspace) {
	for name, s := range c.shards {
		if ks != "" && name != ks {
			continue
		}
		s.mu.Lock()
		for _, e := range s.entries {
			c.addSize(-e.sizeBytes)
		}
		s.entries = make(map[string]*entry)
		s.lru.Init()
		s.mu.Unlock()
	}
}

// EvictToBytes evicts globally least-recently-used entries until total size
// drops to the target. Called by the orchestrator under memory pressure.
func (c *Cache) EvictToBytes(target int64) {
	for c.size() > target {
		var victimShard *shard
		var victim *entry
		var oldest time.Time

		for _, s := range c.shards {
			s.mu.RLock()
			if back := s.lru.Back(); back != nil {
				e := back.Value.(*entry)
				if victim == nil || e.lastAccess.Before(oldest) {
					victim, victimShard, oldest = e, s, e.lastAccess
				}
			}
			s.mu.RUnlock()
		}
		if victim == nil {
			return
		}
		victimShard.mu.Lock()
		// Re-check: the entry may have been touched or removed since the scan.
		if current, ok := victimShard.entries[victim.key]; ok && current == victim {
			c.removeLocked(victimShard, victim)
			c.count(&c.evictions)
		}
		victimShard.mu.Unlock()
	}
}

// Stats returns a statistics snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	st := Stats{
		Hits:               c.hits,
		Misses:             c.misses,
		SemanticHits:       c.semantic,
		Evictions:          c.evictions,
		SizeBytes:          c.sizeBytes,
		EntriesPerKeyspace: make(map[Keyspace]int, len(c.shards)),
	}
	c.mu.Unlock()
	for name, s := range c.shards {
		s.mu.RLock()
		st.EntriesPerKeyspace[name] = len(s.entries)
		s.mu.RUnlock()
	}
	return st
}

// removeLocked unlinks an entry; the shard mutex must be held.
func (c *Cache) removeLocked(s *shard, e *entry) {
	delete(s.entries, e.key)
	s.lru.Remove(e.elem)
	c.addSize(-e.sizeBytes)
}

func (c *Cache) addSize(delta int64) {
	c.mu.Lock()
	c.sizeBytes += delta
	c.mu.Unlock()
}

func (c *Cache) size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeBytes
}

func (c *Cache) count(counter *int64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}

// estimateSize approximates the memory footprint of common cached values.
func estimateSize(v any) int64 {
	switch val := v.(type) {
	case string:
		return int64(len(val))
	case []byte:
		return int64(len(val))
	case []float32:
		return int64(4 * len(val))
	default:
		return 256
	}
}
