// Package cache implements component C7: a two-tier, process-local result
// cache keyed by a query fingerprint, with generation-based invalidation
// replacing any explicit cross-component eventing (spec.md §9). There is
// no teacher precedent for a result cache, so the tiering (L1 plain LRU,
// L2 TTL-bounded LRU) is built directly on golang-lru/v2's plain and
// expirable LRU constructors, in the same nil-safe-recorder metrics style
// as pkg/metrics.
package cache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/blzsearch/blz/pkg/blz"
)

const (
	l1MaxEntries = 500
	l2MaxEntries = 2000
	l2TTL        = 1 * time.Hour
)

// Recorder receives cache hit/miss events for metrics. A nil Recorder is
// valid and simply disables recording, matching the nil-safe pattern used
// throughout pkg/metrics.
type Recorder interface {
	Hit(tier string)
	Miss()
}

// Entry is a cached search result, stamped with the index generation of
// every alias it was computed against.
type Entry struct {
	Hits        []blz.SearchHit
	Meta        blz.SearchMeta
	Generations map[string]uint64
}

// Cache is the two-tier result cache described in spec.md §4.6.
type Cache struct {
	mu       sync.Mutex
	l1       *lru.Cache[uint64, Entry]
	l2       *expirable.LRU[uint64, Entry]
	recorder Recorder
}

// New builds a Cache with the default size/TTL bounds from spec.md §4.6.
func New(recorder Recorder) (*Cache, error) {
	l1, err := lru.New[uint64, Entry](l1MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("create l1 cache: %w", err)
	}

	l2 := expirable.NewLRU[uint64, Entry](l2MaxEntries, nil, l2TTL)

	return &Cache{l1: l1, l2: l2, recorder: recorder}, nil
}

// Fingerprint computes the query_fingerprint cache key from spec.md §4.6:
// a normalized, lowercased token list joined by space, plus the alias set,
// levels, limit and offset, hashed with xxhash for a compact comparable
// key.
func Fingerprint(query string, aliases []string, levels []int, limit, offset int) uint64 {
	tokens := strings.Fields(strings.ToLower(query))

	sortedAliases := append([]string(nil), aliases...)
	sort.Strings(sortedAliases)

	sortedLevels := append([]int(nil), levels...)
	sort.Ints(sortedLevels)

	var b strings.Builder

	b.WriteString(strings.Join(tokens, " "))
	b.WriteByte('|')
	b.WriteString(strings.Join(sortedAliases, ","))
	b.WriteByte('|')

	for i, l := range sortedLevels {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(strconv.Itoa(l))
	}

	b.WriteByte('|')
	b.WriteString(strconv.Itoa(limit))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(offset))

	return xxhash.Sum64String(b.String())
}

// currentGenerations reports whether a cached entry's stamped generations
// still match the live generation of every alias it covers.
func currentGenerations(stamped map[string]uint64, current func(alias string) uint64) bool {
	for alias, gen := range stamped {
		if current(alias) != gen {
			return false
		}
	}

	return true
}

// Get looks up a fingerprint, validating the entry's stamped generations
// against current. A stale L1/L2 hit is treated as a miss and evicted.
func (c *Cache) Get(key uint64, current func(alias string) uint64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.l1.Get(key); ok {
		if currentGenerations(e.Generations, current) {
			c.record("l1")
			return e, true
		}

		c.l1.Remove(key)
	}

	if e, ok := c.l2.Get(key); ok {
		if currentGenerations(e.Generations, current) {
			c.l1.Add(key, e)
			c.record("l2")

			return e, true
		}

		c.l2.Remove(key)
	}

	c.record("")

	return Entry{}, false
}

// Put stores a result in both tiers.
func (c *Cache) Put(key uint64, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.l1.Add(key, e)
	c.l2.Add(key, e)
}

func (c *Cache) record(tier string) {
	if c.recorder == nil {
		return
	}

	if tier == "" {
		c.recorder.Miss()
		return
	}

	c.recorder.Hit(tier)
}

// Purge clears both tiers, used by tests verifying cache transparency
// (spec.md §8 property 6).
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.l1.Purge()
	c.l2.Purge()
}
