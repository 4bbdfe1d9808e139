package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"earthquake-stories-go/internal/labels"
)

// Entry is a resolved lookup. A nil Value records a definitive not-found.
type Entry struct {
	Key       string
	Value     *labels.Coordinates
	CreatedAt time.Time
}

// Found reports whether the entry holds coordinates.
func (e Entry) Found() bool { return e.Value != nil }

// Stats reports cache performance counters.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Fingerprint is a process-lifetime memo of geocode results. Entries never
// expire and are never evicted.
type Fingerprint struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

func NewFingerprint() *Fingerprint {
	return &Fingerprint{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Get returns a copy of the entry for key.
func (c *Fingerprint) Get(key string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	return e.clone(), true
}

// Peek is Get without touching the hit/miss counters.
func (c *Fingerprint) Peek(key string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	return e.clone(), ok
}

// Put stores value under key, replacing any earlier entry.
func (c *Fingerprint) Put(key string, value *labels.Coordinates) {
	e := Entry{Key: key, CreatedAt: c.now()}
	if value != nil {
		v := *value
		e.Value = &v
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

func (c *Fingerprint) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Fingerprint) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

func (e Entry) clone() Entry {
	if e.Value != nil {
		v := *e.Value
		e.Value = &v
	}
	return e
}
