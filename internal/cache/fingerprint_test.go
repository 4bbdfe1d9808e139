package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"earthquake-stories-go/internal/labels"
)

func TestPutAndGet(t *testing.T) {
	c := NewFingerprint()
	want := labels.Coordinates{Latitude: -41.29, Longitude: 174.78}
	c.Put("Wellington", &want)

	e, ok := c.Get("Wellington")
	require.True(t, ok)
	require.True(t, e.Found())
	assert.Equal(t, want, *e.Value)
	assert.Equal(t, "Wellington", e.Key)
	assert.False(t, e.CreatedAt.IsZero())

	// Keys are used exactly as received.
	_, ok = c.Get("wellington")
	assert.False(t, ok)
	_, ok = c.Get(" Wellington")
	assert.False(t, ok)
}

func TestNegativeEntry(t *testing.T) {
	c := NewFingerprint()
	c.Put("Atlantis", nil)

	e, ok := c.Get("Atlantis")
	require.True(t, ok)
	assert.False(t, e.Found())
	assert.Nil(t, e.Value)
}

func TestLastWriteWins(t *testing.T) {
	c := NewFingerprint()
	c.Put("Kaikoura", nil)
	c.Put("Kaikoura", &labels.Coordinates{Latitude: -42.4, Longitude: 173.68})

	e, ok := c.Get("Kaikoura")
	require.True(t, ok)
	require.True(t, e.Found())
	assert.Equal(t, -42.4, e.Value.Latitude)
	assert.Equal(t, 1, c.Len())
}

func TestCallersGetCopies(t *testing.T) {
	c := NewFingerprint()
	in := labels.Coordinates{Latitude: 1, Longitude: 2}
	c.Put("k", &in)
	in.Latitude = 99

	e, _ := c.Get("k")
	e.Value.Longitude = 42

	again, _ := c.Get("k")
	assert.Equal(t, labels.Coordinates{Latitude: 1, Longitude: 2}, *again.Value)
}

func TestStats(t *testing.T) {
	c := NewFingerprint()
	c.now = func() time.Time { return time.Unix(0, 0) }
	c.Put("a", nil)
	c.Get("a")
	c.Get("b")

	assert.Equal(t, Stats{Entries: 1, Hits: 1, Misses: 1}, c.Stats())
}

func TestConcurrentAccess(t *testing.T) {
	c := NewFingerprint()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("loc-%d", i%5)
			c.Put(key, &labels.Coordinates{Latitude: float64(i % 5)})
			c.Get(key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())
}
