package aggregator

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubmetrics/districtrun/internal/model"
)

func statsFor(districtID string) *model.DistrictStatistics {
	return &model.DistrictStatistics{DistrictID: districtID}
}

func TestDistrictCache_HitAndMiss(t *testing.T) {
	c := NewDistrictCache(10, time.Minute)

	_, ok := c.Get("2025-01-10|42")
	assert.False(t, ok)

	c.Put("2025-01-10|42", statsFor("42"))
	got, ok := c.Get("2025-01-10|42")
	require.True(t, ok)
	assert.Equal(t, "42", got.DistrictID)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestDistrictCache_TTLExpiry(t *testing.T) {
	c := NewDistrictCache(10, time.Minute)
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Put("k", statsFor("42"))

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok := c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 0, stats.Size)
}

func TestDistrictCache_LRUEviction(t *testing.T) {
	c := NewDistrictCache(3, time.Minute)
	for i := 0; i < 3; i++ {
		c.Put("k"+strconv.Itoa(i), statsFor("42"))
	}

	// Touch k0 so k1 becomes the least recently used.
	_, ok := c.Get("k0")
	require.True(t, ok)

	c.Put("k3", statsFor("42"))

	_, ok = c.Get("k1")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("k0")
	assert.True(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)

	assert.Equal(t, uint64(1), c.Stats().Evictions)
	assert.Equal(t, 3, c.Stats().Size)
}

func TestDistrictCache_PutRefreshesExisting(t *testing.T) {
	c := NewDistrictCache(2, time.Minute)
	c.Put("k", statsFor("42"))
	c.Put("k", statsFor("43"))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "43", got.DistrictID)
	assert.Equal(t, 1, c.Stats().Size)
}
