package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestShardedAges(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewWithClock[float64](clock.now)

	c.Set("frxEURUSD", 1.08)
	clock.t = clock.t.Add(2 * time.Minute)
	c.Set("frxGBPUSD", 1.27)

	v, age, ok := c.GetWithAge("frxEURUSD")
	assert.True(t, ok)
	assert.Equal(t, 1.08, v)
	assert.Equal(t, 2*time.Minute, age)

	_, ok = c.GetFresh("frxEURUSD", time.Minute)
	assert.False(t, ok)
	_, ok = c.GetFresh("frxGBPUSD", time.Minute)
	assert.True(t, ok)

	assert.Equal(t, 2*time.Minute, c.Stats().OldestAge)
	assert.Equal(t, 1, c.Cleanup(time.Minute))
	assert.Equal(t, 1, c.Len())
}

func TestShardedCleanupInvalid(t *testing.T) {
	c := New[string]()
	for i := 0; i < 40; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v")
	}
	removed := c.CleanupInvalid([]string{"k1", "k2"})
	assert.Equal(t, 38, removed)
	assert.Equal(t, 2, c.Len())
	c.Delete("k1")
	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestShardedConcurrentAccess(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("g%d-%d", g, i)
				c.Set(key, i)
				_, _ = c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 800, c.Len())
}
