package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_Creation(t *testing.T) {
	testCases := []struct {
		name      string
		capacity  int
		expectCap int
	}{
		{"default capacity", 0, 1000},
		{"negative capacity", -5, 1000},
		{"custom capacity", 500, 500},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewLRUCache[string, string](tc.capacity, 0)
			assert.Equal(t, tc.expectCap, c.Capacity())
			assert.Equal(t, 0, c.Size())
		})
	}
}

func TestLRUCache_SetGet(t *testing.T) {
	c := NewLRUCache[string, string](10, time.Minute)

	c.Set("k", "entry-1", 0)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "entry-1", got)

	c.Set("k", "entry-2", 0)
	got, ok = c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "entry-2", got)
	assert.Equal(t, 1, c.Size())

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRUCache_TTLExpiration(t *testing.T) {
	c := NewLRUCache[string, string](10, time.Minute)
	c.Set("short", "v", 20*time.Millisecond)
	c.Set("long", "v", time.Hour)

	time.Sleep(40 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestLRUCache_LRUEviction(t *testing.T) {
	c := NewLRUCache[string, int](3, time.Minute)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("c", 3, 0)

	// Touch "a" so "b" becomes the eviction candidate.
	_, _ = c.Get("a")
	c.Set("d", 4, 0)

	_, ok := c.Get("b")
	assert.False(t, ok)
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, 3, c.Size())
}

func TestLRUCache_RemoveAndRemoveFunc(t *testing.T) {
	c := NewLRUCache[string, string](10, time.Minute)
	c.Set("k1", "e1", 0)
	c.Set("k2", "e1", 0)
	c.Set("k3", "e2", 0)

	assert.True(t, c.Remove("k3"))
	assert.False(t, c.Remove("k3"))

	removed := c.RemoveFunc(func(v string) bool { return v == "e1" })
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, c.Size())
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	c := NewLRUCache[string, string](10, time.Minute)
	for i := range 3 {
		c.Set(fmt.Sprintf("exp-%d", i), "v", 10*time.Millisecond)
	}
	c.Set("keep", "v", time.Hour)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, c.CleanupExpired())
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestLRUCache_ThreadSafety(t *testing.T) {
	c := NewLRUCache[string, int](50, time.Minute)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("k-%d", (g*200+i)%80)
				c.Set(key, i, 0)
				_, _ = c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 50)
}

func BenchmarkLRUCache_SetAndEvict(b *testing.B) {
	c := NewLRUCache[string, string](100, time.Minute)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(fmt.Sprintf("key-%d", i), "entry", 0)
	}
}
