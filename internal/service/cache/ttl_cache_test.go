package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewTTLCache[int](time.Second).WithClock(func() time.Time { return now })

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestTTLCacheWithoutTTL(t *testing.T) {
	c := NewTTLCache[string](0)
	c.Set("k", "v")
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}
