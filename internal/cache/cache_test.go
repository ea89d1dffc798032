package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCache_SetGet(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	c.Set("k", "v", time.Minute)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestTTLCache_Expiry(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Set("k", 42, time.Minute)

	clock = clock.Add(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock = clock.Add(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry evicted on read")
}

func TestTTLCache_ZeroTTLNeverExpires(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Set("k", "forever", 0)
	clock = clock.Add(1000 * time.Hour)

	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestTTLCache_Delete(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	c.Set("k", "v", time.Minute)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTTLCache_SizeBound(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Minute)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry evicted")
}
