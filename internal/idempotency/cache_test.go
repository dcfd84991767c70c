package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheMarkAndSeen(t *testing.T) {
	c := NewCache(time.Minute, 10)

	assert.False(t, c.Seen("a"))
	c.Mark("a")
	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Minute, 10)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Mark("a")
	assert.True(t, c.Seen("a"))

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.False(t, c.Seen("a"))

	// Re-marking an existing key refreshes its TTL.
	c.now = func() time.Time { return base }
	c.Mark("b")
	c.now = func() time.Time { return base.Add(50 * time.Second) }
	c.Mark("b")
	c.now = func() time.Time { return base.Add(100 * time.Second) }
	assert.True(t, c.Seen("b"))
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(time.Minute, 3)

	c.Mark("a")
	c.Mark("b")
	c.Mark("c")
	// Touching "a" promotes it, so "b" is the least recently used.
	assert.True(t, c.Seen("a"))
	c.Mark("d")

	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
	assert.True(t, c.Seen("c"))
	assert.True(t, c.Seen("d"))
}

func TestCacheNilAndEmptyKey(t *testing.T) {
	var c *Cache
	assert.False(t, c.Seen("a"))
	c.Mark("a") // must not panic

	c = NewCache(time.Minute, 10)
	c.Mark("")
	assert.False(t, c.Seen(""))
}
