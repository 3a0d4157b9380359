package cache

import (
	"sync"
	"time"
)

// TTL holds a single value for a fixed duration. A zero or negative ttl
// disables caching entirely.
type TTL[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	value   T
	expires time.Time
	valid   bool
	gen     uint64
}

func NewTTL[T any](ttl time.Duration, now func() time.Time) *TTL[T] {
	if now == nil {
		now = time.Now
	}
	return &TTL[T]{ttl: ttl, now: now}
}

func (c *TTL[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if !c.valid || c.ttl <= 0 {
		return zero, false
	}
	if !c.now().Before(c.expires) {
		c.valid = false
		c.value = zero
		return zero, false
	}
	return c.value, true
}

func (c *TTL[T]) Set(value T) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store(value)
}

// Generation returns a token to pass to SetIfGeneration once a load that
// started now has finished.
func (c *TTL[T]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// SetIfGeneration stores value only if no Invalidate happened since gen was
// taken. It reports whether the value was stored.
func (c *TTL[T]) SetIfGeneration(value T, gen uint64) bool {
	if c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return false
	}
	c.store(value)
	return true
}

func (c *TTL[T]) store(value T) {
	c.value = value
	c.expires = c.now().Add(c.ttl)
	c.valid = true
}

func (c *TTL[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	c.value = zero
	c.valid = false
	c.gen++
}
