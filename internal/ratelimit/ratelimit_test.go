package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinLimit(t *testing.T) {
	l := NewLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := l.Allow("user1")
		assert.True(t, allowed)
		assert.Equal(t, 2-i, remaining)
	}

	allowed, remaining, _ := l.Allow("user1")
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewLimiter(1, time.Hour)

	allowed, _, _ := l.Allow("a")
	assert.True(t, allowed)
	allowed, _, _ = l.Allow("a")
	assert.False(t, allowed)

	allowed, _, _ = l.Allow("b")
	assert.True(t, allowed)
}

func TestWindowExpiryResets(t *testing.T) {
	l := NewLimiter(1, time.Minute)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return current }

	allowed, _, resetAt := l.Allow("user1")
	assert.True(t, allowed)
	assert.Equal(t, current.Add(time.Minute), resetAt)

	allowed, _, _ = l.Allow("user1")
	assert.False(t, allowed)

	// Advance past the window; the next attempt starts a fresh one.
	current = current.Add(61 * time.Second)
	allowed, remaining, _ := l.Allow("user1")
	assert.True(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestStatusDoesNotConsume(t *testing.T) {
	l := NewLimiter(5, time.Hour)

	attempts, max, _ := l.Status("user1")
	assert.Equal(t, 0, attempts)
	assert.Equal(t, 5, max)

	l.Allow("user1")
	l.Allow("user1")

	attempts, _, _ = l.Status("user1")
	assert.Equal(t, 2, attempts)

	attempts, _, _ = l.Status("user1")
	assert.Equal(t, 2, attempts)
}

// Idle windows are swept on a later Allow call rather than by a
// background goroutine.
func TestIdleWindowsAreSwept(t *testing.T) {
	l := NewLimiter(1, time.Minute)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return current }

	l.Allow("user1")
	current = current.Add(3 * time.Minute)
	l.Allow("user2")

	l.mu.Lock()
	_, exists := l.windows["user1"]
	l.mu.Unlock()
	assert.False(t, exists)
}
