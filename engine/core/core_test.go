package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertPanicsOnFailure(t *testing.T) {
	assert.NotPanics(t, func() { Assert(true, "fine") })
	assert.PanicsWithValue(t, "assertion failed: boom", func() { Assert(false, "boom") })
	assert.NotPanics(t, func() { Assertf(true, "fine %d", 1) })
	assert.Panics(t, func() { Assertf(false, "bad value %d", 42) })
}

func TestIdentifierAcquireNewID(t *testing.T) {
	seen := make(map[uint64]struct{})
	prev := uint64(0)
	for i := 0; i < 1000; i++ {
		id := IdentifierAcquireNewID()
		assert.NotZero(t, id)
		assert.Greater(t, id, prev)
		seen[id] = struct{}{}
		prev = id
	}
	assert.Len(t, seen, 1000)
}
