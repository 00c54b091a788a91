package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherDeterminism(t *testing.T) {
	build := func() uint64 {
		h := NewHasher()
		h.U32(42)
		h.I32(-7)
		h.U64(1 << 40)
		h.F32(0.5)
		h.Bool(true)
		h.String("main")
		h.Data([]byte{1, 2, 3})
		return h.Value()
	}
	require.Equal(t, build(), build())
}

func TestHasherOrderSensitive(t *testing.T) {
	a := NewHasher()
	a.U32(1)
	a.U32(2)

	b := NewHasher()
	b.U32(2)
	b.U32(1)

	assert.NotEqual(t, a.Value(), b.Value())
}

func TestHasherDistinguishesValues(t *testing.T) {
	seen := make(map[uint64]uint32)
	for v := uint32(0); v < 1000; v++ {
		h := NewHasher()
		h.U32(v)
		value := h.Value()
		prev, dup := seen[value]
		require.False(t, dup, "values %d and %d collided", prev, v)
		seen[value] = v
	}
}

func TestHasherNeverZero(t *testing.T) {
	// An empty sequence must still produce a non-zero key; zero is
	// reserved to mean "unset".
	h := NewHasher()
	assert.Equal(t, hashBasis, h.Value())

	h2 := NewHasher()
	h2.U64(0)
	assert.NotZero(t, h2.Value())
}

func TestHasherFloatBits(t *testing.T) {
	a := NewHasher()
	a.F32(1.0)
	b := NewHasher()
	b.F32(-1.0)
	assert.NotEqual(t, a.Value(), b.Value())
}
