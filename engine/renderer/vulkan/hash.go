package vulkan

import "math"

// 64-bit FNV-1a constants.
const (
	hashBasis uint64 = 0xcbf29ce484222325
	hashPrime uint64 = 0x100000001b3
)

/**
 * @brief Order-sensitive incremental hasher used to build cache keys.
 * Every call folds one value into the accumulator, so equal call
 * sequences always produce equal values within one build of the engine.
 * Cross-machine or on-disk stability is not guaranteed.
 *
 * Compound records must fold their fields in a fixed, documented order.
 */
type Hasher struct {
	h uint64
}

func NewHasher() *Hasher {
	return &Hasher{h: hashBasis}
}

func (h *Hasher) mix(v uint64) {
	h.h = (h.h ^ v) * hashPrime
}

func (h *Hasher) U32(v uint32) {
	h.mix(uint64(v))
}

func (h *Hasher) I32(v int32) {
	h.mix(uint64(uint32(v)))
}

func (h *Hasher) U64(v uint64) {
	h.mix(v)
}

func (h *Hasher) I64(v int64) {
	h.mix(uint64(v))
}

func (h *Hasher) F32(v float32) {
	h.mix(uint64(math.Float32bits(v)))
}

func (h *Hasher) F64(v float64) {
	h.mix(math.Float64bits(v))
}

func (h *Hasher) Bool(v bool) {
	if v {
		h.mix(1)
	} else {
		h.mix(0)
	}
}

func (h *Hasher) Data(data []byte) {
	for _, b := range data {
		h.mix(uint64(b))
	}
}

func (h *Hasher) String(s string) {
	for i := 0; i < len(s); i++ {
		h.mix(uint64(s[i]))
	}
}

// Value returns the accumulator. The caches reserve zero to mean
// "unset", so a zero accumulator is replaced with the basis.
func (h *Hasher) Value() uint64 {
	if h.h == 0 {
		return hashBasis
	}
	return h.h
}
