package core

import "sync/atomic"

var contentIdentity uint64

// IdentifierAcquireNewID hands out content identities for GPU resources.
// Identities are monotonic and never reused, so a cache key built from
// one stays distinct even when the underlying native handle is recycled
// into a new, logically different resource. Zero is never returned; it
// is reserved to mean "nothing bound".
func IdentifierAcquireNewID() uint64 {
	return atomic.AddUint64(&contentIdentity, 1)
}
