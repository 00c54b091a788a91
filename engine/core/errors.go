package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRenderPass wraps render-pass description validation failures.
	ErrInvalidRenderPass = errors.New("invalid render pass description")
	ErrUnknown           = errors.New("unknown")
)

// Assert is used for programmer-error preconditions: violations are not
// recoverable and surface at the point of violation.
func Assert(condition bool, msg string) {
	if !condition {
		LogError("assertion failed: %s", msg)
		panic("assertion failed: " + msg)
	}
}

func Assertf(condition bool, format string, args ...interface{}) {
	if !condition {
		msg := fmt.Sprintf(format, args...)
		LogError("assertion failed: %s", msg)
		panic("assertion failed: " + msg)
	}
}
