package assetline

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when the runtime has been closed.
	ErrClosed = errors.New("runtime closed")

	// ErrInvalidConcurrency is returned when the configured worker count is
	// not positive.
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
)

// ErrMountFailed indicates a pack source could not be mounted.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrMountFailed struct {
	Source string
	cause  error
}

func (e *ErrMountFailed) Error() string {
	return fmt.Sprintf("mount failed: %s", e.Source)
}

func (e *ErrMountFailed) Unwrap() error { return e.cause }
