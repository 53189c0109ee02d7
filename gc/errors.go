package gc

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrInvalidSize is returned from Allocate and its typed variants when the requested size is not positive
var ErrInvalidSize = errors.New("allocation size must be positive")

// ErrDestroyed is returned from operations on a collector that has been destroyed
var ErrDestroyed = errors.New("collector has been destroyed")

// AllocationError is returned when the memory for an allocation could not be acquired from the OS.
// Size is the number of bytes the caller requested. The allocation is not retried.
type AllocationError struct {
	Size int
	Err  error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("failed to acquire memory for a %d byte allocation: %v", e.Size, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}
