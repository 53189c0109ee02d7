package gc

import (
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// AllocateAs allocates size bytes and reinterprets the result as a *T. size is not checked
// against the size of T.
func AllocateAs[T any](c *Collector, size int) (*T, error) {
	ptr, err := c.Allocate(size)
	if err != nil {
		return nil, err
	}
	return (*T)(ptr), nil
}

// Emplace allocates storage for a T, copies value into it and returns the new copy.
//
// T must not contain Go pointers (including strings, slices, maps, interfaces and channels): the
// Go garbage collector does not scan collector memory, so anything they refer to may be reclaimed
// out from under the copy.
func Emplace[T any](c *Collector, value T) (*T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "%T has no size", zero)
	}
	if align := uint(unsafe.Alignof(zero)); align > c.alignment {
		return nil, errors.Newf("%T requires %d byte alignment, but the collector only guarantees %d", zero, align, c.alignment)
	}

	ptr, err := AllocateAs[T](c, size)
	if err != nil {
		return nil, err
	}

	*ptr = value
	return ptr, nil
}

// AllocateSlice allocates storage for n values of T and returns it as a slice. The same
// restrictions on T apply as for Emplace. The slice's backing array is a single block: only a
// root holding the address of its first element keeps it alive.
func AllocateSlice[T any](c *Collector, n int) ([]T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if n <= 0 || size == 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d values of %T", n, zero)
	}
	if n > math.MaxInt/size {
		return nil, errors.Wrapf(ErrInvalidSize, "%d values of %T do not fit in the address space", n, zero)
	}
	if align := uint(unsafe.Alignof(zero)); align > c.alignment {
		return nil, errors.Newf("%T requires %d byte alignment, but the collector only guarantees %d", zero, align, c.alignment)
	}

	ptr, err := AllocateAs[T](c, n*size)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice(ptr, n), nil
}
