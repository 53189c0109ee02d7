package memutils

import (
	"unsafe"

	"github.com/pkg/errors"
)

// PointerSize is the size in bytes of a machine word, and the stride used when scanning root windows
const PointerSize = int(unsafe.Sizeof(uintptr(0)))

type Number interface {
	~int | ~uint | ~uintptr
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return errors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckRange verifies that [offset, offset+size) lies inside [base, base+limit)
func CheckRange(base, limit, offset, size uintptr) error {
	if offset < base || offset+size < offset || offset+size > base+limit {
		return errors.Wrapf(OutOfRangeError, "range [%#x, %#x) is outside [%#x, %#x)", offset, offset+size, base, base+limit)
	}
	return nil
}

func AlignUp[T Number](value T, alignment uint) T {
	return (value + T(alignment) - 1) &^ (T(alignment) - 1)
}

func AlignDown[T Number](value T, alignment uint) T {
	return value &^ (T(alignment) - 1)
}
