package gc

import (
	"unsafe"

	"github.com/vkngwrapper/stackgc/memutils"
)

// Window is a region of pointer-sized words that a collection treats as roots. Every word whose
// value equals the base address of an in-use block keeps that block alive.
//
// A window must not change while it is being scanned.
type Window interface {
	// Bounds returns the address of the first word in the window and the address just past the last
	Bounds() (low, high uintptr)
	// Scan calls visit once for each word in the window, lowest address first, with the address
	// of the word and its value
	Scan(visit func(slot, word uintptr))
}

// Words is a window made of an explicit list of root values. It is mainly useful for building
// synthetic root sets.
type Words []uintptr

var _ Window = Words{}

func (w Words) Bounds() (low, high uintptr) {
	if len(w) == 0 {
		return 0, 0
	}

	low = uintptr(unsafe.Pointer(unsafe.SliceData(w)))
	return low, low + uintptr(len(w)*memutils.PointerSize)
}

func (w Words) Scan(visit func(slot, word uintptr)) {
	for i := range w {
		visit(uintptr(unsafe.Pointer(&w[i])), w[i])
	}
}

// Range is a window over raw memory: the pointer-sized words in [Base, Base+Size). Base must be
// pointer-aligned; a trailing partial word is ignored. The memory must remain readable for the
// duration of every collection that scans it.
type Range struct {
	Base unsafe.Pointer
	Size int
}

var _ Window = Range{}

// RangeBetween builds a Range covering [low, high). It returns an empty Range if high is not above low.
func RangeBetween(low, high unsafe.Pointer) Range {
	size := int(uintptr(high) - uintptr(low))
	if uintptr(high) <= uintptr(low) {
		size = 0
	}
	return Range{Base: low, Size: size}
}

func (r Range) Bounds() (low, high uintptr) {
	low = uintptr(r.Base)
	return low, low + uintptr(r.Size)
}

func (r Range) Scan(visit func(slot, word uintptr)) {
	if r.Base == nil {
		return
	}

	for offset := 0; offset+memutils.PointerSize <= r.Size; offset += memutils.PointerSize {
		slot := unsafe.Add(r.Base, offset)
		visit(uintptr(slot), *(*uintptr)(slot))
	}
}

// MultiWindow scans several windows in order as though they were one
type MultiWindow []Window

var _ Window = MultiWindow{}

func (m MultiWindow) Bounds() (low, high uintptr) {
	first := true
	for _, window := range m {
		windowLow, windowHigh := window.Bounds()
		if windowLow == windowHigh {
			continue
		}
		if first || windowLow < low {
			low = windowLow
		}
		if first || windowHigh > high {
			high = windowHigh
		}
		first = false
	}
	return low, high
}

func (m MultiWindow) Scan(visit func(slot, word uintptr)) {
	for _, window := range m {
		window.Scan(visit)
	}
}
