package gc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/stackgc/memutils"
	"github.com/vkngwrapper/stackgc/memutils/pages"
)

// RootStack is a downward-growing stack of root slots living outside the Go heap. It stands in
// for a native call stack: values pushed onto it are found by collections that scan it, from the
// most recently pushed slot up to the top of the stack.
//
// Go moves goroutine stacks and hides registers, so the collector never scans Go stacks directly.
// Code that wants an allocation to survive collections keeps its pointer in a root slot for as
// long as it is needed.
type RootStack struct {
	tracker *pages.Tracker
	memory  []byte
	// Slots are indexed from the top, so slot 0 is the first one pushed
	slots []uintptr
	depth int
}

var _ Window = &RootStack{}

func newRootStack(tracker *pages.Tracker, size int) (*RootStack, error) {
	memory, err := tracker.Acquire(size)
	if err != nil {
		return nil, err
	}

	capacity := len(memory) / memutils.PointerSize
	return &RootStack{
		tracker: tracker,
		memory:  memory,
		slots:   unsafe.Slice((*uintptr)(unsafe.Pointer(unsafe.SliceData(memory))), capacity),
	}, nil
}

func (s *RootStack) destroy() error {
	if s.memory == nil {
		return nil
	}

	err := s.tracker.Release(s.memory)
	s.memory = nil
	s.slots = nil
	s.depth = 0
	return err
}

func (s *RootStack) position(index int) int {
	return len(s.slots) - 1 - index
}

// Capacity returns the number of slots the stack can hold
func (s *RootStack) Capacity() int { return len(s.slots) }

// Len returns the number of slots currently pushed
func (s *RootStack) Len() int { return s.depth }

// Push stores ptr in a new slot and returns the slot's index
func (s *RootStack) Push(ptr unsafe.Pointer) (int, error) {
	if s.depth >= len(s.slots) {
		return -1, errors.Newf("root stack overflow: all %d slots are in use", len(s.slots))
	}

	index := s.depth
	s.slots[s.position(index)] = uintptr(ptr)
	s.depth++
	return index, nil
}

// Pop removes the most recently pushed slot, clears it and returns its value
func (s *RootStack) Pop() (unsafe.Pointer, error) {
	if s.depth == 0 {
		return nil, errors.New("root stack underflow")
	}

	s.depth--
	pos := s.position(s.depth)
	value := s.slots[pos]
	s.slots[pos] = 0
	return unsafe.Pointer(value), nil
}

// Unwind pops slots until only depth remain, like returning from every frame pushed since Len()
// reported depth
func (s *RootStack) Unwind(depth int) error {
	if depth < 0 || depth > s.depth {
		return errors.Newf("cannot unwind a root stack of depth %d to %d", s.depth, depth)
	}

	for s.depth > depth {
		s.depth--
		s.slots[s.position(s.depth)] = 0
	}
	return nil
}

// Set overwrites a pushed slot
func (s *RootStack) Set(index int, ptr unsafe.Pointer) error {
	if index < 0 || index >= s.depth {
		return errors.Newf("root slot %d is out of range, %d slots are pushed", index, s.depth)
	}

	s.slots[s.position(index)] = uintptr(ptr)
	return nil
}

// Get reads a pushed slot
func (s *RootStack) Get(index int) (unsafe.Pointer, error) {
	if index < 0 || index >= s.depth {
		return nil, errors.Newf("root slot %d is out of range, %d slots are pushed", index, s.depth)
	}

	return unsafe.Pointer(s.slots[s.position(index)]), nil
}

// Window returns the live part of the stack, from the most recently pushed slot to the top
func (s *RootStack) Window() Range {
	if s.depth == 0 {
		return Range{}
	}

	return Range{
		Base: unsafe.Pointer(&s.slots[s.position(s.depth-1)]),
		Size: s.depth * memutils.PointerSize,
	}
}

func (s *RootStack) Bounds() (low, high uintptr) {
	return s.Window().Bounds()
}

func (s *RootStack) Scan(visit func(slot, word uintptr)) {
	s.Window().Scan(visit)
}
