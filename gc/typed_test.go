package gc_test

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/stackgc/gc"
	"github.com/vkngwrapper/stackgc/memutils"
)

type node struct {
	Value int64
	Next  uintptr
}

func TestEmplace(t *testing.T) {
	collector := newCollector(t, gc.CreateOptions{})
	defer collector.Destroy()

	tail, err := gc.Emplace(collector, node{Value: 2})
	require.NoError(t, err)
	head, err := gc.Emplace(collector, node{Value: 1, Next: uintptr(unsafe.Pointer(tail))})
	require.NoError(t, err)

	_, block, ok := collector.BlockFor(unsafe.Pointer(head))
	require.True(t, ok)
	require.GreaterOrEqual(t, block.Size, int(unsafe.Sizeof(node{})))

	// Only head is rooted, and the collector does not trace through it
	stats := collector.CollectWindow(words(unsafe.Pointer(head)))
	require.Equal(t, 1, stats.Survived)
	require.Equal(t, 1, stats.Freed)
	require.Equal(t, int64(1), head.Value)

	_, err = gc.Emplace(collector, struct{}{})
	require.ErrorIs(t, err, gc.ErrInvalidSize)
}

func TestAllocateSlice(t *testing.T) {
	collector := newCollector(t, gc.CreateOptions{})
	defer collector.Destroy()

	values, err := gc.AllocateSlice[uint32](collector, 100)
	require.NoError(t, err)
	require.Len(t, values, 100)

	for i := range values {
		values[i] = uint32(i * i)
	}

	stats := collector.CollectWindow(words(unsafe.Pointer(&values[0])))
	require.Equal(t, 1, stats.Survived)
	require.Equal(t, uint32(99*99), values[99])

	_, err = gc.AllocateSlice[uint32](collector, 0)
	require.ErrorIs(t, err, gc.ErrInvalidSize)
}

func TestAllocateSliceRejectsOverflow(t *testing.T) {
	collector := newCollector(t, gc.CreateOptions{})

	_, err := gc.AllocateSlice[[16]byte](collector, math.MaxInt/16+1)
	require.ErrorIs(t, err, gc.ErrInvalidSize)

	var stats memutils.DetailedStatistics
	collector.CalculateStatistics(&stats)
	require.Zero(t, stats.AllocationCount)
	require.NoError(t, collector.Destroy())
}

func TestAllocateAs(t *testing.T) {
	collector := newCollector(t, gc.CreateOptions{})
	defer collector.Destroy()

	value, err := gc.AllocateAs[uint64](collector, 8)
	require.NoError(t, err)
	*value = 42

	_, err = gc.AllocateAs[uint64](collector, 0)
	require.ErrorIs(t, err, gc.ErrInvalidSize)
}

func TestTypedAlignment(t *testing.T) {
	collector := newCollector(t, gc.CreateOptions{MinAllocationAlignment: 4})
	defer collector.Destroy()

	_, err := gc.Emplace(collector, uint32(7))
	require.NoError(t, err)

	_, err = gc.Emplace(collector, uint64(7))
	if unsafe.Alignof(uint64(0)) > 4 && memutils.DebugMargin == 0 {
		require.Error(t, err)
		_, err = gc.AllocateSlice[uint64](collector, 3)
		require.Error(t, err)
	} else {
		require.NoError(t, err)
	}
}
