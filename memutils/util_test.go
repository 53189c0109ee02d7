package memutils_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/stackgc/memutils"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(1, "one"))
	require.NoError(t, memutils.CheckPow2(uint(4096), "page"))
	require.NoError(t, memutils.CheckPow2(uintptr(8), "word"))
	require.ErrorIs(t, memutils.CheckPow2(0, "zero"), memutils.PowerOfTwoError)
	require.ErrorIs(t, memutils.CheckPow2(24, "twenty-four"), memutils.PowerOfTwoError)
}

func TestAlign(t *testing.T) {
	testCases := []struct {
		value     int
		alignment uint
		up        int
		down      int
	}{
		{value: 0, alignment: 8, up: 0, down: 0},
		{value: 1, alignment: 8, up: 8, down: 0},
		{value: 8, alignment: 8, up: 8, down: 8},
		{value: 100, alignment: 64, up: 128, down: 64},
		{value: 1 << 20, alignment: 4096, up: 1 << 20, down: 1 << 20},
	}

	for _, testCase := range testCases {
		require.Equal(t, testCase.up, memutils.AlignUp(testCase.value, testCase.alignment))
		require.Equal(t, testCase.down, memutils.AlignDown(testCase.value, testCase.alignment))
	}

	require.Equal(t, uintptr(0x1008), memutils.AlignUp(uintptr(0x1001), 8))
}

func TestCheckRange(t *testing.T) {
	require.NoError(t, memutils.CheckRange(0x1000, 0x100, 0x1000, 0x100))
	require.NoError(t, memutils.CheckRange(0x1000, 0x100, 0x1080, 0x10))
	require.ErrorIs(t, memutils.CheckRange(0x1000, 0x100, 0xfff, 0x10), memutils.OutOfRangeError)
	require.ErrorIs(t, memutils.CheckRange(0x1000, 0x100, 0x10f8, 0x10), memutils.OutOfRangeError)
}

func TestStatisticsAccumulate(t *testing.T) {
	var total memutils.DetailedStatistics
	total.Clear()

	var chunk memutils.DetailedStatistics
	chunk.Clear()
	chunk.AddChunk(1024)
	chunk.AddAllocation(100)
	chunk.AddAllocation(24)
	chunk.AddUnusedRange(900)

	total.AddDetailedStatistics(&chunk)
	total.AddDetailedStatistics(&chunk)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			ChunkCount:      2,
			ChunkBytes:      2048,
			AllocationCount: 4,
			AllocationBytes: 248,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  24,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 900,
		UnusedRangeSizeMax: 900,
	}, total)
	require.Equal(t, 1800, total.UnusedBytes())
}
