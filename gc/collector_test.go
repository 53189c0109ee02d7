package gc_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/stackgc/gc"
	"github.com/vkngwrapper/stackgc/memutils"
)

func TestDestroy(t *testing.T) {
	collector := newCollector(t, gc.CreateOptions{})
	require.NoError(t, collector.Destroy())

	require.ErrorIs(t, collector.Destroy(), gc.ErrDestroyed)
	require.ErrorIs(t, collector.Validate(), gc.ErrDestroyed)

	_, err := collector.Allocate(16)
	require.ErrorIs(t, err, gc.ErrDestroyed)

	stats := collector.Collect()
	require.Zero(t, stats.SlotsScanned)
	require.Empty(t, collector.Chunks())
}

func TestDestroyReportsUnreleasedBlocks(t *testing.T) {
	collector := newCollector(t, gc.CreateOptions{})

	mustAllocate(t, collector, 16)
	mustAllocate(t, collector, 16)

	err := collector.Destroy()
	require.Error(t, err)
	require.Contains(t, err.Error(), "2 blocks")
}

func TestCalculateStatistics(t *testing.T) {
	skipWithGuards(t)
	collector, chunkSize := newSmallCollector(t, gc.CreateOptions{})
	defer collector.Destroy()

	mustAllocate(t, collector, 100)
	mustAllocate(t, collector, 300)

	var stats memutils.DetailedStatistics
	collector.CalculateStatistics(&stats)
	require.Equal(t, 1, stats.ChunkCount)
	require.Equal(t, chunkSize, stats.ChunkBytes)
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 104+304, stats.AllocationBytes)
	require.Equal(t, 104, stats.AllocationSizeMin)
	require.Equal(t, 304, stats.AllocationSizeMax)
	require.Equal(t, 1, stats.UnusedRangeCount)
	require.Equal(t, chunkSize-408, stats.UnusedBytes())

	// Results are not accumulated across calls
	collector.CalculateStatistics(&stats)
	require.Equal(t, 2, stats.AllocationCount)

	var simple memutils.Statistics
	collector.Statistics(&simple)
	collector.Statistics(&simple)
	require.Equal(t, stats.Statistics, simple)
}

func TestBuildStatsString(t *testing.T) {
	collector := newCollector(t, gc.CreateOptions{MaxHeapBytes: 16 * 1024 * 1024})
	defer collector.Destroy()

	a := mustAllocate(t, collector, 64)
	mustAllocate(t, collector, 64)
	_, err := collector.RootStack().Push(a)
	require.NoError(t, err)
	collector.Collect()

	var summary struct {
		Total struct {
			ChunkCount      int
			AllocationCount int
		}
		Mapped struct {
			Regions      int
			Acquisitions int
			Limit        int
		}
		Collections int
		RootStack   struct {
			Depth int
		}
		Chunks []struct {
			Handle string
			Blocks []struct {
				Offset int
				Size   int
				State  string
			}
		}
	}

	require.NoError(t, json.Unmarshal([]byte(collector.BuildStatsString(false)), &summary))
	require.Equal(t, 1, summary.Total.ChunkCount)
	require.Equal(t, 1, summary.Total.AllocationCount)
	require.Equal(t, 2, summary.Mapped.Regions)
	require.Equal(t, 2, summary.Mapped.Acquisitions)
	require.Equal(t, 16*1024*1024, summary.Mapped.Limit)
	require.Equal(t, 1, summary.Collections)
	require.Equal(t, 1, summary.RootStack.Depth)
	require.Empty(t, summary.Chunks)

	require.NoError(t, json.Unmarshal([]byte(collector.BuildStatsString(true)), &summary))
	require.Len(t, summary.Chunks, 1)
	// The unrooted block was merged with the remainder of the chunk
	require.Len(t, summary.Chunks[0].Blocks, 2)
	require.Zero(t, summary.Chunks[0].Blocks[0].Offset)
	require.Equal(t, "Marked(1)", summary.Chunks[0].Blocks[0].State)
	require.Equal(t, "Unused", summary.Chunks[0].Blocks[1].State)
}

func TestCheckCorruption(t *testing.T) {
	collector := newCollector(t, gc.CreateOptions{})
	defer collector.Destroy()

	for i := 0; i < 10; i++ {
		mustAllocate(t, collector, 24)
	}
	require.NoError(t, collector.CheckCorruption())
}
