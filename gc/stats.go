package gc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/stackgc/memutils"
)

// CalculateStatistics sums the collector's chunks, in-use blocks and unused ranges into stats.
// stats is cleared first.
func (c *Collector) CalculateStatistics(stats *memutils.DetailedStatistics) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stats.Clear()
	c.table.AddDetailedStatistics(stats)
}

// Statistics sums the collector's chunks and in-use blocks into stats. stats is cleared first.
func (c *Collector) Statistics(stats *memutils.Statistics) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stats.Clear()
	c.table.AddStatistics(stats)
}

// BuildStatsString produces a JSON document describing the collector's memory use. When detailed
// is true, every chunk's block list is included.
func (c *Collector) BuildStatsString(detailed bool) string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	c.table.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	root := writer.Object()

	total := root.Name("Total").Object()
	printDetailedStatistics(&total, &stats)
	total.End()

	mapped := root.Name("Mapped").Object()
	mapped.Name("Regions").Int(c.pool.tracker.RegionCount())
	mapped.Name("Bytes").Int(c.pool.tracker.MappedBytes())
	mapped.Name("Acquisitions").Int(c.pool.tracker.AcquireCount())
	if c.pool.tracker.Limit() > 0 {
		mapped.Name("Limit").Int(c.pool.tracker.Limit())
	}
	mapped.End()

	root.Name("Collections").Int(c.collections)
	root.Name("BlockRecords").Int(c.table.Len())
	root.Name("BlockSlots").Int(c.table.SlotCount())

	if c.rootStack != nil {
		roots := root.Name("RootStack").Object()
		roots.Name("Depth").Int(c.rootStack.Len())
		roots.Name("Capacity").Int(c.rootStack.Capacity())
		roots.End()
	}

	if detailed {
		chunks := root.Name("Chunks").Array()
		for _, h := range c.table.Chunks() {
			info, _ := c.pool.info(h)

			chunkObj := chunks.Object()
			chunkObj.Name("Handle").String(h.String())
			chunkObj.Name("UsedSize").Int(info.UsedSize)
			chunkObj.Name("MaxSize").Int(info.MaxSize)

			blocks := chunkObj.Name("Blocks").Array()
			_ = c.table.ChunkJsonData(h, &blocks)
			blocks.End()

			chunkObj.End()
		}
		chunks.End()
	}

	root.End()
	return string(writer.Bytes())
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("ChunkCount").Int(stats.ChunkCount)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	json.Name("ChunkBytes").Int(stats.ChunkBytes)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedBytes").Int(stats.UnusedBytes())

	if stats.AllocationCount > 0 {
		sizes := json.Name("AllocationSize").Object()
		sizes.Name("Min").Int(stats.AllocationSizeMin)
		sizes.Name("Max").Int(stats.AllocationSizeMax)
		sizes.End()
	}

	if stats.UnusedRangeCount > 0 {
		sizes := json.Name("UnusedRangeSize").Object()
		sizes.Name("Min").Int(stats.UnusedRangeSizeMin)
		sizes.Name("Max").Int(stats.UnusedRangeSizeMax)
		sizes.End()
	}
}
