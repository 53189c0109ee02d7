package gc

import (
	"context"

	"github.com/vkngwrapper/stackgc/memutils"
	"github.com/vkngwrapper/stackgc/memutils/blocktable"
	"golang.org/x/exp/slog"
)

// CollectStats describes the outcome of a single collection
type CollectStats struct {
	// SlotsScanned is the number of words read from the root window
	SlotsScanned int
	// RootsFound is the number of words that matched the base address of an in-use block
	RootsFound int
	// Survived is the number of in-use blocks found at least once
	Survived int
	// Freed is the number of in-use blocks that were not found and became unused
	Freed int
	// FreedBytes is the total size of the Freed blocks
	FreedBytes int
	// ChunksReleased is the number of chunks returned to the OS
	ChunksReleased int
	// Coalesced is the number of unused blocks merged into a neighbor
	Coalesced int
}

// Collect runs one collection over the collector's root window. See CollectWindow.
func (c *Collector) Collect() CollectStats {
	return c.CollectWindow(c.roots)
}

// CollectWindow runs one collection using window as the only source of roots:
//
//   - Every mark left over from the previous collection is cleared
//   - Each word of the window that equals the base address of an in-use block marks that block.
//     Interior pointers are not roots.
//   - In-use blocks that were not marked become unused and stop counting toward their chunk's usage
//   - Chunks with nothing in use are released to the OS, beyond the collector's MinChunkCount
//   - Runs of adjacent unused blocks within each chunk are merged
//
// Collections never fail. Problems releasing memory are logged, and the affected chunk is kept.
// The window must not change while it is being scanned, and CollectWindow must not be called
// concurrently with any other collector method unless the collector is internally synchronized.
func (c *Collector) CollectWindow(window Window) CollectStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var stats CollectStats
	if c.destroyed {
		c.logger.Error("attempted to collect with a destroyed collector")
		return stats
	}

	ctx := context.Background()
	c.table.ResetMarks()
	c.scan(ctx, window, &stats)
	c.sweep(ctx, &stats)
	c.releaseEmptyChunks(ctx, &stats)
	c.coalesce(ctx, &stats)
	c.collections++

	c.logger.LogAttrs(ctx, slog.LevelInfo, "collection complete",
		slog.Int("slotsScanned", stats.SlotsScanned),
		slog.Int("rootsFound", stats.RootsFound),
		slog.Int("freed", stats.Freed),
		slog.Int("survived", stats.Survived),
		slog.Int("freedBytes", stats.FreedBytes),
		slog.Int("chunksReleased", stats.ChunksReleased),
		slog.Int("coalesced", stats.Coalesced),
	)

	memutils.DebugValidate(validatorFunc(c.validate))
	return stats
}

func (c *Collector) scan(ctx context.Context, window Window, stats *CollectStats) {
	if window == nil {
		c.logger.Warn("collecting without a root window, every block will be reclaimed")
		return
	}

	low, high := window.Bounds()
	c.logger.LogAttrs(ctx, slog.LevelInfo, "collecting",
		addrAttr("from", low),
		addrAttr("to", high),
	)

	verbose := c.logger.Enabled(ctx, slog.LevelDebug)
	window.Scan(func(slot, word uintptr) {
		index := stats.SlotsScanned
		stats.SlotsScanned++

		h, block, found := c.table.Lookup(word)
		if !found || !block.Mark.InUse() {
			// Unused blocks are not handed out to anyone, so a word that happens to equal one of their
			// bases is not a reference to live memory
			if verbose {
				c.logger.LogAttrs(ctx, slog.LevelDebug, "root slot",
					slog.Int("index", index),
					addrAttr("slot", slot),
					addrAttr("value", word),
				)
			}
			return
		}

		mark, _ := c.table.IncrementMark(h)
		stats.RootsFound++
		if mark == 1 {
			stats.Survived++
		}

		if verbose {
			c.logger.LogAttrs(ctx, slog.LevelDebug, "root slot",
				slog.Int("index", index),
				addrAttr("slot", slot),
				addrAttr("value", word),
				slog.Int("blockSize", block.Size),
				slog.String("chunk", block.Chunk.String()),
			)
		}
	})
}

func (c *Collector) sweep(ctx context.Context, stats *CollectStats) {
	verbose := c.logger.Enabled(ctx, slog.LevelDebug)

	c.table.Walk(func(h blocktable.BlockHandle, block blocktable.Block) bool {
		if block.Mark != 0 {
			return true
		}

		// Changing a mark does not disturb the walk
		_ = c.table.SetMark(h, blocktable.MarkUnused)
		c.pool.mustGet(block.Chunk).usedSize -= block.Size
		stats.Freed++
		stats.FreedBytes += block.Size

		if verbose {
			c.logger.LogAttrs(ctx, slog.LevelDebug, "releasing block",
				addrAttr("base", block.Base),
				slog.Int("size", block.Size),
				slog.String("chunk", block.Chunk.String()),
			)
		}
		return true
	})
}

func (c *Collector) releaseEmptyChunks(ctx context.Context, stats *CollectStats) {
	for _, h := range c.table.Chunks() {
		if c.pool.liveCount <= c.minChunkCount {
			return
		}

		chunk := c.pool.mustGet(h)
		if chunk.usedSize != 0 {
			continue
		}

		err := c.pool.release(h)
		if err != nil {
			c.logger.LogAttrs(ctx, slog.LevelError, "failed to release an empty chunk",
				slog.String("chunk", h.String()),
				slog.Any("error", err),
			)
			continue
		}

		// Every block of a released chunk is freed, whatever its previous state
		_, err = c.table.UnregisterChunk(h)
		if err != nil {
			c.logger.LogAttrs(ctx, slog.LevelError, "failed to retire the blocks of a released chunk",
				slog.String("chunk", h.String()),
				slog.Any("error", err),
			)
		}
		stats.ChunksReleased++
	}
}

func (c *Collector) coalesce(ctx context.Context, stats *CollectStats) {
	for _, h := range c.table.Chunks() {
		absorbed, err := c.table.Coalesce(h, func(into, from blocktable.BlockHandle) {
			if c.fastPath == from {
				c.fastPath = into
			}
		})
		if err != nil {
			c.logger.LogAttrs(ctx, slog.LevelError, "failed to coalesce",
				slog.String("chunk", h.String()),
				slog.Any("error", err),
			)
			continue
		}
		stats.Coalesced += absorbed
	}
}
