package gc

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/stackgc/gc/internal/utils"
	"github.com/vkngwrapper/stackgc/memutils"
	"github.com/vkngwrapper/stackgc/memutils/blocktable"
	"golang.org/x/exp/slog"
)

// Collector hands out raw memory carved from large chunks acquired from the OS, and reclaims
// blocks that no word in its root window refers to.
//
// Memory returned by a collector is not managed by the Go runtime. Go pointers stored in it are
// invisible to the Go garbage collector, and pointers into it are only roots for this collector
// when they are visible in its root window with the exact base address of their block.
type Collector struct {
	logger        *slog.Logger
	mutex         utils.OptionalMutex
	createFlags   CreateFlags
	alignment     uint
	minChunkCount int

	table *blocktable.Table
	pool  chunkPool
	// The most recently created unused remainder block
	fastPath blocktable.BlockHandle

	rootStack *RootStack
	roots     Window

	collections int
	destroyed   bool
}

type validatorFunc func() error

func (f validatorFunc) Validate() error { return f() }

// RootStack returns the collector's own root stack, or nil if it was created with CreateOptions.Roots
func (c *Collector) RootStack() *RootStack {
	return c.rootStack
}

// Roots returns the window scanned by Collect
func (c *Collector) Roots() Window {
	return c.roots
}

// AcquiredChunks returns the number of chunks acquired from the OS over the collector's lifetime
func (c *Collector) AcquiredChunks() int {
	count := c.pool.tracker.AcquireCount()
	if c.rootStack != nil {
		count--
	}
	return count
}

// Collections returns the number of completed collections
func (c *Collector) Collections() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.collections
}

// Block returns the current state of a block. Handles to blocks that have been retired report a
// Freed block with no base and no size.
func (c *Collector) Block(h blocktable.BlockHandle) blocktable.Block {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	block, _ := c.table.Get(h)
	return block
}

// BlockFor finds the block whose base address is ptr
func (c *Collector) BlockFor(ptr unsafe.Pointer) (blocktable.BlockHandle, blocktable.Block, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.table.Lookup(uintptr(ptr))
}

// BlockContaining finds the block whose range includes ptr, which need not be its base address
func (c *Collector) BlockContaining(ptr unsafe.Pointer) (blocktable.BlockHandle, blocktable.Block, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.table.BlockContaining(uintptr(ptr))
}

// Chunk returns a snapshot of a chunk's bookkeeping, and false if the chunk has been released
func (c *Collector) Chunk(h blocktable.ChunkHandle) (ChunkInfo, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.pool.info(h)
}

// Chunks returns snapshots of every live chunk in address order
func (c *Collector) Chunks() []ChunkInfo {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	handles := c.table.Chunks()
	infos := make([]ChunkInfo, 0, len(handles))
	for _, h := range handles {
		info, _ := c.pool.info(h)
		infos = append(infos, info)
	}
	return infos
}

// Validate performs internal consistency checks across the block table and the chunk pool
func (c *Collector) Validate() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.validate()
}

func (c *Collector) validate() error {
	if c.destroyed {
		return ErrDestroyed
	}

	err := c.table.Validate()
	if err != nil {
		return err
	}

	if c.table.ChunkCount() != c.pool.liveCount {
		return errors.Newf("the block table has %d chunks registered, but the chunk pool holds %d", c.table.ChunkCount(), c.pool.liveCount)
	}

	for _, h := range c.table.Chunks() {
		chunk, ok := c.pool.get(h)
		if !ok {
			return errors.Newf("the block table has %s registered, but it is not live in the chunk pool", h)
		}

		used, err := c.table.UsedBytes(h)
		if err != nil {
			return err
		}
		if used != chunk.usedSize {
			return errors.Newf("%s reports %d bytes in use, but its blocks add up to %d", h, chunk.usedSize, used)
		}
		if chunk.usedSize > chunk.maxSize {
			return errors.Newf("%s reports %d bytes in use, but can only hold %d", h, chunk.usedSize, chunk.maxSize)
		}
	}

	return nil
}

// CheckCorruption verifies the guard values written after every in-use block. Guard values are
// only written when built with the debug_mem_utils tag; otherwise this always succeeds.
func (c *Collector) CheckCorruption() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if memutils.DebugMargin == 0 {
		return nil
	}

	var err error
	c.table.Walk(func(h blocktable.BlockHandle, block blocktable.Block) bool {
		if !block.Mark.InUse() {
			return true
		}

		end := block.End() - uintptr(memutils.DebugMargin)
		if !memutils.ValidateMagicValue(c.pool.mustGet(block.Chunk).pointer(end)) {
			err = errors.Newf("memory corruption detected after the block at %#x", block.Base)
			return false
		}
		return true
	})
	return err
}

// Destroy releases every chunk and the root stack. Blocks still in use are logged, and an error is
// returned if there were any, but their memory is released regardless. The collector cannot be
// used afterward.
func (c *Collector) Destroy() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.destroyed {
		return ErrDestroyed
	}
	c.destroyed = true

	var unreleased int
	var releaseErr error
	for _, h := range c.table.Chunks() {
		blocks, err := c.table.UnregisterChunk(h)
		if err != nil {
			releaseErr = errors.CombineErrors(releaseErr, err)
			continue
		}

		for _, block := range blocks {
			if block.Mark.InUse() {
				unreleased++
				c.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] block still in use",
					addrAttr("base", block.Base),
					slog.Int("size", block.Size),
					slog.String("chunk", h.String()),
				)
			}
		}

		c.pool.mustGet(h).usedSize = 0
		err = c.pool.release(h)
		if err != nil {
			releaseErr = errors.CombineErrors(releaseErr, err)
		}
	}
	c.fastPath = blocktable.NoBlock

	if c.rootStack != nil {
		err := c.rootStack.destroy()
		if err != nil {
			releaseErr = errors.CombineErrors(releaseErr, err)
		}
	}

	if releaseErr != nil {
		return releaseErr
	}
	if unreleased > 0 {
		return errors.Newf("%d blocks were still in use when the collector was destroyed", unreleased)
	}
	return nil
}
