package gc

import (
	"context"
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/stackgc/memutils"
	"github.com/vkngwrapper/stackgc/memutils/blocktable"
	"golang.org/x/exp/slog"
)

// Allocate returns a pointer to size bytes of chunk memory. The memory is not zeroed unless the
// collector was created with CreateZeroMemory. It is aligned to the collector's
// MinAllocationAlignment.
//
// The block stays in use until a collection fails to find its base address in the root window.
// Pointers into the middle of a block do not keep it alive, and the memory of a reclaimed block
// may be handed out again or unmapped: dereferencing it afterward is undefined.
//
// If a new chunk is needed and cannot be acquired, an *AllocationError is returned. Sizes that
// are not positive return ErrInvalidSize.
func (c *Collector) Allocate(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d bytes", size)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.destroyed {
		return nil, ErrDestroyed
	}
	if size > math.MaxInt-int(c.alignment)-memutils.DebugMargin {
		return nil, &AllocationError{Size: size, Err: errors.Newf("a block of %d bytes cannot be addressed", size)}
	}

	ptr, err := c.allocate(size)
	if err != nil {
		var allocErr *AllocationError
		if errors.As(err, &allocErr) {
			allocErr.Size = size
		}
		return nil, err
	}

	memutils.DebugValidate(validatorFunc(c.validate))
	return ptr, nil
}

// blockSize is the number of bytes carved for a request: the request rounded up to the collector's
// alignment, plus the guard margin
func (c *Collector) blockSize(size int) int {
	return memutils.AlignUp(size, c.alignment) + memutils.DebugMargin
}

func (c *Collector) allocate(size int) (unsafe.Pointer, error) {
	carved := c.blockSize(size)

	h, ok := c.fastPathCandidate(carved)
	if !ok {
		// First fit, lowest address first
		h, ok = c.table.FirstFit(carved)
	}
	if !ok {
		var err error
		h, err = c.growPool(carved)
		if err != nil {
			return nil, err
		}
	}

	return c.carve(h, carved, size)
}

func (c *Collector) fastPathCandidate(size int) (blocktable.BlockHandle, bool) {
	if c.fastPath == blocktable.NoBlock {
		return blocktable.NoBlock, false
	}

	block, ok := c.table.Get(c.fastPath)
	if !ok || block.Mark != blocktable.MarkUnused || block.Size < size {
		return blocktable.NoBlock, false
	}
	return c.fastPath, true
}

// carve takes size bytes from the front of an unused block. If the block is larger, it stays
// behind as the unused remainder and a new record covers the carved bytes; otherwise the block
// itself becomes used.
func (c *Collector) carve(h blocktable.BlockHandle, size int, requested int) (unsafe.Pointer, error) {
	block, ok := c.table.Get(h)
	if !ok || block.Mark != blocktable.MarkUnused || block.Size < size {
		return nil, errors.Newf("attempted to carve %d bytes from an unsuitable block", size)
	}

	if block.Size == size {
		err := c.table.SetMark(h, 0)
		if err != nil {
			return nil, err
		}
	} else {
		err := c.table.Shrink(h, size)
		if err != nil {
			return nil, err
		}

		_, err = c.table.Insert(blocktable.Block{
			Base:  block.Base,
			Size:  size,
			Mark:  0,
			Chunk: block.Chunk,
		})
		if err != nil {
			return nil, err
		}
	}

	chunk := c.pool.mustGet(block.Chunk)
	chunk.usedSize += size

	ptr := chunk.pointer(block.Base)
	if c.createFlags&CreateZeroMemory != 0 {
		clear(unsafe.Slice((*byte)(ptr), requested))
	}
	if memutils.DebugMargin > 0 {
		memutils.WriteMagicValue(chunk.pointer(block.Base + uintptr(size-memutils.DebugMargin)))
	}

	if c.logger.Enabled(context.Background(), slog.LevelDebug) {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "allocated block",
			addrAttr("base", block.Base),
			slog.Int("size", requested),
			slog.String("chunk", block.Chunk.String()),
		)
	}

	return ptr, nil
}

// growPool acquires a new chunk of at least minSize bytes, records it as a single unused block
// and makes that block the fast path
func (c *Collector) growPool(minSize int) (blocktable.BlockHandle, error) {
	chunkHandle, chunk, err := c.pool.acquire(minSize)
	if err != nil {
		return blocktable.NoBlock, err
	}

	err = c.table.RegisterChunk(chunkHandle, chunk.base, chunk.maxSize)
	if err != nil {
		c.releaseUnregistered(chunkHandle)
		return blocktable.NoBlock, err
	}

	h, err := c.table.Insert(blocktable.Block{
		Base:  chunk.base,
		Size:  chunk.maxSize,
		Mark:  blocktable.MarkUnused,
		Chunk: chunkHandle,
	})
	if err != nil {
		_, unregisterErr := c.table.UnregisterChunk(chunkHandle)
		if unregisterErr != nil {
			c.logger.LogAttrs(context.Background(), slog.LevelError, "failed to unregister a chunk after a failed insert",
				slog.String("chunk", chunkHandle.String()),
				slog.Any("error", unregisterErr),
			)
		}
		c.releaseUnregistered(chunkHandle)
		return blocktable.NoBlock, err
	}

	c.fastPath = h
	return h, nil
}

func (c *Collector) releaseUnregistered(h blocktable.ChunkHandle) {
	err := c.pool.release(h)
	if err != nil {
		c.logger.LogAttrs(context.Background(), slog.LevelError, "failed to release a chunk that could not be registered",
			slog.String("chunk", h.String()),
			slog.Any("error", err),
		)
	}
}
