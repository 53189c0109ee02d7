// Package blocktable is the authoritative record of every block carved out of every chunk managed
// by a collector. Each block carries a mark that describes its liveness state.
package blocktable

import (
	"fmt"
	"math"
)

// Mark is a block's liveness state. Values greater than zero count the roots that referred to the
// block during the current collection. Zero means the block is in use but has not (yet) been found
// by a collection. The two negative values are sentinels.
type Mark int32

const (
	// MarkUnused indicates that the block's memory is available for reuse
	MarkUnused Mark = -1
	// MarkFreed indicates that the block has been retired: either its chunk was released or it was
	// merged into a neighbor. Freed blocks have no base address and no size.
	MarkFreed Mark = -2
)

func (m Mark) String() string {
	switch {
	case m == MarkUnused:
		return "Unused"
	case m == MarkFreed:
		return "Freed"
	case m == 0:
		return "Used"
	case m > 0:
		return fmt.Sprintf("Marked(%d)", int32(m))
	}
	return fmt.Sprintf("Mark(%d)", int32(m))
}

// InUse returns true for blocks that are handed out to a caller, marked or not
func (m Mark) InUse() bool { return m >= 0 }

// handle packs a slot index with the generation of the slot at the time the handle was issued
type handle uint64

func makeHandle(index, generation uint32) handle {
	return handle(uint64(generation)<<32 | uint64(index))
}

func (h handle) index() uint32      { return uint32(h) }
func (h handle) generation() uint32 { return uint32(h >> 32) }

// BlockHandle identifies a block in a Table. Handles stay valid until the block is retired;
// afterwards they report MarkFreed even if the underlying slot has been reused.
type BlockHandle uint64

const (
	NoBlock BlockHandle = math.MaxUint64
)

// ChunkHandle identifies a chunk. Chunk handles are issued by the chunk pool using the same
// index + generation scheme as BlockHandle so that handles to released chunks can be detected.
type ChunkHandle uint64

const (
	NoChunk ChunkHandle = math.MaxUint64
)

func NewChunkHandle(index, generation uint32) ChunkHandle {
	return ChunkHandle(makeHandle(index, generation))
}

func (h ChunkHandle) Index() uint32      { return handle(h).index() }
func (h ChunkHandle) Generation() uint32 { return handle(h).generation() }

func (h ChunkHandle) String() string {
	if h == NoChunk {
		return "NoChunk"
	}
	return fmt.Sprintf("chunk#%d.%d", h.Index(), h.Generation())
}

// Block is a view into a range of a single chunk's memory
type Block struct {
	Base  uintptr
	Size  int
	Mark  Mark
	Chunk ChunkHandle
}

// End returns the first address past the block
func (b Block) End() uintptr {
	return b.Base + uintptr(b.Size)
}

// Contains returns true if addr falls within [Base, End)
func (b Block) Contains(addr uintptr) bool {
	return addr >= b.Base && addr < b.End()
}

var freedBlock = Block{Mark: MarkFreed, Chunk: NoChunk}
