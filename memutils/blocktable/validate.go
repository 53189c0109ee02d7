package blocktable

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/stackgc/memutils"
)

var _ memutils.Validatable = &Table{}

// Validate performs internal consistency checks on the table. When the table is functioning
// correctly it should not be possible for this method to return an error. It visits every
// record, so it should be used for diagnostics only.
func (t *Table) Validate() error {
	var prevChunkEnd uintptr
	var indexed int

	for chunkPos, c := range t.chunks {
		if chunkPos > 0 && c.base < prevChunkEnd {
			return errors.Errorf("%s at %#x overlaps the previous chunk, which ends at %#x", c.handle, c.base, prevChunkEnd)
		}
		prevChunkEnd = c.end()

		registered, ok := t.byChunk.Get(c.handle)
		if !ok || registered != c {
			return errors.Errorf("%s is in the address-ordered chunk list but not in the chunk index", c.handle)
		}

		offset := c.base
		for blockPos, h := range c.blocks {
			s, ok := t.slotFor(h)
			if !ok {
				return errors.Errorf("%s lists a stale block handle at position %d", c.handle, blockPos)
			}

			block := s.block
			if block.Chunk != c.handle {
				return errors.Errorf("block at %#x is indexed under %s but refers to %s", block.Base, c.handle, block.Chunk)
			}
			if block.Mark == MarkFreed {
				return errors.Errorf("block at %#x is live but marked freed", block.Base)
			}
			if block.Size <= 0 {
				return errors.Errorf("block at %#x has invalid size %d", block.Base, block.Size)
			}
			if block.Base < offset {
				return errors.Errorf("block at %#x in %s collides with previous blocks, expected a base of at least %#x", block.Base, c.handle, offset)
			}
			if block.End() > c.end() {
				return errors.Errorf("block [%#x, %#x) extends past the end of %s at %#x", block.Base, block.End(), c.handle, c.end())
			}

			byBase, ok := t.byBase.Get(block.Base)
			if !ok || byBase != h {
				return errors.Errorf("block at %#x is missing from the base address index", block.Base)
			}

			offset = block.End()
			indexed++
		}
	}

	if len(t.chunks) != t.byChunk.Count() {
		return errors.Errorf("%d chunks are in the address-ordered list but %d are in the chunk index", len(t.chunks), t.byChunk.Count())
	}

	if indexed != t.liveCount {
		return errors.Errorf("counted %d indexed blocks, but the table reports %d live blocks", indexed, t.liveCount)
	}

	if t.byBase.Count() != t.liveCount {
		return errors.Errorf("the base address index holds %d entries, but the table reports %d live blocks", t.byBase.Count(), t.liveCount)
	}

	if len(t.freeSlots)+t.liveCount != len(t.slots) {
		return errors.Errorf("%d free slots and %d live blocks do not add up to %d slots", len(t.freeSlots), t.liveCount, len(t.slots))
	}

	for _, index := range t.freeSlots {
		s := t.slots[index]
		if s.live {
			return errors.Errorf("slot %d is in the free list but holds a live block", index)
		}
		if s.block.Base != 0 || s.block.Size != 0 || s.block.Mark != MarkFreed {
			return errors.Errorf("slot %d is in the free list but is not a freed tombstone", index)
		}
	}

	return nil
}

// AddDetailedStatistics sums the table's chunks and blocks into stats
func (t *Table) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, c := range t.chunks {
		stats.AddChunk(c.size)

		for _, h := range c.blocks {
			block := t.slots[handle(h).index()].block
			if block.Mark.InUse() {
				stats.AddAllocation(block.Size)
			} else {
				stats.AddUnusedRange(block.Size)
			}
		}
	}
}

// AddStatistics sums the table's chunks and blocks into stats
func (t *Table) AddStatistics(stats *memutils.Statistics) {
	for _, c := range t.chunks {
		stats.ChunkCount++
		stats.ChunkBytes += c.size

		for _, h := range c.blocks {
			block := t.slots[handle(h).index()].block
			if block.Mark.InUse() {
				stats.AllocationCount++
				stats.AllocationBytes += block.Size
			}
		}
	}
}

// ChunkJsonData writes the blocks of a chunk into a json array in address order
func (t *Table) ChunkJsonData(h ChunkHandle, json *jwriter.ArrayState) error {
	c, err := t.chunk(h)
	if err != nil {
		return err
	}

	for _, blockHandle := range c.blocks {
		block := t.slots[handle(blockHandle).index()].block

		o := json.Object()
		o.Name("Offset").Int(int(block.Base - c.base))
		o.Name("Size").Int(block.Size)
		o.Name("State").String(block.Mark.String())
		o.End()
	}

	return nil
}
