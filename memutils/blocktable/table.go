package blocktable

import (
	"cmp"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/stackgc/memutils"
	"golang.org/x/exp/slices"
)

type slot struct {
	block      Block
	generation uint32
	live       bool
}

// chunkIndex is the address-ordered list of blocks carved out of a single chunk
type chunkIndex struct {
	handle ChunkHandle
	base   uintptr
	size   int
	blocks []BlockHandle
}

func (c *chunkIndex) end() uintptr {
	return c.base + uintptr(c.size)
}

// Table records every block of every registered chunk.
//
// Records live in a slot vector. Retired slots are recycled through a free list, and each
// slot carries a generation that is bumped on retirement so outstanding handles can be
// recognized as stale. Two secondary indices are maintained: a hash index from base
// address to handle, used to resolve candidate roots, and per-chunk lists sorted by
// address, used for first-fit search, containment lookups and coalescing.
//
// A Table is not safe for concurrent use.
type Table struct {
	slots     []slot
	freeSlots []uint32
	liveCount int

	byBase  *swiss.Map[uintptr, BlockHandle]
	byChunk *swiss.Map[ChunkHandle, *chunkIndex]
	// Registered chunks in address order
	chunks []*chunkIndex
}

func NewTable() *Table {
	return &Table{
		byBase:  swiss.NewMap[uintptr, BlockHandle](64),
		byChunk: swiss.NewMap[ChunkHandle, *chunkIndex](8),
	}
}

func compareBase(c *chunkIndex, base uintptr) int {
	return cmp.Compare(c.base, base)
}

func (t *Table) blockBase(h BlockHandle) uintptr {
	return t.slots[handle(h).index()].block.Base
}

func (t *Table) searchBlock(c *chunkIndex, base uintptr) (int, bool) {
	return slices.BinarySearchFunc(c.blocks, base, func(h BlockHandle, base uintptr) int {
		return cmp.Compare(t.blockBase(h), base)
	})
}

func (t *Table) slotFor(h BlockHandle) (*slot, bool) {
	if h == NoBlock {
		return nil, false
	}

	index := handle(h).index()
	if int(index) >= len(t.slots) {
		return nil, false
	}

	s := &t.slots[index]
	if !s.live || s.generation != handle(h).generation() {
		return nil, false
	}
	return s, true
}

func (t *Table) chunk(h ChunkHandle) (*chunkIndex, error) {
	c, ok := t.byChunk.Get(h)
	if !ok {
		return nil, errors.Errorf("%s is not registered with this block table", h)
	}
	return c, nil
}

// Len returns the number of live (non-Freed) block records
func (t *Table) Len() int { return t.liveCount }

// SlotCount returns the number of record slots the table has ever allocated, live or recycled
func (t *Table) SlotCount() int { return len(t.slots) }

// ChunkCount returns the number of registered chunks
func (t *Table) ChunkCount() int { return len(t.chunks) }

// RegisterChunk makes a chunk's address range available for blocks
func (t *Table) RegisterChunk(h ChunkHandle, base uintptr, size int) error {
	if size <= 0 {
		return errors.Errorf("cannot register %s with size %d", h, size)
	}
	if t.byChunk.Has(h) {
		return errors.Errorf("%s is already registered", h)
	}

	c := &chunkIndex{handle: h, base: base, size: size}
	pos, _ := slices.BinarySearchFunc(t.chunks, base, compareBase)
	if pos > 0 && t.chunks[pos-1].end() > base {
		return errors.Errorf("%s at %#x overlaps %s", h, base, t.chunks[pos-1].handle)
	}
	if pos < len(t.chunks) && c.end() > t.chunks[pos].base {
		return errors.Errorf("%s at %#x overlaps %s", h, base, t.chunks[pos].handle)
	}

	t.chunks = slices.Insert(t.chunks, pos, c)
	t.byChunk.Put(h, c)
	return nil
}

// UnregisterChunk retires every block belonging to the chunk and forgets the chunk. It
// returns the blocks as they were before retirement, in address order.
func (t *Table) UnregisterChunk(h ChunkHandle) ([]Block, error) {
	c, err := t.chunk(h)
	if err != nil {
		return nil, err
	}

	retired := make([]Block, 0, len(c.blocks))
	for _, blockHandle := range c.blocks {
		s, _ := t.slotFor(blockHandle)
		retired = append(retired, s.block)
		t.retireSlot(blockHandle, s)
	}

	pos, _ := slices.BinarySearchFunc(t.chunks, c.base, compareBase)
	t.chunks = slices.Delete(t.chunks, pos, pos+1)
	t.byChunk.Delete(h)
	return retired, nil
}

func (t *Table) allocSlot() uint32 {
	if len(t.freeSlots) > 0 {
		index := t.freeSlots[len(t.freeSlots)-1]
		t.freeSlots = t.freeSlots[:len(t.freeSlots)-1]
		return index
	}

	t.slots = append(t.slots, slot{generation: 1})
	return uint32(len(t.slots) - 1)
}

// retireSlot turns a slot into a Freed tombstone and recycles it. It does not touch the chunk index.
func (t *Table) retireSlot(h BlockHandle, s *slot) {
	t.byBase.Delete(s.block.Base)
	s.block = freedBlock
	s.live = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	t.freeSlots = append(t.freeSlots, handle(h).index())
	t.liveCount--
}

// Insert records a new block. The block must lie inside its registered chunk, must not
// overlap any other block and must not be Freed.
func (t *Table) Insert(block Block) (BlockHandle, error) {
	if block.Size <= 0 {
		return NoBlock, errors.Errorf("cannot insert a block of size %d", block.Size)
	}
	if block.Mark == MarkFreed {
		return NoBlock, errors.New("cannot insert a block that is already freed")
	}

	c, err := t.chunk(block.Chunk)
	if err != nil {
		return NoBlock, err
	}
	err = memutils.CheckRange(c.base, uintptr(c.size), block.Base, uintptr(block.Size))
	if err != nil {
		return NoBlock, errors.Wrapf(err, "block does not fit in %s", c.handle)
	}

	pos, found := t.searchBlock(c, block.Base)
	if found {
		return NoBlock, errors.Errorf("a block already starts at %#x", block.Base)
	}
	if pos > 0 {
		prev := t.slots[handle(c.blocks[pos-1]).index()].block
		if prev.End() > block.Base {
			return NoBlock, errors.Errorf("block at %#x overlaps the block at %#x", block.Base, prev.Base)
		}
	}
	if pos < len(c.blocks) {
		next := t.slots[handle(c.blocks[pos]).index()].block
		if block.End() > next.Base {
			return NoBlock, errors.Errorf("block at %#x overlaps the block at %#x", block.Base, next.Base)
		}
	}

	index := t.allocSlot()
	s := &t.slots[index]
	s.block = block
	s.live = true
	h := BlockHandle(makeHandle(index, s.generation))

	c.blocks = slices.Insert(c.blocks, pos, h)
	t.byBase.Put(block.Base, h)
	t.liveCount++
	return h, nil
}

// Get retrieves a block. Stale handles report a Freed block with no base and no size, and false.
func (t *Table) Get(h BlockHandle) (Block, bool) {
	s, ok := t.slotFor(h)
	if !ok {
		return freedBlock, false
	}
	return s.block, true
}

// SetMark changes a block's mark. Blocks are retired with Retire, not by setting MarkFreed.
func (t *Table) SetMark(h BlockHandle, mark Mark) error {
	if mark == MarkFreed {
		return errors.New("use Retire to free a block")
	}
	s, ok := t.slotFor(h)
	if !ok {
		return errors.New("received a handle that does not refer to a live block")
	}
	s.block.Mark = mark
	return nil
}

// IncrementMark adds one to a block's mark and returns the new mark
func (t *Table) IncrementMark(h BlockHandle) (Mark, error) {
	s, ok := t.slotFor(h)
	if !ok {
		return MarkFreed, errors.New("received a handle that does not refer to a live block")
	}
	s.block.Mark++
	return s.block.Mark, nil
}

// Shrink removes bytes from the front of a block: its base advances by size and its size is
// reduced by the same amount. The block must remain non-empty.
func (t *Table) Shrink(h BlockHandle, size int) error {
	s, ok := t.slotFor(h)
	if !ok {
		return errors.New("received a handle that does not refer to a live block")
	}
	if size <= 0 || size >= s.block.Size {
		return errors.Errorf("cannot shrink a block of %d bytes by %d bytes", s.block.Size, size)
	}

	// The block keeps its position in the chunk index: everything before it ends at or before
	// the old base, and the new base stays below the old end.
	t.byBase.Delete(s.block.Base)
	s.block.Base += uintptr(size)
	s.block.Size -= size
	t.byBase.Put(s.block.Base, h)
	return nil
}

// Retire turns a block into a Freed tombstone and recycles its record
func (t *Table) Retire(h BlockHandle) (Block, error) {
	s, ok := t.slotFor(h)
	if !ok {
		return freedBlock, errors.New("received a handle that does not refer to a live block")
	}

	block := s.block
	c, err := t.chunk(block.Chunk)
	if err != nil {
		return freedBlock, err
	}
	pos, found := t.searchBlock(c, block.Base)
	if !found {
		return freedBlock, errors.Errorf("block at %#x is missing from the index of %s", block.Base, c.handle)
	}

	c.blocks = slices.Delete(c.blocks, pos, pos+1)
	t.retireSlot(h, s)
	return block, nil
}

// ResetMarks sets every marked block back to zero. Unused blocks keep their sentinel.
func (t *Table) ResetMarks() {
	for i := range t.slots {
		s := &t.slots[i]
		if s.live && s.block.Mark > 0 {
			s.block.Mark = 0
		}
	}
}

// Lookup finds the block whose base address is exactly addr
func (t *Table) Lookup(addr uintptr) (BlockHandle, Block, bool) {
	if addr == 0 {
		return NoBlock, freedBlock, false
	}

	h, ok := t.byBase.Get(addr)
	if !ok {
		return NoBlock, freedBlock, false
	}
	s, _ := t.slotFor(h)
	return h, s.block, true
}

// BlockContaining finds the block whose range includes addr, which need not be its base
func (t *Table) BlockContaining(addr uintptr) (BlockHandle, Block, bool) {
	pos, found := slices.BinarySearchFunc(t.chunks, addr, compareBase)
	if !found {
		pos--
	}
	if pos < 0 || addr >= t.chunks[pos].end() {
		return NoBlock, freedBlock, false
	}

	c := t.chunks[pos]
	blockPos, found := t.searchBlock(c, addr)
	if !found {
		blockPos--
	}
	if blockPos < 0 {
		return NoBlock, freedBlock, false
	}

	h := c.blocks[blockPos]
	block := t.slots[handle(h).index()].block
	if !block.Contains(addr) {
		return NoBlock, freedBlock, false
	}
	return h, block, true
}

// FirstFit returns the lowest-addressed Unused block of at least size bytes
func (t *Table) FirstFit(size int) (BlockHandle, bool) {
	for _, c := range t.chunks {
		for _, h := range c.blocks {
			block := t.slots[handle(h).index()].block
			if block.Mark == MarkUnused && block.Size >= size {
				return h, true
			}
		}
	}

	return NoBlock, false
}

// Chunks returns the registered chunks in address order
func (t *Table) Chunks() []ChunkHandle {
	handles := make([]ChunkHandle, 0, len(t.chunks))
	for _, c := range t.chunks {
		handles = append(handles, c.handle)
	}
	return handles
}

// WalkChunk calls visit for each block of a chunk in address order until visit returns false.
// visit must not insert or retire blocks.
func (t *Table) WalkChunk(h ChunkHandle, visit func(h BlockHandle, block Block) bool) error {
	c, err := t.chunk(h)
	if err != nil {
		return err
	}

	for _, blockHandle := range c.blocks {
		if !visit(blockHandle, t.slots[handle(blockHandle).index()].block) {
			return nil
		}
	}
	return nil
}

// Walk calls visit for every live block in address order until visit returns false.
// visit must not insert or retire blocks.
func (t *Table) Walk(visit func(h BlockHandle, block Block) bool) {
	for _, c := range t.chunks {
		for _, blockHandle := range c.blocks {
			if !visit(blockHandle, t.slots[handle(blockHandle).index()].block) {
				return
			}
		}
	}
}

// Coalesce merges every run of adjacent Unused blocks in a chunk into the first block of the
// run. The absorbed blocks are retired. merged, if not nil, is called once per absorbed block.
// It returns the number of blocks absorbed.
func (t *Table) Coalesce(h ChunkHandle, merged func(into, from BlockHandle)) (int, error) {
	c, err := t.chunk(h)
	if err != nil {
		return 0, err
	}

	var absorbed int
	var run *slot
	runHandle := NoBlock
	kept := c.blocks[:0]

	for _, blockHandle := range c.blocks {
		s := &t.slots[handle(blockHandle).index()]

		if s.block.Mark != MarkUnused {
			run = nil
			kept = append(kept, blockHandle)
			continue
		}

		if run != nil && run.block.End() == s.block.Base {
			run.block.Size += s.block.Size
			t.retireSlot(blockHandle, s)
			absorbed++
			if merged != nil {
				merged(runHandle, blockHandle)
			}
			continue
		}

		run = s
		runHandle = blockHandle
		kept = append(kept, blockHandle)
	}

	c.blocks = kept
	return absorbed, nil
}

// UsedBytes sums the sizes of the in-use blocks of a chunk
func (t *Table) UsedBytes(h ChunkHandle) (int, error) {
	var used int
	err := t.WalkChunk(h, func(_ BlockHandle, block Block) bool {
		if block.Mark.InUse() {
			used += block.Size
		}
		return true
	})
	return used, err
}
