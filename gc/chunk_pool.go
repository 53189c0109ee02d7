package gc

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/stackgc/memutils/blocktable"
	"github.com/vkngwrapper/stackgc/memutils/pages"
	"golang.org/x/exp/slog"
)

type chunk struct {
	memory     []byte
	base       uintptr
	usedSize   int
	maxSize    int
	generation uint32
	live       bool
}

func (c *chunk) pointer(addr uintptr) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(unsafe.SliceData(c.memory)), addr-c.base)
}

// ChunkInfo is a snapshot of a chunk's bookkeeping
type ChunkInfo struct {
	Handle   blocktable.ChunkHandle
	Base     uintptr
	UsedSize int
	MaxSize  int
}

// chunkPool is an arena of chunks addressed by generation-checked handles
type chunkPool struct {
	logger    *slog.Logger
	tracker   *pages.Tracker
	chunkSize int

	chunks    []*chunk
	freeSlots []uint32
	liveCount int
}

func (p *chunkPool) Init(logger *slog.Logger, tracker *pages.Tracker, chunkSize int) {
	p.logger = logger
	p.tracker = tracker
	p.chunkSize = chunkSize
}

func (p *chunkPool) get(h blocktable.ChunkHandle) (*chunk, bool) {
	if h == blocktable.NoChunk || int(h.Index()) >= len(p.chunks) {
		return nil, false
	}

	c := p.chunks[h.Index()]
	if !c.live || c.generation != h.Generation() {
		return nil, false
	}
	return c, true
}

func (p *chunkPool) mustGet(h blocktable.ChunkHandle) *chunk {
	c, ok := p.get(h)
	if !ok {
		panic(fmt.Sprintf("block table refers to %s, which is not a live chunk", h))
	}
	return c
}

// acquire maps a chunk of at least max(minSize, chunkSize) bytes
func (p *chunkPool) acquire(minSize int) (blocktable.ChunkHandle, *chunk, error) {
	size := minSize
	if size < p.chunkSize {
		size = p.chunkSize
	}

	memory, err := p.tracker.Acquire(size)
	if err != nil {
		return blocktable.NoChunk, nil, &AllocationError{Size: minSize, Err: err}
	}

	var index uint32
	if len(p.freeSlots) > 0 {
		index = p.freeSlots[len(p.freeSlots)-1]
		p.freeSlots = p.freeSlots[:len(p.freeSlots)-1]
	} else {
		p.chunks = append(p.chunks, &chunk{})
		index = uint32(len(p.chunks) - 1)
	}

	c := p.chunks[index]
	c.generation++
	if c.generation == 0 {
		c.generation = 1
	}
	c.memory = memory
	c.base = uintptr(unsafe.Pointer(unsafe.SliceData(memory)))
	c.maxSize = len(memory)
	c.usedSize = 0
	c.live = true
	p.liveCount++

	h := blocktable.NewChunkHandle(index, c.generation)
	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "acquired chunk",
		slog.String("chunk", h.String()),
		addrAttr("base", c.base),
		slog.Int("size", c.maxSize),
	)
	return h, c, nil
}

// release unmaps a chunk. The chunk must not have any bytes in use.
func (p *chunkPool) release(h blocktable.ChunkHandle) error {
	c, ok := p.get(h)
	if !ok {
		return errors.Newf("attempted to release %s, which is not a live chunk", h)
	}
	if c.usedSize != 0 {
		return errors.Newf("attempted to release %s while %d bytes are still in use", h, c.usedSize)
	}

	err := p.tracker.Release(c.memory)
	if err != nil {
		return err
	}

	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "released chunk",
		slog.String("chunk", h.String()),
		addrAttr("base", c.base),
		slog.Int("size", c.maxSize),
	)

	c.memory = nil
	c.base = 0
	c.maxSize = 0
	c.live = false
	p.freeSlots = append(p.freeSlots, h.Index())
	p.liveCount--
	return nil
}

func (p *chunkPool) info(h blocktable.ChunkHandle) (ChunkInfo, bool) {
	c, ok := p.get(h)
	if !ok {
		return ChunkInfo{Handle: h}, false
	}

	return ChunkInfo{
		Handle:   h,
		Base:     c.base,
		UsedSize: c.usedSize,
		MaxSize:  c.maxSize,
	}, true
}

func addrAttr(key string, addr uintptr) slog.Attr {
	return slog.String(key, fmt.Sprintf("%#x", addr))
}
