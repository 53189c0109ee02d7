package gc_test

import (
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/stackgc/gc"
	"github.com/vkngwrapper/stackgc/memutils"
	"github.com/vkngwrapper/stackgc/memutils/blocktable"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newCollector(t *testing.T, options gc.CreateOptions) *gc.Collector {
	collector, err := gc.New(testLogger(), options)
	require.NoError(t, err)
	return collector
}

// newSmallCollector creates a collector whose chunks are a single page, and returns the chunk size
func newSmallCollector(t *testing.T, options gc.CreateOptions) (*gc.Collector, int) {
	options.ChunkSize = 4096
	collector := newCollector(t, options)
	chunks := collector.Chunks()
	require.Len(t, chunks, 1)
	return collector, chunks[0].MaxSize
}

func mustAllocate(t *testing.T, collector *gc.Collector, size int) unsafe.Pointer {
	ptr, err := collector.Allocate(size)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	return ptr
}

func handleFor(t *testing.T, collector *gc.Collector, ptr unsafe.Pointer) blocktable.BlockHandle {
	h, block, ok := collector.BlockFor(ptr)
	require.True(t, ok)
	require.True(t, block.Mark.InUse())
	return h
}

func words(ptrs ...unsafe.Pointer) gc.Words {
	w := make(gc.Words, 0, len(ptrs))
	for _, ptr := range ptrs {
		w = append(w, uintptr(ptr))
	}
	return w
}

// skipWithGuards skips tests that check exact block layout, which guard margins change
func skipWithGuards(t *testing.T) {
	if memutils.DebugMargin > 0 {
		t.Skip("block layout includes debug guard margins")
	}
}
