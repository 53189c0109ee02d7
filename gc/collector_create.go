package gc

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/stackgc/gc/internal/utils"
	"github.com/vkngwrapper/stackgc/memutils"
	"github.com/vkngwrapper/stackgc/memutils/blocktable"
	"github.com/vkngwrapper/stackgc/memutils/pages"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific collector behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateInternallySynchronized makes the collector guard Allocate, Collect and the diagnostic
	// methods with a mutex. Without it the consumer must guarantee the collector is only used from
	// one goroutine at a time. Root windows must stay stable during a collection either way.
	CreateInternallySynchronized CreateFlags = 1 << iota
	// CreateZeroMemory makes Allocate clear every region before returning it
	CreateZeroMemory
)

var createFlagNames = []struct {
	flag CreateFlags
	name string
}{
	{CreateInternallySynchronized, "CreateInternallySynchronized"},
	{CreateZeroMemory, "CreateZeroMemory"},
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for _, entry := range createFlagNames {
		if f&entry.flag != 0 {
			names = append(names, entry.name)
			f &^= entry.flag
		}
	}
	if f != 0 {
		names = append(names, "Unknown")
	}
	return strings.Join(names, "|")
}

const (
	// DefaultChunkSize is the minimum number of bytes requested from the OS at a time. Requests
	// larger than this get a chunk of their own.
	DefaultChunkSize int = 1024 * 1024
	// DefaultRootStackSize is the size in bytes of the root stack created for collectors that are
	// not given a Roots window
	DefaultRootStackSize int = 64 * 1024
)

// CreateOptions contains optional settings when creating a collector. It is valid to leave every
// field blank.
type CreateOptions struct {
	// Flags indicates specific collector behaviors to activate or deactivate
	Flags CreateFlags
	// ChunkSize overrides DefaultChunkSize
	ChunkSize int
	// MinChunkCount is the number of chunks collection will always leave in place, even if they
	// are empty
	MinChunkCount int
	// MaxHeapBytes limits the number of bytes the collector maps from the OS, root stack included.
	// Allocations that would exceed it fail with an AllocationError wrapping pages.ErrBudgetExceeded.
	// 0 means no limit.
	MaxHeapBytes int
	// MinAllocationAlignment is the alignment of every pointer returned from Allocate. It must be a
	// power of two. Defaults to the size of a pointer.
	MinAllocationAlignment uint

	// Roots is the window scanned by Collect. When it is nil the collector scans its own
	// RootStack, from the most recently pushed slot up to the top of the stack.
	Roots Window
	// RootStackSize overrides DefaultRootStackSize
	RootStackSize int

	// PageSource is where chunks come from. Defaults to anonymous mmap.
	PageSource pages.PageSource
	// MemoryCallbacks is an optional set of hooks invoked whenever a region is mapped or unmapped
	MemoryCallbacks pages.Callbacks
}

// New creates a collector and acquires its first chunk. A nil logger discards diagnostics.
func New(logger *slog.Logger, options CreateOptions) (*Collector, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if options.ChunkSize == 0 {
		options.ChunkSize = DefaultChunkSize
	}
	if options.RootStackSize == 0 {
		options.RootStackSize = DefaultRootStackSize
	}
	if options.MinAllocationAlignment == 0 {
		options.MinAllocationAlignment = uint(memutils.PointerSize)
	}

	if options.ChunkSize < 0 {
		return nil, errors.Newf("provided ChunkSize %d must not be negative", options.ChunkSize)
	}
	if options.MinChunkCount < 0 {
		return nil, errors.Newf("provided MinChunkCount %d must not be negative", options.MinChunkCount)
	}
	if options.RootStackSize < memutils.PointerSize {
		return nil, errors.Newf("provided RootStackSize %d cannot hold a single root", options.RootStackSize)
	}
	err := memutils.CheckPow2(options.MinAllocationAlignment, "options.MinAllocationAlignment")
	if err != nil {
		return nil, err
	}
	if options.MinAllocationAlignment < uint(memutils.PointerSize) && memutils.DebugMargin > 0 {
		// Guard values are written as 32-bit words directly after each block
		options.MinAllocationAlignment = uint(memutils.PointerSize)
	}

	tracker, err := pages.NewTracker(options.PageSource, options.MaxHeapBytes, options.MemoryCallbacks)
	if err != nil {
		return nil, err
	}

	collector := &Collector{
		logger:        logger,
		mutex:         utils.OptionalMutex{UseMutex: options.Flags&CreateInternallySynchronized != 0},
		createFlags:   options.Flags,
		alignment:     options.MinAllocationAlignment,
		minChunkCount: options.MinChunkCount,
		table:         blocktable.NewTable(),
		fastPath:      blocktable.NoBlock,
		roots:         options.Roots,
	}
	collector.pool.Init(logger, tracker, options.ChunkSize)

	if collector.roots == nil {
		collector.rootStack, err = newRootStack(tracker, options.RootStackSize)
		if err != nil {
			return nil, &AllocationError{Size: options.RootStackSize, Err: err}
		}
		collector.roots = collector.rootStack
	}

	_, err = collector.growPool(options.ChunkSize)
	if err != nil {
		if collector.rootStack != nil {
			_ = collector.rootStack.destroy()
		}
		return nil, err
	}

	logger.Debug("Collector::New",
		slog.String("Flags", options.Flags.String()),
		slog.Int("ChunkSize", options.ChunkSize),
		slog.Int("MinChunkCount", options.MinChunkCount),
		slog.Int("MaxHeapBytes", options.MaxHeapBytes),
		slog.Int("Alignment", int(options.MinAllocationAlignment)),
	)

	return collector, nil
}
