package pages

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/stackgc/memutils"
)

// Tracker wraps a PageSource, rounding requests up to whole pages, enforcing an optional
// byte budget and keeping counts of the regions it has mapped.
type Tracker struct {
	// Number of regions currently mapped
	regionCount int32
	// Bytes currently mapped
	mappedBytes int64
	// Number of successful Acquire calls over the tracker's lifetime
	acquireCount uint64

	source    PageSource
	callbacks Callbacks
	limit     int
}

// NewTracker creates a Tracker. A limit of 0 means mapped bytes are unbounded. callbacks may be nil.
func NewTracker(source PageSource, limit int, callbacks Callbacks) (*Tracker, error) {
	if source == nil {
		source = DefaultSource()
	}
	if limit < 0 {
		return nil, errors.Errorf("memory budget must not be negative, got %d", limit)
	}

	err := memutils.CheckPow2(source.PageSize(), "page size")
	if err != nil {
		return nil, err
	}

	return &Tracker{
		source:    source,
		callbacks: callbacks,
		limit:     limit,
	}, nil
}

func (t *Tracker) PageSize() int { return t.source.PageSize() }

// RoundSize returns the number of bytes Acquire would actually map for a request of size bytes
func (t *Tracker) RoundSize(size int) int {
	return memutils.AlignUp(size, uint(t.source.PageSize()))
}

func (t *Tracker) reserve(size int) error {
	for {
		currentVal := atomic.LoadInt64(&t.mappedBytes)
		targetVal := currentVal + int64(size)

		if t.limit > 0 && targetVal > int64(t.limit) {
			return errors.Wrapf(ErrBudgetExceeded, "%d bytes mapped, %d requested, limit %d", currentVal, size, t.limit)
		}

		if atomic.CompareAndSwapInt64(&t.mappedBytes, currentVal, targetVal) {
			return nil
		}
	}
}

func (t *Tracker) unreserve(size int) {
	newVal := atomic.AddInt64(&t.mappedBytes, int64(-size))
	if newVal < 0 {
		panic(fmt.Sprintf("mapped byte count went negative after releasing %d bytes", size))
	}
}

// Acquire maps a region of at least size bytes
func (t *Tracker) Acquire(size int) (region []byte, err error) {
	if size <= 0 {
		return nil, errors.Errorf("cannot acquire a region of %d bytes", size)
	}
	size = t.RoundSize(size)

	err = t.reserve(size)
	if err != nil {
		return nil, err
	}
	defer func() {
		// If we failed out, roll back the reservation
		if err != nil {
			t.unreserve(size)
		}
	}()

	region, err = t.source.Map(size)
	if err != nil {
		return nil, err
	}
	if len(region) < size {
		_ = t.source.Unmap(region)
		return nil, errors.Errorf("page source returned %d bytes, %d were requested", len(region), size)
	}
	region = region[:size:size]

	atomic.AddInt32(&t.regionCount, 1)
	atomic.AddUint64(&t.acquireCount, 1)

	if t.callbacks != nil {
		t.callbacks.Acquired(region)
	}

	return region, nil
}

// Release unmaps a region produced by Acquire
func (t *Tracker) Release(region []byte) error {
	if len(region) == 0 {
		return errors.New("attempted to release an empty region")
	}

	if t.callbacks != nil {
		t.callbacks.Released(region)
	}

	err := t.source.Unmap(region)
	if err != nil {
		return err
	}

	t.unreserve(len(region))
	if atomic.AddInt32(&t.regionCount, -1) < 0 {
		panic("mapped region count went negative")
	}
	return nil
}

// RegionCount returns the number of regions currently mapped
func (t *Tracker) RegionCount() int { return int(atomic.LoadInt32(&t.regionCount)) }

// MappedBytes returns the number of bytes currently mapped
func (t *Tracker) MappedBytes() int { return int(atomic.LoadInt64(&t.mappedBytes)) }

// AcquireCount returns the number of successful Acquire calls made over the tracker's lifetime
func (t *Tracker) AcquireCount() int { return int(atomic.LoadUint64(&t.acquireCount)) }

// Limit returns the byte budget, or 0 if there is none
func (t *Tracker) Limit() int { return t.limit }
