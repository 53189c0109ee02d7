// Package pages acquires and releases large regions of memory from the operating system
// and keeps running totals of what is currently mapped.
package pages

import "github.com/pkg/errors"

// ErrBudgetExceeded is returned from Tracker.Acquire when mapping the requested region would
// push the number of mapped bytes past the tracker's limit
var ErrBudgetExceeded = errors.New("memory budget exceeded")

// PageSource is the lowest layer of the memory system: it hands out page-aligned regions of
// memory that are not managed by the Go runtime. Regions are returned as byte slices whose
// length is the mapped size; the same slice must be passed back to Unmap.
type PageSource interface {
	// PageSize returns the granularity of the source in bytes. Map sizes are rounded up to
	// a multiple of it by the Tracker.
	PageSize() int
	// Map returns a new, zeroed, readable and writable region of exactly size bytes
	Map(size int) ([]byte, error)
	// Unmap returns a region previously produced by Map
	Unmap(region []byte) error
}

// Callbacks is an optional set of hooks invoked when a Tracker acquires or releases a region
type Callbacks interface {
	Acquired(region []byte)
	Released(region []byte)
}
