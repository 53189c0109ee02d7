//go:build !unix

package pages

import "sync"

const heapPageSize = 4096

// HeapSource carves regions out of Go-allocated byte slices. It is used on platforms
// without mmap. Regions are pinned in the live set until Unmap so the Go collector
// never reclaims memory still in use.
type HeapSource struct {
	mutex sync.Mutex
	live  map[*byte][]byte
}

var _ PageSource = &HeapSource{}

func (s *HeapSource) PageSize() int {
	return heapPageSize
}

func (s *HeapSource) Map(size int) ([]byte, error) {
	region := make([]byte, size)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.live == nil {
		s.live = make(map[*byte][]byte)
	}
	s.live[&region[0]] = region
	return region, nil
}

func (s *HeapSource) Unmap(region []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.live, &region[0])
	return nil
}

// DefaultSource returns the page source used when none is configured
func DefaultSource() PageSource {
	return &HeapSource{}
}
