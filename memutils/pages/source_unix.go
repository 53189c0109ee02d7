//go:build unix

package pages

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MmapSource maps anonymous private memory directly from the kernel
type MmapSource struct{}

var _ PageSource = MmapSource{}

func (MmapSource) PageSize() int {
	return unix.Getpagesize()
}

func (MmapSource) Map(size int) ([]byte, error) {
	region, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap of %d bytes failed", size)
	}

	return region, nil
}

func (MmapSource) Unmap(region []byte) error {
	err := unix.Munmap(region)
	if err != nil {
		return errors.Wrapf(err, "munmap of %d bytes failed", len(region))
	}
	return nil
}

// DefaultSource returns the page source used when none is configured
func DefaultSource() PageSource {
	return MmapSource{}
}
