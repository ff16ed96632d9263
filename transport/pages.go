package transport

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/casys-kaist/bask-ae-eurosys26/hashpair"
)

// AllocPages returns an anonymous, page-aligned mapping sized for count
// pages, the same shape of buffer a real host's page cache would back page
// content windows with (ehrlich-b/go-ublk's queue runner maps its ring
// buffers the same way rather than trusting the Go allocator for
// page-granular state). Only the reference binary's demo host uses this;
// tests use plain byte slices, since nothing in a loopback run depends on
// genuine page alignment.
func AllocPages(count int) ([]byte, error) {
	if count <= 0 {
		return nil, fmt.Errorf("transport: page count must be positive, got %d", count)
	}
	buf, err := unix.Mmap(-1, 0, count*hashpair.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("transport: mmap %d pages: %w", count, err)
	}
	return buf, nil
}

// FreePages releases a mapping returned by AllocPages.
func FreePages(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Munmap(buf)
}
