//go:build unix

package mem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapSource serves pages from anonymous private mappings. Mappings are
// naturally page-aligned, which also covers the single page the slab
// engine needs during bootstrap.
type MmapSource struct {
	pageSize uintptr
	pages    map[uintptr][]byte
}

// NewMmapSource ...
func NewMmapSource() *MmapSource {
	return &MmapSource{
		pageSize: uintptr(unix.Getpagesize()),
		pages:    map[uintptr][]byte{},
	}
}

// PageSize ...
func (m *MmapSource) PageSize() uintptr {
	return m.pageSize
}

// AllocPage ...
func (m *MmapSource) AllocPage(block bool) (uintptr, error) {
	buf, err := unix.Mmap(-1, 0, int(m.pageSize),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		if !block {
			return 0, ErrNoPages
		}
		return 0, err
	}
	base := uintptr(unsafe.Pointer(&buf[0]))
	m.pages[base] = buf
	return base, nil
}

// FreePage ...
func (m *MmapSource) FreePage(addr uintptr) {
	buf, ok := m.pages[addr]
	if !ok {
		return
	}
	delete(m.pages, addr)
	_ = unix.Munmap(buf)
}
