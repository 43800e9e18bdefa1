package mem

import "unsafe"

// HeapSource serves pages carved from ordinary Go allocations. Each page
// is over-allocated by one page size and aligned by hand; the backing
// slices are pinned in a map so the garbage collector never reclaims a
// page while the slab engine still references it. Intended for tests and
// for platforms without an mmap source.
type HeapSource struct {
	pageSize uintptr
	pages    map[uintptr][]byte
}

// NewHeapSource creates a heap-backed source with the given page size.
func NewHeapSource(pageSize uintptr) *HeapSource {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		panic("pageSize must be a power of two")
	}
	return &HeapSource{
		pageSize: pageSize,
		pages:    map[uintptr][]byte{},
	}
}

// PageSize ...
func (h *HeapSource) PageSize() uintptr {
	return h.pageSize
}

// AllocPage ...
func (h *HeapSource) AllocPage(block bool) (uintptr, error) {
	buf := make([]byte, 2*h.pageSize)
	raw := uintptr(unsafe.Pointer(&buf[0]))
	base := (raw + h.pageSize - 1) &^ (h.pageSize - 1)
	h.pages[base] = buf
	return base, nil
}

// FreePage ...
func (h *HeapSource) FreePage(addr uintptr) {
	delete(h.pages, addr)
}

// Outstanding returns the number of pages handed out and not yet freed.
func (h *HeapSource) Outstanding() int {
	return len(h.pages)
}
