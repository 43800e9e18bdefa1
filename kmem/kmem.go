// Package kmem implements a slab allocator in the style of Bonwick '94:
// per-size caches of page-backed slabs with O(1) allocation and
// deallocation. Objects smaller than an eighth of a page keep their
// freelist inside the free buffers themselves; larger objects are
// tracked through off-page bufctl records and a buffer index.
//
// The allocator is single-threaded; callers using an arena from several
// goroutines must serialize access themselves.
package kmem

import "unsafe"

// Flags controls how an allocation behaves when the backing source has
// no page to give.
type Flags int

const (
	// Sleep lets growth block until the source supplies a page.
	Sleep Flags = iota
	// NoSleep makes Alloc return nil instead of waiting.
	NoSleep
)

// Cache hands out fixed-size buffers. Create caches through an Arena;
// the zero value is not usable.
type Cache struct {
	arena *Arena
	rec   *cacheRec
}

// Create makes a cache for objects of the given size. align must be zero
// or a power of two; the object size is rounded up so consecutive
// buffers respect it. One slab is grown eagerly so the first Alloc is
// O(1). Panics on invalid parameters or an object too large for a page.
func (a *Arena) Create(name string, size, align uintptr) *Cache {
	return &Cache{
		arena: a,
		rec:   a.createCache(name, size, align),
	}
}

// Alloc returns one buffer of the cache's object size. The contents are
// indeterminate. Returns nil only when flags is NoSleep and the backing
// source refuses a page.
func (c *Cache) Alloc(flags Flags) unsafe.Pointer {
	buf := c.arena.cacheAlloc(c.rec, flags)
	if buf == nullAddr {
		return nil
	}
	return unsafe.Pointer(buf)
}

// Free returns a buffer obtained from Alloc on this cache. Double frees
// and frees of foreign pointers are undefined.
func (c *Cache) Free(p unsafe.Pointer) {
	c.arena.cacheFree(c.rec, uintptr(p))
}

// Destroy releases every slab and the cache record itself. The caller
// must have freed all outstanding buffers.
func (c *Cache) Destroy() {
	c.arena.cacheDestroy(c.rec)
	c.rec = nil
}

// Name ...
func (c *Cache) Name() string {
	return cacheName(c.rec)
}

// ObjectSize returns the effective per-object size after alignment
// rounding.
func (c *Cache) ObjectSize() uintptr {
	return c.rec.objectSize
}

// SlabCount ...
func (c *Cache) SlabCount() int {
	return int(c.rec.slabCount)
}
