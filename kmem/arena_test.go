package kmem

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestBootstrap(t *testing.T) {
	a, src := newTestArena()
	assert.Nil(t, a.cacheCache)

	a.Create("first", 24, 0)

	cc := a.cacheCache
	assert.NotNil(t, cc)
	assert.Equal(t, "kmem_cache_cache", cacheName(cc))
	assert.Equal(t, cacheRecSize, cc.objectSize)
	assert.Equal(t, layoutSmall, cc.layout)
	assert.Equal(t, uintptr(1), cc.slabCount)

	// the cache-of-caches record occupies the first buffer slot of its
	// own slab's page
	page := cacheRecAddr(cc)
	slab := slabAt(cc.slabs)
	assert.Equal(t, page, slab.start)
	assert.Equal(t, page+testPageSize-slabRecSize, cc.slabs)
	assert.Equal(t, uintptr(44), slab.size)

	// the other internal records come from the bootstrap slab, in
	// creation order
	assert.Equal(t, page+1*cacheRecSize, cacheRecAddr(a.hashNodeCache))
	assert.Equal(t, page+2*cacheRecSize, cacheRecAddr(a.hashCache))
	assert.Equal(t, page+3*cacheRecSize, cacheRecAddr(a.slabCache))
	assert.Equal(t, page+4*cacheRecSize, cacheRecAddr(a.bufctlCache))

	for _, cp := range []*cacheRec{cc, a.hashNodeCache, a.hashCache, a.slabCache, a.bufctlCache} {
		assert.Equal(t, layoutSmall, cp.layout)
		assert.NotEqual(t, nullAddr, cp.hash)
	}

	// bootstrap page, four internal slabs, one slab for the new cache
	assert.Equal(t, 6, src.Outstanding())
	assert.Equal(t, uint64(6*testPageSize), a.GetMemUsage())
	assert.True(t, a.hashOnCreate)
}

func TestBootstrap_RunsOnce(t *testing.T) {
	a, _ := newTestArena()

	a.Create("one", 24, 0)
	cc := a.cacheCache
	a.Create("two", 48, 0)
	assert.Equal(t, cc, a.cacheCache)
}

func TestBootstrap_InternalRecordsStayResident(t *testing.T) {
	a, _ := newTestArena()
	a.Create("x", 24, 0)

	// the internal cache records pin the bootstrap slab
	slab := slabAt(a.cacheCache.slabs)
	assert.Equal(t, uintptr(5), slab.refcount)
}

func TestDestroy_SmallCache(t *testing.T) {
	a, src := newTestArena()
	a.Create("anchor", 24, 0) // keeps the arena bootstrapped
	base := src.Outstanding()

	c := a.Create("victim", 64, 0)
	bufs := make([]unsafe.Pointer, 50)
	for i := range bufs {
		bufs[i] = c.Alloc(Sleep)
	}
	for _, p := range bufs {
		c.Free(p)
	}
	c.Destroy()

	assert.Equal(t, base, src.Outstanding())
}

func TestDestroy_LargeCache(t *testing.T) {
	a, src := newTestArena()
	a.Create("anchor", 24, 0)
	base := src.Outstanding()

	c := a.Create("victim", 600, 0)
	bufs := make([]unsafe.Pointer, 50)
	for i := range bufs {
		bufs[i] = c.Alloc(Sleep)
	}
	for _, p := range bufs {
		c.Free(p)
	}
	c.Destroy()

	// slabs, bufctls, hash nodes, the hash and the record all returned
	assert.Equal(t, base, src.Outstanding())
}

func TestDestroy_WithUnfreedReapOutstanding(t *testing.T) {
	a, src := newTestArena()
	a.Create("anchor", 24, 0)
	base := src.Outstanding()

	c := a.Create("victim", 512, 0)
	for i := 0; i < 30; i++ {
		c.Free(c.Alloc(Sleep))
	}
	c.Destroy()
	assert.Equal(t, base, src.Outstanding())
}

func TestGetMemUsage_GrowAndReap(t *testing.T) {
	a, _ := newTestArena()
	c := a.Create("usage", 456, 0) // 8 per slab
	usage := a.GetMemUsage()

	bufs := make([]unsafe.Pointer, 16)
	for i := range bufs {
		bufs[i] = c.Alloc(Sleep)
	}
	assert.Equal(t, usage+testPageSize, a.GetMemUsage())

	for _, p := range bufs {
		c.Free(p)
	}
	assert.Equal(t, usage, a.GetMemUsage())
}

func TestCacheHandle_Accessors(t *testing.T) {
	a, _ := newTestArena()
	c := a.Create("accessors", 20, 8)

	assert.Equal(t, "accessors", c.Name())
	assert.Equal(t, uintptr(24), c.ObjectSize())
	assert.Equal(t, 1, c.SlabCount())
}

func TestArena_PageSizeValidation(t *testing.T) {
	a := New(badPageSource{})
	assert.Panics(t, func() { a.Create("x", 24, 0) })
}

type badPageSource struct{}

func (badPageSource) PageSize() uintptr               { return 1000 }
func (badPageSource) AllocPage(bool) (uintptr, error) { return 0, nil }
func (badPageSource) FreePage(uintptr)                {}
