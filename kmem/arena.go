package kmem

import (
	"github.com/minhquang4334/kmemcache/mem"
)

// Arena owns the allocator's internal caches and the backing page
// source. The internal caches and the cached page size are established
// once, by a bootstrap that runs on the first Create.
type Arena struct {
	src       mem.Source
	pageSize  uintptr
	pageMask  uintptr
	pageCount uintptr

	cacheCache    *cacheRec // cache records, including its own
	slabCache     *cacheRec // slab records of large-layout caches
	bufctlCache   *cacheRec
	hashCache     *cacheRec
	hashNodeCache *cacheRec

	// hashOnCreate is cleared while the internal caches are built, so
	// creating them cannot recurse into the not-yet-existing hash caches.
	hashOnCreate bool
}

// New builds an arena over the given page source. No memory is taken
// until the first Create.
func New(src mem.Source) *Arena {
	return &Arena{
		src:          src,
		hashOnCreate: true,
	}
}

func (a *Arena) pageAlloc(flags Flags) (uintptr, bool) {
	for {
		page, err := a.src.AllocPage(flags == Sleep)
		if err == nil {
			a.pageCount++
			return page, true
		}
		if flags == NoSleep {
			errorf("page allocation refused: %v", err)
			return 0, false
		}
	}
}

func (a *Arena) pageFree(addr uintptr) {
	a.pageCount--
	a.src.FreePage(addr)
}

// GetMemUsage returns the bytes currently held from the backing source.
func (a *Arena) GetMemUsage() uint64 {
	return uint64(a.pageCount) * uint64(a.pageSize)
}

// bootstrap breaks the circularity between caches and the cache that
// holds them: one page is taken from the source, the cache-of-caches
// record is laid into that page's first buffer slot, and the rest of the
// page becomes its first slab. Every later cache record, including the
// other internal caches created right here, is allocated from it.
func (a *Arena) bootstrap() {
	ps := a.src.PageSize()
	if ps == 0 || ps&(ps-1) != 0 {
		panic("page size must be a power of two")
	}
	if hashRecSize >= ps/8 {
		// internal records must stay small-layout or their caches
		// would need bufctls before the bufctl cache exists
		panic("page size too small for internal records")
	}
	a.pageSize = ps
	a.pageMask = ps - 1

	page, _ := a.pageAlloc(Sleep)

	a.hashOnCreate = false

	cc := cacheAt(page)
	*cc = cacheRec{}
	setCacheName(cc, "kmem_cache_cache")
	cc.objectSize = cacheRecSize
	cc.layout = layoutSmall

	slab := a.slabInitSmall(cc, page, 1)
	a.addSlab(cc, slab)
	a.cacheCache = cc

	a.hashNodeCache = a.createCache("kmem_hash_node_cache", hashNodeRecSize, 0)
	a.hashCache = a.createCache("kmem_hash_cache", hashRecSize, 0)
	a.slabCache = a.createCache("kmem_slab_cache", slabRecSize, 0)
	a.bufctlCache = a.createCache("kmem_bufctl_cache", bufctlRecSize, 0)

	a.hashOnCreate = true

	// retrofit a hash onto each internal cache for uniformity; all five
	// are small-layout, so none is ever consulted
	cc.hash = a.hashInit(Sleep)
	a.hashNodeCache.hash = a.hashInit(Sleep)
	a.hashCache.hash = a.hashInit(Sleep)
	a.slabCache.hash = a.hashInit(Sleep)
	a.bufctlCache.hash = a.hashInit(Sleep)

	debugf("bootstrap done: page size %d, cache record %d bytes", ps, cacheRecSize)
}

// createCache allocates and initializes a cache record, growing one slab
// so the first Alloc needs no growth.
func (a *Arena) createCache(name string, size, align uintptr) *cacheRec {
	if size == 0 {
		panic("object size must be > 0")
	}
	if align != 0 && align&(align-1) != 0 {
		panic("align must be zero or a power of two")
	}

	if a.cacheCache == nil {
		a.bootstrap()
	}

	objectSize := size
	if align != 0 {
		objectSize = (size + align - 1) &^ (align - 1)
	}
	if objectSize < wordSize {
		// the freelist link is stored in the buffer's first word
		objectSize = wordSize
	}
	if objectSize > a.pageSize {
		panic("object size exceeds one page")
	}

	cp := cacheAt(a.cacheAlloc(a.cacheCache, Sleep))
	*cp = cacheRec{}
	setCacheName(cp, name)
	cp.objectSize = objectSize
	if objectSize < a.pageSize/8 {
		cp.layout = layoutSmall
	} else {
		cp.layout = layoutLarge
	}

	if a.hashOnCreate && cp.layout == layoutLarge {
		cp.hash = a.hashInit(Sleep)
	}

	a.grow(cp, Sleep)

	debugf("cache %s created: object size %d, layout %d", name, objectSize, cp.layout)
	return cp
}
