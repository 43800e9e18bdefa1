package kmem

import "unsafe"

const nullAddr uintptr = 0

const (
	layoutSmall uintptr = 0
	layoutLarge uintptr = 1
)

const cacheNameLen = 32

// cacheRec is the in-memory record of one cache. Records live inside
// slabs of the arena's cache-of-caches, so the struct must hold raw
// addresses only, never Go heap pointers; the name is an inline byte
// array for the same reason. The objectSize field doubles as the
// freelist link word while the record is free.
type cacheRec struct {
	objectSize uintptr
	layout     uintptr
	slabCount  uintptr
	slabs      uintptr // head of the circular slab list, 0 when empty
	freelist   uintptr // first slab with free capacity, 0 when all full
	hash       uintptr // buffer index, large layout only
	nameLen    uintptr
	name       [cacheNameLen]byte
}

const cacheRecSize = unsafe.Sizeof(cacheRec{})

func cacheAt(addr uintptr) *cacheRec {
	return (*cacheRec)(unsafe.Pointer(addr))
}

func cacheRecAddr(cp *cacheRec) uintptr {
	return uintptr(unsafe.Pointer(cp))
}

func setCacheName(cp *cacheRec, name string) {
	n := copy(cp.name[:], name)
	cp.nameLen = uintptr(n)
}

func cacheName(cp *cacheRec) string {
	return string(cp.name[:cp.nameLen])
}

func isFull(slab *slabRec) bool {
	return slab.refcount == slab.size
}

// The slab list is circular and kept ordered: full slabs first, then
// partial, then empty. freelist points at the first slab that is not
// full, which keeps allocation O(1); reap scans start at the tail.

// addSlab links a freshly grown slab at the tail of the list, the front
// of the empty region.
func (a *Arena) addSlab(cp *cacheRec, slab *slabRec) {
	sAddr := slabAddr(slab)
	if cp.slabs == nullAddr {
		slab.next = sAddr
		slab.prev = sAddr
		cp.slabs = sAddr
		cp.freelist = sAddr
	} else {
		head := slabAt(cp.slabs)
		tail := slabAt(head.prev)
		tail.next = sAddr
		slab.prev = head.prev
		slab.next = cp.slabs
		head.prev = sAddr
		if cp.freelist == nullAddr || isFull(slabAt(cp.freelist)) {
			cp.freelist = sAddr
		}
	}
	cp.slabCount++
	debugf("cache %s: slab %#x added, %d slabs", cacheName(cp), sAddr, cp.slabCount)
}

// slabComplete moves a slab that just filled to the head of the list and
// advances freelist past it.
func (a *Arena) slabComplete(cp *cacheRec, slab *slabRec) {
	sAddr := slabAddr(slab)
	if cp.freelist == sAddr {
		next := slab.next
		if next != sAddr && !isFull(slabAt(next)) {
			cp.freelist = next
		} else {
			cp.freelist = nullAddr
		}
	}
	debugf("cache %s: slab %#x complete", cacheName(cp), sAddr)
	if cp.slabs == sAddr {
		return
	}
	slabAt(slab.prev).next = slab.next
	slabAt(slab.next).prev = slab.prev

	head := slabAt(cp.slabs)
	tail := head.prev
	slabAt(tail).next = sAddr
	slab.prev = tail
	slab.next = cp.slabs
	head.prev = sAddr
	cp.slabs = sAddr
}

// moveToTail places the slab at the tail of the list without touching
// freelist. Callers fix freelist themselves.
func (a *Arena) moveToTail(cp *cacheRec, slab *slabRec) {
	sAddr := slabAddr(slab)
	if cp.slabs == sAddr {
		// the head of a circular list becomes the tail by rotation
		cp.slabs = slab.next
		return
	}
	if slabAt(cp.slabs).prev == sAddr {
		return
	}
	slabAt(slab.prev).next = slab.next
	slabAt(slab.next).prev = slab.prev

	head := slabAt(cp.slabs)
	tail := head.prev
	slabAt(tail).next = sAddr
	slab.prev = tail
	slab.next = cp.slabs
	head.prev = sAddr
}

// slabEmptyMove moves a slab that just emptied to the front of the empty
// region at the tail, making it the next reap candidate.
func (a *Arena) slabEmptyMove(cp *cacheRec, slab *slabRec) {
	sAddr := slabAddr(slab)
	if cp.freelist == sAddr {
		next := slab.next
		if next != sAddr && !isFull(slabAt(next)) {
			cp.freelist = next
		}
		// otherwise this slab stays the only one with capacity until
		// reap removes it
	}
	debugf("cache %s: slab %#x empty", cacheName(cp), sAddr)
	a.moveToTail(cp, slab)
}

// slabPartialMove reorders a slab that just went from full to partial:
// it is placed at the front of the partial region and becomes the new
// freelist head.
func (a *Arena) slabPartialMove(cp *cacheRec, slab *slabRec) {
	sAddr := slabAddr(slab)
	if cp.freelist == nullAddr {
		// every other slab is full, so the partial region is the tail
		a.moveToTail(cp, slab)
		cp.freelist = sAddr
		return
	}
	if cp.freelist == sAddr {
		return
	}
	target := cp.freelist
	if slab.next != target {
		if cp.slabs == sAddr {
			cp.slabs = slab.next
		}
		slabAt(slab.prev).next = slab.next
		slabAt(slab.next).prev = slab.prev

		t := slabAt(target)
		slabAt(t.prev).next = sAddr
		slab.prev = t.prev
		slab.next = target
		t.prev = sAddr
	}
	cp.freelist = sAddr
}

// removeSlab unlinks the slab from the list.
func (a *Arena) removeSlab(cp *cacheRec, slab *slabRec) {
	sAddr := slabAddr(slab)
	cp.slabCount--
	if slab.next == sAddr {
		cp.slabs = nullAddr
		cp.freelist = nullAddr
		return
	}
	if cp.slabs == sAddr {
		cp.slabs = slab.next
	}
	if cp.freelist == sAddr {
		next := slabAt(slab.next)
		if !isFull(next) {
			cp.freelist = slab.next
		} else {
			cp.freelist = nullAddr
		}
	}
	slabAt(slab.prev).next = slab.next
	slabAt(slab.next).prev = slab.prev
}

// grow obtains one page from the backing source and adds a fresh slab
// over it. Returns nil only when the source or the internal metadata
// caches refuse under NoSleep.
func (a *Arena) grow(cp *cacheRec, flags Flags) *slabRec {
	page, ok := a.pageAlloc(flags)
	if !ok {
		return nil
	}
	var slab *slabRec
	if cp.layout == layoutSmall {
		slab = a.slabInitSmall(cp, page, 0)
	} else {
		slab = a.slabInitLarge(cp, page, flags)
		if slab == nil {
			a.pageFree(page)
			return nil
		}
	}
	a.addSlab(cp, slab)
	return slab
}

// cacheAlloc hands out one buffer from the first slab with capacity,
// growing the cache as needed.
func (a *Arena) cacheAlloc(cp *cacheRec, flags Flags) uintptr {
	for cp.freelist == nullAddr || isFull(slabAt(cp.freelist)) {
		if a.grow(cp, flags) == nil {
			return nullAddr
		}
	}
	slab := slabAt(cp.freelist)

	var buf uintptr
	if cp.layout == layoutSmall {
		buf = slabAllocSmall(slab)
	} else {
		buf = slabAllocLarge(slab)
	}

	if isFull(slab) {
		a.slabComplete(cp, slab)
	}
	return buf
}

// cacheFree returns a buffer to its owning slab. In the small layout the
// slab is found by masking the buffer down to its page base; in the
// large layout through the cache's hash. A large-layout buffer with no
// hash entry is a protocol violation, logged and ignored.
func (a *Arena) cacheFree(cp *cacheRec, buf uintptr) {
	var slab *slabRec
	if cp.layout == layoutSmall {
		page := buf &^ a.pageMask
		slab = slabAt(page + a.pageSize - slabRecSize)
		wasFull := isFull(slab)
		slabFreeSmall(slab, buf)
		if wasFull {
			a.slabPartialMove(cp, slab)
		}
	} else {
		bcAddr := hashGet(hashAt(cp.hash), buf)
		if bcAddr == nullAddr {
			errorf("cache %s: free of %#x without a bufctl", cacheName(cp), buf)
			return
		}
		bc := bufctlAt(bcAddr)
		slab = slabAt(bc.slab)
		wasFull := isFull(slab)
		slabFreeLarge(slab, bcAddr)
		if wasFull {
			a.slabPartialMove(cp, slab)
		}
	}

	if slab.refcount == 0 && cp.slabCount > 1 {
		a.slabEmptyMove(cp, slab)
		a.reap(cp, false)
	}
}

// reap reclaims empty slabs from the tail of the list, always keeping
// one slab resident. Under force every slab goes, used by destroy once
// the caller has returned all outstanding buffers.
func (a *Arena) reap(cp *cacheRec, force bool) {
	for cp.slabs != nullAddr {
		var slab *slabRec
		if force {
			slab = slabAt(cp.slabs)
		} else {
			slab = slabAt(slabAt(cp.slabs).prev)
			if slab.refcount != 0 || cp.slabCount <= 1 {
				break
			}
		}
		page := slab.start
		a.removeSlab(cp, slab)
		if cp.layout == layoutLarge {
			a.slabReapLarge(cp, slab)
			a.cacheFree(a.slabCache, slabAddr(slab))
		}
		a.pageFree(page)
		debugf("cache %s: slab over %#x reaped, %d slabs left", cacheName(cp), page, cp.slabCount)
	}
}

// cacheDestroy tears a cache down: slabs first so the hash is still live
// while their entries are removed, then the hash, then the record.
func (a *Arena) cacheDestroy(cp *cacheRec) {
	a.reap(cp, true)
	if cp.hash != nullAddr {
		a.hashFree(cp.hash)
		cp.hash = nullAddr
	}
	a.cacheFree(a.cacheCache, cacheRecAddr(cp))
}
