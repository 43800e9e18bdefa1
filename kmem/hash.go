package kmem

import (
	"encoding/binary"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

const numBuckets = 32

// hashNodeRec is one chained entry of the buffer index. The key field
// doubles as the freelist link word while the record sits free on its
// internal cache, so it must stay the first field.
type hashNodeRec struct {
	key  uintptr
	val  uintptr
	next uintptr
}

// hashRec maps buffer addresses to bufctl addresses for large-layout
// caches. Fixed bucket count, separate chaining, nodes drawn from the
// arena's hash-node cache.
type hashRec struct {
	buckets [numBuckets]uintptr
}

const (
	hashRecSize     = unsafe.Sizeof(hashRec{})
	hashNodeRecSize = unsafe.Sizeof(hashNodeRec{})
)

func hashAt(addr uintptr) *hashRec {
	if addr == nullAddr {
		return nil
	}
	return (*hashRec)(unsafe.Pointer(addr))
}

func hashNodeAt(addr uintptr) *hashNodeRec {
	return (*hashNodeRec)(unsafe.Pointer(addr))
}

// hashBucket mixes the address before reducing it to a bucket. Large
// buffers sit at size-aligned offsets, so the low address bits carry no
// entropy and a bare modulo would pile every buffer into one bucket.
func hashBucket(key uintptr) uintptr {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(key))
	return uintptr(xxhash.Sum64(b[:]) & (numBuckets - 1))
}

// hashInit allocates an empty hash from the internal hash cache.
func (a *Arena) hashInit(flags Flags) uintptr {
	hAddr := a.cacheAlloc(a.hashCache, flags)
	if hAddr == nullAddr {
		return nullAddr
	}
	hash := hashAt(hAddr)
	*hash = hashRec{}
	return hAddr
}

// hashInsert adds a key that is assumed to be absent. Reports false if
// the node allocation fails under NoSleep.
func (a *Arena) hashInsert(hash *hashRec, key, val uintptr, flags Flags) bool {
	nAddr := a.cacheAlloc(a.hashNodeCache, flags)
	if nAddr == nullAddr {
		return false
	}
	node := hashNodeAt(nAddr)
	bucket := hashBucket(key)
	node.key = key
	node.val = val
	node.next = hash.buckets[bucket]
	hash.buckets[bucket] = nAddr
	return true
}

// hashGet returns the value stored for key, or 0 if absent.
func hashGet(hash *hashRec, key uintptr) uintptr {
	node := hash.buckets[hashBucket(key)]
	for node != nullAddr {
		n := hashNodeAt(node)
		if n.key == key {
			return n.val
		}
		node = n.next
	}
	return nullAddr
}

// hashRemove drops the entry for key. No-op if absent.
func (a *Arena) hashRemove(hash *hashRec, key uintptr) {
	bucket := hashBucket(key)
	var prev *hashNodeRec
	node := hash.buckets[bucket]
	for node != nullAddr {
		n := hashNodeAt(node)
		if n.key == key {
			if prev == nil {
				hash.buckets[bucket] = n.next
			} else {
				prev.next = n.next
			}
			a.cacheFree(a.hashNodeCache, node)
			return
		}
		prev = n
		node = n.next
	}
}

// hashFree releases every node and then the hash record itself.
func (a *Arena) hashFree(hAddr uintptr) {
	hash := hashAt(hAddr)
	for i := 0; i < numBuckets; i++ {
		node := hash.buckets[i]
		for node != nullAddr {
			next := hashNodeAt(node).next
			a.cacheFree(a.hashNodeCache, node)
			node = next
		}
	}
	a.cacheFree(a.hashCache, hAddr)
}
