// Command kmemdemo exercises the slab allocator: a small-object cache
// driven through a slab overflow and reap cycle, then a large-object
// cache with its buffer index.
package main

import (
	"fmt"
	"unsafe"

	flag "github.com/spf13/pflag"

	"github.com/minhquang4334/kmemcache/kmem"
	"github.com/minhquang4334/kmemcache/mem"
)

type foo struct {
	a, b, c int32
}

type bigFoo struct {
	nums [128]int32
}

func main() {
	smallCount := flag.Int("small-count", 340, "small objects to allocate")
	largeCount := flag.Int("large-count", 10, "large objects to allocate")
	verbose := flag.BoolP("verbose", "v", false, "log allocator internals")
	flag.Parse()

	if *verbose {
		kmem.SetLogLevel(kmem.LogLevelDebug)
	}

	arena := kmem.New(mem.Default())

	cache := arena.Create("foo", unsafe.Sizeof(foo{}), 0)
	fmt.Printf("cache %q: object size %d\n", cache.Name(), cache.ObjectSize())

	meow := (*foo)(cache.Alloc(kmem.Sleep))
	woof := (*foo)(cache.Alloc(kmem.Sleep))
	*meow = foo{a: 2, b: 4, c: 10}
	*woof = foo{a: 1, b: 5, c: 11}
	fmt.Printf("a + b + c = %d, expected 16\n", meow.a+meow.b+meow.c)
	fmt.Printf("a + b + c = %d, expected 17\n", woof.a+woof.b+woof.c)
	cache.Free(unsafe.Pointer(meow))
	cache.Free(unsafe.Pointer(woof))

	datas := make([]*foo, *smallCount)
	for i := range datas {
		datas[i] = (*foo)(cache.Alloc(kmem.Sleep))
		datas[i].a = int32(i)
	}
	fmt.Printf("%d small objects across %d slabs\n", *smallCount, cache.SlabCount())

	for i := 0; i < len(datas)-2; i++ {
		cache.Free(unsafe.Pointer(datas[i]))
	}
	fmt.Printf("after reap: %d slabs\n", cache.SlabCount())
	cache.Free(unsafe.Pointer(datas[len(datas)-2]))
	cache.Free(unsafe.Pointer(datas[len(datas)-1]))
	cache.Destroy()

	bigCache := arena.Create("big_foo", unsafe.Sizeof(bigFoo{}), 0)
	bigs := make([]*bigFoo, *largeCount)
	for i := range bigs {
		bigs[i] = (*bigFoo)(bigCache.Alloc(kmem.Sleep))
		bigs[i].nums[0] = int32(i)
	}
	sum := bigs[2].nums[0] + bigs[len(bigs)-3].nums[0]
	fmt.Printf("%d large objects across %d slabs, spot check %d\n",
		*largeCount, bigCache.SlabCount(), sum)
	for _, b := range bigs {
		bigCache.Free(unsafe.Pointer(b))
	}
	bigCache.Destroy()

	fmt.Printf("arena holds %d bytes from the backing source\n", arena.GetMemUsage())
}
