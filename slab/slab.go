package slab

import "errors"
import "fmt"
import "sync/atomic"

import "github.com/bnclabs/goheap/fatptr"
import s "github.com/bnclabs/gosettings"
import humanize "github.com/dustin/go-humanize"

// ErrorOutofMemory the OS refused to map more memory.
var ErrorOutofMemory = errors.New("slab.outofmemory")

// allocator is the common contract between small/medium chunks,
// large chunks and huge records. The chunk index dispatches through
// this interface.
type allocator[H any] interface {
	// alloc a region of at least size bytes, false if the
	// allocator raced out of space.
	alloc(size int64) (fatptr.Pointer, bool)

	// free the slot holding addr. relink reports the allocator
	// left the full state while detached from its bucket list.
	free(addr uintptr) (relink bool)

	// full reports whether the allocator has no free slot.
	full() bool

	// bucket index served, Hugebucket for huge records.
	bucket() int

	// objectSize observable size of the allocation holding addr.
	objectSize(addr uintptr) int64

	// allocationForAddress map any interior address to the
	// enclosing allocation and its out-of-line header.
	allocationForAddress(addr uintptr) (fatptr.Pointer, *H)

	// fillIterator refill the batch buffer of a fast iterator.
	fillIterator(it *fastIterator[H])

	// link return the intrusive list node for this allocator.
	link() *chain[H]

	// detach mark the allocator removed from its bucket list,
	// false if it regained free space and should be relinked.
	detach() bool

	// release unmap the allocator's memory.
	release()

	// info return memory accounting for this allocator.
	info() (capacity, heap, alloc, overhead int64)
}

// chain is the intrusive list node embedded in every allocator.
// allocnext forms the lock-free allocation list, which full chunks
// are detached from; allnext forms the append-only iteration list,
// which every chunk stays on for its lifetime.
type chain[H any] struct {
	self      allocator[H]
	allocnext atomic.Pointer[chain[H]]
	allnext   atomic.Pointer[chain[H]]
}

// Slab is a size-segregated allocator over chunk-aligned mappings.
// The header type parameter attaches per-allocation metadata held
// out of line from the object; struct{} costs nothing.
type Slab[H any] struct {
	// 64-bit aligned stats
	nchunks int64
	nhuge   int64

	index    *chunkindex[H]
	heads    [Fixedbuckets]atomic.Pointer[chain[H]]
	all      [Fixedbuckets]atomic.Pointer[chain[H]]
	hugehead atomic.Pointer[hugerecord[H]]

	// settings
	hardened bool // freed folios go to the tail of their list

	// safepoint, when set, parks Alloc and Free while a collector
	// has stopped the world.
	safepoint func()
}

// NewSlab create a slab allocator configured by setts, refer to
// Defaultsettings().
func NewSlab[H any](setts s.Settings) *Slab[H] {
	setts = Defaultsettings().Mixin(setts)
	sl := &Slab[H]{index: newChunkindex[H]()}
	switch reuse := setts.String("reuse"); reuse {
	case "warm":
	case "hardened":
		sl.hardened = true
	default:
		panicerr("invalid reuse policy %q", reuse)
	}
	return sl
}

// SetSafepoint install the mutator checkpoint run on every Alloc
// and Free. A collector stopping the world blocks mutators here,
// so no slab lock is held while it runs.
func (sl *Slab[H]) SetSafepoint(fn func()) {
	sl.safepoint = fn
}

//---- operations

// Alloc return a region of at least size bytes. The observable
// length of the region is the bucket size, or the page-rounded size
// on the huge path. Returns an invalid pointer only when the OS
// refuses to map memory.
func (sl *Slab[H]) Alloc(size int64) fatptr.Pointer {
	if sl.safepoint != nil {
		sl.safepoint()
	}
	if size <= 0 {
		panicerr("Alloc size %v invalid", size)
	}
	bucket := BucketForSize(size)
	if bucket == Hugebucket {
		return sl.hugeAlloc(size)
	}
	for {
		head := sl.heads[bucket].Load()
		if head == nil {
			ch, err := sl.newChunk(bucket)
			if err != nil {
				errorf("slab.Alloc(%v): %v\n", size, err)
				return fatptr.Pointer{}
			}
			sl.pushAlloc(bucket, ch.link())
			continue
		}
		a := head.self
		if a.full() {
			// detach the full chunk so the hot path stays
			// one load deep.
			next := head.allocnext.Load()
			if sl.heads[bucket].CompareAndSwap(head, next) {
				if !a.detach() {
					sl.pushAlloc(bucket, head)
				}
			}
			continue
		}
		if ptr, ok := a.alloc(size); ok {
			return ptr
		}
	}
}

// Free return the slot holding ptr to its allocator. The pointer
// must be the base of an allocation obtained from Alloc. Freeing an
// unmanaged pointer panics.
func (sl *Slab[H]) Free(addr uintptr) {
	if sl.safepoint != nil {
		sl.safepoint()
	}
	sl.Reclaim(addr)
}

// Reclaim free a slot without passing the mutator checkpoint. Only
// a collector that has already stopped the world may use this;
// mutators go through Free.
func (sl *Slab[H]) Reclaim(addr uintptr) {
	a := sl.index.lookup(addr)
	if a == nil {
		panicerr("Free(%x): address not managed here", addr)
	}
	if a.free(addr) {
		sl.pushAlloc(a.bucket(), a.link())
	}
}

// ObjectForAllocation map any interior pointer to the enclosing
// allocation and its out-of-line header. The boolean is false when
// the address is not within any managed region.
func (sl *Slab[H]) ObjectForAllocation(addr uintptr) (fatptr.Pointer, *H, bool) {
	a := sl.index.lookup(addr)
	if a == nil {
		return fatptr.Pointer{}, nil, false
	}
	obj, hdr := a.allocationForAddress(addr)
	if !obj.IsValid() {
		return fatptr.Pointer{}, nil, false
	}
	return obj, hdr, true
}

// ObjectSize observable length of the allocation holding addr, zero
// if addr is not managed here.
func (sl *Slab[H]) ObjectSize(addr uintptr) int64 {
	a := sl.index.lookup(addr)
	if a == nil {
		return 0
	}
	return a.objectSize(addr)
}

// Release every mapping held by this allocator. The slab must not
// be used afterwards.
func (sl *Slab[H]) Release() {
	for b := 0; b < Fixedbuckets; b++ {
		for node := sl.all[b].Load(); node != nil; node = node.allnext.Load() {
			node.self.release()
		}
		sl.all[b].Store(nil)
		sl.heads[b].Store(nil)
	}
	for rec := sl.hugehead.Load(); rec != nil; rec = rec.next.Load() {
		rec.release()
	}
	sl.hugehead.Store(nil)
	sl.index.release()
	infof("slab released %v chunks, %v huge records\n",
		atomic.LoadInt64(&sl.nchunks), atomic.LoadInt64(&sl.nhuge))
}

//---- statistics and maintenance

// Info return memory accounting across every chunk and huge record.
func (sl *Slab[H]) Info() (capacity, heap, alloc, overhead int64) {
	sl.foreachAllocator(func(a allocator[H]) {
		c, h, al, ov := a.info()
		capacity, heap, alloc, overhead = capacity+c, heap+h, alloc+al, overhead+ov
	})
	return
}

// Utilization per-bucket ratio of allocated bytes to chunk capacity.
func (sl *Slab[H]) Utilization() ([]int, []float64) {
	ss, zs := make([]int, 0), make([]float64, 0)
	for b := 0; b < Fixedbuckets; b++ {
		capacity, alloc := float64(0), float64(0)
		for node := sl.all[b].Load(); node != nil; node = node.allnext.Load() {
			c, _, al, _ := node.self.info()
			capacity += float64(c)
			alloc += float64(al)
		}
		if capacity > 0 {
			ss = append(ss, int(Bucketsize(b)))
			zs = append(zs, (alloc/capacity)*100)
		}
	}
	return ss, zs
}

// Footprint log the managed memory footprint.
func (sl *Slab[H]) Footprint() {
	capacity, heap, alloc, overhead := sl.Info()
	infof("slab footprint capacity:%v heap:%v alloc:%v overhead:%v\n",
		humanize.Bytes(uint64(capacity)), humanize.Bytes(uint64(heap)),
		humanize.Bytes(uint64(alloc)), humanize.Bytes(uint64(overhead)))
}

//---- local functions

func (sl *Slab[H]) newChunk(bucket int) (allocator[H], error) {
	if bucket <= Largestmedium {
		ch, err := newSmallchunk[H](sl, bucket)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	ch, err := newLargechunk[H](sl, bucket)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (sl *Slab[H]) pushAlloc(bucket int, node *chain[H]) {
	for {
		old := sl.heads[bucket].Load()
		node.allocnext.Store(old)
		if sl.heads[bucket].CompareAndSwap(old, node) {
			return
		}
	}
}

func (sl *Slab[H]) pushAll(bucket int, node *chain[H]) {
	for {
		old := sl.all[bucket].Load()
		node.allnext.Store(old)
		if sl.all[bucket].CompareAndSwap(old, node) {
			return
		}
	}
}

func (sl *Slab[H]) foreachAllocator(fn func(a allocator[H])) {
	for b := 0; b < Fixedbuckets; b++ {
		for node := sl.all[b].Load(); node != nil; node = node.allnext.Load() {
			fn(node.self)
		}
	}
	for rec := sl.hugehead.Load(); rec != nil; rec = rec.next.Load() {
		fn(rec)
	}
}

func panicerr(fmsg string, args ...interface{}) {
	panic(fmt.Errorf(fmsg, args...))
}
