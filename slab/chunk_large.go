package slab

import "sync/atomic"
import "unsafe"

import "github.com/bnclabs/goheap/fatptr"
import "github.com/bnclabs/goheap/lib"
import "github.com/bnclabs/goheap/page"

// largechunk serves one large bucket, 32 KiB to a quarter chunk.
// Unlike smallchunk there is no folio subdivision, each class-sized
// region is one slot in a single bitmap, and a freed slot hints its
// pages back to the OS immediately.
type largechunk[H any] struct {
	// 64-bit aligned stats
	freeallocs int64

	base     uintptr
	sizeidx  int
	size     int64
	nallocs  int64
	detached bool
	lock     lib.Spinlock

	allocated *lib.Bitset
	headers   []H
	owner     *Slab[H]
	ch        chain[H]
}

func newLargechunk[H any](sl *Slab[H], bucket int) (*largechunk[H], error) {
	size := Bucketsize(bucket)
	base, err := page.Map(Chunksize, Chunkbits)
	if err != nil {
		return nil, err
	}
	nallocs := Chunksize / size
	ch := &largechunk[H]{
		base:      uintptr(base),
		sizeidx:   bucket,
		size:      size,
		nallocs:   nallocs,
		allocated: lib.NewBitset(nallocs),
		headers:   make([]H, nallocs),
		owner:     sl,
	}
	ch.ch.self = ch
	ch.freeallocs = nallocs

	id := sl.index.register(ch)
	sl.index.assign(id, ch.base, Chunksize)
	sl.pushAll(bucket, &ch.ch)
	atomic.AddInt64(&sl.nchunks, 1)
	return ch, nil
}

//---- allocator{} interface

func (ch *largechunk[H]) alloc(size int64) (fatptr.Pointer, bool) {
	ch.lock.Lock()
	if ch.freeallocs == 0 {
		ch.lock.Unlock()
		return fatptr.Pointer{}, false
	}
	slot := ch.allocated.FirstZero()
	ch.allocated.Set(slot)
	atomic.AddInt64(&ch.freeallocs, -1)
	ch.lock.Unlock()
	return fatptr.New(ch.base+uintptr(slot*ch.size), ch.size), true
}

func (ch *largechunk[H]) free(addr uintptr) bool {
	offset := int64(addr - ch.base)
	if offset < 0 || offset >= Chunksize {
		panicerr("largechunk.free(%x): outside chunk", addr)
	}
	if offset%ch.size != 0 {
		panicerr("largechunk.free(%x): unaligned pointer", addr)
	}
	slot := offset / ch.size

	ch.lock.Lock()
	if !ch.allocated.Get(slot) {
		ch.lock.Unlock()
		panicerr("largechunk.free(%x): slot already free", addr)
	}
	ch.allocated.Clear(slot)
	wasfull := atomic.AddInt64(&ch.freeallocs, 1) == 1
	relink := wasfull && ch.detached
	if relink {
		ch.detached = false
	}
	// large slots are whole pages, return them eagerly.
	page.HintRelease(unsafe.Pointer(addr), ch.size)
	ch.lock.Unlock()
	return relink
}

func (ch *largechunk[H]) full() bool {
	return atomic.LoadInt64(&ch.freeallocs) == 0
}

func (ch *largechunk[H]) bucket() int {
	return ch.sizeidx
}

func (ch *largechunk[H]) objectSize(addr uintptr) int64 {
	return ch.size
}

func (ch *largechunk[H]) allocationForAddress(addr uintptr) (fatptr.Pointer, *H) {
	offset := int64(addr - ch.base)
	if offset < 0 || offset >= Chunksize {
		return fatptr.Pointer{}, nil
	}
	idx := offset / ch.size
	if idx >= ch.nallocs {
		return fatptr.Pointer{}, nil // unused tail of the chunk
	}
	obj := fatptr.New(ch.base+uintptr(idx*ch.size), ch.size)
	return obj, &ch.headers[idx]
}

func (ch *largechunk[H]) link() *chain[H] {
	return &ch.ch
}

func (ch *largechunk[H]) detach() bool {
	ch.lock.Lock()
	stillfull := atomic.LoadInt64(&ch.freeallocs) == 0
	ch.detached = stillfull
	ch.lock.Unlock()
	return stillfull
}

func (ch *largechunk[H]) release() {
	page.Unmap(unsafe.Pointer(ch.base), Chunksize)
	ch.owner.index.clear(ch.base, Chunksize)
	ch.allocated, ch.headers = nil, nil
}

func (ch *largechunk[H]) info() (capacity, heap, alloc, overhead int64) {
	capacity, heap = Chunksize, Chunksize
	alloc = (ch.nallocs - atomic.LoadInt64(&ch.freeallocs)) * ch.size
	overhead = int64(unsafe.Sizeof(*ch)) + lib.Ceil(ch.nallocs, 8)
	return
}

func (ch *largechunk[H]) allocations(buf []int64, cursor int64) (int64, int64) {
	n := int64(0)
	ch.lock.Lock()
	ai := cursor
	for ai < ch.nallocs && n < int64(len(buf)) {
		if !ch.allocated.Get(ai) {
			next := ch.allocated.OneAfter(ai)
			if next >= ch.nallocs {
				ai = ch.nallocs
				break
			}
			ai = next
		}
		buf[n] = ai
		n++
		ai++
	}
	ch.lock.Unlock()
	return n, ai
}

func (ch *largechunk[H]) fillIterator(it *fastIterator[H]) {
	var buf [iterBatch]int64
	n, cursor := ch.allocations(buf[:], it.cursor)
	it.cursor = cursor
	it.n, it.idx = int(n), 0
	for i := int64(0); i < n; i++ {
		obj, hdr := ch.allocationForAddress(ch.base + uintptr(buf[i]*ch.size))
		it.buf[i] = allocpair[H]{hdr: hdr, obj: obj}
	}
	it.exhausted = cursor >= ch.nallocs && n == 0
}
