package slab

import "sync/atomic"
import "unsafe"

import "github.com/bnclabs/goheap/fatptr"
import "github.com/bnclabs/goheap/lib"
import "github.com/bnclabs/goheap/page"
import humanize "github.com/dustin/go-humanize"

// hugerecord describes a single directly page-mapped allocation
// beyond a quarter chunk. Records hang off an append-only chain and
// are recycled once their mapping is gone: an alloc first tries to
// CAS its mapping into an empty record before growing the chain.
//
// Ordering discipline: alloc publishes CAS-then-register, free
// deregisters before unmapping. A concurrent lookup either observes
// the mapping and succeeds, or observes null and fails cleanly; it
// never dereferences unmapped memory.
type hugerecord[H any] struct {
	ptr   atomic.Uintptr
	size  int64
	seqno uint64 // registry id, assigned once
	hdr   H
	owner *Slab[H]
	next  atomic.Pointer[hugerecord[H]]
	ch    chain[H]
}

func (sl *Slab[H]) hugeAlloc(size int64) fatptr.Pointer {
	mapped := lib.RoundUp(size, page.Size)
	base, err := page.Map(mapped, Chunkbits)
	if err != nil {
		errorf("slab.hugeAlloc(%v): %v\n", size, err)
		return fatptr.Pointer{}
	}
	addr := uintptr(base)

	rec := sl.claimRecord(addr)
	rec.size = mapped
	sl.index.assign(rec.seqno, addr, mapped)
	atomic.AddInt64(&sl.nhuge, 1)
	debugf("slab huge allocation %v at %x\n", humanize.Bytes(uint64(mapped)), addr)
	return fatptr.New(addr, mapped)
}

// claimRecord CAS the mapping into a reusable record, growing the
// chain when every record is occupied.
func (sl *Slab[H]) claimRecord(addr uintptr) *hugerecord[H] {
	for rec := sl.hugehead.Load(); rec != nil; rec = rec.next.Load() {
		if rec.ptr.CompareAndSwap(0, addr) {
			return rec
		}
	}
	rec := &hugerecord[H]{owner: sl}
	rec.ch.self = rec
	rec.ptr.Store(addr)
	rec.seqno = sl.index.register(rec)
	for {
		old := sl.hugehead.Load()
		rec.next.Store(old)
		if sl.hugehead.CompareAndSwap(old, rec) {
			return rec
		}
	}
}

//---- allocator{} interface

func (rec *hugerecord[H]) alloc(size int64) (fatptr.Pointer, bool) {
	panicerr("hugerecord.alloc: allocate through Slab.Alloc")
	return fatptr.Pointer{}, false
}

func (rec *hugerecord[H]) free(addr uintptr) bool {
	cur := rec.ptr.Load()
	if cur == 0 || addr < cur || addr >= cur+uintptr(rec.size) {
		panicerr("hugerecord.free(%x): stale record", addr)
	}
	// only one freer wins; losing implies a double free, which is
	// undefined outside GC discipline.
	if rec.ptr.CompareAndSwap(cur, 0) {
		size := rec.size
		rec.owner.index.clear(cur, size)
		// the record is unreachable from lookups here, the pages
		// can go.
		page.Unmap(unsafe.Pointer(cur), size)
		atomic.AddInt64(&rec.owner.nhuge, -1)
	}
	return false
}

func (rec *hugerecord[H]) full() bool {
	return rec.ptr.Load() != 0
}

func (rec *hugerecord[H]) bucket() int {
	return Hugebucket
}

func (rec *hugerecord[H]) objectSize(addr uintptr) int64 {
	return rec.size
}

func (rec *hugerecord[H]) allocationForAddress(addr uintptr) (fatptr.Pointer, *H) {
	cur := rec.ptr.Load()
	if cur == 0 || addr < cur || addr >= cur+uintptr(rec.size) {
		return fatptr.Pointer{}, nil
	}
	return fatptr.New(cur, rec.size), &rec.hdr
}

func (rec *hugerecord[H]) link() *chain[H] {
	return &rec.ch
}

func (rec *hugerecord[H]) detach() bool {
	return true
}

func (rec *hugerecord[H]) release() {
	cur := rec.ptr.Load()
	if cur != 0 && rec.ptr.CompareAndSwap(cur, 0) {
		rec.owner.index.clear(cur, rec.size)
		page.Unmap(unsafe.Pointer(cur), rec.size)
	}
}

func (rec *hugerecord[H]) info() (capacity, heap, alloc, overhead int64) {
	overhead = int64(unsafe.Sizeof(*rec))
	if rec.ptr.Load() != 0 {
		capacity, heap, alloc = rec.size, rec.size, rec.size
	}
	return
}

func (rec *hugerecord[H]) fillIterator(it *fastIterator[H]) {
	it.idx, it.n = 0, 0
	if it.cursor == 0 {
		if cur := rec.ptr.Load(); cur != 0 {
			it.buf[0] = allocpair[H]{hdr: &rec.hdr, obj: fatptr.New(cur, rec.size)}
			it.n = 1
		}
	}
	it.cursor = 1
	it.exhausted = it.n == 0
}
