package slab

import "sync/atomic"
import "unsafe"

import "github.com/bnclabs/goheap/fatptr"
import "github.com/bnclabs/goheap/lib"
import "github.com/bnclabs/goheap/page"
import humanize "github.com/dustin/go-humanize"

// notPresent folio list sentinel for an absent neighbour.
const notPresent = uint16(0xffff)

// folio is the smallest repeating substructure of a small or medium
// chunk, sized to the least common multiple of the page size and the
// class size so no allocation straddles a page boundary it does not
// fully own. Folios with the same number of free slots sit on the
// same doubly-linked list, so allocation can pick the most-full
// folio in O(1).
type folio struct {
	prev      uint16
	next      uint16
	freecount uint16
	allocated *lib.Bitset // bit set for slots in use
}

// smallchunk serves one small or medium bucket from a single
// chunk-aligned mapping. The chunk's slot space is the raw mapping;
// folio metadata, free-list heads and the header array live beside
// it on the golang heap.
type smallchunk[H any] struct {
	// 64-bit aligned stats
	freeallocs int64

	base      uintptr
	sizeidx   int // bucket index
	size      int64
	foliosize int64
	perfolio  int64 // allocations per folio
	nfolios   int64
	nallocs   int64 // perfolio * nfolios

	folios   []folio
	heads    []uint16 // free-list heads, one per possible freecount
	tails    []uint16 // free-list tails, for the hardened policy
	freehead uint16   // conservative hint, never above the smallest non-empty list
	detached bool     // off the bucket allocation list
	lock     lib.Spinlock

	headers []H
	owner   *Slab[H]
	ch      chain[H]
}

func newSmallchunk[H any](sl *Slab[H], bucket int) (*smallchunk[H], error) {
	size := Bucketsize(bucket)
	foliosize := lib.Lcm(page.Size, size)
	base, err := page.Map(Chunksize, Chunkbits)
	if err != nil {
		return nil, err
	}
	nfolios := Chunksize / foliosize
	perfolio := foliosize / size
	ch := &smallchunk[H]{
		base:      uintptr(base),
		sizeidx:   bucket,
		size:      size,
		foliosize: foliosize,
		perfolio:  perfolio,
		nfolios:   nfolios,
		nallocs:   nfolios * perfolio,
		folios:    make([]folio, nfolios),
		heads:     make([]uint16, perfolio+1),
		tails:     make([]uint16, perfolio+1),
		headers:   make([]H, nfolios*perfolio),
		owner:     sl,
	}
	ch.ch.self = ch
	for i := range ch.heads {
		ch.heads[i], ch.tails[i] = notPresent, notPresent
	}
	// every folio starts on the entirely-empty list.
	for i := int64(0); i < nfolios; i++ {
		f := &ch.folios[i]
		f.prev, f.next = uint16(i-1), uint16(i+1)
		f.freecount = uint16(perfolio)
		f.allocated = lib.NewBitset(perfolio)
	}
	ch.folios[0].prev = notPresent
	ch.folios[nfolios-1].next = notPresent
	ch.heads[perfolio] = 0
	ch.tails[perfolio] = uint16(nfolios - 1)
	ch.freehead = uint16(perfolio)
	ch.freeallocs = ch.nallocs

	id := sl.index.register(ch)
	sl.index.assign(id, ch.base, Chunksize)
	sl.pushAll(bucket, &ch.ch)
	atomic.AddInt64(&sl.nchunks, 1)
	debugf("slab chunk for %v allocations: %v folios of %v (%v per folio)\n",
		humanize.Bytes(uint64(size)), nfolios,
		humanize.Bytes(uint64(foliosize)), perfolio)
	return ch, nil
}

//---- allocator{} interface

func (ch *smallchunk[H]) alloc(size int64) (fatptr.Pointer, bool) {
	offset := ch.reserve()
	if offset < 0 {
		return fatptr.Pointer{}, false
	}
	return fatptr.New(ch.base+uintptr(offset), ch.size), true
}

func (ch *smallchunk[H]) free(addr uintptr) bool {
	offset := int64(addr - ch.base)
	if offset < 0 || offset >= Chunksize {
		panicerr("smallchunk.free(%x): outside chunk", addr)
	}
	if offset%ch.size != 0 {
		panicerr("smallchunk.free(%x): unaligned pointer", addr)
	}
	fidx := offset / ch.foliosize
	slot := (offset % ch.foliosize) / ch.size

	ch.lock.Lock()
	f := &ch.folios[fidx]
	if !f.allocated.Get(slot) {
		ch.lock.Unlock()
		panicerr("smallchunk.free(%x): slot already free", addr)
	}
	ch.removeListEntry(uint16(fidx))
	f.freecount++
	f.allocated.Clear(slot)
	if ch.owner.hardened {
		ch.insertListTail(uint16(fidx))
	} else {
		ch.insertListHead(uint16(fidx))
	}
	if ch.freehead > f.freecount {
		ch.freehead = f.freecount
	}
	wasfull := atomic.AddInt64(&ch.freeallocs, 1) == 1
	relink := wasfull && ch.detached
	if relink {
		ch.detached = false
	}
	if int64(f.freecount) == ch.perfolio {
		// the folio is entirely free, give its pages back.
		folioaddr := unsafe.Pointer(ch.base + uintptr(fidx*ch.foliosize))
		page.HintRelease(folioaddr, ch.foliosize)
	}
	ch.lock.Unlock()
	return relink
}

func (ch *smallchunk[H]) full() bool {
	return atomic.LoadInt64(&ch.freeallocs) == 0
}

func (ch *smallchunk[H]) bucket() int {
	return ch.sizeidx
}

func (ch *smallchunk[H]) objectSize(addr uintptr) int64 {
	return ch.size
}

func (ch *smallchunk[H]) allocationForAddress(addr uintptr) (fatptr.Pointer, *H) {
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

func (ch *smallchunk[H]) link() *chain[H] {
	return &ch.ch
}

func (ch *smallchunk[H]) detach() bool {
	ch.lock.Lock()
	stillfull := atomic.LoadInt64(&ch.freeallocs) == 0
	ch.detached = stillfull
	ch.lock.Unlock()
	return stillfull
}

func (ch *smallchunk[H]) release() {
	page.Unmap(unsafe.Pointer(ch.base), Chunksize)
	ch.owner.index.clear(ch.base, Chunksize)
	ch.folios, ch.heads, ch.tails, ch.headers = nil, nil, nil, nil
}

func (ch *smallchunk[H]) info() (capacity, heap, alloc, overhead int64) {
	capacity, heap = Chunksize, Chunksize
	alloc = (ch.nallocs - atomic.LoadInt64(&ch.freeallocs)) * ch.size
	overhead = int64(unsafe.Sizeof(*ch))
	overhead += ch.nfolios * int64(unsafe.Sizeof(folio{}))
	overhead += ch.nfolios * lib.Ceil(ch.perfolio, 8)
	overhead += int64(len(ch.heads)+len(ch.tails)) * 2
	return
}

//---- local functions

// reserve pick a slot from the most-full folio that still has free
// space and return its byte offset within the chunk, -1 when the
// chunk is out of slots. The freehead hint is maintained at or below
// the smallest non-empty list so the scan stays short.
func (ch *smallchunk[H]) reserve() int64 {
	ch.lock.Lock()
	if ch.freeallocs == 0 {
		ch.lock.Unlock()
		return -1
	}
	i := ch.freehead
	if i < 1 {
		i = 1
	}
	for ch.heads[i] == notPresent {
		i++
		if int64(i) > ch.perfolio {
			ch.lock.Unlock()
			return -1
		}
	}
	fidx := ch.heads[i]
	f := &ch.folios[fidx]
	ch.removeListEntry(fidx)
	f.freecount--
	ch.insertListHead(fidx)
	slot := f.allocated.FirstZero()
	if slot >= ch.perfolio {
		panicerr("smallchunk.reserve: full folio on list %v", i)
	}
	f.allocated.Set(slot)
	atomic.AddInt64(&ch.freeallocs, -1)
	if i > 1 {
		ch.freehead = i - 1
	} else {
		ch.freehead = 1
	}
	ch.lock.Unlock()
	return int64(fidx)*ch.foliosize + slot*ch.size
}

func (ch *smallchunk[H]) removeListEntry(fidx uint16) {
	f := &ch.folios[fidx]
	if f.prev == notPresent {
		ch.heads[f.freecount] = f.next
	} else {
		ch.folios[f.prev].next = f.next
	}
	if f.next == notPresent {
		ch.tails[f.freecount] = f.prev
	} else {
		ch.folios[f.next].prev = f.prev
	}
}

func (ch *smallchunk[H]) insertListHead(fidx uint16) {
	f := &ch.folios[fidx]
	f.prev, f.next = notPresent, ch.heads[f.freecount]
	if f.next != notPresent {
		ch.folios[f.next].prev = fidx
	} else {
		ch.tails[f.freecount] = fidx
	}
	ch.heads[f.freecount] = fidx
}

func (ch *smallchunk[H]) insertListTail(fidx uint16) {
	f := &ch.folios[fidx]
	f.prev, f.next = ch.tails[f.freecount], notPresent
	if f.prev != notPresent {
		ch.folios[f.prev].next = fidx
	} else {
		ch.heads[f.freecount] = fidx
	}
	ch.tails[f.freecount] = fidx
}

// allocations fill buf with the indexes of live slots starting from
// the cursor, returning the count and the next cursor. Runs under
// the chunk lock so a batch costs one acquisition.
func (ch *smallchunk[H]) allocations(buf []int64, cursor int64) (int64, int64) {
	n := int64(0)
	ch.lock.Lock()
	ai := cursor
	for ai < ch.nallocs && n < int64(len(buf)) {
		fidx := ai / ch.perfolio
		slot := ai % ch.perfolio
		f := &ch.folios[fidx]
		if int64(f.freecount) == ch.perfolio {
			ai = (fidx + 1) * ch.perfolio
			continue
		}
		if !f.allocated.Get(slot) {
			next := f.allocated.OneAfter(slot)
			if next >= ch.perfolio {
				ai = (fidx + 1) * ch.perfolio
				continue
			}
			slot, ai = next, fidx*ch.perfolio+next
		}
		buf[n] = ai
		n++
		ai++
	}
	ch.lock.Unlock()
	return n, ai
}

func (ch *smallchunk[H]) fillIterator(it *fastIterator[H]) {
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
