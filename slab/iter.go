package slab

import "github.com/bnclabs/goheap/fatptr"

// iterBatch number of allocations fetched per lock acquisition
// while iterating a chunk.
const iterBatch = 64

type allocpair[H any] struct {
	hdr *H
	obj fatptr.Pointer
}

// fastIterator batches allocations out of one allocator so the
// per-object cost of iteration does not include a lock round trip.
type fastIterator[H any] struct {
	cursor    int64
	n         int
	idx       int
	exhausted bool
	buf       [iterBatch]allocpair[H]
}

func (it *fastIterator[H]) reset() {
	it.cursor, it.n, it.idx, it.exhausted = 0, 0, 0, false
}

// ForEach yield every live allocation exactly once: all chunks of
// every bucket in bucket order, then every huge allocation. fn
// returning false stops the iteration. Allocations made while the
// iteration runs may or may not be observed.
func (sl *Slab[H]) ForEach(fn func(hdr *H, obj fatptr.Pointer) bool) {
	var it fastIterator[H]
	for b := 0; b < Fixedbuckets; b++ {
		for node := sl.all[b].Load(); node != nil; node = node.allnext.Load() {
			it.reset()
			for {
				node.self.fillIterator(&it)
				if it.exhausted {
					break
				}
				for it.idx < it.n {
					pair := it.buf[it.idx]
					it.idx++
					if !fn(pair.hdr, pair.obj) {
						return
					}
				}
				if it.n < iterBatch {
					break
				}
			}
		}
	}
	for rec := sl.hugehead.Load(); rec != nil; rec = rec.next.Load() {
		it.reset()
		rec.fillIterator(&it)
		for it.idx < it.n {
			pair := it.buf[it.idx]
			it.idx++
			if !fn(pair.hdr, pair.obj) {
				return
			}
		}
	}
}
