package slab

import "fmt"
import "sync/atomic"
import "unsafe"

import "github.com/bnclabs/goheap/lib"
import "github.com/bnclabs/goheap/page"

// maxallocators bounds the number of chunk or huge registrations a
// single allocator instance can make over its lifetime. Registry
// slots of destroyed huge mappings are not recycled; at 128 GiB of
// chunks per 2 MiB this is far beyond practical heaps.
const maxallocators = 1 << 16

// chunkindex maps chunk_id = vaddr >> Chunkbits, with unused high
// address bits masked off, to the owning allocator. The id array is
// a single sparse mapping whose physical backing is demand paged, so
// unwritten entries read as zero. Entries hold small integer ids
// into a registry rather than pointers, keeping golang pointers out
// of off-heap memory.
type chunkindex[H any] struct {
	array    unsafe.Pointer
	nentries int64
	registry []allocator[H]
	seqno    int64
	lock     lib.Spinlock
}

func newChunkindex[H any]() *chunkindex[H] {
	nentries := int64(1) << (Addressbits - Chunkbits)
	array, err := page.Map(nentries*8, page.Log2Size)
	if err != nil {
		panic(fmt.Errorf("slab.newChunkindex(): %v", err))
	}
	return &chunkindex[H]{
		array:    array,
		nentries: nentries,
		registry: make([]allocator[H], maxallocators),
	}
}

func (idx *chunkindex[H]) chunkid(addr uintptr) int64 {
	a := uint64(addr) << (64 - Addressbits) >> (64 - Addressbits)
	return int64(a >> Chunkbits)
}

func (idx *chunkindex[H]) entry(chunkid int64) *uint64 {
	return (*uint64)(unsafe.Pointer(uintptr(idx.array) + uintptr(chunkid*8)))
}

// register assign a registry id to the allocator. The id becomes
// visible to lookups only once assigned to a chunk.
func (idx *chunkindex[H]) register(a allocator[H]) uint64 {
	idx.lock.Lock()
	idx.seqno++
	id := idx.seqno
	if id >= maxallocators {
		idx.lock.Unlock()
		panic(fmt.Errorf("slab.chunkindex: exhausted %v registrations", maxallocators))
	}
	idx.registry[id] = a
	idx.lock.Unlock()
	return uint64(id)
}

// assign publish the allocator id for every chunk covered by
// [addr, addr+nbytes). The registry entry is written before the id
// is stored, so a lookup that observes the id observes the
// allocator.
func (idx *chunkindex[H]) assign(id uint64, addr uintptr, nbytes int64) {
	for off := int64(0); off < nbytes; off += Chunksize {
		atomic.StoreUint64(idx.entry(idx.chunkid(addr+uintptr(off))), id)
	}
}

// clear remove the index entries for every chunk covered by
// [addr, addr+nbytes). Lookups observe the null entry before the
// caller unmaps the memory.
func (idx *chunkindex[H]) clear(addr uintptr, nbytes int64) {
	for off := int64(0); off < nbytes; off += Chunksize {
		atomic.StoreUint64(idx.entry(idx.chunkid(addr+uintptr(off))), 0)
	}
}

// lookup return the allocator owning addr, nil if the address is not
// managed here. Lock free.
func (idx *chunkindex[H]) lookup(addr uintptr) allocator[H] {
	id := atomic.LoadUint64(idx.entry(idx.chunkid(addr)))
	if id == 0 {
		return nil
	}
	return idx.registry[id]
}

func (idx *chunkindex[H]) release() {
	page.Unmap(idx.array, idx.nentries*8)
	idx.array, idx.registry = nil, nil
}
