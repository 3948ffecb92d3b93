// Package bump implements a monotonic bump-the-pointer heap with an
// object-start bitmap, built for cooperation with a relocating
// garbage collector: any interior pointer maps back to its object by
// scanning the start bits, and objects can be slid to lower
// addresses without disturbing concurrent allocation.
package bump

import "fmt"
import "runtime"
import "sync/atomic"
import "unsafe"

import "github.com/bnclabs/goheap/fatptr"
import "github.com/bnclabs/goheap/lib"
import "github.com/bnclabs/goheap/page"
import "github.com/bnclabs/golog"
import humanize "github.com/dustin/go-humanize"

// Granularity allocation grain of the heap: objects begin only at
// multiples of this, one start bit tracks each grain.
const Granularity = int64(16)

// gcretries bounds how often a failed allocation re-runs the
// collector before giving up.
const gcretries = 3

// Heap is a fixed-size bump allocator. Allocation is a single
// fetch-add in the common case; an odd version counter parks
// mutators while the collector runs. The header type parameter
// attaches out-of-line per-object metadata indexed by start grain.
type Heap[H any] struct {
	start   atomic.Int64
	version atomic.Int64

	base      uintptr
	length    int64
	startbits *lib.AtomicBitset
	headers   []H
	gcfn      func()
}

// NewHeap map a heap of `capacity` bytes, rounded up to the page
// size.
func NewHeap[H any](capacity int64) (*Heap[H], error) {
	capacity = lib.RoundUp(capacity, page.Size)
	base, err := page.Map(capacity, page.Log2Size)
	if err != nil {
		return nil, err
	}
	h := &Heap[H]{
		base:      uintptr(base),
		length:    capacity,
		startbits: lib.NewAtomicBitset(capacity / Granularity),
		headers:   make([]H, capacity/Granularity),
	}
	log.Infof("bump heap %v at %x\n", humanize.Bytes(uint64(capacity)), h.base)
	return h, nil
}

// SetGC install the callback run when allocation outgrows the heap.
func (h *Heap[H]) SetGC(fn func()) {
	h.gcfn = fn
}

// StartGC note that the collector is running. Allocating mutators
// spin until EndGC.
func (h *Heap[H]) StartGC() {
	if v := h.version.Add(1); v&1 != 1 {
		panic(fmt.Errorf("bump.StartGC: collector already running"))
	}
}

// EndGC note that the collector has finished.
func (h *Heap[H]) EndGC() {
	if v := h.version.Add(1); v&1 != 0 {
		panic(fmt.Errorf("bump.EndGC: collector still running"))
	}
}

// Collect run the installed collector callback.
func (h *Heap[H]) Collect() {
	h.gcfn()
}

// Alloc return a pointer bounded to exactly `size` bytes. Wait free
// in the common case: one fetch-add plus one start bit. When the
// heap is exhausted the collector callback runs and the allocation
// retries.
func (h *Heap[H]) Alloc(size int64) fatptr.Pointer {
	if size <= 0 {
		panic(fmt.Errorf("bump.Alloc(%v): invalid size", size))
	}
	rsize := lib.RoundUp(size, Granularity)
	collected := 0
	for {
		for h.version.Load()&1 == 1 {
			runtime.Gosched()
		}
		v := h.version.Load()
		offset := h.start.Add(rsize) - rsize
		if offset+rsize > h.length {
			if h.gcfn == nil || collected >= gcretries {
				return fatptr.Pointer{}
			}
			collected++
			h.gcfn()
			continue
		}
		h.startbits.Set(offset / Granularity)
		if h.version.Load() != v {
			// the collector ran mid-transaction; give the
			// slot up and retry against the moved heap.
			h.startbits.Clear(offset / Granularity)
			continue
		}
		return fatptr.New(h.base+uintptr(offset), size)
	}
}

// ObjectForAllocation map any interior address to the enclosing
// object by scanning back to the nearest start bit, and forward to
// the next one for the object end.
func (h *Heap[H]) ObjectForAllocation(addr uintptr) (fatptr.Pointer, *H, bool) {
	offset := int64(addr) - int64(h.base)
	limit := h.start.Load()
	if limit > h.length {
		limit = h.length
	}
	if offset < 0 || offset >= limit {
		return fatptr.Pointer{}, nil, false
	}
	g := offset / Granularity
	for g > 0 && !h.startbits.Get(g) {
		g--
	}
	if !h.startbits.Get(g) {
		return fatptr.Pointer{}, nil, false
	}
	startbyte := g * Granularity
	endbyte := h.startbits.OneAfter(g) * Granularity
	if endbyte > limit {
		endbyte = limit
	}
	obj := fatptr.New(h.base+uintptr(startbyte), endbyte-startbyte)
	return obj, &h.headers[g], true
}

// Relocatable report whether addr lies in the bump region, and so
// may be slid down by a compacting collector.
func (h *Heap[H]) Relocatable(addr uintptr) bool {
	offset := int64(addr) - int64(h.base)
	return offset >= 0 && offset < h.length
}

// MoveReference rebase a pointer into this heap by disp bytes.
func (h *Heap[H]) MoveReference(addr uintptr, disp int64) uintptr {
	return uintptr(int64(addr) + disp)
}

// MoveObject slide the object starting at objbase down by -disp
// bytes, together with its header and start bit. Stale start bits of
// dead objects inside the destination span are swept away so
// interior lookups stay exact.
func (h *Heap[H]) MoveObject(objbase uintptr, disp int64) fatptr.Pointer {
	if disp > 0 {
		panic(fmt.Errorf("bump.MoveObject: positive displacement %v", disp))
	}
	obj, _, ok := h.ObjectForAllocation(objbase)
	if !ok {
		panic(fmt.Errorf("bump.MoveObject(%x): no such object", objbase))
	}
	if disp == 0 {
		return obj
	}
	oldg := (int64(objbase) - int64(h.base)) / Granularity
	newg := oldg + disp/Granularity
	h.headers[newg] = h.headers[oldg]
	h.startbits.Clear(oldg)
	h.startbits.Set(newg)
	endg := newg + lib.Ceil(obj.Length(), Granularity)
	for b := h.startbits.OneAfter(newg); b < endg; b = h.startbits.OneAfter(b) {
		h.startbits.Clear(b)
	}
	dst := unsafe.Pointer(uintptr(int64(objbase) + disp))
	lib.Memcpy(dst, unsafe.Pointer(objbase), int(obj.Length()))
	return obj.Move(disp)
}

// SetLastObject truncate the bump pointer to the end of obj,
// reclaiming the tail left behind by compaction. Start bits beyond
// the new frontier are cleared. An invalid pointer truncates to the
// heap base, for the case where no live object remains.
func (h *Heap[H]) SetLastObject(obj fatptr.Pointer) {
	newstart := int64(0)
	if obj.IsValid() {
		newstart = int64(obj.Base()+uintptr(obj.Length())) - int64(h.base)
		newstart = lib.RoundUp(newstart, Granularity)
	}
	oldstart := h.start.Load()
	if oldstart > h.length {
		oldstart = h.length
	}
	for b := h.startbits.OneAfter(newstart/Granularity - 1); b*Granularity < oldstart; b = h.startbits.OneAfter(b) {
		h.startbits.Clear(b)
	}
	h.start.Store(newstart)
}

// ForEach yield every object in address order. fn returning false
// stops the iteration. The callback may move the object it is
// handed, nothing before it.
func (h *Heap[H]) ForEach(fn func(hdr *H, obj fatptr.Pointer) bool) {
	limit := h.start.Load()
	if limit > h.length {
		limit = h.length
	}
	g := h.startbits.OneAfter(-1)
	for g*Granularity < limit {
		next := h.startbits.OneAfter(g)
		endbyte := next * Granularity
		if endbyte > limit {
			endbyte = limit
		}
		obj := fatptr.New(h.base+uintptr(g*Granularity), endbyte-g*Granularity)
		if !fn(&h.headers[g], obj) {
			return
		}
		g = next
	}
}

// Info return memory accounting for the heap.
func (h *Heap[H]) Info() (capacity, heap, alloc, overhead int64) {
	alloc = h.start.Load()
	if alloc > h.length {
		alloc = h.length
	}
	overhead = h.startbits.Size()/8 + int64(len(h.headers))*int64(unsafe.Sizeof(*new(H)))
	return h.length, h.length, alloc, overhead
}

// Allocated number of live start bits, one per allocation.
func (h *Heap[H]) Allocated() int64 {
	limit := h.start.Load()
	if limit > h.length {
		limit = h.length
	}
	n := int64(0)
	for g := h.startbits.OneAfter(-1); g*Granularity < limit; g = h.startbits.OneAfter(g) {
		n++
	}
	return n
}

// Release unmap the heap.
func (h *Heap[H]) Release() {
	page.Unmap(unsafe.Pointer(h.base), h.length)
	h.base, h.length, h.startbits, h.headers = 0, 0, nil, nil
}
