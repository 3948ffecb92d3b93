package bump

import "unsafe"

import "github.com/bnclabs/goheap/fatptr"
import "github.com/bnclabs/goheap/lib"
import "github.com/bnclabs/goheap/page"
import s "github.com/bnclabs/gosettings"

// Defaultsettings for an OrLargeHeap.
//
// "largesize" (int64, default: page size)
//
//	Allocations at or above this size are mapped directly from
//	the OS instead of bumping the small heap.
func Defaultsettings() s.Settings {
	return s.Settings{
		"largesize": int64(page.Size),
	}
}

type largealloc[H any] struct {
	hdr H
	ptr fatptr.Pointer
}

// OrLargeHeap routes small allocations to a bump Heap and larger
// ones straight to page mappings tracked in a spinlock-guarded
// list. Iteration yields the bump heap in address order followed by
// the large allocations. Only the bump-heap side is relocatable.
type OrLargeHeap[H any] struct {
	small     *Heap[H]
	larges    []*largealloc[H]
	lock      lib.Spinlock
	largesize int64
}

// NewOrLargeHeap create a heap of `capacity` bytes for small
// objects, configured by setts, refer to Defaultsettings().
func NewOrLargeHeap[H any](capacity int64, setts s.Settings) (*OrLargeHeap[H], error) {
	setts = Defaultsettings().Mixin(setts)
	small, err := NewHeap[H](capacity)
	if err != nil {
		return nil, err
	}
	return &OrLargeHeap[H]{small: small, largesize: setts.Int64("largesize")}, nil
}

// SetGC install the collector callback on the small heap.
func (h *OrLargeHeap[H]) SetGC(fn func()) {
	h.small.SetGC(fn)
}

// StartGC park allocating mutators and freeze the large list.
func (h *OrLargeHeap[H]) StartGC() {
	h.small.StartGC()
	h.lock.Lock()
}

// EndGC release the large list and resume mutators.
func (h *OrLargeHeap[H]) EndGC() {
	h.lock.Unlock()
	h.small.EndGC()
}

// Collect run the installed collector callback.
func (h *OrLargeHeap[H]) Collect() {
	h.small.Collect()
}

// Alloc return a pointer bounded to `size` bytes.
func (h *OrLargeHeap[H]) Alloc(size int64) fatptr.Pointer {
	if size < h.largesize {
		return h.small.Alloc(size)
	}
	mapped := lib.RoundUp(size, page.Size)
	base, err := page.Map(mapped, page.Log2Size)
	if err != nil {
		return fatptr.Pointer{}
	}
	la := &largealloc[H]{ptr: fatptr.New(uintptr(base), mapped)}
	h.lock.Lock()
	h.larges = append(h.larges, la)
	h.lock.Unlock()
	return fatptr.New(uintptr(base), size)
}

// ObjectForAllocation map any interior address to the enclosing
// object, in the bump heap or the large list. The large list is
// walked without the lock: records are append-only and the list is
// frozen while a collector holds it, so the collector can resolve
// pointers mid-collection.
func (h *OrLargeHeap[H]) ObjectForAllocation(addr uintptr) (fatptr.Pointer, *H, bool) {
	if obj, hdr, ok := h.small.ObjectForAllocation(addr); ok {
		return obj, hdr, true
	}
	larges := h.larges
	for _, la := range larges {
		if la.ptr.Contains(addr) {
			return la.ptr, &la.hdr, true
		}
	}
	return fatptr.Pointer{}, nil, false
}

// Relocatable report whether addr lies in the bump region. Large
// allocations stay where they are mapped.
func (h *OrLargeHeap[H]) Relocatable(addr uintptr) bool {
	return h.small.Relocatable(addr)
}

// MoveReference rebase a pointer into the small heap.
func (h *OrLargeHeap[H]) MoveReference(addr uintptr, disp int64) uintptr {
	return h.small.MoveReference(addr, disp)
}

// MoveObject slide a small-heap object down by -disp bytes. Large
// allocations never move.
func (h *OrLargeHeap[H]) MoveObject(objbase uintptr, disp int64) fatptr.Pointer {
	return h.small.MoveObject(objbase, disp)
}

// SetLastObject truncate the small heap after compaction.
func (h *OrLargeHeap[H]) SetLastObject(obj fatptr.Pointer) {
	h.small.SetLastObject(obj)
}

// ForEach yield every object: the bump heap in address order, then
// the large allocations. Callers iterate either between StartGC and
// EndGC or while no other goroutine allocates.
func (h *OrLargeHeap[H]) ForEach(fn func(hdr *H, obj fatptr.Pointer) bool) {
	stop := false
	h.small.ForEach(func(hdr *H, obj fatptr.Pointer) bool {
		if !fn(hdr, obj) {
			stop = true
		}
		return !stop
	})
	if stop {
		return
	}
	for _, la := range h.larges {
		if !fn(&la.hdr, la.ptr) {
			return
		}
	}
}

// Info return memory accounting across both sides.
func (h *OrLargeHeap[H]) Info() (capacity, heap, alloc, overhead int64) {
	capacity, heap, alloc, overhead = h.small.Info()
	h.lock.Lock()
	for _, la := range h.larges {
		capacity += la.ptr.Length()
		heap += la.ptr.Length()
		alloc += la.ptr.Length()
		overhead += int64(unsafe.Sizeof(*la))
	}
	h.lock.Unlock()
	return
}

// Release unmap both sides.
func (h *OrLargeHeap[H]) Release() {
	h.small.Release()
	for _, la := range h.larges {
		page.Unmap(unsafe.Pointer(la.ptr.Base()), la.ptr.Length())
	}
	h.larges = nil
}
