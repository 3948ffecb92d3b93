// Package gc implements a tracing garbage collector framework over
// any heap that can enumerate its allocations and map interior
// pointers back to objects. A generic mark core computes
// reachability; the mark/compact specialization relocates survivors
// to lower addresses, the mark/sweep specialization frees the dead
// in place with deferred destruction.
//
// Scanning is conservative: every pointer-sized word of a live
// object that resolves to a managed allocation is treated as a
// reference.
package gc

import "unsafe"

import "github.com/bnclabs/goheap/fatptr"
import "github.com/bnclabs/goheap/page"
import "github.com/bnclabs/goheap/roots"

const wordsize = int64(unsafe.Sizeof(uintptr(0)))

// Heap is the view of an allocator the mark core needs.
type Heap[H any] interface {
	// ObjectForAllocation map any interior address to the
	// enclosing allocation and its header.
	ObjectForAllocation(addr uintptr) (fatptr.Pointer, *H, bool)

	// ForEach yield every live allocation exactly once.
	ForEach(fn func(hdr *H, obj fatptr.Pointer) bool)
}

// MovingHeap extends Heap with relocation, for compacting
// collectors.
type MovingHeap[H any] interface {
	Heap[H]

	// MoveReference rebase a pointer by disp bytes.
	MoveReference(addr uintptr, disp int64) uintptr

	// MoveObject slide an object down by -disp bytes and return
	// the pointer to the new location.
	MoveObject(objbase uintptr, disp int64) fatptr.Pointer

	// SetLastObject truncate allocation after the given object.
	SetLastObject(obj fatptr.Pointer)

	// Relocatable report whether the object at addr may move.
	Relocatable(addr uintptr) bool

	// StartGC and EndGC bracket the stop-the-world phase for
	// allocating mutators.
	StartGC()
	EndGC()
}

// SweepingHeap extends Heap with per-object reclamation, for
// sweeping collectors.
type SweepingHeap[H any] interface {
	Heap[H]

	// Reclaim return the allocation holding addr to its
	// allocator. Called with the world stopped, so it must not
	// pass back through the mutator checkpoint.
	Reclaim(addr uintptr)
}

// Filter lets a collector skip objects during marking, for example
// objects the mutator has already freed. A skipped object that is
// reached is marked live, but its contents are not scanned.
type Filter[H any] func(hdr *H, obj fatptr.Pointer) bool

// Marker is the generic reachability core, parameterized by the
// header type. The mark stack lives in page-backed memory so the
// collector's own state is never scanned.
type Marker[H any, PH interface {
	*H
	Header
}] struct {
	rt      *roots.Roots
	heap    Heap[H]
	filter  Filter[H]
	stack   *page.Vec
	visited int64
}

// NewMarker construct a mark core over the given roots and heap. A
// nil filter marks every object.
func NewMarker[H any, PH interface {
	*H
	Header
}](rt *roots.Roots, heap Heap[H], filter Filter[H]) *Marker[H, PH] {
	return &Marker[H, PH]{
		rt:     rt,
		heap:   heap,
		filter: filter,
		stack:  page.NewVec(0),
	}
}

// Visited number of objects visited by the last collection.
func (m *Marker[H, PH]) Visited() int64 {
	return m.visited
}

// ResetVisited zero the visited counter at the start of a
// collection.
func (m *Marker[H, PH]) ResetVisited() {
	m.visited = 0
}

// MarkPointer visit the object containing p: scan its words for
// pointers into the heap, push unseen targets on the mark stack.
func (m *Marker[H, PH]) MarkPointer(p uintptr) {
	obj, hdr, ok := m.heap.ObjectForAllocation(p)
	// Memory the collector did not allocate is either a root,
	// already seen, or assumed not to reference collected objects.
	if !ok {
		return
	}
	if m.filter != nil && !m.filter(hdr, obj) {
		// a filtered object that is reached stays marked, so it
		// survives the collection, but its contents are not scanned.
		if PH(hdr).IsUnmarked() {
			PH(hdr).SetMarked()
		}
		return
	}
	ph := PH(hdr)
	if ph.IsVisited() {
		return
	}
	m.visited++
	ph.Reset()
	ph.SetVisited()

	base, length := obj.Base(), obj.Length()
	for off := int64(0); off+wordsize <= length; off += wordsize {
		word := *(*uintptr)(unsafe.Pointer(base + uintptr(off)))
		if word == 0 {
			continue
		}
		tobj, thdr, ok := m.heap.ObjectForAllocation(word)
		if !ok {
			continue
		}
		ph.SetContainsPointers()
		tph := PH(thdr)
		if tph.IsUnmarked() {
			tph.SetMarked()
			m.stack.Push(tobj.Base())
		}
	}
}

// Trace drain the mark stack.
func (m *Marker[H, PH]) Trace() {
	for m.stack.Len() > 0 {
		m.MarkPointer(m.stack.Pop())
	}
}

// MarkRoots materialize roots from the registered ranges and mark
// every object they reach.
func (m *Marker[H, PH]) MarkRoots() {
	m.rt.CollectRootsFromRanges()
	m.rt.ForEach(func(root roots.Root) bool {
		_, hdr, ok := m.heap.ObjectForAllocation(root.Value)
		if !ok {
			return true
		}
		if PH(hdr).IsUnmarked() {
			m.MarkPointer(root.Value)
		}
		return true
	})
}

// Release drop the mark stack.
func (m *Marker[H, PH]) Release() {
	m.stack.Release()
}
