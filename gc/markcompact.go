package gc

import "unsafe"

import "github.com/bnclabs/goheap/fatptr"
import "github.com/bnclabs/goheap/roots"

// MarkCompact is a single-threaded stop-the-world compacting
// collector based on the LISP2 design: mark, compute displacements
// in address order, rewrite pointers, slide objects down. Objects
// only ever move to lower addresses, so iteration order is
// preserved and unreachable objects are simply overwritten as the
// live ones pack.
type MarkCompact struct {
	rt     *roots.Roots
	heap   MovingHeap[CompactHeader]
	marker *Marker[CompactHeader, *CompactHeader]

	// counters from the last collection
	nlive int64
	ndead int64
}

// NewMarkCompact construct a collector over the given roots and
// heap.
func NewMarkCompact(rt *roots.Roots, heap MovingHeap[CompactHeader]) *MarkCompact {
	return &MarkCompact{
		rt:     rt,
		heap:   heap,
		marker: NewMarker[CompactHeader, *CompactHeader](rt, heap, nil),
	}
}

// Visited number of objects reached by the last collection.
func (mc *MarkCompact) Visited() int64 {
	return mc.marker.Visited()
}

// Dead number of unreachable objects seen by the last collection.
func (mc *MarkCompact) Dead() int64 {
	return mc.ndead
}

// Collect run one full collection: stop the world, mark from roots,
// compute displacements, update pointers, move objects, restart the
// world.
func (mc *MarkCompact) Collect() {
	mc.rt.StopTheWorld()
	mc.marker.ResetVisited()
	mc.rt.ClearTemporaryRoots()
	mc.heap.StartGC()

	mc.marker.MarkRoots()
	mc.marker.Trace()
	mc.calculateDisplacements()
	mc.updatePointers()
	mc.moveObjects()

	mc.heap.EndGC()
	mc.rt.StartTheWorld()
	debugf("markcompact found %v live objects, %v dead ones\n", mc.nlive, mc.ndead)
}

// calculateDisplacements iterate allocations in address order and
// assign each visited object the non-positive distance to the
// highest byte written so far.
func (mc *MarkCompact) calculateDisplacements() {
	lastend, first := int64(0), true
	mc.heap.ForEach(func(hdr *CompactHeader, obj fatptr.Pointer) bool {
		if !mc.heap.Relocatable(obj.Base()) {
			hdr.Displacement = 0
			return true
		}
		base := int64(obj.Base())
		if first {
			lastend, first = base, false
		}
		if !hdr.IsVisited() {
			return true
		}
		hdr.Displacement = 0
		if base > lastend {
			hdr.Displacement = lastend - base
		}
		lastend = base + hdr.Displacement + obj.Length()
		return true
	})
}

// updatePointers rewrite every root slot and every interior pointer
// of a live object whose target is about to move.
func (mc *MarkCompact) updatePointers() {
	mc.rt.ForEach(func(root roots.Root) bool {
		_, hdr, ok := mc.heap.ObjectForAllocation(root.Value)
		if !ok {
			return true
		}
		if hdr.IsVisited() && hdr.Displacement != 0 {
			moved := mc.heap.MoveReference(root.Value, hdr.Displacement)
			*(*uintptr)(root.Slot) = moved
		}
		return true
	})

	live, dead := int64(0), int64(0)
	mc.heap.ForEach(func(hdr *CompactHeader, obj fatptr.Pointer) bool {
		if !hdr.IsVisited() {
			dead++
			return true
		}
		live++
		if !hdr.ContainsPointers() {
			return true
		}
		base, length := obj.Base(), obj.Length()
		for off := int64(0); off+wordsize <= length; off += wordsize {
			slot := (*uintptr)(unsafe.Pointer(base + uintptr(off)))
			word := *slot
			if word == 0 {
				continue
			}
			_, thdr, ok := mc.heap.ObjectForAllocation(word)
			if !ok || thdr.Displacement == 0 {
				continue
			}
			*slot = mc.heap.MoveReference(word, thdr.Displacement)
		}
		return true
	})
	mc.nlive, mc.ndead = live, dead
}

// moveObjects slide every displaced object down and truncate the
// heap after the last live relocatable object, reclaiming any dead
// tail. Colors reset to unmarked on the way.
func (mc *MarkCompact) moveObjects() {
	var last fatptr.Pointer
	mc.heap.ForEach(func(hdr *CompactHeader, obj fatptr.Pointer) bool {
		if !hdr.IsVisited() {
			return true
		}
		disp := hdr.Displacement
		hdr.Reset()
		if disp != 0 {
			obj = mc.heap.MoveObject(obj.Base(), disp)
		}
		if mc.heap.Relocatable(obj.Base()) {
			last = obj
		}
		return true
	})
	// an invalid last pointer truncates an all-dead heap to its
	// base.
	mc.heap.SetLastObject(last)
}

// Release drop collector state.
func (mc *MarkCompact) Release() {
	mc.marker.Release()
}
