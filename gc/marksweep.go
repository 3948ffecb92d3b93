package gc

import "unsafe"

import "github.com/bnclabs/goheap/fatptr"
import "github.com/bnclabs/goheap/lib"
import "github.com/bnclabs/goheap/roots"

// skipFree is the marking filter of the sweep collector: objects
// the mutator has already freed stay discoverable for bounds
// checking but are never traced.
func skipFree(hdr *SweepHeader, obj fatptr.Pointer) bool {
	return !hdr.IsFree()
}

// MarkSweep is a single-threaded stop-the-world non-moving
// collector. An explicit Free only flags the object; reclamation is
// deferred to the first collection that finds it unreachable, so
// conservative scans never see a dangling slot.
type MarkSweep struct {
	rt     *roots.Roots
	heap   SweepingHeap[SweepHeader]
	marker *Marker[SweepHeader, *SweepHeader]

	freereachable int64
	nfreed        int64
}

// NewMarkSweep construct a collector over the given roots and heap.
func NewMarkSweep(rt *roots.Roots, heap SweepingHeap[SweepHeader]) *MarkSweep {
	return &MarkSweep{
		rt:     rt,
		heap:   heap,
		marker: NewMarker[SweepHeader, *SweepHeader](rt, heap, skipFree),
	}
}

// Visited number of objects reached by the last collection.
func (ms *MarkSweep) Visited() int64 {
	return ms.marker.Visited()
}

// FreeReachable number of explicitly freed objects the last
// collection zeroed, counting both those still reachable and those
// it reclaimed. Diagnostic.
func (ms *MarkSweep) FreeReachable() int64 {
	return ms.freereachable
}

// Freed number of objects reclaimed by the last collection.
func (ms *MarkSweep) Freed() int64 {
	return ms.nfreed
}

// Collect run one full collection: stop the world, mark from roots,
// free the unmarked, restart the world.
func (ms *MarkSweep) Collect() {
	ms.rt.StopTheWorld()
	ms.marker.ResetVisited()
	ms.freereachable, ms.nfreed = 0, 0
	ms.rt.ClearTemporaryRoots()

	ms.marker.MarkRoots()
	ms.marker.Trace()
	ms.freeUnmarked()

	ms.rt.StartTheWorld()
	debugf("marksweep found %v live objects, freed %v\n",
		ms.marker.Visited(), ms.nfreed)
}

// Free flag the object holding addr as dead. The next collection
// zeroes its storage; the slot is reclaimed by the first collection
// that finds it unreachable.
func (ms *MarkSweep) Free(addr uintptr) {
	ms.rt.Safepoint()
	_, hdr, ok := ms.heap.ObjectForAllocation(addr)
	if ok {
		hdr.SetFree()
	}
}

// freeUnmarked reclaim every object that is unreachable, zero the
// storage of objects freed by the mutator, and reset the color of
// survivors.
func (ms *MarkSweep) freeUnmarked() {
	type dead struct {
		addr uintptr
		hdr  *SweepHeader
	}
	pending := make([]dead, 0, 64)
	ms.heap.ForEach(func(hdr *SweepHeader, obj fatptr.Pointer) bool {
		if hdr.IsFree() {
			lib.Memzero(unsafe.Pointer(obj.Base()), int(obj.Length()))
			ms.freereachable++
		}
		if hdr.IsUnmarked() {
			pending = append(pending, dead{addr: obj.Base(), hdr: hdr})
		} else {
			hdr.Reset()
		}
		return true
	})
	for _, d := range pending {
		// the slot is recycled, its header starts over clean.
		d.hdr.Reset()
		d.hdr.clearFree()
		ms.heap.Reclaim(d.addr)
	}
	ms.nfreed = int64(len(pending))
}

// Release drop collector state.
func (ms *MarkSweep) Release() {
	ms.marker.Release()
}
