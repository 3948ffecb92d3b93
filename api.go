package goheap

import "runtime"
import "sync/atomic"

import s "github.com/bnclabs/gosettings"

import "github.com/bnclabs/goheap/api"
import "github.com/bnclabs/goheap/bump"
import "github.com/bnclabs/goheap/fatptr"
import "github.com/bnclabs/goheap/gc"
import "github.com/bnclabs/goheap/roots"
import "github.com/bnclabs/goheap/slab"

// manual-mode singleton, initialized on first use.
var manualheap *slab.Slab[struct{}]
var manualflag int32

// Manual return the process-wide manual-memory allocator, creating
// it on first use. The initializer flag moves 0 -> 1 -> 2; losers
// of the opening race spin until the winner finishes.
func Manual() api.Mallocer {
	if hp := manualheap; hp != nil && atomic.LoadInt32(&manualflag) == 2 {
		return hp
	}
	if atomic.CompareAndSwapInt32(&manualflag, 0, 1) {
		manualheap = slab.NewSlab[struct{}](Defaultsettings().Section("slab.").Trim("slab."))
		if !atomic.CompareAndSwapInt32(&manualflag, 1, 2) {
			panic("goheap: manual heap initialization raced")
		}
		return manualheap
	}
	for atomic.LoadInt32(&manualflag) != 2 {
		runtime.Gosched()
	}
	return manualheap
}

// Malloc allocate `n` bytes from the manual heap.
func Malloc(n int64) fatptr.Pointer {
	return Manual().Alloc(n)
}

// Free a pointer previously returned by Malloc.
func Free(ptr uintptr) {
	Manual().Free(ptr)
}

// ObjectSize observable length of a manual allocation.
func ObjectSize(ptr uintptr) int64 {
	return Manual().ObjectSize(ptr)
}

// ObjectForAllocation map any interior pointer into the manual heap
// to its enclosing allocation.
func ObjectForAllocation(ptr uintptr) (fatptr.Pointer, bool) {
	Manual()
	obj, _, ok := manualheap.ObjectForAllocation(ptr)
	return obj, ok
}

// gcworld ties a collector, its heap and the root set together.
type gcworld struct {
	rt        *roots.Roots
	collector string

	compactheap *bump.OrLargeHeap[gc.CompactHeader]
	compact     *gc.MarkCompact

	sweepheap *slab.Slab[gc.SweepHeader]
	sweep     *gc.MarkSweep
}

var world *gcworld
var worldflag int32

// GCInitialize create the process-wide collected heap from setts,
// refer to Defaultsettings. Calling it after the heap exists
// panics; the zero-configuration path is to just call GCAlloc.
func GCInitialize(setts s.Settings) {
	if !atomic.CompareAndSwapInt32(&worldflag, 0, 1) {
		panic("goheap: collected heap already initialized")
	}
	setts = Defaultsettings().Mixin(setts)
	w := &gcworld{rt: roots.NewRoots(), collector: setts.String("collector")}
	if setts.Bool("registerglobals") {
		if err := w.rt.RegisterGlobalRoots(); err != nil {
			panic(err)
		}
	}
	switch w.collector {
	case "markcompact":
		heap, err := bump.NewOrLargeHeap[gc.CompactHeader](
			setts.Int64("gcheap.capacity"), setts.Section("bump.").Trim("bump."))
		if err != nil {
			panic(err)
		}
		w.compactheap = heap
		w.compact = gc.NewMarkCompact(w.rt, heap)
		heap.SetGC(w.compact.Collect)
	case "marksweep":
		w.sweepheap = slab.NewSlab[gc.SweepHeader](setts.Section("slab.").Trim("slab."))
		w.sweepheap.SetSafepoint(w.rt.Safepoint)
		w.sweep = gc.NewMarkSweep(w.rt, w.sweepheap)
	default:
		panic("goheap: unknown collector " + w.collector)
	}
	world = w
	if !atomic.CompareAndSwapInt32(&worldflag, 1, 2) {
		panic("goheap: collected heap initialization raced")
	}
}

func getworld() *gcworld {
	if w := world; w != nil && atomic.LoadInt32(&worldflag) == 2 {
		return w
	}
	if atomic.LoadInt32(&worldflag) == 0 {
		func() {
			defer func() { recover() }() // lost the opening race
			GCInitialize(nil)
		}()
	}
	for atomic.LoadInt32(&worldflag) != 2 {
		runtime.Gosched()
	}
	return world
}

// GCAlloc allocate `n` bytes of collected memory.
func GCAlloc(n int64) fatptr.Pointer {
	w := getworld()
	if w.compactheap != nil {
		return w.compactheap.Alloc(n)
	}
	return w.sweepheap.Alloc(n)
}

// GCFree flag a collected object as dead. Meaningful under the
// marksweep collector, where reclamation is deferred to the next
// collection; the compacting collector reclaims by reachability
// alone and ignores the call.
func GCFree(ptr uintptr) {
	w := getworld()
	if w.sweep != nil {
		w.sweep.Free(ptr)
	}
}

// GCCollect force a full collection.
func GCCollect() {
	w := getworld()
	if w.compact != nil {
		w.compact.Collect()
		return
	}
	w.sweep.Collect()
}

// GCRoots return the root set of the collected heap, so
// applications can register the ranges holding their references.
func GCRoots() *roots.Roots {
	return getworld().rt
}

// GCObjectForAllocation map any interior pointer into the collected
// heap to its enclosing object.
func GCObjectForAllocation(ptr uintptr) (fatptr.Pointer, bool) {
	w := getworld()
	if w.compactheap != nil {
		obj, _, ok := w.compactheap.ObjectForAllocation(ptr)
		return obj, ok
	}
	obj, _, ok := w.sweepheap.ObjectForAllocation(ptr)
	return obj, ok
}

// Collector return the active collector.
func Collector() api.Collector {
	w := getworld()
	if w.compact != nil {
		return w.compact
	}
	return w.sweep
}
