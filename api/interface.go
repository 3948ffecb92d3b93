// Package api holds the interfaces shared across goheap packages
// and by applications embedding the allocators.
package api

import "github.com/bnclabs/goheap/fatptr"

// Mallocer interface for custom memory management.
type Mallocer interface {
	// Alloc a region of at least `n` bytes. The observable
	// length of the region is the size class it was served from.
	Alloc(n int64) fatptr.Pointer

	// Free a region previously returned by Alloc. Double free is
	// undefined.
	Free(ptr uintptr)

	// ObjectSize observable length of the allocation holding
	// ptr, zero if unmanaged.
	ObjectSize(ptr uintptr) int64

	// Info of memory accounting for this allocator.
	Info() (capacity, heap, alloc, overhead int64)

	// Utilization map of slab-size and its utilization.
	Utilization() ([]int, []float64)

	// Release the allocator and all its resources.
	Release()
}

// Collector interface for garbage collectors.
type Collector interface {
	// Collect run one full stop-the-world collection.
	Collect()

	// Visited number of objects reached by the last collection.
	Visited() int64
}
