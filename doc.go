// Package goheap supplies dynamic memory management outside the
// golang heap, with two tightly integrated cores:
//
//   - A size-segregated slab allocator that services arbitrary-sized
//     requests from a fixed family of size classes backed by
//     chunk-aligned mappings, refer to the slab package.
//   - A tracing garbage collector framework, with mark/compact and
//     mark/sweep specializations, that cooperates with the
//     allocators to reclaim unreachable objects, refer to the gc,
//     bump and roots packages.
//
// This package ties the cores into process-wide singletons:
//
//   - Manual mode: Malloc, Free, ObjectSize over a headerless slab.
//   - Collected mode: GCAlloc, GCFree, GCCollect over a heap whose
//     collector is chosen by settings, either a compacting bump
//     heap or a sweeping slab heap.
//
// Memory managed here is invisible to the golang runtime: do not
// store golang pointers in it.
package goheap
