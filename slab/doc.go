// Package slab supplies size-segregated memory management backed by
// chunk-aligned regions of virtual memory:
//
//   - Allocation requests are routed to a fixed family of size
//     classes, called buckets. Small and medium buckets share a
//     2 MiB chunk sliced into folios, large buckets get one slot
//     per class-sized region, and sizes above a quarter chunk are
//     mapped directly from the OS.
//   - Every chunk registers itself in a sparse chunk index, so any
//     interior pointer can be mapped back to its enclosing
//     allocation and its out-of-line header.
//   - Alloc and Free are safe for concurrent use. The bucket lists
//     are lock free, per-chunk state is guarded by a spinlock whose
//     critical sections touch only a few fields.
//   - Folios that become entirely free hint their pages back to the
//     OS without giving up the chunk's address space.
//
// The header type parameter lets a garbage collector attach
// per-allocation metadata; instantiating with struct{} costs no
// space and serves manual memory management.
package slab
