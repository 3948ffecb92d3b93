// Package page supplies chunk-aligned anonymous mappings from the
// operating system, and page granularity release hints over them.
// All allocator memory, the chunk index and the collector's own
// scratch vectors come from this package, keeping them out of the
// golang heap.
package page

import "sync/atomic"

// Size is the smallest granularity at which mapping operations work.
const Size = int64(4096)

// Log2Size base-2 logarithm of Size.
const Log2Size = uint(12)

var nmaps, nunmaps, nhints int64

// Stats return the number of Map, Unmap and HintRelease calls made
// since process start.
func Stats() (maps, unmaps, hints int64) {
	return atomic.LoadInt64(&nmaps), atomic.LoadInt64(&nunmaps), atomic.LoadInt64(&nhints)
}
