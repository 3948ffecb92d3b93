package slab

import s "github.com/bnclabs/gosettings"

// Addressbits effective width of a virtual address on the host.
const Addressbits = 48

// Cacheline size in bytes, defines the medium bucket granularity.
const Cacheline = int64(64)

// Chunkbits base-2 logarithm of Chunksize.
const Chunkbits = uint(21)

// Chunksize virtual memory footprint of a single slab chunk. Must be
// a power of two.
const Chunksize = int64(1) << Chunkbits

// Maxcores maximum number of cores supported by per-core structures.
const Maxcores = 128

// Hugesize allocations beyond this size bypass the fixed buckets and
// map pages directly from the OS.
const Hugesize = Chunksize / 4

// Defaultsettings for a slab allocator instance.
//
// "reuse" (string, default: "warm")
//
//	Reinsertion policy for freed folios. "warm" places a freed
//	folio at the head of its free list so its slots are reused
//	quickly, "hardened" places it at the tail to delay reuse of
//	recently freed memory.
func Defaultsettings() s.Settings {
	return s.Settings{
		"reuse": "warm",
	}
}
