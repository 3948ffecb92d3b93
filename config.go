package goheap

import s "github.com/bnclabs/gosettings"

import "github.com/bnclabs/goheap/bump"
import "github.com/bnclabs/goheap/slab"

// Defaultsettings for the process-wide heaps, along with slab and
// bump sub-components.
//
// "collector" (string, default: "markcompact")
//
//	Collector backing the GC-mode API. "markcompact" pairs a
//	compacting collector with a bump heap, "marksweep" pairs a
//	sweeping collector with a slab heap.
//
// "gcheap.capacity" (int64, default: 8MiB)
//
//	Size of the bump heap used by the markcompact collector.
//
// "registerglobals" (bool, default: false)
//
//	Scan the process image's segments into the root set during
//	initialization.
//
// Settings for sub-components are prefixed "slab." and "bump.",
// refer to slab.Defaultsettings and bump.Defaultsettings.
func Defaultsettings() s.Settings {
	setts := s.Settings{
		"collector":       "markcompact",
		"gcheap.capacity": int64(8 * 1024 * 1024),
		"registerglobals": false,
	}
	setts = setts.Mixin(slab.Defaultsettings().AddPrefix("slab."))
	setts = setts.Mixin(bump.Defaultsettings().AddPrefix("bump."))
	return setts
}
