// Package roots tracks where non-collected memory references
// collected objects: registered pointer-aligned ranges (stacks,
// writable image segments, application-managed regions) are scanned
// into concrete (slot, value) pairs at the start of each collection.
// The package also owns the world gate that parks mutators for
// stop-the-world phases.
package roots

import "unsafe"

import "github.com/bnclabs/goheap/fatptr"
import "github.com/bnclabs/goheap/page"

// Root is a memory location holding a managed pointer, together
// with the value it held when the range scan saw it.
type Root struct {
	Slot  unsafe.Pointer
	Value uintptr
}

// Roots manages permanent and temporary root ranges and the root
// vectors materialized from them. The vectors live in page-backed
// storage so the collector's own state is never scanned. Only the
// collector thread mutates a Roots while the world is stopped.
type Roots struct {
	permranges *rangevec
	tempranges *rangevec
	permroots  *page.Vec // interleaved slot, value pairs
	temproots  *page.Vec
	pinroots   *page.Vec // scanned once at registration, never cleared
	world      world
}

// reservation initial room in each vector.
const reservation = int64(64 * 1024 / 8)

// NewRoots construct an empty root set.
func NewRoots() *Roots {
	return &Roots{
		permranges: newRangevec(),
		tempranges: newRangevec(),
		permroots:  page.NewVec(reservation),
		temproots:  page.NewVec(reservation),
		pinroots:   page.NewVec(reservation),
	}
}

// AddPinnedRange scan a read-only range once and keep its hits as
// permanent roots. The range itself is not rescanned by later
// collections.
func (r *Roots) AddPinnedRange(rng fatptr.Pointer) {
	addRangeToRoots(r.pinroots, rng)
}

// AddRange register a permanent range that may hold managed
// pointers for the lifetime of the process.
func (r *Roots) AddRange(rng fatptr.Pointer) {
	r.permranges.push(rng)
}

// AddThread register a thread's stack region as a temporary range,
// scanned on the next collection and dropped afterwards.
func (r *Roots) AddThread(rng fatptr.Pointer) {
	r.tempranges.push(rng)
}

// CollectRootsFromRanges iterate every pointer-sized slot in each
// registered range and record the non-null values as roots.
// Temporary ranges are dropped once scanned.
func (r *Roots) CollectRootsFromRanges() {
	r.tempranges.foreach(func(rng fatptr.Pointer) {
		addRangeToRoots(r.temproots, rng)
	})
	r.tempranges.clear()
	r.permranges.foreach(func(rng fatptr.Pointer) {
		addRangeToRoots(r.permroots, rng)
	})
}

// ClearTemporaryRoots drop the roots collected from ranges and hint
// their pages back to the OS. Registered ranges and pinned roots
// stay. Run at the start of every collection.
func (r *Roots) ClearTemporaryRoots() {
	r.temproots.Clear()
	// permanent roots are re-collected each cycle as well, else
	// the same snapshot would accumulate.
	r.permroots.Clear()
}

// Len number of roots collected.
func (r *Roots) Len() int64 {
	return (r.temproots.Len() + r.permroots.Len() + r.pinroots.Len()) / 2
}

// ForEach yield temporary roots, then permanent roots, then the
// pinned roots scanned at registration time.
func (r *Roots) ForEach(fn func(root Root) bool) {
	for _, vec := range []*page.Vec{r.temproots, r.permroots, r.pinroots} {
		for i := int64(0); i+1 < vec.Len(); i += 2 {
			root := Root{
				Slot:  unsafe.Pointer(vec.At(i)),
				Value: vec.At(i + 1),
			}
			if !fn(root) {
				return
			}
		}
	}
}

// StopTheWorld park every registered mutator at its next safepoint
// and return once all are parked.
func (r *Roots) StopTheWorld() {
	r.world.stop()
}

// StartTheWorld resume parked mutators.
func (r *Roots) StartTheWorld() {
	r.world.start()
}

// Safepoint mark a mutator checkpoint: blocks while the world is
// stopped. Allocation paths call this.
func (r *Roots) Safepoint() {
	r.world.checkpoint()
}

// Release drop every vector.
func (r *Roots) Release() {
	r.permranges.release()
	r.tempranges.release()
	r.permroots.Release()
	r.temproots.Release()
	r.pinroots.Release()
}

func addRangeToRoots(roots *page.Vec, rng fatptr.Pointer) {
	base := rng.Base()
	nwords := rng.Length() / int64(unsafe.Sizeof(uintptr(0)))
	for i := int64(0); i < nwords; i++ {
		slot := base + uintptr(i)*unsafe.Sizeof(uintptr(0))
		value := *(*uintptr)(unsafe.Pointer(slot))
		if value == 0 {
			continue
		}
		roots.Push(slot)
		roots.Push(value)
	}
}

// rangevec is a vector of fat-pointer ranges in page-backed
// storage, two words per range: base and length.
type rangevec struct {
	vec *page.Vec
}

func newRangevec() *rangevec {
	return &rangevec{vec: page.NewVec(reservation)}
}

func (rv *rangevec) push(rng fatptr.Pointer) {
	rv.vec.Push(rng.Base())
	rv.vec.Push(uintptr(rng.Length()))
}

func (rv *rangevec) foreach(fn func(rng fatptr.Pointer)) {
	for i := int64(0); i+1 < rv.vec.Len(); i += 2 {
		fn(fatptr.New(rv.vec.At(i), int64(rv.vec.At(i+1))))
	}
}

func (rv *rangevec) clear() {
	rv.vec.Clear()
}

func (rv *rangevec) release() {
	rv.vec.Release()
}
