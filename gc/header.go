package gc

// Collector colors. Every managed object is unmarked outside a
// collection; during marking an object is flipped to marked when
// first seen and to visited once its contents have been scanned.
const (
	// Unmarked object has not been seen by the collector yet.
	Unmarked = uint8(0)
	// Marked object is known live but not yet scanned.
	Marked = uint8(1)
	// Visited object has been scanned.
	Visited = uint8(2)
)

// Header is the contract between the mark core and a collector's
// per-object header.
type Header interface {
	// Reset the mark state to unmarked.
	Reset()

	// SetMarked flag the object live but unscanned.
	SetMarked()

	// SetVisited flag the object scanned.
	SetVisited()

	// SetContainsPointers record that the scan saw a valid
	// pointer inside the object.
	SetContainsPointers()

	// IsUnmarked, IsMarked, IsVisited query the color.
	IsUnmarked() bool
	IsMarked() bool
	IsVisited() bool

	// ContainsPointers query the pointer flag.
	ContainsPointers() bool
}

// CompactHeader is the per-object header of the mark/compact
// collector: a word-aligned displacement plus mark state.
type CompactHeader struct {
	// Displacement the object will move by, never positive. After
	// relocation the new copy sits -Displacement bytes before the
	// old one.
	Displacement int64

	color    uint8
	contains bool
}

// Reset implement Header{} interface.
func (h *CompactHeader) Reset() {
	h.Displacement, h.color, h.contains = 0, Unmarked, false
}

// SetMarked implement Header{} interface.
func (h *CompactHeader) SetMarked() { h.color = Marked }

// SetVisited implement Header{} interface.
func (h *CompactHeader) SetVisited() { h.color = Visited }

// SetContainsPointers implement Header{} interface.
func (h *CompactHeader) SetContainsPointers() { h.contains = true }

// IsUnmarked implement Header{} interface.
func (h *CompactHeader) IsUnmarked() bool { return h.color == Unmarked }

// IsMarked implement Header{} interface.
func (h *CompactHeader) IsMarked() bool { return h.color == Marked }

// IsVisited implement Header{} interface.
func (h *CompactHeader) IsVisited() bool { return h.color == Visited }

// ContainsPointers implement Header{} interface.
func (h *CompactHeader) ContainsPointers() bool { return h.contains }

// SweepHeader is the per-object header of the mark/sweep collector,
// packed into one byte: color in the low two bits, then the
// contains-pointers and is-free flags.
type SweepHeader struct {
	bits uint8
}

const (
	swcolor    = uint8(0x03)
	swcontains = uint8(1 << 2)
	swfree     = uint8(1 << 3)
)

// Reset implement Header{} interface. The is-free flag survives a
// reset; it is cleared only when the slot is actually reclaimed.
func (h *SweepHeader) Reset() {
	h.bits &= swfree
}

// SetMarked implement Header{} interface.
func (h *SweepHeader) SetMarked() { h.bits = h.bits&^swcolor | Marked }

// SetVisited implement Header{} interface.
func (h *SweepHeader) SetVisited() { h.bits = h.bits&^swcolor | Visited }

// SetContainsPointers implement Header{} interface.
func (h *SweepHeader) SetContainsPointers() { h.bits |= swcontains }

// IsUnmarked implement Header{} interface.
func (h *SweepHeader) IsUnmarked() bool { return h.bits&swcolor == Unmarked }

// IsMarked implement Header{} interface.
func (h *SweepHeader) IsMarked() bool { return h.bits&swcolor == Marked }

// IsVisited implement Header{} interface.
func (h *SweepHeader) IsVisited() bool { return h.bits&swcolor == Visited }

// ContainsPointers implement Header{} interface.
func (h *SweepHeader) ContainsPointers() bool { return h.bits&swcontains != 0 }

// SetFree flag the object explicitly freed by the mutator. The slot
// stays discoverable for bounds checking until a collection finds it
// unreachable and reclaims it.
func (h *SweepHeader) SetFree() { h.bits |= swfree }

// IsFree query the free flag.
func (h *SweepHeader) IsFree() bool { return h.bits&swfree != 0 }

func (h *SweepHeader) clearFree() { h.bits &^= swfree }
