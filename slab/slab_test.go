package slab

import "testing"
import "github.com/bnclabs/goheap/fatptr"

import "github.com/bnclabs/goheap/page"
import s "github.com/bnclabs/gosettings"

func TestNewSlab(t *testing.T) {
	sl := NewSlab[struct{}](nil)
	if sl.hardened {
		t.Errorf("expected warm reuse policy by default")
	}
	sl.Release()

	sl = NewSlab[struct{}](s.Settings{"reuse": "hardened"})
	if sl.hardened == false {
		t.Errorf("expected hardened reuse policy")
	}
	sl.Release()

	// panic case
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		NewSlab[struct{}](s.Settings{"reuse": "junk"})
	}()
}

func TestSlabRoundtrip(t *testing.T) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()

	a := sl.Alloc(42)
	b := sl.Alloc(42)
	if a.IsValid() == false || b.IsValid() == false {
		t.Fatalf("unexpected allocation failure")
	}
	if a.Base() == b.Base() {
		t.Errorf("expected distinct allocations")
	}
	if a.Length() != Bucketsize(BucketForSize(42)) {
		t.Errorf("expected %v, got %v", Bucketsize(BucketForSize(42)), a.Length())
	}
	sl.Free(a.Base())
	c := sl.Alloc(42)
	if c.Base() != a.Base() {
		t.Errorf("expected freed slot %x to be reused, got %x", a.Base(), c.Base())
	}
	sl.Free(b.Base())
	sl.Free(c.Base())

	// the chunk index still resolves to the slab allocator.
	if _, _, ok := sl.ObjectForAllocation(a.Base()); ok == false {
		t.Errorf("expected chunk index to resolve after frees")
	}
}

func TestSlabObjectForAllocation(t *testing.T) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()

	for _, size := range []int64{8, 42, 1024, 1088, 29000, 32768, 500000} {
		ptr := sl.Alloc(size)
		if ptr.IsValid() == false {
			t.Fatalf("allocation of %v failed", size)
		}
		length := ptr.Length()
		if length < size {
			t.Errorf("size %v observable length %v", size, length)
		}
		for _, k := range []int64{0, 1, length / 2, length - 1} {
			obj, hdr, ok := sl.ObjectForAllocation(ptr.Base() + uintptr(k))
			if ok == false {
				t.Fatalf("interior lookup %v+%v failed", size, k)
			}
			if obj.Base() != ptr.Base() {
				t.Errorf("interior lookup %v+%v expected %x, got %x",
					size, k, ptr.Base(), obj.Base())
			}
			if hdr == nil {
				t.Errorf("expected header pointer")
			}
		}
		if x := sl.ObjectSize(ptr.Base()); x != length {
			t.Errorf("expected %v, got %v", length, x)
		}
	}
	if _, _, ok := sl.ObjectForAllocation(uintptr(0x1000)); ok {
		t.Errorf("expected lookup miss for unmanaged address")
	}
}

func TestSlabIteration(t *testing.T) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()

	ptrs := map[uintptr]bool{
		sl.Alloc(42).Base():              false,
		sl.Alloc(64 * 1024).Base():       false,
		sl.Alloc(3 * 1024 * 1024).Base(): false,
	}
	n := 0
	sl.ForEach(func(hdr *struct{}, obj fatptr.Pointer) bool {
		n++
		seen, ok := ptrs[obj.Base()]
		if ok == false {
			t.Errorf("unexpected allocation %x", obj.Base())
		}
		if seen {
			t.Errorf("allocation %x yielded twice", obj.Base())
		}
		ptrs[obj.Base()] = true
		return true
	})
	if n != 3 {
		t.Errorf("expected %v allocations, got %v", 3, n)
	}
	for ptr, seen := range ptrs {
		if seen == false {
			t.Errorf("allocation %x not yielded", ptr)
		}
	}
}

func TestSlabIterationDense(t *testing.T) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()

	live := map[uintptr]bool{}
	ptrs := make([]uintptr, 0, 1000)
	for i := 0; i < 1000; i++ {
		ptr := sl.Alloc(96)
		ptrs = append(ptrs, ptr.Base())
		live[ptr.Base()] = true
	}
	for i := 0; i < 1000; i += 2 {
		sl.Free(ptrs[i])
		delete(live, ptrs[i])
	}
	n := 0
	sl.ForEach(func(hdr *struct{}, obj fatptr.Pointer) bool {
		if live[obj.Base()] == false {
			t.Errorf("unexpected allocation %x", obj.Base())
		}
		n++
		return true
	})
	if n != 500 {
		t.Errorf("expected %v allocations, got %v", 500, n)
	}
}

func TestSlabHuge(t *testing.T) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()

	ptr := sl.Alloc(3 * 1024 * 1024)
	if ptr.IsValid() == false {
		t.Fatalf("huge allocation failed")
	}
	if ptr.Length() != 3*1024*1024 {
		t.Errorf("expected %v, got %v", 3*1024*1024, ptr.Length())
	}
	// the index resolves for every chunk covered by the mapping.
	for off := int64(0); off < ptr.Length(); off += Chunksize {
		obj, _, ok := sl.ObjectForAllocation(ptr.Base() + uintptr(off))
		if ok == false {
			t.Fatalf("lookup at offset %v failed", off)
		}
		if obj.Base() != ptr.Base() {
			t.Errorf("expected %x, got %x", ptr.Base(), obj.Base())
		}
	}
	sl.Free(ptr.Base())
	for off := int64(0); off < ptr.Length(); off += Chunksize {
		if _, _, ok := sl.ObjectForAllocation(ptr.Base() + uintptr(off)); ok {
			t.Errorf("expected lookup miss after free at offset %v", off)
		}
	}

	// the record is recycled by the next huge allocation.
	nrec := 0
	for rec := sl.hugehead.Load(); rec != nil; rec = rec.next.Load() {
		nrec++
	}
	sl.Free(sl.Alloc(askHuge).Base())
	nrec2 := 0
	for rec := sl.hugehead.Load(); rec != nil; rec = rec.next.Load() {
		nrec2++
	}
	if nrec != nrec2 {
		t.Errorf("expected record reuse, chain grew %v -> %v", nrec, nrec2)
	}
}

const askHuge = Chunksize/4 + 1

func TestFolioRelease(t *testing.T) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()

	// fill one folio of the 1088 byte bucket: lcm(4096,1088)
	// holds 64 allocations.
	ptrs := make([]uintptr, 0, 64)
	for i := 0; i < 64; i++ {
		ptrs = append(ptrs, sl.Alloc(1088).Base())
	}
	_, _, before := page.Stats()
	for _, ptr := range ptrs {
		sl.Free(ptr)
	}
	_, _, after := page.Stats()
	if delta := after - before; delta != 1 {
		t.Errorf("expected exactly one release hint, got %v", delta)
	}
}

func TestSlabFullChunkRelink(t *testing.T) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()

	// exhaust a whole chunk of the largest bucket: 4 slots.
	ptrs := make([]uintptr, 0, 8)
	for i := 0; i < 5; i++ {
		ptr := sl.Alloc(Hugesize)
		if ptr.IsValid() == false {
			t.Fatalf("allocation %v failed", i)
		}
		ptrs = append(ptrs, ptr.Base())
	}
	// the fifth allocation detached the first chunk; freeing one
	// of its slots must make it allocatable again.
	sl.Free(ptrs[0])
	ptr := sl.Alloc(Hugesize)
	if ptr.Base() != ptrs[0] {
		t.Logf("relinked chunk not preferred: %x != %x", ptr.Base(), ptrs[0])
	}
	var live int64
	sl.ForEach(func(hdr *struct{}, obj fatptr.Pointer) bool {
		live++
		return true
	})
	if live != 5 {
		t.Errorf("expected %v live allocations, got %v", 5, live)
	}
}

func TestSlabInfo(t *testing.T) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()

	capacity, heap, alloc, _ := sl.Info()
	if capacity != 0 || heap != 0 || alloc != 0 {
		t.Errorf("expected empty accounting, got %v %v %v", capacity, heap, alloc)
	}
	for i := 0; i < 100; i++ {
		sl.Alloc(1024)
	}
	capacity, _, alloc, _ = sl.Info()
	if capacity != Chunksize {
		t.Errorf("expected %v, got %v", Chunksize, capacity)
	}
	if alloc != 100*1024 {
		t.Errorf("expected %v, got %v", 100*1024, alloc)
	}
	slabs, uzs := sl.Utilization()
	if len(slabs) != 1 || slabs[0] != 1024 {
		t.Errorf("unexpected utilization slabs %v", slabs)
	}
	if len(uzs) != 1 || uzs[0] <= 0 {
		t.Errorf("unexpected utilization %v", uzs)
	}
}

func TestSlabFreePanics(t *testing.T) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()

	ptr := sl.Alloc(512)

	// unmanaged pointer
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		sl.Free(uintptr(0xdead000))
	}()
	// unaligned pointer
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		sl.Free(ptr.Base() + 1)
	}()
	// double free
	sl.Free(ptr.Base())
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		sl.Free(ptr.Base())
	}()
}

func TestSlabHardenedReuse(t *testing.T) {
	sl := NewSlab[struct{}](s.Settings{"reuse": "hardened"})
	defer sl.Release()

	// two folios of the 8 byte bucket in play.
	perfolio := page.Size / 8
	ptrs := make([]uintptr, 0, 2*perfolio)
	for i := int64(0); i < 2*perfolio; i++ {
		ptrs = append(ptrs, sl.Alloc(8).Base())
	}
	// free one slot in each folio; the second folio freed goes to
	// the tail, so reuse prefers the first.
	sl.Free(ptrs[0])
	sl.Free(ptrs[perfolio])
	if x := sl.Alloc(8).Base(); x != ptrs[0] {
		t.Errorf("expected %x, got %x", ptrs[0], x)
	}
}

func BenchmarkSlabAlloc(b *testing.B) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sl.Alloc(96)
	}
}

func BenchmarkSlabFree(b *testing.B) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()
	ptrs := make([]uintptr, 0, b.N)
	for i := 0; i < b.N; i++ {
		ptrs = append(ptrs, sl.Alloc(96).Base())
	}
	b.ResetTimer()
	for _, ptr := range ptrs {
		sl.Free(ptr)
	}
}

func BenchmarkSlabLookup(b *testing.B) {
	sl := NewSlab[struct{}](nil)
	defer sl.Release()
	ptr := sl.Alloc(96)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sl.ObjectForAllocation(ptr.Base() + 17)
	}
}
