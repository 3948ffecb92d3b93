package bump

import "sync"
import "testing"
import "time"
import "unsafe"

import "github.com/bnclabs/goheap/fatptr"

func TestHeapAlloc(t *testing.T) {
	h, err := NewHeap[struct{}](1 << 20)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	defer h.Release()

	a := h.Alloc(24)
	b := h.Alloc(100)
	if a.IsValid() == false || b.IsValid() == false {
		t.Fatalf("unexpected allocation failure")
	}
	if a.Length() != 24 {
		t.Errorf("expected %v, got %v", 24, a.Length())
	}
	if b.Base() != a.Base()+32 { // 24 rounds to two grains
		t.Errorf("expected %x, got %x", a.Base()+32, b.Base())
	}
	if x := h.Allocated(); x != 2 {
		t.Errorf("expected %v, got %v", 2, x)
	}
}

func TestHeapStartBits(t *testing.T) {
	// after any sequence of allocations the number of start bits
	// equals the number of live allocations.
	h, err := NewHeap[struct{}](1 << 20)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	defer h.Release()

	for i := int64(1); i <= 100; i++ {
		h.Alloc(i)
	}
	if x := h.Allocated(); x != 100 {
		t.Errorf("expected %v, got %v", 100, x)
	}
	n := 0
	h.ForEach(func(hdr *struct{}, obj fatptr.Pointer) bool {
		n++
		return true
	})
	if n != 100 {
		t.Errorf("expected %v, got %v", 100, n)
	}
}

func TestHeapObjectForAllocation(t *testing.T) {
	h, err := NewHeap[int64](1 << 20)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	defer h.Release()

	ptrs := make([]fatptr.Pointer, 0, 10)
	for i := 0; i < 10; i++ {
		ptrs = append(ptrs, h.Alloc(48))
	}
	for i, ptr := range ptrs {
		for _, k := range []int64{0, 1, 47} {
			obj, hdr, ok := h.ObjectForAllocation(ptr.Base() + uintptr(k))
			if ok == false {
				t.Fatalf("lookup %v+%v failed", i, k)
			}
			if obj.Base() != ptr.Base() {
				t.Errorf("lookup %v+%v expected %x, got %x", i, k, ptr.Base(), obj.Base())
			}
			*hdr = int64(i)
		}
	}
	// headers are stable per object.
	for i, ptr := range ptrs {
		_, hdr, _ := h.ObjectForAllocation(ptr.Base())
		if *hdr != int64(i) {
			t.Errorf("expected header %v, got %v", i, *hdr)
		}
	}
	// outside the allocated frontier.
	if _, _, ok := h.ObjectForAllocation(h.base + uintptr(h.length) - 1); ok {
		t.Errorf("expected lookup miss beyond frontier")
	}
}

func TestHeapMoveObject(t *testing.T) {
	h, err := NewHeap[int64](1 << 20)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	defer h.Release()

	a := h.Alloc(32)
	b := h.Alloc(32)
	c := h.Alloc(32)
	_ = b
	blk := unsafe.Slice((*byte)(unsafe.Pointer(c.Base())), 32)
	for i := range blk {
		blk[i] = 0x5a
	}
	_, hdr, _ := h.ObjectForAllocation(c.Base())
	*hdr = 42

	// move c down over b's slot.
	moved := h.MoveObject(c.Base(), -32)
	if moved.Base() != a.Base()+32 {
		t.Errorf("expected %x, got %x", a.Base()+32, moved.Base())
	}
	obj, hdr2, ok := h.ObjectForAllocation(moved.Base())
	if ok == false || obj.Base() != moved.Base() {
		t.Fatalf("lookup of moved object failed")
	}
	if *hdr2 != 42 {
		t.Errorf("expected header %v, got %v", 42, *hdr2)
	}
	mblk := unsafe.Slice((*byte)(unsafe.Pointer(moved.Base())), 32)
	for i := range mblk {
		if mblk[i] != 0x5a {
			t.Errorf("payload byte %v lost in move", i)
		}
	}

	h.SetLastObject(moved)
	if x := h.Allocated(); x != 2 {
		t.Errorf("expected %v, got %v", 2, x)
	}
	// the reclaimed tail is allocatable again.
	d := h.Alloc(32)
	if d.Base() != moved.Base()+32 {
		t.Errorf("expected %x, got %x", moved.Base()+32, d.Base())
	}
}

func TestHeapGCCallback(t *testing.T) {
	h, err := NewHeap[struct{}](1 << 12)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	defer h.Release()

	calls := 0
	h.SetGC(func() { calls++ })
	for i := 0; i < 300; i++ { // 300*16 > 4096
		h.Alloc(16)
	}
	if calls == 0 {
		t.Errorf("expected collector callback to run")
	}
}

func TestHeapVersionGate(t *testing.T) {
	h, err := NewHeap[struct{}](1 << 20)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	defer h.Release()

	h.StartGC()
	done := make(chan fatptr.Pointer)
	go func() {
		done <- h.Alloc(64) // parks until EndGC
	}()
	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("allocation crossed the version gate")
	default:
	}
	h.EndGC()
	ptr := <-done
	if ptr.IsValid() == false {
		t.Errorf("expected allocation after EndGC")
	}

	// panic case
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		h.EndGC()
	}()
}

func TestHeapConcurAlloc(t *testing.T) {
	h, err := NewHeap[struct{}](8 << 20)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	defer h.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[uintptr]bool{}
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uintptr, 0, 1000)
			for i := 0; i < 1000; i++ {
				local = append(local, h.Alloc(64).Base())
			}
			mu.Lock()
			for _, addr := range local {
				if seen[addr] {
					t.Errorf("address %x returned twice", addr)
				}
				seen[addr] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if x := h.Allocated(); x != 8000 {
		t.Errorf("expected %v, got %v", 8000, x)
	}
}

func TestOrLargeHeap(t *testing.T) {
	h, err := NewOrLargeHeap[struct{}](1<<20, nil)
	if err != nil {
		t.Fatalf("NewOrLargeHeap: %v", err)
	}
	defer h.Release()

	small := h.Alloc(128)
	large := h.Alloc(64 * 1024)
	if small.IsValid() == false || large.IsValid() == false {
		t.Fatalf("unexpected allocation failure")
	}
	if large.Length() != 64*1024 {
		t.Errorf("expected %v, got %v", 64*1024, large.Length())
	}
	obj, _, ok := h.ObjectForAllocation(large.Base() + 4096)
	if ok == false || obj.Base() != large.Base() {
		t.Errorf("interior lookup into large allocation failed")
	}
	n, nlarge := 0, 0
	h.ForEach(func(hdr *struct{}, obj fatptr.Pointer) bool {
		n++
		if obj.Base() == large.Base() {
			nlarge++
		}
		return true
	})
	if n != 2 || nlarge != 1 {
		t.Errorf("expected 2 objects with 1 large, got %v/%v", n, nlarge)
	}
}

func BenchmarkHeapAlloc(b *testing.B) {
	h, err := NewHeap[struct{}](1 << 30)
	if err != nil {
		b.Fatalf("NewHeap: %v", err)
	}
	defer h.Release()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Alloc(64)
	}
}

func BenchmarkHeapLookup(b *testing.B) {
	h, err := NewHeap[struct{}](1 << 20)
	if err != nil {
		b.Fatalf("NewHeap: %v", err)
	}
	defer h.Release()
	ptr := h.Alloc(64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.ObjectForAllocation(ptr.Base() + 32)
	}
}
