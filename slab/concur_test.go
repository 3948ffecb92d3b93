package slab

import "math/rand"
import "sync"
import "sync/atomic"
import "testing"
import "unsafe"

type testalloc struct {
	n    byte
	size int64
	addr uintptr
}

var ccallocated, ccfreed int64

func TestConcur(t *testing.T) {
	var awg, fwg sync.WaitGroup

	nroutines, repeat := 8, 10000
	if testing.Short() {
		nroutines, repeat = 4, 1000
	}

	sl := NewSlab[struct{}](nil)
	defer sl.Release()

	chans := make([]chan testalloc, 0, nroutines)
	for n := 0; n < nroutines; n++ {
		chans = append(chans, make(chan testalloc, 1000))
	}
	awg.Add(nroutines)
	fwg.Add(nroutines)
	for n := 0; n < nroutines; n++ {
		go testallocator(sl, byte(n), repeat, chans, &awg)
		go testfree(t, sl, chans[n], &fwg)
	}
	awg.Wait()
	t.Logf("allocations are done\n")

	for _, ch := range chans {
		close(ch)
	}
	fwg.Wait()

	t.Logf("ccallocated:%v ccfreed:%v\n",
		atomic.LoadInt64(&ccallocated), atomic.LoadInt64(&ccfreed))
	if x, y := atomic.LoadInt64(&ccallocated), atomic.LoadInt64(&ccfreed); x != y {
		t.Errorf("expected %v frees, got %v", x, y)
	}
	if _, _, alloc, _ := sl.Info(); alloc != 0 {
		t.Errorf("expected no live allocations, got %v", alloc)
	}
}

func testallocator(
	sl *Slab[struct{}], n byte, repeat int,
	chans []chan testalloc, wg *sync.WaitGroup) {

	defer wg.Done()

	sizes := []int64{8, 42, 96, 512, 1088, 4096, 29000, 32768}
	for i := 0; i < repeat; i++ {
		size := sizes[rand.Intn(len(sizes))]
		ptr := sl.Alloc(size)
		// stamp the block, the freer verifies it survived.
		blk := unsafe.Slice((*byte)(unsafe.Pointer(ptr.Base())), size)
		for j := range blk {
			blk[j] = n
		}
		atomic.AddInt64(&ccallocated, 1)
		chans[rand.Intn(len(chans))] <- testalloc{n: n, size: size, addr: ptr.Base()}
	}
}

func testfree(t *testing.T, sl *Slab[struct{}], ch chan testalloc, wg *sync.WaitGroup) {
	defer wg.Done()

	for ta := range ch {
		blk := unsafe.Slice((*byte)(unsafe.Pointer(ta.addr)), ta.size)
		for j := range blk {
			if blk[j] != ta.n {
				t.Errorf("block %x stamp %v, got %v", ta.addr, ta.n, blk[j])
				break
			}
		}
		sl.Free(ta.addr)
		atomic.AddInt64(&ccfreed, 1)
	}
}

func TestConcurNoOverlap(t *testing.T) {
	// concurrent allocations of one size class never overlap.
	sl := NewSlab[struct{}](nil)
	defer sl.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[uintptr]bool{}
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uintptr, 0, 1000)
			for i := 0; i < 1000; i++ {
				local = append(local, sl.Alloc(96).Base())
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
	if len(seen) != 8000 {
		t.Errorf("expected %v distinct addresses, got %v", 8000, len(seen))
	}
}
