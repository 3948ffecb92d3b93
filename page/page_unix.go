//go:build unix

package page

import "fmt"
import "sync"
import "sync/atomic"
import "unsafe"

import "golang.org/x/sys/unix"

// mappings remembers the slice returned by unix.Mmap for every
// aligned pointer handed out. The wrapper insists on getting the
// exact slice back at munmap time, so the padding that alignment
// trims off stays reserved with the region; it is address space
// only, the kernel never backs it until written.
var mappings = struct {
	sync.Mutex
	regions map[uintptr][]byte
}{regions: make(map[uintptr][]byte)}

// Map return an anonymous zero-filled mapping of nbytes, aligned to
// 1<<log2align. Physical backing is demand paged, so very large
// sparse mappings cost only virtual address space until written.
func Map(nbytes int64, log2align uint) (unsafe.Pointer, error) {
	align := int64(1) << log2align
	if align < Size {
		align = Size
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	blk, err := unix.Mmap(-1, 0, int(nbytes+align), prot, flags)
	if err != nil {
		return nil, err
	}
	base := uintptr(unsafe.Pointer(&blk[0]))
	aligned := (base + uintptr(align-1)) &^ uintptr(align-1)
	mappings.Lock()
	mappings.regions[aligned] = blk
	mappings.Unlock()
	atomic.AddInt64(&nmaps, 1)
	return unsafe.Pointer(aligned), nil
}

// Unmap release the mapping back to the OS. The range becomes
// inaccessible. The pointer must be one returned by Map.
func Unmap(ptr unsafe.Pointer, nbytes int64) error {
	mappings.Lock()
	blk, ok := mappings.regions[uintptr(ptr)]
	delete(mappings.regions, uintptr(ptr))
	mappings.Unlock()
	if !ok {
		return fmt.Errorf("page.Unmap(%x): unknown mapping", uintptr(ptr))
	}
	atomic.AddInt64(&nunmaps, 1)
	return unix.Munmap(blk)
}

// HintRelease tell the OS the physical backing of the range is no
// longer needed. The mapping stays valid and reads as zero after the
// kernel reclaims the pages.
func HintRelease(ptr unsafe.Pointer, nbytes int64) {
	// madvise through the raw syscall, x/sys's Madvise wants the
	// slice that Mmap returned and this may be a sub-range.
	atomic.AddInt64(&nhints, 1)
	unix.Syscall(unix.SYS_MADVISE, uintptr(ptr), uintptr(nbytes), uintptr(unix.MADV_DONTNEED))
}
