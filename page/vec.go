package page

import "fmt"
import "unsafe"

// Vec is a growable array of uintptr words backed directly by page
// mappings instead of the golang heap. Collectors keep their mark
// stacks and root vectors here so that scratch state is invisible to
// conservative scans and can be released page-at-a-time.
type Vec struct {
	base  unsafe.Pointer
	nitem int64
	citem int64
}

const wordsize = int64(unsafe.Sizeof(uintptr(0)))

// NewVec create a vector with room for `capacity` words.
func NewVec(capacity int64) *Vec {
	if capacity <= 0 {
		capacity = Size / wordsize
	}
	nbytes := ((capacity*wordsize + Size - 1) / Size) * Size
	base, err := Map(nbytes, Log2Size)
	if err != nil {
		panic(fmt.Errorf("page.NewVec(%v): %v", capacity, err))
	}
	return &Vec{base: base, citem: nbytes / wordsize}
}

// Len return the number of words held.
func (v *Vec) Len() int64 {
	return v.nitem
}

// At return the word at index i.
func (v *Vec) At(i int64) uintptr {
	if i < 0 || i >= v.nitem {
		panic(fmt.Errorf("page.Vec.At(%v): out of range %v", i, v.nitem))
	}
	return *(*uintptr)(unsafe.Pointer(uintptr(v.base) + uintptr(i*wordsize)))
}

// SetAt overwrite the word at index i.
func (v *Vec) SetAt(i int64, x uintptr) {
	if i < 0 || i >= v.nitem {
		panic(fmt.Errorf("page.Vec.SetAt(%v): out of range %v", i, v.nitem))
	}
	*(*uintptr)(unsafe.Pointer(uintptr(v.base) + uintptr(i*wordsize))) = x
}

// Push append a word, growing the mapping if needed.
func (v *Vec) Push(x uintptr) {
	if v.nitem == v.citem {
		v.grow()
	}
	*(*uintptr)(unsafe.Pointer(uintptr(v.base) + uintptr(v.nitem*wordsize))) = x
	v.nitem++
}

// Pop remove and return the last word.
func (v *Vec) Pop() uintptr {
	if v.nitem == 0 {
		panic(fmt.Errorf("page.Vec.Pop(): empty vector"))
	}
	v.nitem--
	return *(*uintptr)(unsafe.Pointer(uintptr(v.base) + uintptr(v.nitem*wordsize)))
}

// Clear drop every word and hint the OS to reclaim the backing pages.
func (v *Vec) Clear() {
	v.nitem = 0
	HintRelease(v.base, v.citem*wordsize)
}

// Release unmap the vector. The vector must not be used afterwards.
func (v *Vec) Release() {
	Unmap(v.base, v.citem*wordsize)
	v.base, v.nitem, v.citem = nil, 0, 0
}

func (v *Vec) grow() {
	nbytes := v.citem * wordsize * 2
	base, err := Map(nbytes, Log2Size)
	if err != nil {
		panic(fmt.Errorf("page.Vec.grow(%v): %v", nbytes, err))
	}
	var src, dst []byte
	src = unsafe.Slice((*byte)(v.base), v.nitem*wordsize)
	dst = unsafe.Slice((*byte)(base), v.nitem*wordsize)
	copy(dst, src)
	Unmap(v.base, v.citem*wordsize)
	v.base, v.citem = base, nbytes/wordsize
}
