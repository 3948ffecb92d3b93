package lib

import "math/bits"
import "reflect"
import "unsafe"

// Memcpy copy memory block of length `ln` from `src` to `dst`. This
// function is useful if memory block is obtained outside golang
// runtime. Overlapping blocks copy correctly when dst is below src.
func Memcpy(dst, src unsafe.Pointer, ln int) int {
	var srcnd, dstnd []byte
	srcsl := (*reflect.SliceHeader)(unsafe.Pointer(&srcnd))
	srcsl.Len, srcsl.Cap = ln, ln
	srcsl.Data = (uintptr)(src)
	dstsl := (*reflect.SliceHeader)(unsafe.Pointer(&dstnd))
	dstsl.Len, dstsl.Cap = ln, ln
	dstsl.Data = (uintptr)(dst)
	return copy(dstnd, srcnd)
}

// Memzero clear `ln` bytes starting at `blk`.
func Memzero(blk unsafe.Pointer, ln int) {
	var dst []byte
	dstsl := (*reflect.SliceHeader)(unsafe.Pointer(&dst))
	dstsl.Len, dstsl.Cap = ln, ln
	dstsl.Data = (uintptr)(blk)
	for i := range dst {
		dst[i] = 0
	}
}

// Ceil divide divident by divisor and round the quotient up.
func Ceil(divident, divisor int64) int64 {
	if divident%divisor == 0 {
		return divident / divisor
	}
	return (divident / divisor) + 1
}

// RoundUp round val up to the nearest multiple of `multiple`.
func RoundUp(val, multiple int64) int64 {
	return ((val + multiple - 1) / multiple) * multiple
}

// Log2 base-2 logarithm of sz, -1 for zero.
func Log2(sz uint64) int {
	return 63 - bits.LeadingZeros64(sz)
}

// Gcd greatest common divisor of a and b.
func Gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Lcm least common multiple of a and b.
func Lcm(a, b int64) int64 {
	return a / Gcd(a, b) * b
}
