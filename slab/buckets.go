package slab

import "fmt"
import "math/bits"
import "sort"

// Hugebucket sentinel returned by BucketForSize for sizes beyond
// Hugesize.
const Hugebucket = -1

// Largestsmall index of the largest small bucket. Small buckets are
// word multiples and then a geometric ladder with four sub-steps per
// doubling, pointer aligned, up to 1 KiB.
const Largestsmall = 20

// Largestmedium index of the largest medium bucket. Medium buckets
// are cache-line multiples whose multiplier walks the numbers that
// are either prime or a power of two, starting at 1088 bytes.
const Largestmedium = 107

// Largestlarge index of the largest fixed bucket. Large buckets are
// page multiples from 32 KiB up to a quarter chunk.
const Largestlarge = 139

// Fixedbuckets total number of fixed size classes.
const Fixedbuckets = Largestlarge + 1

var bucketsizes [Fixedbuckets]int64

// smallmap maps Ceil(size/8) to the minimal bucket for every size
// up to the largest small bucket, so the common path is a single
// table load.
var smallmap [129]int8

func init() {
	for i := 0; i <= Largestsmall; i++ {
		bucketsizes[i] = smallsize(i)
	}
	c, n := int64(1), 1
	for n < 11 { // the first ten candidates belong to the small regime
		c = nextPrimeOrPow2(c + 1)
		n++
	}
	for i := Largestsmall + 1; i <= Largestmedium; i++ {
		bucketsizes[i] = c * Cacheline
		c = nextPrimeOrPow2(c + 1)
	}
	c = 8 // 8 pages = 32KiB, the smallest large bucket
	for i := Largestmedium + 1; i <= Largestlarge; i++ {
		bucketsizes[i] = c * 4096
		c = nextPrimeOrPow2(c + 1)
	}
	if bucketsizes[Largestlarge] != Hugesize {
		panic(fmt.Errorf("largest bucket %v != %v", bucketsizes[Largestlarge], Hugesize))
	}
	for i := 1; i < Fixedbuckets; i++ {
		if bucketsizes[i] <= bucketsizes[i-1] {
			panic(fmt.Errorf("bucket sizes not monotonic at %v", i))
		}
	}
	bucket := 0
	for idx := 1; idx <= 128; idx++ {
		size := int64(idx * 8)
		for bucketsizes[bucket] < size {
			bucket++
		}
		smallmap[idx] = int8(bucket)
	}
}

func smallsize(i int) int64 {
	if i < 5 {
		return int64(i+1) * 8
	}
	return int64(1<<uint((i+12)>>2)) * int64((i+12)&3+4)
}

func isprime(n int64) bool {
	if n < 2 {
		return false
	}
	for d := int64(2); d*d <= n; d++ {
		if n%d == 0 {
			return false
		}
	}
	return true
}

func nextPrimeOrPow2(n int64) int64 {
	for {
		if n&(n-1) == 0 || isprime(n) {
			return n
		}
		n++
	}
}

// Bucketsize return the allocation size of bucket i.
func Bucketsize(i int) int64 {
	return bucketsizes[i]
}

// Bucketsizes return the sizes of every fixed bucket in increasing
// order.
func Bucketsizes() []int64 {
	sizes := make([]int64, Fixedbuckets)
	copy(sizes, bucketsizes[:])
	return sizes
}

// BucketForSize return the smallest bucket whose size covers `size`,
// or Hugebucket when the size exceeds a quarter chunk. Sizes up to
// the small regime resolve through a table load, the rest through
// binary search.
func BucketForSize(size int64) int {
	if size <= 0 {
		panic(fmt.Errorf("slab.BucketForSize(%v): invalid size", size))
	}
	if size > Hugesize {
		return Hugebucket
	}
	if size <= bucketsizes[Largestsmall] {
		return int(smallmap[(size+7)>>3])
	}
	return sort.Search(Fixedbuckets, func(i int) bool {
		return bucketsizes[i] >= size
	})
}

// Log2ceil smallest n such that 1<<n covers size.
func Log2ceil(size int64) int {
	return bits.Len64(uint64(size - 1))
}
