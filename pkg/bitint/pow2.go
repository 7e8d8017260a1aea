// Package bitint provides the power-of-two helpers used to size the
// index rings. Ring positions are masked with capacity-1, so every ring
// capacity is rounded up to a power of two.
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size.
// Sizes <= 0 return 1.
//
//	Input  Output
//	8      8
//	10     16
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	// size-1 keeps exact powers of two unchanged.
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
