// Package sizing provides safe size arithmetic and conversions for the
// 32-bit length and offset fields used by every container format.
package sizing

import (
	"io"
	"math"
)

// ToUint32 converts an int to uint32, returning overflowErr if it doesn't fit.
func ToUint32(n int, overflowErr error) (uint32, error) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		return 0, overflowErr
	}
	return uint32(n), nil
}

// ToInt converts a uint32 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint32, overflowErr error) (int, error) {
	if uint64(size) > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// AddUint32 adds two uint32 values, returning (result, false) on overflow.
func AddUint32(a, b uint32) (uint32, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// SectorsFor returns the number of sectors of sectorSize needed for n bytes.
func SectorsFor(n uint32, sectorSize uint32) uint32 {
	if n == 0 {
		return 0
	}
	return (n-1)/sectorSize + 1
}

// ReadAllWithLimit reads up to maxSize bytes from r.
// Returns overflowErr if more than maxSize bytes are available.
func ReadAllWithLimit(r io.Reader, maxSize uint64, overflowErr error) ([]byte, error) {
	if maxSize > uint64(math.MaxInt-1) {
		return nil, overflowErr
	}
	limit := int64(maxSize) + 1 //nolint:gosec // checked above
	lr := &io.LimitedReader{R: r, N: limit}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > maxSize { //nolint:gosec // len is always non-negative
		return nil, overflowErr
	}
	return data, nil
}
