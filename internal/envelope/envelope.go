// Package envelope handles the length-prefixed form every stored payload
// uses: a little-endian u32 byte count followed by exactly that many bytes.
package envelope

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/internal/sizing"
)

// PrefixSize is the size of the length prefix.
const PrefixSize = 4

// Valid reports whether the prefix of data matches the rest of data.
func Valid(data []byte) bool {
	return len(data) >= PrefixSize && uint64(binary.LittleEndian.Uint32(data))+PrefixSize == uint64(len(data))
}

// Strip validates data and returns the bytes after the prefix.
func Strip(data []byte) ([]byte, error) {
	if len(data) < PrefixSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", fatype.ErrSizeMismatch, len(data), PrefixSize)
	}
	if n := binary.LittleEndian.Uint32(data); uint64(n)+PrefixSize != uint64(len(data)) {
		return nil, fmt.Errorf("%w: prefix says %d, have %d", fatype.ErrSizeMismatch, n, len(data)-PrefixSize)
	}
	return data[PrefixSize:], nil
}

// Wrap prefixes data with its length.
func Wrap(data []byte) ([]byte, error) {
	n, err := sizing.ToUint32(len(data), fatype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	out := make([]byte, PrefixSize, PrefixSize+len(data))
	binary.LittleEndian.PutUint32(out, n)
	return append(out, data...), nil
}
