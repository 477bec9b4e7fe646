// Package lzs implements the LZSS variant used for field entry payloads.
//
// The stream is a sequence of groups: one flag byte followed by up to eight
// items, least significant flag bit first. A set bit marks a literal byte.
// A clear bit marks a two-byte back reference into a 4096-byte ring buffer
// that starts zero-filled with its write cursor at 0xFEE:
//
//	offset = b0 | (b1&0xF0)<<4
//	length = b1&0x0F + 3
package lzs

import (
	"fmt"

	"github.com/meigma/fieldarchive/internal/fatype"
)

const (
	ringSize   = 4096
	ringMask   = ringSize - 1
	ringStart  = 0xFEE
	minMatch   = 3
	maxMatch   = 18
	maxChain   = 64
	hashBits   = 12
	windowSize = ringSize - maxMatch

	// DefaultMaxDecompressedSize is the default decompressed size limit (256MB).
	DefaultMaxDecompressedSize = 256 << 20
)

// Codec is the LZS codec. The zero value uses DefaultMaxDecompressedSize.
type Codec struct {
	// MaxDecompressedSize limits the output of Decompress.
	// Zero uses DefaultMaxDecompressedSize.
	MaxDecompressedSize int
}

// Decompress decodes an LZS stream.
func (c Codec) Decompress(src []byte) ([]byte, error) {
	limit := c.MaxDecompressedSize
	if limit <= 0 {
		limit = DefaultMaxDecompressedSize
	}

	var ring [ringSize]byte
	r := ringStart
	out := make([]byte, 0, len(src)*2)

	i := 0
	for i < len(src) {
		flags := src[i]
		i++
		for bit := 0; bit < 8 && i < len(src); bit++ {
			if flags&1 != 0 {
				b := src[i]
				i++
				out = append(out, b)
				ring[r] = b
				r = (r + 1) & ringMask
			} else {
				if i+1 >= len(src) {
					return nil, fmt.Errorf("%w: lzs: truncated reference at %d", fatype.ErrCodec, i)
				}
				off := int(src[i]) | int(src[i+1]&0xF0)<<4
				n := int(src[i+1]&0x0F) + minMatch
				i += 2
				for k := range n {
					b := ring[(off+k)&ringMask]
					out = append(out, b)
					ring[r] = b
					r = (r + 1) & ringMask
				}
			}
			if len(out) > limit {
				return nil, fmt.Errorf("%w: lzs: decompressed data exceeds %d bytes", fatype.ErrCodec, limit)
			}
			flags >>= 1
		}
	}
	return out, nil
}

// Compress encodes src with greedy hash-chain matching.
func (c Codec) Compress(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src)+len(src)/8+1)
	m := newMatcher(src)

	i := 0
	for i < len(src) {
		flagPos := len(out)
		out = append(out, 0)
		var flags byte
		for bit := 0; bit < 8 && i < len(src); bit++ {
			pos, length := m.longest(i)
			if length >= minMatch {
				off := (pos + ringStart) & ringMask
				out = append(out, byte(off), byte((off>>4)&0xF0)|byte(length-minMatch))
				for k := range length {
					m.insert(i + k)
				}
				i += length
				continue
			}
			flags |= 1 << bit
			out = append(out, src[i])
			m.insert(i)
			i++
		}
		out[flagPos] = flags
	}
	return out, nil
}

type matcher struct {
	src  []byte
	head []int32
	prev []int32
}

func newMatcher(src []byte) *matcher {
	m := &matcher{
		src:  src,
		head: make([]int32, 1<<hashBits),
		prev: make([]int32, len(src)),
	}
	for i := range m.head {
		m.head[i] = -1
	}
	return m
}

func (m *matcher) hash(p int) uint32 {
	v := uint32(m.src[p])<<16 | uint32(m.src[p+1])<<8 | uint32(m.src[p+2])
	return (v * 2654435761) >> (32 - hashBits)
}

func (m *matcher) insert(p int) {
	if p+minMatch > len(m.src) {
		return
	}
	h := m.hash(p)
	m.prev[p] = m.head[h]
	m.head[h] = int32(p) //nolint:gosec // bounded by len(src)
}

// longest returns the best earlier match for position i within the window.
func (m *matcher) longest(i int) (pos, length int) {
	if i+minMatch > len(m.src) {
		return 0, 0
	}
	limit := min(maxMatch, len(m.src)-i)
	cand := m.head[m.hash(i)]
	for tries := 0; cand >= 0 && tries < maxChain; tries++ {
		p := int(cand)
		if i-p > windowSize {
			break
		}
		n := 0
		for n < limit && m.src[p+n] == m.src[i+n] {
			n++
		}
		if n > length {
			pos, length = p, n
			if n == limit {
				break
			}
		}
		cand = m.prev[p]
	}
	return pos, length
}
