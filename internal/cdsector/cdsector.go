// Package cdsector encodes raw 2352-byte CD-ROM sectors in Mode 2 Form 1,
// the layout of PlayStation disc images:
//
//	[0:12)      sync pattern 00 FF*10 00
//	[12:16)     BCD minute, second, frame, mode (2)
//	[16:24)     subheader, written twice
//	[24:2072)   user data
//	[2072:2076) EDC over [16:2072)
//	[2076:2352) P and Q parity over [12:2248), header zeroed
package cdsector

import (
	"bytes"
	"encoding/binary"
)

const (
	// Size is the size of a raw sector.
	Size = 2352

	// DataSize is the user data carried by one sector.
	DataSize = 2048

	// HeaderSize is the offset of the user data inside a sector.
	HeaderSize = 24

	// SubmodeData marks an ordinary data sector.
	SubmodeData = 0x08

	// SubmodeEOF marks the last sector of a file (data, end of record, end
	// of file).
	SubmodeEOF = 0x89

	syncSize   = 12
	edcOffset  = HeaderSize + DataSize
	pOffset    = edcOffset + 4
	qOffset    = pOffset + 172
	pregap     = 150
	modeOffset = 15
	subOffset  = 16
)

var sync = []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

var (
	eccF [256]byte
	eccB [256]byte
	edc  [256]uint32
)

func init() {
	for i := range 256 {
		j := i << 1
		if i&0x80 != 0 {
			j ^= 0x11D
		}
		eccF[i] = byte(j)
		eccB[i^j] = byte(i)

		e := uint32(i)
		for range 8 {
			if e&1 != 0 {
				e = e>>1 ^ 0xD8018001
			} else {
				e >>= 1
			}
		}
		edc[i] = e
	}
}

// IsRaw reports whether head starts with a sector sync pattern.
func IsRaw(head []byte) bool {
	return len(head) >= syncSize && bytes.Equal(head[:syncSize], sync)
}

// Offset returns the position of logical byte off in a raw image.
func Offset(off int64) int64 {
	return off/DataSize*Size + HeaderSize + off%DataSize
}

// Encode fills dst with a complete sector at lba carrying data, which is
// zero-padded to DataSize.
func Encode(dst []byte, lba uint32, data []byte, submode byte) {
	dst = dst[:Size]
	copy(dst, sync)
	msf(dst[syncSize:], lba)
	dst[modeOffset] = 2
	sub := [4]byte{0, 0, submode, 0}
	copy(dst[subOffset:], sub[:])
	copy(dst[subOffset+4:], sub[:])
	n := copy(dst[HeaderSize:edcOffset], data)
	clear(dst[HeaderSize+n : edcOffset])
	Refresh(dst)
}

// Refresh recomputes the EDC and ECC of a sector whose header or data
// changed.
func Refresh(sector []byte) {
	binary.LittleEndian.PutUint32(sector[edcOffset:], checksum(sector[subOffset:edcOffset]))

	var addr [4]byte
	copy(addr[:], sector[syncSize:syncSize+4])
	clear(sector[syncSize : syncSize+4])
	parity(sector[syncSize:], 86, 24, 2, 86, sector[pOffset:])
	parity(sector[syncSize:], 52, 43, 86, 88, sector[qOffset:])
	copy(sector[syncSize:], addr[:])
}

// Valid reports whether the stored EDC matches the sector contents.
func Valid(sector []byte) bool {
	return len(sector) >= Size && IsRaw(sector) &&
		binary.LittleEndian.Uint32(sector[edcOffset:]) == checksum(sector[subOffset:edcOffset])
}

func checksum(b []byte) uint32 {
	var e uint32
	for _, c := range b {
		e = e>>8 ^ edc[byte(e)^c]
	}
	return e
}

// parity computes one Reed-Solomon product code (P or Q) over src into dst.
func parity(src []byte, majorCount, minorCount, majorMult, minorInc int, dst []byte) {
	size := majorCount * minorCount
	for major := range majorCount {
		index := (major>>1)*majorMult + major&1
		var a, b byte
		for range minorCount {
			t := src[index]
			index += minorInc
			if index >= size {
				index -= size
			}
			a ^= t
			b ^= t
			a = eccF[a]
		}
		a = eccB[eccF[a]^b]
		dst[major] = a
		dst[major+majorCount] = a ^ b
	}
}

// msf writes the BCD minute, second, and frame of lba.
func msf(dst []byte, lba uint32) {
	x := lba + pregap
	dst[0] = bcd(x / (60 * 75))
	dst[1] = bcd(x / 75 % 60)
	dst[2] = bcd(x % 75)
}

func bcd(v uint32) byte { return byte(v/10<<4 | v%10) }
