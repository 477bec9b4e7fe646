// Package fieldbin patches the consolidated index of a disk image.
//
// The index file starts with an 8-byte header (u32 decompressed size, u32
// decompressed size minus 51588) followed by a gzip stream. The
// decompressed index references files of the field directory by their
// 8-byte (sector location, byte size) pair.
package fieldbin

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/meigma/fieldarchive/codec"
	"github.com/meigma/fieldarchive/internal/fatype"
)

const (
	// HeaderSize is the size of the index header.
	HeaderSize = 8

	// SizeBias is subtracted from the decompressed size in the second
	// header word.
	SizeBias = 51588

	// DefaultOrigin is where ambiguous references are searched from when no
	// reference matched exactly once.
	DefaultOrigin = 0x30000

	// FileName is the index file name inside the field directory.
	FileName = "FIELD.BIN"
)

// Relocation records where a file was and where it is going.
type Relocation struct {
	Name        string
	OldLocation uint32
	OldSize     uint32
	NewLocation uint32
	NewSize     uint32
}

// Moved reports whether the file's reference changes.
func (r Relocation) Moved() bool {
	return r.OldLocation != r.NewLocation || r.OldSize != r.NewSize
}

// Pattern returns the 8-byte reference to the old position.
func (r Relocation) Pattern() []byte { return ref(r.OldLocation, r.OldSize) }

// Replacement returns the 8-byte reference to the new position.
func (r Relocation) Replacement() []byte { return ref(r.NewLocation, r.NewSize) }

func ref(location, size uint32) []byte {
	b := binary.LittleEndian.AppendUint32(make([]byte, 0, 8), location)
	return binary.LittleEndian.AppendUint32(b, size)
}

// PatternError reports a reference that could not be patched.
type PatternError struct {
	Name  string
	Count int
	Err   error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("patch index reference of %s (%d occurrences): %v", e.Name, e.Count, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// Decode splits an index file into its header and decompressed contents.
func Decode(data []byte, c codec.Codec) ([]byte, []byte, error) {
	if len(data) < HeaderSize {
		return nil, nil, fmt.Errorf("%w: index of %d bytes", fatype.ErrTruncated, len(data))
	}
	index, err := c.Decompress(data[HeaderSize:])
	if err != nil {
		return nil, nil, fmt.Errorf("decompress index: %w", err)
	}
	if want := binary.LittleEndian.Uint32(data); uint64(want) != uint64(len(index)) {
		return nil, nil, fmt.Errorf("%w: index header says %d bytes, decompressed %d", fatype.ErrSizeMismatch, want, len(index))
	}
	return data[:HeaderSize:HeaderSize], index, nil
}

// Encode compresses index behind header.
func Encode(header, index []byte, c codec.Codec) ([]byte, error) {
	z, err := c.Compress(index)
	if err != nil {
		return nil, fmt.Errorf("compress index: %w", err)
	}
	out := make([]byte, 0, len(header)+len(z))
	out = append(out, header...)
	return append(out, z...), nil
}

// Patch returns a copy of the index file data with the reference of every
// moved file rewritten. data is never modified.
//
// Occurrences are always counted in the original index. Moved files are
// visited in ascending numeric order of (OldLocation, OldSize), whatever the
// order of relocs. A reference found exactly once is replaced in place.
// References found more than once are resolved afterwards by searching from
// the position of the first reference in that order that matched exactly
// once (DefaultOrigin when none did), and must occur exactly once from
// there. The origin is fixed for the whole call.
func Patch(data []byte, relocs []Relocation, c codec.Codec) ([]byte, error) {
	header, orig, err := Decode(data, c)
	if err != nil {
		return nil, err
	}

	moved := make([]Relocation, 0, len(relocs))
	for _, r := range relocs {
		if r.Moved() {
			moved = append(moved, r)
		}
	}
	if len(moved) == 0 {
		return bytes.Clone(data), nil
	}
	slices.SortFunc(moved, func(a, b Relocation) int {
		return cmp.Or(cmp.Compare(a.OldLocation, b.OldLocation), cmp.Compare(a.OldSize, b.OldSize))
	})

	patched := bytes.Clone(orig)
	origin := -1
	var ambiguous []Relocation
	for _, r := range moved {
		count, first := occurrences(orig, r.Pattern())
		switch count {
		case 0:
			return nil, &PatternError{Name: r.Name, Err: fatype.ErrPatternNotFound}
		case 1:
			copy(patched[first:], r.Replacement())
			if origin < 0 {
				origin = first
			}
		default:
			ambiguous = append(ambiguous, r)
		}
	}

	if origin < 0 {
		origin = DefaultOrigin
	}
	for _, r := range ambiguous {
		var count, first int
		if origin < len(orig) {
			count, first = occurrences(orig[origin:], r.Pattern())
		}
		if count != 1 {
			return nil, &PatternError{Name: r.Name, Count: count, Err: fatype.ErrAmbiguousPattern}
		}
		copy(patched[origin+first:], r.Replacement())
	}

	return Encode(header, patched, c)
}

// occurrences counts overlapping matches of pattern in data and returns the
// position of the first.
func occurrences(data, pattern []byte) (int, int) {
	count, first := 0, -1
	for pos := 0; pos <= len(data)-len(pattern); {
		i := bytes.Index(data[pos:], pattern)
		if i < 0 {
			break
		}
		if first < 0 {
			first = pos + i
		}
		count++
		pos += i + 1
	}
	return count, first
}
