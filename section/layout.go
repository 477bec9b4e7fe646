package section

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/fieldarchive/internal/fatype"
)

// Layout describes how a position table is stored in a payload header.
type Layout interface {
	// Sections returns the fixed number of sections.
	Sections() int

	// HeaderSize returns the size of the header holding the position table.
	// It is also the position of the first section.
	HeaderSize() int

	// Prefix returns the size of the length field stored in front of every
	// section, zero when sections are stored bare.
	Prefix() int

	// ReadPositions decodes the position table of data. The result has
	// Sections() entries, relative to the start of data, plus base: the value
	// that must be added back to every position when the table is written.
	ReadPositions(data []byte) (positions []uint32, base uint32, err error)

	// WritePositions encodes positions into the header of data.
	WritePositions(data []byte, positions []uint32, base uint32) error
}

// Section ids of the PS field DAT payload.
const (
	DatScripts = iota
	DatWalkmesh
	DatTileMap
	DatCamera
	DatTriggers
	DatEncounter
	DatModelLoader
)

const (
	// DatSections is the section count of a PS field DAT payload.
	DatSections = 7

	// DatHeaderSize is the size of the DAT position table.
	DatHeaderSize = DatSections * 4
)

// DatLayout is the PS field DAT layout: seven little-endian pointers into
// the console memory image of the payload. The first pointer addresses the
// byte right after the table, which fixes the memory base.
type DatLayout struct{}

// Sections implements Layout.
func (DatLayout) Sections() int { return DatSections }

// HeaderSize implements Layout.
func (DatLayout) HeaderSize() int { return DatHeaderSize }

// Prefix implements Layout.
func (DatLayout) Prefix() int { return 0 }

// ReadPositions implements Layout.
func (DatLayout) ReadPositions(data []byte) ([]uint32, uint32, error) {
	if len(data) < DatHeaderSize {
		return nil, 0, fmt.Errorf("%w: dat header needs %d bytes, have %d", fatype.ErrTruncated, DatHeaderSize, len(data))
	}
	first := binary.LittleEndian.Uint32(data)
	if first < DatHeaderSize {
		return nil, 0, fmt.Errorf("%w: first dat pointer 0x%x below header", fatype.ErrBadHeader, first)
	}
	base := first - DatHeaderSize

	positions := make([]uint32, DatSections)
	for i := range positions {
		ptr := binary.LittleEndian.Uint32(data[i*4:])
		if ptr < base {
			return nil, 0, fmt.Errorf("%w: dat pointer %d (0x%x) below base 0x%x", fatype.ErrUnorderedSections, i, ptr, base)
		}
		positions[i] = ptr - base
	}
	return positions, base, nil
}

// WritePositions implements Layout.
func (DatLayout) WritePositions(data []byte, positions []uint32, base uint32) error {
	if len(data) < DatHeaderSize {
		return fmt.Errorf("%w: dat header needs %d bytes, have %d", fatype.ErrTruncated, DatHeaderSize, len(data))
	}
	for i, pos := range positions[:DatSections] {
		if uint64(pos)+uint64(base) > 0xFFFFFFFF {
			return fmt.Errorf("dat pointer %d: %w", i, fatype.ErrSizeOverflow)
		}
		binary.LittleEndian.PutUint32(data[i*4:], pos+base)
	}
	return nil
}

// Section ids of the PC field file payload.
const (
	PCScripts = iota
	PCCamera
	PCModelLoader
	PCPalette
	PCWalkmesh
	PCTileMap
	PCEncounter
	PCTriggers
	PCBackground
)

const (
	// PCSections is the section count of a PC field file payload.
	PCSections = 9

	// PCHeaderSize is the size of the PC field header: two reserved bytes,
	// the section count, and the position table.
	PCHeaderSize = 6 + PCSections*4

	pcCountOffset = 2
	pcTableOffset = 6
	pcPrefix      = 4
)

// PCLayout is the PC field file layout: a section count followed by absolute
// positions. Every section starts with a little-endian length field.
type PCLayout struct{}

// Sections implements Layout.
func (PCLayout) Sections() int { return PCSections }

// HeaderSize implements Layout.
func (PCLayout) HeaderSize() int { return PCHeaderSize }

// Prefix implements Layout.
func (PCLayout) Prefix() int { return pcPrefix }

// ReadPositions implements Layout.
func (PCLayout) ReadPositions(data []byte) ([]uint32, uint32, error) {
	if len(data) < PCHeaderSize {
		return nil, 0, fmt.Errorf("%w: pc header needs %d bytes, have %d", fatype.ErrTruncated, PCHeaderSize, len(data))
	}
	if n := binary.LittleEndian.Uint32(data[pcCountOffset:]); n != PCSections {
		return nil, 0, fmt.Errorf("%w: pc section count %d, want %d", fatype.ErrBadHeader, n, PCSections)
	}
	positions := make([]uint32, PCSections)
	for i := range positions {
		positions[i] = binary.LittleEndian.Uint32(data[pcTableOffset+i*4:])
	}
	if positions[0] != PCHeaderSize {
		return nil, 0, fmt.Errorf("%w: first pc position must be %d, got %d", fatype.ErrBadHeader, PCHeaderSize, positions[0])
	}
	return positions, 0, nil
}

// WritePositions implements Layout.
func (PCLayout) WritePositions(data []byte, positions []uint32, _ uint32) error {
	if len(data) < PCHeaderSize {
		return fmt.Errorf("%w: pc header needs %d bytes, have %d", fatype.ErrTruncated, PCHeaderSize, len(data))
	}
	binary.LittleEndian.PutUint32(data[pcCountOffset:], PCSections)
	for i, pos := range positions[:PCSections] {
		binary.LittleEndian.PutUint32(data[pcTableOffset+i*4:], pos)
	}
	return nil
}
