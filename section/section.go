// Package section implements the section container stored inside a field
// payload: a fixed number of variable-length sections addressed by a
// position table in the payload header.
package section

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/meigma/fieldarchive/internal/fatype"
)

// Container holds a decoded payload and its position table.
//
// Offsets always hold Sections()+1 values; the last one is the size of the
// buffer. Offsets are non-decreasing and the first equals the layout header
// size.
//
// Edits go through a snapshot: BeginEdit copies the buffer, SetSection
// rewrites the snapshot, EndEdit writes the position table and swaps the
// snapshot in. Reads during an edit see the snapshot.
type Container struct {
	layout  Layout
	base    uint32
	data    []byte
	offsets []uint32

	editData    []byte
	editOffsets []uint32
}

// Open decodes data with layout. The container keeps its own copy of data.
func Open(layout Layout, data []byte) (*Container, error) {
	positions, base, err := layout.ReadPositions(data)
	if err != nil {
		return nil, err
	}
	n := layout.Sections()
	if uint64(len(data)) > 0xFFFFFFFF {
		return nil, fmt.Errorf("open section container: %w", fatype.ErrSizeOverflow)
	}

	offsets := make([]uint32, n+1)
	copy(offsets, positions)
	offsets[n] = uint32(len(data))

	if err := checkOffsets(layout, offsets); err != nil {
		return nil, err
	}

	return &Container{
		layout:  layout,
		base:    base,
		data:    bytes.Clone(data),
		offsets: offsets,
	}, nil
}

func checkOffsets(layout Layout, offsets []uint32) error {
	if int(offsets[0]) != layout.HeaderSize() {
		return fmt.Errorf("%w: first section at %d, want %d", fatype.ErrBadHeader, offsets[0], layout.HeaderSize())
	}
	prefix := uint32(layout.Prefix())
	last := len(offsets) - 1
	for i := range last {
		if offsets[i] > offsets[last] {
			return fmt.Errorf("%w: section %d starts at %d past end %d", fatype.ErrTruncated, i, offsets[i], offsets[last])
		}
		if offsets[i+1] < offsets[i] {
			return fmt.Errorf("%w: section %d at %d after section %d at %d", fatype.ErrUnorderedSections, i, offsets[i], i+1, offsets[i+1])
		}
		if offsets[i+1]-offsets[i] < prefix {
			return fmt.Errorf("%w: section %d shorter than its length field", fatype.ErrTruncated, i)
		}
	}
	return nil
}

// Layout returns the layout the container was opened with.
func (c *Container) Layout() Layout { return c.layout }

// Sections returns the number of sections.
func (c *Container) Sections() int { return c.layout.Sections() }

// Len returns the size of the current buffer.
func (c *Container) Len() int { return len(c.current()) }

// Offsets returns a copy of the current offset table.
func (c *Container) Offsets() []uint32 {
	_, offsets := c.view()
	out := make([]uint32, len(offsets))
	copy(out, offsets)
	return out
}

// Editing reports whether an edit is in progress.
func (c *Container) Editing() bool { return c.editData != nil }

// Section returns a copy of section id without its length field.
func (c *Container) Section(id int) ([]byte, error) {
	data, offsets := c.view()
	start, end, err := c.span(offsets, id)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(data[start:end]), nil
}

// SectionSize returns the size of section id without its length field.
func (c *Container) SectionSize(id int) (int, error) {
	_, offsets := c.view()
	start, end, err := c.span(offsets, id)
	if err != nil {
		return 0, err
	}
	return int(end - start), nil
}

func (c *Container) span(offsets []uint32, id int) (uint32, uint32, error) {
	if id < 0 || id >= c.layout.Sections() {
		return 0, 0, fmt.Errorf("section %d of %d: %w", id, c.layout.Sections(), fatype.ErrOutOfRange)
	}
	return offsets[id] + uint32(c.layout.Prefix()), offsets[id+1], nil
}

// BeginEdit snapshots the buffer so sections can be replaced.
func (c *Container) BeginEdit() error {
	if c.Editing() {
		return fatype.ErrEditInProgress
	}
	c.editData = bytes.Clone(c.data)
	if c.editData == nil {
		c.editData = []byte{}
	}
	c.editOffsets = make([]uint32, len(c.offsets))
	copy(c.editOffsets, c.offsets)
	return nil
}

// SetSection replaces section id in the snapshot. The offsets of every
// later section move by the size difference before the bytes are spliced.
func (c *Container) SetSection(id int, data []byte) error {
	if !c.Editing() {
		return fatype.ErrNoEdit
	}
	n := c.layout.Sections()
	if id < 0 || id >= n {
		return fmt.Errorf("section %d of %d: %w", id, n, fatype.ErrOutOfRange)
	}

	prefix := c.layout.Prefix()
	start := c.editOffsets[id]
	end := c.editOffsets[id+1]
	oldSpan := int64(end - start)
	newSpan := int64(prefix + len(data))
	newLen := int64(len(c.editData)) - oldSpan + newSpan
	if newLen > 0xFFFFFFFF || int64(len(data)) > 0xFFFFFFFF {
		return fmt.Errorf("set section %d: %w", id, fatype.ErrSizeOverflow)
	}

	shiftTail(c.editOffsets, id+1, newSpan-oldSpan)

	buf := make([]byte, 0, newLen)
	buf = append(buf, c.editData[:start]...)
	if prefix > 0 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
	}
	buf = append(buf, data...)
	buf = append(buf, c.editData[end:]...)
	c.editData = buf
	return nil
}

// shiftTail moves offsets[from:] by delta.
func shiftTail(offsets []uint32, from int, delta int64) {
	for i := from; i < len(offsets); i++ {
		offsets[i] = uint32(int64(offsets[i]) + delta)
	}
}

// EndEdit writes the position table into the snapshot, makes it the current
// buffer, and returns a copy of it.
func (c *Container) EndEdit() ([]byte, error) {
	if !c.Editing() {
		return nil, fatype.ErrNoEdit
	}
	if err := c.layout.WritePositions(c.editData, c.editOffsets[:c.layout.Sections()], c.base); err != nil {
		return nil, err
	}
	c.data = c.editData
	c.offsets = c.editOffsets
	c.editData = nil
	c.editOffsets = nil
	return bytes.Clone(c.data), nil
}

// AbortEdit drops the snapshot.
func (c *Container) AbortEdit() {
	c.editData = nil
	c.editOffsets = nil
}

// Bytes returns a copy of the committed buffer.
func (c *Container) Bytes() []byte { return bytes.Clone(c.data) }

func (c *Container) current() []byte {
	data, _ := c.view()
	return data
}

func (c *Container) view() ([]byte, []uint32) {
	if c.Editing() {
		return c.editData, c.editOffsets
	}
	return c.data, c.offsets
}
