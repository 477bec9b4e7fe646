// Package toc reads and rewrites table-of-contents archives.
//
// Layout:
//
//	[0:12)   header, copied verbatim
//	[12:16)  u32 record count
//	[16:..)  count records of 27 bytes: name[20], u32 offset, 3 reserved
//	...      opaque region up to the first body, copied verbatim
//	bodies   name[20], u32 length, data[length]
//	marker   "FINAL FANTASY7"
package toc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/internal/sizing"
)

const (
	// HeaderSize is the size of the opaque archive header.
	HeaderSize = 12

	// RecordSize is the size of one table record.
	RecordSize = 27

	// NameSize is the size of the padded name field.
	NameSize = 20

	// BodyHeaderSize is the size of the name and length fields before a body.
	BodyHeaderSize = NameSize + 4

	// DefaultMaxRecords bounds the record count accepted by Parse.
	DefaultMaxRecords = 1000

	countOffset = HeaderSize
	tableOffset = HeaderSize + 4
)

// Marker terminates every archive.
var Marker = []byte("FINAL FANTASY7")

// Kind classifies a record by its name.
type Kind uint8

const (
	// KindOther records are carried verbatim.
	KindOther Kind = iota
	// KindField records hold an enveloped field payload.
	KindField
	// KindResource records hold an auxiliary resource.
	KindResource
)

const resourceExt = ".tut"

// Record is one table entry.
type Record struct {
	Index  int
	Name   string
	Offset uint32
}

// Kind returns the record's classification.
func (r Record) Kind() Kind {
	switch {
	case strings.EqualFold(r.Name, "maplist"):
		return KindOther
	case !strings.Contains(r.Name, "."):
		return KindField
	case len(r.Name) > len(resourceExt) && strings.EqualFold(r.Name[len(r.Name)-len(resourceExt):], resourceExt):
		return KindResource
	default:
		return KindOther
	}
}

// ResourceKey returns the name of a resource record without its extension.
func (r Record) ResourceKey() string {
	return r.Name[:len(r.Name)-len(resourceExt)]
}

// Archive is a parsed table of contents.
type Archive struct {
	Records []Record
	Size    int64
}

// Parse reads the table of contents of an archive of size bytes.
// maxRecords <= 0 means DefaultMaxRecords.
func Parse(r io.ReaderAt, size int64, maxRecords int) (*Archive, error) {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	if size < tableOffset {
		return nil, fmt.Errorf("%w: archive of %d bytes has no record count", fatype.ErrCorruptTOC, size)
	}

	var buf [4]byte
	if _, err := r.ReadAt(buf[:], countOffset); err != nil {
		return nil, fmt.Errorf("read record count: %w", err)
	}
	count := binary.LittleEndian.Uint32(buf[:])
	if count == 0 || count > uint32(maxRecords) {
		return nil, fmt.Errorf("%w: record count %d outside 1..%d", fatype.ErrCorruptTOC, count, maxRecords)
	}
	tableEnd := int64(tableOffset) + int64(count)*RecordSize
	if size < tableEnd {
		return nil, fmt.Errorf("%w: %d records need %d bytes, archive has %d", fatype.ErrCorruptTOC, count, tableEnd, size)
	}

	table := make([]byte, tableEnd-tableOffset)
	if _, err := r.ReadAt(table, tableOffset); err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}

	records := make([]Record, count)
	for i := range records {
		rec := table[i*RecordSize:]
		records[i] = Record{
			Index:  i,
			Name:   cString(rec[:NameSize]),
			Offset: binary.LittleEndian.Uint32(rec[NameSize:]),
		}
	}
	return &Archive{Records: records, Size: size}, nil
}

// TableEnd returns the offset right after the record table.
func (a *Archive) TableEnd() int64 {
	return tableOffset + int64(len(a.Records))*RecordSize
}

// BodyHeader reads the name and length stored in front of the body at off.
func BodyHeader(r io.ReaderAt, size int64, off uint32) (string, uint32, error) {
	if int64(off)+BodyHeaderSize > size {
		return "", 0, fmt.Errorf("%w: body at %d past end %d", fatype.ErrCorruptTOC, off, size)
	}
	var hdr [BodyHeaderSize]byte
	if _, err := r.ReadAt(hdr[:], int64(off)); err != nil {
		return "", 0, fmt.Errorf("read body header at %d: %w", off, err)
	}
	n := binary.LittleEndian.Uint32(hdr[NameSize:])
	if int64(off)+BodyHeaderSize+int64(n) > size {
		return "", 0, fmt.Errorf("%w: body at %d of %d bytes past end %d", fatype.ErrCorruptTOC, off, n, size)
	}
	return cString(hdr[:NameSize]), n, nil
}

// ReadBody returns the data of the body at off, without its header.
func ReadBody(r io.ReaderAt, size int64, off uint32) ([]byte, error) {
	_, n, err := BodyHeader(r, size, off)
	if err != nil {
		return nil, err
	}
	length, err := sizing.ToInt(n, fatype.ErrSizeOverflow)
	if err != nil {
		return nil, fmt.Errorf("body at %d: %w", off, err)
	}
	data := make([]byte, length)
	if _, err := r.ReadAt(data, int64(off)+BodyHeaderSize); err != nil {
		return nil, fmt.Errorf("read body at %d: %w", off, err)
	}
	return data, nil
}

// PadName encodes name into the 20-byte name field.
func PadName(name string) []byte {
	b := make([]byte, NameSize)
	copy(b, name)
	return b
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
