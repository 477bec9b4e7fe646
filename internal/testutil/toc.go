package testutil

import (
	"encoding/binary"
)

// TOCRecord describes one record of a synthetic TOC archive.
type TOCRecord struct {
	Name string
	Data []byte

	// SameAs names an earlier record whose body this record shares.
	SameAs string
}

// TOCHeader is the 12-byte header written by BuildTOC.
var TOCHeader = []byte("\x00\x00SQUARESOFT")

// TOCMarker is the trailer written by BuildTOC.
var TOCMarker = []byte("FINAL FANTASY7")

// TOCRecordSize is the size of one table record.
const TOCRecordSize = 27

// BuildTOC assembles a TOC archive: header, count, records, an opaque
// region of lookup bytes, the bodies in record order, and the marker.
func BuildTOC(records []TOCRecord, lookup []byte) []byte {
	tableEnd := 16 + TOCRecordSize*len(records)
	out := make([]byte, tableEnd, tableEnd+len(lookup))
	copy(out, TOCHeader)
	binary.LittleEndian.PutUint32(out[12:], uint32(len(records)))
	out = append(out, lookup...)

	offsets := make(map[string]uint32, len(records))
	for i, r := range records {
		off, shared := offsets[r.SameAs]
		if r.SameAs == "" || !shared {
			off = uint32(len(out))
			out = append(out, TOCName(r.Name)...)
			out = binary.LittleEndian.AppendUint32(out, uint32(len(r.Data)))
			out = append(out, r.Data...)
		}
		offsets[r.Name] = off
		rec := out[16+i*TOCRecordSize:]
		copy(rec, TOCName(r.Name))
		binary.LittleEndian.PutUint32(rec[20:], off)
	}
	return append(out, TOCMarker...)
}

// TOCName pads name to the 20-byte record field.
func TOCName(name string) []byte {
	b := make([]byte, 20)
	copy(b, name)
	return b
}

// TOCOffset returns the body offset stored in record i.
func TOCOffset(archive []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(archive[16+i*TOCRecordSize+20:])
}
