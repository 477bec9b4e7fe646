package testutil

import (
	"bytes"
	"encoding/binary"
	"slices"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/meigma/fieldarchive/internal/cdsector"
)

// ISOSector is the sector size written by BuildISO.
const ISOSector = 2048

// ISOFile is one file of a synthetic disk image. Dir is empty for the root
// directory or a single directory name.
type ISOFile struct {
	Dir  string
	Name string
	Data []byte
}

// ISOImage is a synthetic image and the sector of every file, keyed by
// "DIR/NAME" (or "NAME" in the root).
type ISOImage struct {
	Data     []byte
	Location map[string]uint32
}

// BuildISO writes a minimal ISO9660 image: system area, primary volume
// descriptor, terminator, one sector per directory, then file data in the
// given order.
func BuildISO(files []ISOFile) ISOImage {
	var dirs []string
	for _, f := range files {
		if f.Dir != "" && !slices.Contains(dirs, f.Dir) {
			dirs = append(dirs, f.Dir)
		}
	}
	const rootLBA = 18
	dirLBA := make(map[string]uint32, len(dirs))
	for i, d := range dirs {
		dirLBA[d] = rootLBA + 1 + uint32(i)
	}

	next := rootLBA + 1 + uint32(len(dirs))
	loc := make(map[string]uint32, len(files))
	for _, f := range files {
		loc[key(f.Dir, f.Name)] = next
		next += sectors(len(f.Data))
	}
	total := next

	img := make([]byte, int(total)*ISOSector)

	pvd := img[16*ISOSector:]
	pvd[0] = 1
	copy(pvd[1:], "CD001")
	pvd[6] = 1
	putBoth32(pvd[80:], total)
	binary.LittleEndian.PutUint16(pvd[128:], ISOSector)
	binary.BigEndian.PutUint16(pvd[130:], ISOSector)
	copy(pvd[156:], dirRecord("\x00", rootLBA, ISOSector, true))

	term := img[17*ISOSector:]
	term[0] = 255
	copy(term[1:], "CD001")
	term[6] = 1

	root := dirEntries(rootLBA, rootLBA)
	for _, d := range dirs {
		root = append(root, dirRecord(d, dirLBA[d], ISOSector, true)...)
	}
	for _, f := range files {
		if f.Dir == "" {
			root = append(root, dirRecord(f.Name+";1", loc[f.Name], uint32(len(f.Data)), false)...)
		}
	}
	copy(img[rootLBA*ISOSector:], root)

	for _, d := range dirs {
		sub := dirEntries(dirLBA[d], rootLBA)
		for _, f := range files {
			if f.Dir == d {
				sub = append(sub, dirRecord(f.Name+";1", loc[key(d, f.Name)], uint32(len(f.Data)), false)...)
			}
		}
		copy(img[dirLBA[d]*ISOSector:], sub)
	}

	for _, f := range files {
		copy(img[loc[key(f.Dir, f.Name)]*ISOSector:], f.Data)
	}
	return ISOImage{Data: img, Location: loc}
}

// RawImage converts a cooked image into raw 2352-byte Mode 2 Form 1
// sectors, the layout of a PlayStation .bin rip.
func RawImage(iso []byte) []byte {
	count := len(iso) / ISOSector
	out := make([]byte, count*cdsector.Size)
	for i := range count {
		cdsector.Encode(out[i*cdsector.Size:], uint32(i), iso[i*ISOSector:(i+1)*ISOSector], cdsector.SubmodeData)
	}
	return out
}

// CookedImage extracts the user data of every raw sector.
func CookedImage(raw []byte) []byte {
	count := len(raw) / cdsector.Size
	out := make([]byte, 0, count*ISOSector)
	for i := range count {
		s := raw[i*cdsector.Size:]
		out = append(out, s[cdsector.HeaderSize:cdsector.HeaderSize+ISOSector]...)
	}
	return out
}

// InvalidRawSector returns the first raw sector whose error detection code
// does not match its contents, or -1.
func InvalidRawSector(raw []byte) int {
	for i := range len(raw) / cdsector.Size {
		if !cdsector.Valid(raw[i*cdsector.Size : (i+1)*cdsector.Size]) {
			return i
		}
	}
	return -1
}

func key(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func sectors(n int) uint32 {
	return uint32((n + ISOSector - 1) / ISOSector)
}

func dirEntries(self, parent uint32) []byte {
	out := dirRecord("\x00", self, ISOSector, true)
	return append(out, dirRecord("\x01", parent, ISOSector, true)...)
}

func dirRecord(name string, lba, size uint32, dir bool) []byte {
	n := 33 + len(name)
	if n%2 == 1 {
		n++
	}
	r := make([]byte, n)
	r[0] = byte(n)
	putBoth32(r[2:], lba)
	putBoth32(r[10:], size)
	if dir {
		r[25] = 0x02
	}
	binary.LittleEndian.PutUint16(r[28:], 1)
	binary.BigEndian.PutUint16(r[30:], 1)
	r[32] = byte(len(name))
	copy(r[33:], name)
	return r
}

func putBoth32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
	binary.BigEndian.PutUint32(b[4:], v)
}

// ISORecord reads the both-endian location and size of a directory record
// at offset off of img.
func ISORecord(img []byte, off int) (uint32, uint32) {
	return binary.LittleEndian.Uint32(img[off+2:]), binary.LittleEndian.Uint32(img[off+10:])
}

// FieldBin wraps index in the consolidated-index envelope: decompressed
// size, decompressed size minus 51588, gzip stream.
func FieldBin(tb testing.TB, index []byte) []byte {
	tb.Helper()
	var buf bytes.Buffer
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(index))))
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(index))-51588))
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(index); err != nil {
		tb.Fatalf("gzip index: %v", err)
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("gzip index: %v", err)
	}
	return buf.Bytes()
}

// UnFieldBin returns the decompressed index of a consolidated-index file.
func UnFieldBin(tb testing.TB, data []byte) []byte {
	tb.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data[8:]))
	if err != nil {
		tb.Fatalf("gunzip index: %v", err)
	}
	var out bytes.Buffer
	if _, err := out.ReadFrom(zr); err != nil {
		tb.Fatalf("gunzip index: %v", err)
	}
	return out.Bytes()
}

// Ref encodes the 8-byte (location, size) reference stored in the index.
func Ref(location, size uint32) []byte {
	b := binary.LittleEndian.AppendUint32(nil, location)
	return binary.LittleEndian.AppendUint32(b, size)
}
