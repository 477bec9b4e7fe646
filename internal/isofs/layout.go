package isofs

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/meigma/fieldarchive/internal/cdsector"
	"github.com/meigma/fieldarchive/internal/fatype"
)

// ReadWriterAt is the staged copy of an image that Write updates in place.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Layout assigns NewLocation to every modified file. Files are visited in
// order of their current location; a file whose new contents fit its
// current sectors stays in place, any other file is appended after the end
// of the volume. The nodes in last are laid out, and later written, after
// all others. Layout can be called again after more nodes were modified.
func (img *Image) Layout(last ...*Node) error {
	img.last = slices.DeleteFunc(slices.Clone(last), func(n *Node) bool { return n == nil })
	var first []*Node
	for _, n := range img.Modified() {
		if !slices.Contains(img.last, n) {
			first = append(first, n)
		}
	}
	slices.SortStableFunc(first, func(a, b *Node) int { return cmp.Compare(a.Location, b.Location) })

	end := uint64(img.Sectors)
	place := func(n *Node) {
		if n.newSectors() <= n.sectors() {
			n.NewLocation = n.Location
			return
		}
		n.NewLocation = uint32(end)
		end += uint64(n.newSectors())
	}
	for _, n := range first {
		place(n)
	}
	for _, n := range img.last {
		if n.modified {
			place(n)
		}
	}
	if end > 0xFFFFFFFF {
		return fmt.Errorf("layout image: %w", fatype.ErrSizeOverflow)
	}
	img.newSectors = uint32(end)
	return nil
}

// Write stores the data of every modified file at its new location, then
// rewrites the affected directory records and the volume size. f must hold
// a copy of the current image; in a raw image every touched sector gets a
// fresh header and error correction. Files are written in tree order except
// for the nodes last passed to Layout, which come after all others. The
// context is checked between files.
func (img *Image) Write(ctx context.Context, f ReadWriterAt) error {
	for _, n := range img.writeOrder() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := img.writeFile(f, n); err != nil {
			return err
		}
	}

	var both [8]byte
	for _, n := range img.Modified() {
		putBoth32(both[:], n.NewLocation)
		if err := img.patch(f, both[:], n.recordOffset+recLocation); err != nil {
			return fmt.Errorf("patch record of %s: %w", n.Name, err)
		}
		putBoth32(both[:], n.NewSize)
		if err := img.patch(f, both[:], n.recordOffset+recSize); err != nil {
			return fmt.Errorf("patch record of %s: %w", n.Name, err)
		}
	}

	putBoth32(both[:], img.newSectors)
	if err := img.patch(f, both[:], pvdOffset+pvdVolumeSize); err != nil {
		return fmt.Errorf("patch volume size: %w", err)
	}
	return nil
}

func (img *Image) writeOrder() []*Node {
	var out, tail []*Node
	for _, n := range img.Modified() {
		if slices.Contains(img.last, n) {
			continue
		}
		out = append(out, n)
	}
	for _, n := range img.last {
		if n.modified && !slices.Contains(tail, n) {
			tail = append(tail, n)
		}
	}
	return append(out, tail...)
}

func (img *Image) writeFile(w io.WriterAt, n *Node) error {
	if img.raw {
		return writeRawFile(w, n)
	}
	off := int64(n.NewLocation) * SectorSize
	if _, err := w.WriteAt(n.data, off); err != nil {
		return fmt.Errorf("write %s: %w", n.Name, err)
	}
	if pad := int(n.newSectors())*SectorSize - len(n.data); pad > 0 {
		if _, err := w.WriteAt(make([]byte, pad), off+int64(len(n.data))); err != nil {
			return fmt.Errorf("pad %s: %w", n.Name, err)
		}
	}
	return nil
}

func writeRawFile(w io.WriterAt, n *Node) error {
	count := int(n.newSectors())
	if count == 0 {
		return nil
	}
	buf := make([]byte, count*cdsector.Size)
	for i := range count {
		chunk := n.data[min(i*SectorSize, len(n.data)):min((i+1)*SectorSize, len(n.data))]
		submode := byte(cdsector.SubmodeData)
		if i == count-1 {
			submode = cdsector.SubmodeEOF
		}
		cdsector.Encode(buf[i*cdsector.Size:], n.NewLocation+uint32(i), chunk, submode)
	}
	if _, err := w.WriteAt(buf, int64(n.NewLocation)*cdsector.Size); err != nil {
		return fmt.Errorf("write %s: %w", n.Name, err)
	}
	return nil
}

// patch overwrites b at logical offset off. b must not cross a sector.
func (img *Image) patch(f ReadWriterAt, b []byte, off int64) error {
	if !img.raw {
		_, err := f.WriteAt(b, off)
		return err
	}
	start := off / SectorSize * cdsector.Size
	sector := make([]byte, cdsector.Size)
	if _, err := f.ReadAt(sector, start); err != nil {
		return err
	}
	copy(sector[cdsector.HeaderSize+off%SectorSize:], b)
	cdsector.Refresh(sector)
	_, err := f.WriteAt(sector, start)
	return err
}

// Apply makes the staged positions current once the image was written.
func (img *Image) Apply() {
	for _, n := range img.Modified() {
		n.Location = n.NewLocation
		n.Size = n.NewSize
		n.modified = false
		n.data = nil
	}
	img.Sectors = img.newSectors
	img.size = max(img.size, int64(img.Sectors)*SectorSize)
	img.last = nil
}

// Discard drops every staged change.
func (img *Image) Discard() {
	for _, n := range img.Modified() {
		n.NewLocation = n.Location
		n.NewSize = n.Size
		n.modified = false
		n.data = nil
	}
	img.newSectors = img.Sectors
	img.last = nil
}

func putBoth32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
	binary.BigEndian.PutUint32(b[4:], v)
}
