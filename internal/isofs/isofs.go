// Package isofs reads and relocates files inside an ISO9660 disk image.
// Both cooked images (2048-byte sectors) and raw Mode 2 Form 1 images
// (2352-byte sectors, as ripped from PlayStation discs) are supported; the
// mode is detected from the sync pattern of the first sector. All offsets
// and sizes of this package are logical, counted in 2048-byte sectors.
//
// Every file node carries two positions: where it is on disk (Location,
// Size) and where it is going (NewLocation, NewSize). NewSize is known as
// soon as the node gets new data; NewLocation only after Layout.
package isofs

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/meigma/fieldarchive/internal/cdsector"
	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/internal/sizing"
)

const (
	// SectorSize is the logical block size of supported images.
	SectorSize = cdsector.DataSize

	pvdSector     = 16
	pvdOffset     = pvdSector * SectorSize
	pvdVolumeSize = 80
	pvdRootRecord = 156

	recMinLen   = 34
	recLocation = 2
	recSize     = 10
	recFlags    = 25
	recNameLen  = 32
	recName     = 33
	flagDir     = 0x02

	maxDepth = 8
)

// Node is a file or directory of the image.
type Node struct {
	Name     string
	IsDir    bool
	Children []*Node

	Location    uint32
	Size        uint32
	NewLocation uint32
	NewSize     uint32

	recordOffset int64
	modified     bool
	data         []byte
}

// IsModified reports whether the node has pending data.
func (n *Node) IsModified() bool { return n.modified }

// SetData stages new contents for the node.
func (n *Node) SetData(data []byte) error {
	size, err := sizing.ToUint32(len(data), fatype.ErrSizeOverflow)
	if err != nil {
		return fmt.Errorf("set data of %s: %w", n.Name, err)
	}
	n.data = data
	n.NewSize = size
	n.NewLocation = n.Location
	n.modified = true
	return nil
}

// Data returns the staged contents.
func (n *Node) Data() []byte { return n.data }

// Moved reports whether the staged position differs from the current one.
func (n *Node) Moved() bool {
	return n.modified && (n.Location != n.NewLocation || n.Size != n.NewSize)
}

// Child returns the child named name, compared case-insensitively.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// Files returns the regular files directly below n.
func (n *Node) Files() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if !c.IsDir {
			out = append(out, c)
		}
	}
	return out
}

func (n *Node) sectors() uint32 { return sizing.SectorsFor(n.Size, SectorSize) }

func (n *Node) newSectors() uint32 { return sizing.SectorsFor(n.NewSize, SectorSize) }

// Image is the parsed directory tree of a disk image.
type Image struct {
	Root *Node

	// Sectors is the volume space size recorded in the volume descriptor.
	Sectors uint32

	newSectors uint32
	size       int64
	raw        bool
	last       []*Node
}

// Raw reports whether the image stores 2352-byte raw sectors.
func (img *Image) Raw() bool { return img.raw }

// Read parses the primary volume descriptor and the whole directory tree.
func Read(r io.ReaderAt, size int64) (*Image, error) {
	img := &Image{size: size}
	head := make([]byte, cdsector.HeaderSize)
	if size >= int64(len(head)) {
		if _, err := r.ReadAt(head, 0); err != nil {
			return nil, fmt.Errorf("read image header: %w", err)
		}
		if cdsector.IsRaw(head) {
			img.raw = true
			img.size = size / cdsector.Size * SectorSize
		}
	}
	if img.size < pvdOffset+SectorSize {
		return nil, fmt.Errorf("%w: image of %d bytes has no volume descriptor", fatype.ErrCorruptHeader, size)
	}
	pvd := make([]byte, SectorSize)
	if err := img.readAt(r, pvd, pvdOffset); err != nil {
		return nil, fmt.Errorf("read volume descriptor: %w", err)
	}
	if pvd[0] != 1 || string(pvd[1:6]) != "CD001" {
		return nil, fmt.Errorf("%w: no primary volume descriptor at sector %d", fatype.ErrCorruptHeader, pvdSector)
	}

	root, err := parseRecord(pvd[pvdRootRecord:], pvdOffset+pvdRootRecord)
	if err != nil {
		return nil, err
	}
	root.Name = ""
	root.IsDir = true

	img.Root = root
	img.Sectors = binary.LittleEndian.Uint32(pvd[pvdVolumeSize:])
	img.newSectors = img.Sectors

	visited := map[uint32]bool{root.Location: true}
	if err := img.readDir(r, root, visited, 0); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *Image) readDir(r io.ReaderAt, dir *Node, visited map[uint32]bool, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: directory tree deeper than %d", fatype.ErrCorruptHeader, maxDepth)
	}
	start := int64(dir.Location) * SectorSize
	if start+int64(dir.Size) > img.size {
		return fmt.Errorf("%w: directory %q extends past end of image", fatype.ErrTruncated, dir.Name)
	}
	extent := make([]byte, dir.Size)
	if err := img.readAt(r, extent, start); err != nil {
		return fmt.Errorf("read directory %q: %w", dir.Name, err)
	}

	for pos := 0; pos < len(extent); {
		n := int(extent[pos])
		if n == 0 {
			// Records never cross sectors; the rest of this one is padding.
			pos = (pos/SectorSize + 1) * SectorSize
			continue
		}
		if pos+n > len(extent) {
			return fmt.Errorf("%w: record in %q overruns its directory", fatype.ErrCorruptHeader, dir.Name)
		}
		node, err := parseRecord(extent[pos:pos+n], start+int64(pos))
		if err != nil {
			return err
		}
		pos += n
		if node.Name == "\x00" || node.Name == "\x01" {
			continue
		}
		dir.Children = append(dir.Children, node)

		if node.IsDir && !visited[node.Location] {
			visited[node.Location] = true
			if err := img.readDir(r, node, visited, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseRecord(rec []byte, offset int64) (*Node, error) {
	if len(rec) < recMinLen || int(rec[0]) < recMinLen || int(rec[0]) > len(rec) {
		return nil, fmt.Errorf("%w: directory record at %d too short", fatype.ErrCorruptHeader, offset)
	}
	nameLen := int(rec[recNameLen])
	if recName+nameLen > int(rec[0]) {
		return nil, fmt.Errorf("%w: directory record name at %d overruns record", fatype.ErrCorruptHeader, offset)
	}
	name := string(rec[recName : recName+nameLen])
	if i := strings.IndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}
	n := &Node{
		Name:         name,
		IsDir:        rec[recFlags]&flagDir != 0,
		Location:     binary.LittleEndian.Uint32(rec[recLocation:]),
		Size:         binary.LittleEndian.Uint32(rec[recSize:]),
		recordOffset: offset,
	}
	n.NewLocation = n.Location
	n.NewSize = n.Size
	return n, nil
}

// Find returns the node at a slash-separated path, case-insensitively.
func (img *Image) Find(path string) (*Node, error) {
	n := img.Root
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		if n = n.Child(part); n == nil {
			return nil, fmt.Errorf("%s: %w", path, fatype.ErrNotFound)
		}
	}
	return n, nil
}

// ReadFile reads the on-disk contents of n.
func (img *Image) ReadFile(r io.ReaderAt, n *Node) ([]byte, error) {
	off := int64(n.Location) * SectorSize
	if off+int64(n.Size) > img.size {
		return nil, fmt.Errorf("%w: %s extends past end of image", fatype.ErrTruncated, n.Name)
	}
	data := make([]byte, n.Size)
	if err := img.readAt(r, data, off); err != nil {
		return nil, fmt.Errorf("read %s: %w", n.Name, err)
	}
	return data, nil
}

// readAt fills p from logical offset off.
func (img *Image) readAt(r io.ReaderAt, p []byte, off int64) error {
	if !img.raw {
		_, err := r.ReadAt(p, off)
		return err
	}
	for len(p) > 0 {
		n := min(len(p), SectorSize-int(off%SectorSize))
		if _, err := r.ReadAt(p[:n], cdsector.Offset(off)); err != nil {
			return err
		}
		p = p[n:]
		off += int64(n)
	}
	return nil
}

// Modified returns every modified file in tree order.
func (img *Image) Modified() []*Node {
	var out []*Node
	walk(img.Root, func(n *Node) {
		if n.modified {
			out = append(out, n)
		}
	})
	return out
}

// NewSectors returns the volume size computed by the last Layout.
func (img *Image) NewSectors() uint32 { return img.newSectors }

func walk(n *Node, fn func(*Node)) {
	for _, c := range n.Children {
		fn(c)
		if c.IsDir {
			walk(c, fn)
		}
	}
}
