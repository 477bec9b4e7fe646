package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/internal/fieldbin"
	"github.com/meigma/fieldarchive/internal/isofs"
	"github.com/meigma/fieldarchive/section"
)

// DiskLocator addresses an entry of the field directory of a disk image.
// Its nodes follow the files when the image is rewritten.
type DiskLocator struct {
	node *isofs.Node
	aux  [fatype.PayloadKindCount]*isofs.Node
}

func (*DiskLocator) locator() {}

// File returns the name of the primary file.
func (l *DiskLocator) File() string { return l.node.Name }

// Location returns the sector and byte size of the primary file.
func (l *DiskLocator) Location() (uint32, uint32) { return l.node.Location, l.node.Size }

// Disk is an ISO9660 disk image, cooked (2048-byte sectors) or raw
// (2352-byte Mode 2 sectors), whose field directory holds NAME.DAT entries,
// NAME.MIM and NAME.BSX siblings, and the consolidated index FIELD.BIN.
type Disk struct {
	path string
	file *os.File
	img  *isofs.Image
	dir  *isofs.Node
	lock *flock.Flock
	opts options
}

var (
	_ Backend  = (*Disk)(nil)
	_ Layouter = (*Disk)(nil)
	_ Pather   = (*Disk)(nil)
	_ Sizer    = (*Disk)(nil)
)

// OpenDisk opens the image at path and takes a shared lock on it.
func OpenDisk(path string, opts ...Option) (*Disk, error) {
	lock, err := lockShared(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // caller-supplied image path
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open image: %w", err)
	}
	return &Disk{path: path, file: f, lock: lock, opts: newOptions(opts)}, nil
}

// Path returns the image path.
func (d *Disk) Path() string { return d.path }

// SectionLayout returns the PS field DAT layout.
func (d *Disk) SectionLayout() section.Layout { return section.DatLayout{} }

// Enumerate reads the directory tree and lists the *.DAT files of the field
// directory, skipping world map files (WM*).
func (d *Disk) Enumerate(ctx context.Context) ([]Record, error) {
	if err := d.read(); err != nil {
		return nil, err
	}

	files := d.dir.Files()
	var out []Record
	for i, n := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.opts.report(fatype.StageEnumerating, n.Name, i+1, len(files))

		upper := strings.ToUpper(n.Name)
		if !strings.HasSuffix(upper, ".DAT") || strings.HasPrefix(upper, "WM") {
			continue
		}
		loc := &DiskLocator{node: n}
		base := strings.TrimSuffix(n.Name, filepath.Ext(n.Name))
		for _, kind := range []fatype.PayloadKind{fatype.PayloadAux1, fatype.PayloadAux2} {
			loc.aux[kind] = d.dir.Child(base + kind.Extension())
		}
		out = append(out, Record{Name: entryName(n.Name), Loc: loc})
	}
	d.opts.logger.Debug("enumerated image", "path", d.path, "files", len(files), "entries", len(out))
	return out, nil
}

func (d *Disk) read() error {
	fi, err := d.file.Stat()
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}
	img, err := isofs.Read(d.file, fi.Size())
	if err != nil {
		return err
	}
	dir, err := img.Find(d.opts.fieldDir)
	if err != nil || !dir.IsDir {
		return fmt.Errorf("%w: no %s directory in image", fatype.ErrCorruptHeader, d.opts.fieldDir)
	}
	d.img = img
	d.dir = dir
	return nil
}

// ReadEntry reads the primary file or one of its siblings.
func (d *Disk) ReadEntry(loc Locator, kind fatype.PayloadKind) ([]byte, error) {
	n, err := diskNode(loc, kind)
	if err != nil {
		return nil, err
	}
	return d.img.ReadFile(d.file, n)
}

// EntrySize returns the recorded size of the primary file or a sibling.
func (d *Disk) EntrySize(loc Locator, kind fatype.PayloadKind) (int64, error) {
	n, err := diskNode(loc, kind)
	if err != nil {
		return 0, err
	}
	return int64(n.Size), nil
}

func diskNode(loc Locator, kind fatype.PayloadKind) (*isofs.Node, error) {
	l, ok := loc.(*DiskLocator)
	if !ok {
		return nil, fmt.Errorf("image locator %T: %w", loc, fatype.ErrNotFound)
	}
	if kind == fatype.PayloadPrimary {
		return l.node, nil
	}
	if kind >= fatype.PayloadKindCount || l.aux[kind] == nil {
		return nil, fmt.Errorf("%s of %s: %w", kind, l.node.Name, fatype.ErrNotFound)
	}
	return l.aux[kind], nil
}

// BeginSave starts rewriting the image into target.
func (d *Disk) BeginSave(target string) (Tx, error) {
	if d.img == nil {
		return nil, fmt.Errorf("save image: %w", fatype.ErrNotOpen)
	}
	if target == "" {
		target = d.path
	}
	return &diskTx{d: d, target: target}, nil
}

// Close releases the file and its lock.
func (d *Disk) Close() error {
	err := d.file.Close()
	if uerr := d.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

type diskTx struct {
	d      *Disk
	target string
}

func (tx *diskTx) WriteEntry(loc Locator, data []byte) (Locator, error) {
	l, ok := loc.(*DiskLocator)
	if !ok {
		return nil, fmt.Errorf("image locator %T: %w", loc, fatype.ErrNotFound)
	}
	if err := l.node.SetData(data); err != nil {
		return nil, err
	}
	return l, nil
}

// Commit lays out the modified files, patches the consolidated index with
// their new positions, and writes the image through a temp file.
func (tx *diskTx) Commit(ctx context.Context) error {
	d := tx.d
	saveAs := !samePath(d.path, tx.target)
	if len(d.img.Modified()) == 0 && !saveAs {
		return nil
	}

	if err := tx.stageIndex(); err != nil {
		d.img.Discard()
		return err
	}

	out, err := stageStream(tx.target, func(f *os.File) error {
		d.opts.report(fatype.StageCommitting, filepath.Base(tx.target), 0, 1)
		if _, err := io.Copy(f, io.NewSectionReader(d.file, 0, 1<<62)); err != nil {
			return fmt.Errorf("copy image: %w", err)
		}
		if err := d.img.Write(ctx, f); err != nil {
			return err
		}
		return f.Sync()
	})
	if err != nil {
		d.img.Discard()
		return fmt.Errorf("write image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = out.discard()
		d.img.Discard()
		return err
	}

	if err := replaceLocked(d.lock, tx.target, out.commit); err != nil {
		_ = out.discard()
		d.img.Discard()
		return err
	}
	d.opts.report(fatype.StageCommitting, filepath.Base(tx.target), 1, 1)

	if err := d.reopen(tx.target); err != nil {
		return err
	}
	if saveAs {
		lock, err := moveLock(d.lock, tx.target)
		d.lock = lock
		if err != nil {
			return err
		}
	}
	return nil
}

// reopen switches to the image written at path and makes the staged
// positions current. On error the staged changes are dropped and the
// current file stays in use.
func (d *Disk) reopen(path string) error {
	f, err := os.Open(path) //nolint:gosec // path written by this commit
	if err != nil {
		d.img.Discard()
		return fmt.Errorf("reopen image: %w", err)
	}
	_ = d.file.Close()
	d.file = f
	d.path = path
	d.img.Apply()
	return nil
}

// stageIndex lays out the field files, then rewrites the index references
// of every file that moved and lays out the index after them.
func (tx *diskTx) stageIndex() error {
	d := tx.d
	index := d.dir.Child(fieldbin.FileName)
	if index == nil {
		return fmt.Errorf("%s: %w", fieldbin.FileName, fatype.ErrNotFound)
	}
	if err := d.img.Layout(index); err != nil {
		return err
	}

	var relocs []fieldbin.Relocation
	for _, n := range d.dir.Files() {
		if !n.IsModified() || n == index || strings.HasSuffix(strings.ToUpper(n.Name), ".X") {
			continue
		}
		relocs = append(relocs, fieldbin.Relocation{
			Name:        n.Name,
			OldLocation: n.Location,
			OldSize:     n.Size,
			NewLocation: n.NewLocation,
			NewSize:     n.NewSize,
		})
	}

	moved := false
	for _, r := range relocs {
		moved = moved || r.Moved()
	}
	if !moved {
		return nil
	}

	data, err := d.img.ReadFile(d.file, index)
	if err != nil {
		return err
	}
	patched, err := fieldbin.Patch(data, relocs, d.opts.indexCodec)
	if err != nil {
		return err
	}
	if err := index.SetData(patched); err != nil {
		return err
	}
	d.opts.logger.Debug("patched consolidated index", "relocated", len(relocs), "size", len(patched))
	return d.img.Layout(index)
}

func (tx *diskTx) Rollback() error {
	tx.d.img.Discard()
	return nil
}
