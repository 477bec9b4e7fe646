package backend

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/gofrs/flock"

	"github.com/meigma/fieldarchive/internal/envelope"
	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/internal/toc"
	"github.com/meigma/fieldarchive/section"
)

// TOCLocator addresses a body of a table-of-contents archive. The offset
// follows the body when the archive is repacked.
type TOCLocator struct {
	Offset uint32
}

func (*TOCLocator) locator() {}

// TOC is a table-of-contents archive. Field entries use the PC layout;
// .tut records are exposed as resources.
type TOC struct {
	path    string
	file    *os.File
	archive *toc.Archive
	locs    []*TOCLocator
	res     []Record
	lock    *flock.Flock
	opts    options
}

var (
	_ Backend        = (*TOC)(nil)
	_ Layouter       = (*TOC)(nil)
	_ Pather         = (*TOC)(nil)
	_ ResourceLister = (*TOC)(nil)
	_ Sizer          = (*TOC)(nil)
)

// OpenTOC opens the archive at path and takes a shared lock on it.
func OpenTOC(path string, opts ...Option) (*TOC, error) {
	lock, err := lockShared(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // caller-supplied archive path
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &TOC{path: path, file: f, lock: lock, opts: newOptions(opts)}, nil
}

// Path returns the archive path.
func (t *TOC) Path() string { return t.path }

// SectionLayout returns the PC field layout.
func (t *TOC) SectionLayout() section.Layout { return section.PCLayout{} }

// Resources returns the .tut records found by the last Enumerate, named
// without their extension.
func (t *TOC) Resources() []Record { return slices.Clone(t.res) }

// Enumerate parses the table and returns the field entries in ascending
// body order. Bodies whose envelope does not fill the body are skipped.
func (t *TOC) Enumerate(ctx context.Context) ([]Record, error) {
	if err := t.parse(); err != nil {
		return nil, err
	}

	recs := slices.Clone(t.archive.Records)
	slices.SortStableFunc(recs, func(a, b toc.Record) int { return cmp.Compare(a.Offset, b.Offset) })

	byOffset := make(map[uint32]*TOCLocator, len(recs))
	locFor := func(off uint32) *TOCLocator {
		if l, ok := byOffset[off]; ok {
			return l
		}
		l := &TOCLocator{Offset: off}
		byOffset[off] = l
		t.locs = append(t.locs, l)
		return l
	}

	var out []Record
	t.res = nil
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.opts.report(fatype.StageEnumerating, rec.Name, i+1, len(recs))

		switch rec.Kind() {
		case toc.KindResource:
			t.res = append(t.res, Record{Name: rec.ResourceKey(), Loc: locFor(rec.Offset)})
		case toc.KindField:
			ok, err := t.enveloped(rec.Offset)
			if err != nil {
				return nil, err
			}
			if !ok {
				t.opts.logger.Warn("skipping record with mismatched envelope", "name", rec.Name, "offset", rec.Offset)
				continue
			}
			out = append(out, Record{Name: rec.Name, Loc: locFor(rec.Offset)})
		}
	}
	t.opts.logger.Debug("enumerated archive", "path", t.path, "records", len(recs), "entries", len(out), "resources", len(t.res))
	return out, nil
}

func (t *TOC) parse() error {
	a, err := t.parseFile(t.file)
	if err != nil {
		return err
	}
	t.archive = a
	t.locs = nil
	return nil
}

func (t *TOC) parseFile(f *os.File) (*toc.Archive, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return toc.Parse(f, fi.Size(), t.opts.maxRecords)
}

// enveloped reports whether the body at off holds exactly one envelope.
func (t *TOC) enveloped(off uint32) (bool, error) {
	_, n, err := toc.BodyHeader(t.file, t.archive.Size, off)
	if err != nil {
		return false, err
	}
	if n < envelope.PrefixSize {
		return false, nil
	}
	var prefix [envelope.PrefixSize]byte
	if _, err := t.file.ReadAt(prefix[:], int64(off)+toc.BodyHeaderSize); err != nil {
		return false, fmt.Errorf("read body at %d: %w", off, err)
	}
	return uint64(binary.LittleEndian.Uint32(prefix[:]))+envelope.PrefixSize == uint64(n), nil
}

// ReadEntry returns the body addressed by loc. Archives carry no auxiliary
// kinds.
func (t *TOC) ReadEntry(loc Locator, kind fatype.PayloadKind) ([]byte, error) {
	l, ok := loc.(*TOCLocator)
	if !ok {
		return nil, fmt.Errorf("archive locator %T: %w", loc, fatype.ErrNotFound)
	}
	if kind != fatype.PayloadPrimary {
		return nil, fmt.Errorf("%s payload in archive: %w", kind, fatype.ErrNotFound)
	}
	if t.archive == nil {
		return nil, fmt.Errorf("read archive body: %w", fatype.ErrNotOpen)
	}
	return toc.ReadBody(t.file, t.archive.Size, l.Offset)
}

// EntrySize returns the length recorded in the body header.
func (t *TOC) EntrySize(loc Locator, kind fatype.PayloadKind) (int64, error) {
	l, ok := loc.(*TOCLocator)
	if !ok {
		return 0, fmt.Errorf("archive locator %T: %w", loc, fatype.ErrNotFound)
	}
	if kind != fatype.PayloadPrimary {
		return 0, fmt.Errorf("%s payload in archive: %w", kind, fatype.ErrNotFound)
	}
	if t.archive == nil {
		return 0, fmt.Errorf("size archive body: %w", fatype.ErrNotOpen)
	}
	_, n, err := toc.BodyHeader(t.file, t.archive.Size, l.Offset)
	return int64(n), err
}

// BeginSave starts a repack into target.
func (t *TOC) BeginSave(target string) (Tx, error) {
	if t.archive == nil {
		return nil, fmt.Errorf("save archive: %w", fatype.ErrNotOpen)
	}
	if target == "" {
		target = t.path
	}
	return &tocTx{t: t, target: target, replace: make(map[uint32][]byte)}, nil
}

// Close releases the file and its lock.
func (t *TOC) Close() error {
	err := t.file.Close()
	if uerr := t.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

type tocTx struct {
	t       *TOC
	target  string
	replace map[uint32][]byte
}

func (tx *tocTx) WriteEntry(loc Locator, data []byte) (Locator, error) {
	l, ok := loc.(*TOCLocator)
	if !ok {
		return nil, fmt.Errorf("archive locator %T: %w", loc, fatype.ErrNotFound)
	}
	tx.replace[l.Offset] = data
	return l, nil
}

// Commit repacks the archive into a temp file next to the target and
// renames it into place, then moves every locator to its new offset.
func (tx *tocTx) Commit(ctx context.Context) error {
	t := tx.t
	saveAs := !samePath(t.path, tx.target)
	if len(tx.replace) == 0 && !saveAs {
		return nil
	}

	var remap map[uint32]uint32
	out, err := stageStream(tx.target, func(w *os.File) error {
		var err error
		remap, err = toc.Repack(ctx, w, t.file, t.archive, tx.replace, func(done, total int) {
			t.opts.report(fatype.StageCommitting, filepath.Base(tx.target), done, total)
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("repack archive: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = out.discard()
		return err
	}

	if err := replaceLocked(t.lock, tx.target, out.commit); err != nil {
		_ = out.discard()
		return err
	}
	tx.replace = nil

	if err := t.reopen(tx.target, remap); err != nil {
		return err
	}
	if saveAs {
		lock, err := moveLock(t.lock, tx.target)
		t.lock = lock
		if err != nil {
			return err
		}
	}
	return nil
}

// reopen switches to the archive at path and moves every locator through
// remap. On error the current file, table, and offsets are kept.
func (t *TOC) reopen(path string, remap map[uint32]uint32) error {
	f, err := os.Open(path) //nolint:gosec // path written by this commit
	if err != nil {
		return fmt.Errorf("reopen archive: %w", err)
	}
	a, err := t.parseFile(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	_ = t.file.Close()
	t.file = f
	t.archive = a
	t.path = path
	for _, l := range t.locs {
		l.Offset = remap[l.Offset]
	}
	return nil
}

func (tx *tocTx) Rollback() error {
	tx.replace = make(map[uint32][]byte)
	return nil
}
