package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gofrs/flock"

	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/section"
)

const tempPrefix = ".fieldarchive-"

// DirLocator names the primary file of an entry in a directory.
type DirLocator struct {
	File string
}

func (DirLocator) locator() {}

// Dir is a directory of loose NAME.DAT files with optional NAME.MIM and
// NAME.BSX siblings.
type Dir struct {
	root string
	lock *flock.Flock
	opts options
}

var (
	_ Backend  = (*Dir)(nil)
	_ Layouter = (*Dir)(nil)
	_ Pather   = (*Dir)(nil)
	_ Sizer    = (*Dir)(nil)
)

// OpenDir opens the directory at path and takes a shared lock on it.
func OpenDir(path string, opts ...Option) (*Dir, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("open directory: %s is not a directory", path)
	}
	lock, err := lockShared(path)
	if err != nil {
		return nil, err
	}
	return &Dir{root: path, lock: lock, opts: newOptions(opts)}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.root }

// SectionLayout returns the PS field DAT layout.
func (d *Dir) SectionLayout() section.Layout { return section.DatLayout{} }

// Enumerate lists the regular *.DAT files, sorted by entry name.
func (d *Dir) Enumerate(ctx context.Context) ([]Record, error) {
	ents, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var out []Record
	for i, e := range ents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.opts.report(fatype.StageEnumerating, e.Name(), i+1, len(ents))
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), ".DAT") {
			continue
		}
		out = append(out, Record{Name: entryName(e.Name()), Loc: DirLocator{File: e.Name()}})
	}
	slices.SortStableFunc(out, func(a, b Record) int { return strings.Compare(a.Name, b.Name) })
	d.opts.logger.Debug("enumerated directory", "path", d.root, "entries", len(out))
	return out, nil
}

// ReadEntry reads the primary file or one of its siblings.
func (d *Dir) ReadEntry(loc Locator, kind fatype.PayloadKind) ([]byte, error) {
	l, ok := loc.(DirLocator)
	if !ok {
		return nil, fmt.Errorf("directory locator %T: %w", loc, fatype.ErrNotFound)
	}
	return readLoose(d.root, l.File, kind)
}

// EntrySize returns the size of the primary file or its sibling.
func (d *Dir) EntrySize(loc Locator, kind fatype.PayloadKind) (int64, error) {
	l, ok := loc.(DirLocator)
	if !ok {
		return 0, fmt.Errorf("directory locator %T: %w", loc, fatype.ErrNotFound)
	}
	return statLoose(d.root, l.File, kind)
}

func statLoose(dir, file string, kind fatype.PayloadKind) (int64, error) {
	if kind != fatype.PayloadPrimary {
		sibling, err := findSibling(dir, file, kind)
		if err != nil {
			return 0, err
		}
		file = sibling
	}
	fi, err := os.Stat(filepath.Join(dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%s: %w", file, fatype.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", file, err)
	}
	return fi.Size(), nil
}

// readLoose reads file from dir, or its sibling for an auxiliary kind.
func readLoose(dir, file string, kind fatype.PayloadKind) ([]byte, error) {
	if kind != fatype.PayloadPrimary {
		sibling, err := findSibling(dir, file, kind)
		if err != nil {
			return nil, err
		}
		file = sibling
	}
	data, err := os.ReadFile(filepath.Join(dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", file, fatype.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return data, nil
}

// findSibling finds the file holding kind next to file, matching the
// extension case-insensitively.
func findSibling(dir, file string, kind fatype.PayloadKind) (string, error) {
	want := strings.TrimSuffix(file, filepath.Ext(file)) + kind.Extension()
	if fi, err := os.Stat(filepath.Join(dir, want)); err == nil && fi.Mode().IsRegular() {
		return want, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read directory: %w", err)
	}
	for _, e := range ents {
		if e.Type().IsRegular() && strings.EqualFold(e.Name(), want) {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("%s: %w", want, fatype.ErrNotFound)
}

// BeginSave starts a save into target. Saving into another directory
// copies every unmodified file there.
func (d *Dir) BeginSave(target string) (Tx, error) {
	if target == "" {
		target = d.root
	}
	saveAs := !samePath(d.root, target)
	if saveAs {
		if err := os.MkdirAll(target, 0o750); err != nil {
			return nil, fmt.Errorf("create target directory: %w", err)
		}
	}
	return &dirTx{d: d, target: target, saveAs: saveAs, written: make(map[string]bool)}, nil
}

// Close releases the directory lock.
func (d *Dir) Close() error {
	return d.lock.Unlock()
}

type dirTx struct {
	d       *Dir
	target  string
	saveAs  bool
	files   []staged
	written map[string]bool
}

func (tx *dirTx) WriteEntry(loc Locator, data []byte) (Locator, error) {
	l, ok := loc.(DirLocator)
	if !ok {
		return nil, fmt.Errorf("directory locator %T: %w", loc, fatype.ErrNotFound)
	}
	s, err := stageFile(filepath.Join(tx.target, l.File), data)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", l.File, err)
	}
	tx.files = append(tx.files, s)
	tx.written[l.File] = true
	return l, nil
}

// Commit renames every staged file over its target; each file is replaced
// atomically on its own.
func (tx *dirTx) Commit(ctx context.Context) error {
	if tx.saveAs {
		if err := tx.stageCopies(ctx); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return err
	}
	if len(tx.files) == 0 {
		return nil
	}

	files := tx.files
	tx.files = nil
	err := replaceLocked(tx.d.lock, tx.target, func() error {
		for i, s := range files {
			tx.d.opts.report(fatype.StageCommitting, filepath.Base(s.target), i+1, len(files))
			if err := s.commit(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = discardAll(files)
		return err
	}

	if tx.saveAs {
		lock, err := moveLock(tx.d.lock, tx.target)
		tx.d.lock = lock
		if err != nil {
			return err
		}
		tx.d.root = tx.target
	}
	return nil
}

func (tx *dirTx) stageCopies(ctx context.Context) error {
	ents, err := os.ReadDir(tx.d.root)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}
	for _, e := range ents {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.Type().IsRegular() || tx.written[e.Name()] || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		s, err := stageCopy(filepath.Join(tx.target, e.Name()), filepath.Join(tx.d.root, e.Name()))
		if err != nil {
			return fmt.Errorf("copy %s: %w", e.Name(), err)
		}
		tx.files = append(tx.files, s)
	}
	return nil
}

func (tx *dirTx) Rollback() error {
	err := discardAll(tx.files)
	tx.files = nil
	return err
}
