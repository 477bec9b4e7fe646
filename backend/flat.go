package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/section"
)

// FlatLocator addresses the single entry of a flat file.
type FlatLocator struct{}

func (FlatLocator) locator() {}

// Flat is a single enveloped payload file. Auxiliary kinds live in sibling
// files of the same directory.
type Flat struct {
	path string
	lock *flock.Flock
	opts options
}

var (
	_ Backend  = (*Flat)(nil)
	_ Layouter = (*Flat)(nil)
	_ Pather   = (*Flat)(nil)
	_ Sizer    = (*Flat)(nil)
)

// OpenFlat opens the flat file at path and takes a shared lock on it.
func OpenFlat(path string, opts ...Option) (*Flat, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open flat file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("open flat file: %s is not a regular file", path)
	}
	lock, err := lockShared(path)
	if err != nil {
		return nil, err
	}
	return &Flat{path: path, lock: lock, opts: newOptions(opts)}, nil
}

// Path returns the file path.
func (f *Flat) Path() string { return f.path }

// SectionLayout returns the PS field DAT layout.
func (f *Flat) SectionLayout() section.Layout { return section.DatLayout{} }

// Enumerate returns the single entry, named after the file.
func (f *Flat) Enumerate(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := entryName(filepath.Base(f.path))
	f.opts.report(fatype.StageEnumerating, name, 1, 1)
	return []Record{{Name: name, Loc: FlatLocator{}}}, nil
}

// ReadEntry reads the file, or a sibling for auxiliary kinds.
func (f *Flat) ReadEntry(loc Locator, kind fatype.PayloadKind) ([]byte, error) {
	if _, ok := loc.(FlatLocator); !ok {
		return nil, fmt.Errorf("flat locator %T: %w", loc, fatype.ErrNotFound)
	}
	return readLoose(filepath.Dir(f.path), filepath.Base(f.path), kind)
}

// EntrySize returns the size of the file or its sibling.
func (f *Flat) EntrySize(loc Locator, kind fatype.PayloadKind) (int64, error) {
	if _, ok := loc.(FlatLocator); !ok {
		return 0, fmt.Errorf("flat locator %T: %w", loc, fatype.ErrNotFound)
	}
	return statLoose(filepath.Dir(f.path), filepath.Base(f.path), kind)
}

// BeginSave starts a save into target.
func (f *Flat) BeginSave(target string) (Tx, error) {
	if target == "" {
		target = f.path
	}
	return &flatTx{f: f, target: target}, nil
}

// Close releases the file lock.
func (f *Flat) Close() error {
	return f.lock.Unlock()
}

type flatTx struct {
	f      *Flat
	target string
	file   staged
}

func (tx *flatTx) WriteEntry(loc Locator, data []byte) (Locator, error) {
	if _, ok := loc.(FlatLocator); !ok {
		return nil, fmt.Errorf("flat locator %T: %w", loc, fatype.ErrNotFound)
	}
	s, err := stageFile(tx.target, data)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", tx.target, err)
	}
	_ = tx.file.discard()
	tx.file = s
	return FlatLocator{}, nil
}

// Commit renames the staged file over the target. Saving an unmodified
// file elsewhere copies it.
func (tx *flatTx) Commit(ctx context.Context) error {
	saveAs := !samePath(tx.f.path, tx.target)
	if tx.file.tmp == "" {
		if !saveAs {
			return nil
		}
		s, err := stageCopy(tx.target, tx.f.path)
		if err != nil {
			return fmt.Errorf("copy %s: %w", tx.f.path, err)
		}
		tx.file = s
	}
	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return err
	}

	file := tx.file
	tx.file = staged{}
	tx.f.opts.report(fatype.StageCommitting, filepath.Base(tx.target), 1, 1)
	if err := replaceLocked(tx.f.lock, tx.target, file.commit); err != nil {
		_ = file.discard()
		return err
	}

	if saveAs {
		lock, err := moveLock(tx.f.lock, tx.target)
		tx.f.lock = lock
		if err != nil {
			return err
		}
		tx.f.path = tx.target
	}
	return nil
}

func (tx *flatTx) Rollback() error {
	err := tx.file.discard()
	tx.file = staged{}
	return err
}
