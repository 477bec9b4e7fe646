// Package backend provides the physical containers a field archive can live
// in: a directory of loose files, a single flat file, a table-of-contents
// archive, and a disk image.
//
// Every stored payload is enveloped: a little-endian u32 length followed by
// that many compressed bytes. Backends hand envelopes in and out as-is;
// validation and decompression happen in the catalog.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/meigma/fieldarchive/codec"
	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/section"
)

// Locator identifies where a backend stores an entry. Each backend has its
// own locator type.
type Locator interface {
	locator()
}

// Record is one entry found by Enumerate.
type Record struct {
	Name string
	Loc  Locator
}

// Backend is a physical container of enveloped payloads.
type Backend interface {
	// Enumerate lists the entries in physical order.
	Enumerate(ctx context.Context) ([]Record, error)

	// ReadEntry returns the stored envelope of one payload kind of an entry.
	ReadEntry(loc Locator, kind fatype.PayloadKind) ([]byte, error)

	// BeginSave starts writing the container to target. An empty target
	// means the current path.
	BeginSave(target string) (Tx, error)

	// Close releases file handles and locks.
	Close() error
}

// Tx is a pending save. Nothing is visible at the target before Commit.
type Tx interface {
	// WriteEntry stages a new envelope for loc and returns the locator the
	// entry has once the transaction commits.
	WriteEntry(loc Locator, data []byte) (Locator, error)

	// Commit makes every staged entry durable at the target.
	Commit(ctx context.Context) error

	// Rollback discards staged entries. It is safe to call after Commit.
	Rollback() error
}

// Layouter is implemented by backends that know the section layout of
// their payloads.
type Layouter interface {
	SectionLayout() section.Layout
}

// ResourceLister is implemented by backends that carry auxiliary resources
// next to the field entries.
type ResourceLister interface {
	Resources() []Record
}

// Sizer is implemented by backends that can report the stored size of a
// payload without reading it.
type Sizer interface {
	EntrySize(loc Locator, kind fatype.PayloadKind) (int64, error)
}

// Pather is implemented by backends stored at a filesystem path.
type Pather interface {
	Path() string
}

// Option configures a backend.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	progress   fatype.ProgressFunc
	maxRecords int
	fieldDir   string
	indexCodec codec.Codec
}

func newOptions(opts []Option) options {
	o := options{fieldDir: "FIELD"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.indexCodec == nil {
		o.indexCodec = codec.NewGzip()
	}
	return o
}

func (o *options) report(stage fatype.ProgressStage, name string, done, total int) {
	if o.progress == nil {
		return
	}
	if done != total && done%fatype.Every(total) != 0 {
		return
	}
	o.progress(fatype.ProgressEvent{Stage: stage, Name: name, Done: done, Total: total})
}

// WithLogger sets the logger. Nil discards log output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithProgress sets a callback for enumeration and commit progress.
func WithProgress(fn fatype.ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithMaxRecords bounds the record count of a table-of-contents archive
// (default 1000).
func WithMaxRecords(n int) Option {
	return func(o *options) {
		o.maxRecords = n
	}
}

// WithFieldDir sets the directory of a disk image holding the field files
// (default "FIELD").
func WithFieldDir(dir string) Option {
	return func(o *options) {
		o.fieldDir = dir
	}
}

// WithIndexCodec sets the codec of the disk-image consolidated index
// (default gzip).
func WithIndexCodec(c codec.Codec) Option {
	return func(o *options) {
		o.indexCodec = c
	}
}

// Detect opens the backend matching path: a directory, a disk image
// (.iso, .bin), a flat file (.dat), or otherwise a table-of-contents
// archive.
func Detect(path string, opts ...Option) (Backend, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if fi.IsDir() {
		return OpenDir(path, opts...)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".iso", ".bin":
		return OpenDisk(path, opts...)
	case ".dat":
		return OpenFlat(path, opts...)
	default:
		return OpenTOC(path, opts...)
	}
}

// entryName derives an entry name from a file name: lower case, without
// extension.
func entryName(file string) string {
	return strings.ToLower(strings.TrimSuffix(file, filepath.Ext(file)))
}
