package fieldarchive

import (
	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/internal/fieldbin"
)

// Structural errors. ErrFormat is the parent of the others.
var (
	// ErrFormat is returned when a container or payload fails validation.
	ErrFormat = fatype.ErrFormat

	// ErrCorruptTOC is returned when an archive table of contents is invalid.
	ErrCorruptTOC = fatype.ErrCorruptTOC

	// ErrCorruptHeader is returned when a disk image header is invalid.
	ErrCorruptHeader = fatype.ErrCorruptHeader

	// ErrUnorderedSections is returned when section offsets decrease.
	ErrUnorderedSections = fatype.ErrUnorderedSections

	// ErrTruncated is returned when data ends before its declared size.
	ErrTruncated = fatype.ErrTruncated

	// ErrBadHeader is returned when a section table has unexpected values.
	ErrBadHeader = fatype.ErrBadHeader
)

// Errors re-exported from internal/fatype.
var (
	ErrEmptyArchive     = fatype.ErrEmptyArchive
	ErrNotFound         = fatype.ErrNotFound
	ErrOutOfRange       = fatype.ErrOutOfRange
	ErrSizeMismatch     = fatype.ErrSizeMismatch
	ErrPatternNotFound  = fatype.ErrPatternNotFound
	ErrAmbiguousPattern = fatype.ErrAmbiguousPattern
	ErrCodec            = fatype.ErrCodec
	ErrLocked           = fatype.ErrLocked
	ErrNotOpen          = fatype.ErrNotOpen
	ErrEditInProgress   = fatype.ErrEditInProgress
	ErrNoEdit           = fatype.ErrNoEdit
	ErrSizeOverflow     = fatype.ErrSizeOverflow
)

// PatternError reports a consolidated-index reference that could not be
// patched. It wraps ErrPatternNotFound or ErrAmbiguousPattern.
type PatternError = fieldbin.PatternError
