package fatype

import (
	"errors"
	"fmt"
)

// ErrFormat is the parent of every structural validation failure.
var ErrFormat = errors.New("fieldarchive: invalid format")

// Structural errors. Each wraps ErrFormat.
var (
	ErrCorruptTOC        = fmt.Errorf("%w: corrupt table of contents", ErrFormat)
	ErrCorruptHeader     = fmt.Errorf("%w: corrupt header", ErrFormat)
	ErrUnorderedSections = fmt.Errorf("%w: unordered sections", ErrFormat)
	ErrTruncated         = fmt.Errorf("%w: truncated", ErrFormat)
	ErrBadHeader         = fmt.Errorf("%w: unexpected section table", ErrFormat)
)

var (
	// ErrEmptyArchive is returned by Open when the container holds no entries.
	ErrEmptyArchive = errors.New("fieldarchive: empty archive")

	// ErrNotFound is returned when an entry or auxiliary file does not exist.
	ErrNotFound = errors.New("fieldarchive: not found")

	// ErrOutOfRange is returned for a section id past the section count.
	ErrOutOfRange = errors.New("fieldarchive: section out of range")

	// ErrSizeMismatch is returned when a length prefix disagrees with the data.
	ErrSizeMismatch = errors.New("fieldarchive: size mismatch")

	// ErrPatternNotFound is returned when the consolidated index does not
	// reference a relocated file.
	ErrPatternNotFound = errors.New("fieldarchive: pattern not found")

	// ErrAmbiguousPattern is returned when a relocated file's reference cannot
	// be located unambiguously in the consolidated index.
	ErrAmbiguousPattern = errors.New("fieldarchive: ambiguous pattern")

	// ErrCodec is returned when compression or decompression fails.
	ErrCodec = errors.New("fieldarchive: codec failure")

	// ErrLocked is returned when another process holds a conflicting lock.
	ErrLocked = errors.New("fieldarchive: container is locked")

	// ErrNotOpen is returned when an operation needs an opened entry or catalog.
	ErrNotOpen = errors.New("fieldarchive: not open")

	// ErrEditInProgress is returned when an edit session is already active.
	ErrEditInProgress = errors.New("fieldarchive: edit in progress")

	// ErrNoEdit is returned when SetSection is called outside an edit session.
	ErrNoEdit = errors.New("fieldarchive: no edit in progress")

	// ErrSizeOverflow is returned when a size does not fit the on-disk field.
	ErrSizeOverflow = errors.New("fieldarchive: size overflow")
)
