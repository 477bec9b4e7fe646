package fieldarchive

import "github.com/meigma/fieldarchive/internal/fatype"

// Re-export progress types from internal/fatype.
type (
	// ProgressEvent represents a progress update during open, save, or verify.
	ProgressEvent = fatype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = fatype.ProgressStage

	// ProgressFunc receives progress updates. Verify calls it from several
	// goroutines, one call at a time.
	ProgressFunc = fatype.ProgressFunc

	// PayloadKind selects the primary payload or an auxiliary one.
	PayloadKind = fatype.PayloadKind
)

// Re-export progress stage constants.
const (
	StageEnumerating = fatype.StageEnumerating
	StageCompressing = fatype.StageCompressing
	StageCommitting  = fatype.StageCommitting
	StageVerifying   = fatype.StageVerifying
)

// Re-export payload kinds.
const (
	PayloadPrimary = fatype.PayloadPrimary
	PayloadAux1    = fatype.PayloadAux1
	PayloadAux2    = fatype.PayloadAux2
)
