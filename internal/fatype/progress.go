package fatype

// ProgressEvent represents a progress update during open, save, or verify.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Name is the entry currently being processed, if applicable.
	Name string

	// Done is the number of items completed in the current stage.
	Done int

	// Total is the total number of items in the current stage.
	// Zero indicates the total is unknown.
	Total int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages for open, save, and verify operations.
const (
	// StageEnumerating indicates the backend is listing entries.
	StageEnumerating ProgressStage = iota

	// StageCompressing indicates modified entries are being encoded and staged.
	StageCompressing

	// StageCommitting indicates the backend is writing the new container.
	StageCommitting

	// StageVerifying indicates entries are being decoded for verification.
	StageVerifying
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageEnumerating:
		return "enumerating"
	case StageCompressing:
		return "compressing"
	case StageCommitting:
		return "committing"
	case StageVerifying:
		return "verifying"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
type ProgressFunc func(ProgressEvent)

// Every returns how many items to skip between progress reports so that a
// loop over n items reports roughly fifty times.
func Every(n int) int {
	if n > 50 {
		return n / 50
	}
	return 1
}
