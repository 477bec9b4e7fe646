package fatype

// PayloadKind selects which of an entry's associated buffers is requested.
type PayloadKind uint8

const (
	// PayloadPrimary is the entry's field data.
	PayloadPrimary PayloadKind = iota

	// PayloadAux1 is the background image data (.MIM) stored next to the entry.
	PayloadAux1

	// PayloadAux2 is the model loader data (.BSX) stored next to the entry.
	PayloadAux2

	// PayloadKindCount is the number of payload kinds.
	PayloadKindCount
)

// String returns the human-readable name of the payload kind.
func (k PayloadKind) String() string {
	switch k {
	case PayloadPrimary:
		return "primary"
	case PayloadAux1:
		return "mim"
	case PayloadAux2:
		return "bsx"
	default:
		return "unknown"
	}
}

// Extension returns the file extension used for the kind in loose-file and
// disk-image containers.
func (k PayloadKind) Extension() string {
	switch k {
	case PayloadAux1:
		return ".MIM"
	case PayloadAux2:
		return ".BSX"
	default:
		return ".DAT"
	}
}
