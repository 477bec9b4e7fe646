// Package codec defines the whole-buffer compression interface used by the
// field archive and provides the gzip codec of the disk-image consolidated
// index. The per-entry LZS codec lives in the lzs subpackage.
package codec

// Codec transforms a complete buffer. Implementations must be safe for
// concurrent use.
type Codec interface {
	// Compress returns the compressed form of src.
	Compress(src []byte) ([]byte, error)

	// Decompress returns the original bytes of a buffer produced by Compress.
	Decompress(src []byte) ([]byte, error)
}
