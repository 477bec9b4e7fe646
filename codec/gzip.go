package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/internal/sizing"
)

// DefaultMaxDecompressedSize is the default decompressed size limit (256MB).
const DefaultMaxDecompressedSize = 256 << 20

// Gzip is a Codec backed by pooled gzip readers and writers.
type Gzip struct {
	level   int
	maxSize uint64
	readers sync.Pool
	writers sync.Pool
}

// GzipOption configures a Gzip codec.
type GzipOption func(*Gzip)

// WithGzipLevel sets the compression level (default gzip.BestCompression).
func WithGzipLevel(level int) GzipOption {
	return func(g *Gzip) {
		g.level = level
	}
}

// WithMaxDecompressedSize limits the size of a decompressed buffer.
// Set limit to 0 to disable the limit.
func WithMaxDecompressedSize(limit uint64) GzipOption {
	return func(g *Gzip) {
		g.maxSize = limit
	}
}

// NewGzip creates a gzip codec.
func NewGzip(opts ...GzipOption) *Gzip {
	g := &Gzip{
		level:   gzip.BestCompression,
		maxSize: DefaultMaxDecompressedSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Compress implements Codec.
func (g *Gzip) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, release, err := g.writer(&buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fatype.ErrCodec, err)
	}
	defer release()

	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("%w: %v", fatype.ErrCodec, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", fatype.ErrCodec, err)
	}
	return buf.Bytes(), nil
}

// Decompress implements Codec.
func (g *Gzip) Decompress(src []byte) ([]byte, error) {
	r, release, err := g.reader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fatype.ErrCodec, err)
	}
	defer release()

	var out []byte
	if g.maxSize == 0 {
		out, err = io.ReadAll(r)
	} else {
		out, err = sizing.ReadAllWithLimit(r, g.maxSize, fatype.ErrSizeOverflow)
	}
	if err != nil {
		if errors.Is(err, fatype.ErrSizeOverflow) {
			return nil, fmt.Errorf("%w: decompressed data exceeds %d bytes", fatype.ErrCodec, g.maxSize)
		}
		return nil, fmt.Errorf("%w: %v", fatype.ErrCodec, err)
	}
	return out, nil
}

// reader returns a gzip reader positioned on r together with a release
// function that returns it to the pool.
func (g *Gzip) reader(r io.Reader) (*gzip.Reader, func(), error) {
	if value := g.readers.Get(); value != nil {
		if zr, ok := value.(*gzip.Reader); ok {
			if err := zr.Reset(r); err == nil {
				return zr, func() { g.readers.Put(zr) }, nil
			}
		}
	}

	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr, func() { g.readers.Put(zr) }, nil
}

// writer returns a gzip writer targeting w together with a release function
// that returns it to the pool.
func (g *Gzip) writer(w io.Writer) (*gzip.Writer, func(), error) {
	if value := g.writers.Get(); value != nil {
		if zw, ok := value.(*gzip.Writer); ok {
			zw.Reset(w)
			return zw, func() { g.writers.Put(zw) }, nil
		}
	}

	zw, err := gzip.NewWriterLevel(w, g.level)
	if err != nil {
		return nil, nil, err
	}
	return zw, func() { g.writers.Put(zw) }, nil
}
