package toc

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/internal/sizing"
)

// Progress is called after each emitted body.
type Progress func(done, total int)

// Repack streams a rewritten copy of the archive read from src to w.
//
// Bodies are emitted in ascending order of their original offset. Bodies
// listed in replace (keyed by original offset) get the new data and length;
// all others are copied verbatim. Records sharing an offset keep sharing one
// body. Everything before the first body is copied verbatim except the
// record offsets, which are rewritten. The context is checked between
// bodies.
//
// The returned map gives the new offset of every original body offset.
func Repack(ctx context.Context, w io.Writer, src io.ReaderAt, a *Archive, replace map[uint32][]byte, progress Progress) (map[uint32]uint32, error) {
	offsets := make([]uint32, 0, len(a.Records))
	for _, rec := range a.Records {
		offsets = append(offsets, rec.Offset)
	}
	slices.Sort(offsets)
	offsets = slices.Compact(offsets)

	first := offsets[0]
	if int64(first) < a.TableEnd() {
		return nil, fmt.Errorf("%w: first body at %d overlaps table ending at %d", fatype.ErrCorruptTOC, first, a.TableEnd())
	}

	oldLen := make(map[uint32]uint32, len(offsets))
	remap := make(map[uint32]uint32, len(offsets))
	cursor := first
	for _, off := range offsets {
		_, n, err := BodyHeader(src, a.Size, off)
		if err != nil {
			return nil, err
		}
		oldLen[off] = n
		if data, ok := replace[off]; ok {
			if n, err = sizing.ToUint32(len(data), fatype.ErrSizeOverflow); err != nil {
				return nil, fmt.Errorf("body at %d: %w", off, err)
			}
		}
		remap[off] = cursor
		next, ok := sizing.AddUint32(cursor, BodyHeaderSize)
		if ok {
			next, ok = sizing.AddUint32(next, n)
		}
		if !ok {
			return nil, fmt.Errorf("repacked archive: %w", fatype.ErrSizeOverflow)
		}
		cursor = next
	}

	prefix := make([]byte, first)
	if _, err := src.ReadAt(prefix, 0); err != nil {
		return nil, fmt.Errorf("read archive prefix: %w", err)
	}
	for _, rec := range a.Records {
		binary.LittleEndian.PutUint32(prefix[tableOffset+rec.Index*RecordSize+NameSize:], remap[rec.Offset])
	}

	bw := bufio.NewWriterSize(w, 64<<10)
	if _, err := bw.Write(prefix); err != nil {
		return nil, fmt.Errorf("write archive prefix: %w", err)
	}

	for i, off := range offsets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := writeBody(bw, src, off, oldLen[off], replace); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(i+1, len(offsets))
		}
	}

	if _, err := bw.Write(Marker); err != nil {
		return nil, fmt.Errorf("write marker: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("flush archive: %w", err)
	}
	return remap, nil
}

func writeBody(w io.Writer, src io.ReaderAt, off, oldLen uint32, replace map[uint32][]byte) error {
	data, ok := replace[off]
	if !ok {
		body := io.NewSectionReader(src, int64(off), BodyHeaderSize+int64(oldLen))
		if _, err := io.Copy(w, body); err != nil {
			return fmt.Errorf("copy body at %d: %w", off, err)
		}
		return nil
	}

	name := make([]byte, NameSize)
	if _, err := src.ReadAt(name, int64(off)); err != nil {
		return fmt.Errorf("read body name at %d: %w", off, err)
	}
	if _, err := w.Write(binary.LittleEndian.AppendUint32(name, uint32(len(data)))); err != nil {
		return fmt.Errorf("write body header at %d: %w", off, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write body at %d: %w", off, err)
	}
	return nil
}
