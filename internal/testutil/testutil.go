// Package testutil builds synthetic field archives for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

// IdentityCodec stores payloads uncompressed so stored sizes are exact.
type IdentityCodec struct{}

// Compress returns a copy of src.
func (IdentityCodec) Compress(src []byte) ([]byte, error) { return bytes.Clone(src), nil }

// Decompress returns a copy of src.
func (IdentityCodec) Decompress(src []byte) ([]byte, error) { return bytes.Clone(src), nil }

// Envelope prefixes data with its little-endian u32 length.
func Envelope(data []byte) []byte {
	out := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(data)), uint32(len(data)))
	return append(out, data...)
}

// DatPayload builds a PS field DAT payload whose pointer table is based at
// base, one section per argument. Exactly seven sections are expected.
func DatPayload(base uint32, sections ...[]byte) []byte {
	header := make([]byte, 4*len(sections))
	pos := uint32(len(header))
	var body []byte
	for i, s := range sections {
		binary.LittleEndian.PutUint32(header[i*4:], base+pos)
		body = append(body, s...)
		pos += uint32(len(s))
	}
	return append(header, body...)
}

// PCPayload builds a PC field payload, one length-prefixed section per
// argument. Exactly nine sections are expected.
func PCPayload(sections ...[]byte) []byte {
	header := make([]byte, 6+4*len(sections))
	binary.LittleEndian.PutUint32(header[2:], uint32(len(sections)))
	pos := uint32(len(header))
	var body []byte
	for i, s := range sections {
		binary.LittleEndian.PutUint32(header[6+i*4:], pos)
		body = binary.LittleEndian.AppendUint32(body, uint32(len(s)))
		body = append(body, s...)
		pos += 4 + uint32(len(s))
	}
	return append(header, body...)
}

// Sections returns n sections of distinct sizes filled with seeded bytes.
func Sections(seed uint64, n int) [][]byte {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([][]byte, n)
	for i := range out {
		s := make([]byte, 8+rng.IntN(64))
		for j := range s {
			s[j] = byte(rng.UintN(256))
		}
		out[i] = s
	}
	return out
}

// WriteFile writes data to dir/name and returns the full path.
func WriteFile(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}

// ReadFile reads path or fails the test.
func ReadFile(tb testing.TB, path string) []byte {
	tb.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test paths
	if err != nil {
		tb.Fatalf("read %s: %v", path, err)
	}
	return data
}
