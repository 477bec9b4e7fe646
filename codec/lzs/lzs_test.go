package lzs

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fieldarchive/internal/fatype"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	random := make([]byte, 10000)
	for i := range random {
		random[i] = byte(rng.IntN(256))
	}
	lowEntropy := make([]byte, 20000)
	for i := range lowEntropy {
		lowEntropy[i] = byte(rng.IntN(4))
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"single byte", []byte{0x42}},
		{"short", []byte("abc")},
		{"repeated run", bytes.Repeat([]byte{0}, 5000)},
		{"text", bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 300)},
		{"random", random},
		{"low entropy", lowEntropy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var c Codec
			packed, err := c.Compress(tt.data)
			require.NoError(t, err)
			out, err := c.Decompress(packed)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(out))
			assert.True(t, bytes.Equal(tt.data, out))
		})
	}
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("ABCDEFGH"), 1000)
	packed, err := Codec{}.Compress(data)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(data)/4)
}

func TestDecompressLiteralsOnly(t *testing.T) {
	t.Parallel()

	out, err := Codec{}.Decompress([]byte{0xFF, 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 0x01, 'i'})
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdefghi"), out)
}

func TestDecompressReferenceIntoZeroedRing(t *testing.T) {
	t.Parallel()

	// A reference to ring offset 0 before anything is written there yields zeros.
	out, err := Codec{}.Decompress([]byte{0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, out)
}

func TestDecompressTruncatedReference(t *testing.T) {
	t.Parallel()

	_, err := Codec{}.Decompress([]byte{0x00, 0x12})
	require.ErrorIs(t, err, fatype.ErrCodec)
}

func TestDecompressLimit(t *testing.T) {
	t.Parallel()

	packed, err := Codec{}.Compress(bytes.Repeat([]byte{7}, 1000))
	require.NoError(t, err)

	_, err = Codec{MaxDecompressedSize: 100}.Decompress(packed)
	require.ErrorIs(t, err, fatype.ErrCodec)
}
