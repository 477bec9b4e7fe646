package sizing

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOverflow = errors.New("overflow")

func TestToUint32(t *testing.T) {
	t.Parallel()

	v, err := ToUint32(42, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)

	_, err = ToUint32(-1, errOverflow)
	require.ErrorIs(t, err, errOverflow)
}

func TestAddUint32(t *testing.T) {
	t.Parallel()

	sum, ok := AddUint32(1, 2)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), sum)

	_, ok = AddUint32(math.MaxUint32, 1)
	assert.False(t, ok)
}

func TestSectorsFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    uint32
		want uint32
	}{
		{0, 0},
		{1, 1},
		{2048, 1},
		{2049, 2},
		{4096, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SectorsFor(tt.n, 2048), "n=%d", tt.n)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data, err := ReadAllWithLimit(bytes.NewReader([]byte("abcd")), 4, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	_, err = ReadAllWithLimit(bytes.NewReader([]byte("abcde")), 4, errOverflow)
	require.ErrorIs(t, err, errOverflow)
}
