package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fieldarchive/internal/fatype"
)

func TestWrapStrip(t *testing.T) {
	t.Parallel()

	wrapped, err := Wrap([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0, 0, 0, 'p', 'a', 'y', 'l', 'o', 'a', 'd'}, wrapped)
	assert.True(t, Valid(wrapped))

	inner, err := Strip(wrapped)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), inner)
}

func TestStripEmpty(t *testing.T) {
	t.Parallel()

	inner, err := Strip([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	assert.Empty(t, inner)
}

func TestStripMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte{1, 0}},
		{"prefix too large", []byte{9, 0, 0, 0, 1, 2}},
		{"prefix too small", []byte{1, 0, 0, 0, 1, 2}},
		{"overflowing prefix", []byte{0xFF, 0xFF, 0xFF, 0xFF, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Strip(tc.data)
			require.ErrorIs(t, err, fatype.ErrSizeMismatch)
			assert.False(t, Valid(tc.data))
		})
	}
}
