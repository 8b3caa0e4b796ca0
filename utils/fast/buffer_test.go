package fast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	const n = 64
	tail := []byte{0, 0xff, 7}

	w := NewWriter(make([]byte, 0, n/2))
	for i := byte(0); i < n; i++ {
		w.WriteByte(i)
	}
	w.Write(tail)
	require.Equal(t, n+len(tail), w.Len())

	r := NewReader(w.Bytes())
	require.Equal(t, n+len(tail), r.Remaining())
	for i := byte(0); i < n; i++ {
		require.Equal(t, i, r.ReadByte())
	}
	require.Equal(t, n, r.Position())
	require.Equal(t, tail, r.Read(len(tail)))
	require.True(t, r.Empty())
	require.Equal(t, 0, r.Remaining())
}

func TestReaderOutOfBounds(t *testing.T) {
	t.Run("ReadByte on empty", func(t *testing.T) {
		r := NewReader(nil)
		require.PanicsWithValue(t, ErrOutOfBounds, func() { r.ReadByte() })
	})

	t.Run("Read past end", func(t *testing.T) {
		r := NewReader([]byte{1, 2, 3})
		require.Equal(t, []byte{1, 2}, r.Read(2))
		require.PanicsWithValue(t, ErrOutOfBounds, func() { r.Read(2) })
		// a failed read leaves the cursor where it was
		require.Equal(t, 2, r.Position())
	})

	t.Run("negative length", func(t *testing.T) {
		r := NewReader([]byte{1})
		require.PanicsWithValue(t, ErrOutOfBounds, func() { r.Read(-1) })
	})
}

func TestWriterNilBuffer(t *testing.T) {
	w := NewWriter(nil)
	w.WriteByte(0xaa)
	w.Write([]byte{0xbb})
	require.Equal(t, []byte{0xaa, 0xbb}, w.Bytes())
}
