package cser

import (
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-asset-bft/utils/bits"
	"github.com/rony4d/go-asset-bft/utils/fast"
)

func randBytes(n int) []byte {
	bb := make([]byte, n)
	if _, err := rand.Read(bb); err != nil {
		panic(err)
	}
	return bb
}

func TestEmpty(t *testing.T) {
	buf, err := MarshalBinaryAdapter(func(w *Writer) error { return nil })
	require.NoError(t, err)
	require.Equal(t, []byte{0x80}, buf)

	err = UnmarshalBinaryAdapter(buf, func(r *Reader) error { return nil })
	require.NoError(t, err)
}

func TestVals(t *testing.T) {
	var (
		expBigInt     = []*big.Int{big.NewInt(0), big.NewInt(0xFFFFF), new(big.Int).Lsh(big.NewInt(1), 255)}
		expBool       = []bool{true, false, true}
		expFixedBytes = [][]byte{{}, randBytes(0xFF)}
		expSliceBytes = [][]byte{{}, randBytes(0xFF)}
		expU8         = []uint8{0, 1, 0xFF}
		expU16        = []uint16{0, 1, 0xFF, 0xFFFF}
		expU32        = []uint32{0, 1, 0xFFFF, 0xFFFFFFFF}
		expU64        = []uint64{0, 1, 0xFFFFFFFF, math.MaxUint64}
		expU56        = []uint64{0, 1, 1<<56 - 1}
	)

	buf, err := MarshalBinaryAdapter(func(w *Writer) error {
		for _, v := range expBigInt {
			w.BigInt(v)
		}
		for _, v := range expBool {
			w.Bool(v)
		}
		for _, v := range expFixedBytes {
			w.FixedBytes(v)
		}
		for _, v := range expSliceBytes {
			w.SliceBytes(v)
		}
		for _, v := range expU8 {
			w.U8(v)
		}
		for _, v := range expU16 {
			w.U16(v)
		}
		for _, v := range expU32 {
			w.U32(v)
		}
		for _, v := range expU64 {
			w.U64(v)
		}
		for _, v := range expU56 {
			w.U56(v)
		}
		return nil
	})
	require.NoError(t, err)

	err = UnmarshalBinaryAdapter(buf, func(r *Reader) error {
		for i, exp := range expBigInt {
			require.Equal(t, 0, exp.Cmp(r.BigInt()), "BigInt #%d", i)
		}
		for i, exp := range expBool {
			require.Equal(t, exp, r.Bool(), "Bool #%d", i)
		}
		for i, exp := range expFixedBytes {
			got := make([]byte, len(exp))
			r.FixedBytes(got)
			require.Equal(t, exp, got, "FixedBytes #%d", i)
		}
		for i, exp := range expSliceBytes {
			require.Equal(t, exp, r.SliceBytes(0xFF), "SliceBytes #%d", i)
		}
		for i, exp := range expU8 {
			require.Equal(t, exp, r.U8(), "U8 #%d", i)
		}
		for i, exp := range expU16 {
			require.Equal(t, exp, r.U16(), "U16 #%d", i)
		}
		for i, exp := range expU32 {
			require.Equal(t, exp, r.U32(), "U32 #%d", i)
		}
		for i, exp := range expU64 {
			require.Equal(t, exp, r.U64(), "U64 #%d", i)
		}
		for i, exp := range expU56 {
			require.Equal(t, exp, r.U56(), "U56 #%d", i)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestWriterPanicsBecomeErrors(t *testing.T) {
	_, err := MarshalBinaryAdapter(func(w *Writer) error {
		w.BigInt(big.NewInt(-1))
		return nil
	})
	require.Equal(t, ErrNegativeBigInt, err)

	_, err = MarshalBinaryAdapter(func(w *Writer) error {
		w.U56(1 << 56)
		return nil
	})
	require.Equal(t, ErrValueTooBig, err)

	errExp := errors.New("custom")
	_, err = MarshalBinaryAdapter(func(w *Writer) error {
		w.Bool(true)
		return errExp
	})
	require.Equal(t, errExp, err)
}

func TestDecodeErrors(t *testing.T) {
	valid, err := MarshalBinaryAdapter(func(w *Writer) error {
		w.U64(math.MaxUint64)
		w.Bool(true)
		return nil
	})
	require.NoError(t, err)

	readAll := func(r *Reader) error {
		_ = r.U64()
		_ = r.Bool()
		return nil
	}

	t.Run("nil input", func(t *testing.T) {
		require.Equal(t, ErrMalformedEncoding, UnmarshalBinaryAdapter(nil, readAll))
	})

	t.Run("callback error", func(t *testing.T) {
		errExp := errors.New("custom")
		err := UnmarshalBinaryAdapter(valid, func(r *Reader) error { return errExp })
		require.Equal(t, errExp, err)
	})

	t.Run("bit stream size too large", func(t *testing.T) {
		_, bbytes, err := unpack(append([]byte(nil), valid...))
		require.NoError(t, err)
		size := fast.NewWriter(nil)
		writeUint64Compact(size, uint64(len(bbytes)+1))
		corrupted := append(append([]byte(nil), bbytes...), reversed(size.Bytes())...)
		require.Equal(t, ErrMalformedEncoding, UnmarshalBinaryAdapter(corrupted, readAll))
	})

	repack := func(defect func(bbits, bbytes *[]byte) error) func(t *testing.T) {
		return func(t *testing.T) {
			bbits, bbytes, err := unpack(append([]byte(nil), valid...))
			require.NoError(t, err)
			bb := append([]byte(nil), bbytes...)
			bt := append([]byte(nil), bbits.Bytes...)
			errExp := defect(&bt, &bb)
			corrupted := pack(&bits.Array{Bytes: bt}, bb)
			require.Equal(t, errExp, UnmarshalBinaryAdapter(corrupted, readAll))
		}
	}

	t.Run("untouched", repack(func(bbits, bbytes *[]byte) error { return nil }))
	t.Run("extra byte", repack(func(bbits, bbytes *[]byte) error {
		*bbytes = append(*bbytes, 0xff)
		return ErrNonCanonicalEncoding
	}))
	t.Run("extra bit byte", repack(func(bbits, bbytes *[]byte) error {
		*bbits = append(*bbits, 0x0f)
		return ErrNonCanonicalEncoding
	}))
	t.Run("dirty padding", repack(func(bbits, bbytes *[]byte) error {
		(*bbits)[len(*bbits)-1] |= 0x80
		return ErrNonCanonicalEncoding
	}))
	t.Run("truncated bytes", repack(func(bbits, bbytes *[]byte) error {
		*bbytes = (*bbytes)[:len(*bbytes)-1]
		return ErrMalformedEncoding
	}))
}

func TestNonCanonicalIntegers(t *testing.T) {
	// U32 value 1 stored in two bytes
	w := NewWriter()
	w.BytesW.Write([]byte{1, 0})
	w.BitsW.Write(2, 1)
	raw := pack(w.BitsW.Array, w.BytesW.Bytes())
	err := UnmarshalBinaryAdapter(raw, func(r *Reader) error {
		_ = r.U32()
		return nil
	})
	require.Equal(t, ErrNonCanonicalEncoding, err)

	// U56 zero stored as a single zero byte
	w = NewWriter()
	w.BytesW.WriteByte(0)
	w.BitsW.Write(3, 1)
	raw = pack(w.BitsW.Array, w.BytesW.Bytes())
	err = UnmarshalBinaryAdapter(raw, func(r *Reader) error {
		_ = r.U56()
		return nil
	})
	require.Equal(t, ErrNonCanonicalEncoding, err)

	// big integer with a leading zero byte
	w = NewWriter()
	w.SliceBytes([]byte{0, 1})
	raw = pack(w.BitsW.Array, w.BytesW.Bytes())
	err = UnmarshalBinaryAdapter(raw, func(r *Reader) error {
		_ = r.BigInt()
		return nil
	})
	require.Equal(t, ErrNonCanonicalEncoding, err)
}

func TestAllocLimit(t *testing.T) {
	buf, err := MarshalBinaryAdapter(func(w *Writer) error {
		w.SliceBytes(randBytes(100))
		return nil
	})
	require.NoError(t, err)

	err = UnmarshalBinaryAdapter(buf, func(r *Reader) error {
		_ = r.SliceBytes(50)
		return nil
	})
	require.Equal(t, ErrTooLargeAlloc, err)
}
