/*
Package cser implements the canonical binary encoding used for every consensus
message and block on the wire.

A message is two streams: a bit stream that carries flags and the byte length
of each integer, and a byte stream that carries the integer and blob payloads.
Integers are little endian and minimally sized; any encoding that is not the
shortest possible one is rejected, so a value has exactly one valid encoding
and its hash is stable across nodes.
*/
package cser

import (
	"errors"
	"math/big"

	"github.com/rony4d/go-asset-bft/utils/bits"
	"github.com/rony4d/go-asset-bft/utils/fast"
)

var (
	ErrNonCanonicalEncoding = errors.New("non canonical encoding")
	ErrMalformedEncoding    = errors.New("malformed encoding")
	ErrTooLargeAlloc        = errors.New("too large allocation")
	ErrNegativeBigInt       = errors.New("negative big integer")
	ErrValueTooBig          = errors.New("value does not fit the field")
)

// MaxAlloc bounds any single decoded blob.
const MaxAlloc = 1024 * 1024

// MaxBigIntBytes bounds the magnitude of a decoded big integer.
const MaxBigIntBytes = 64

// Writer writes both streams of a message.
type Writer struct {
	BitsW  *bits.Writer
	BytesW *fast.Writer
}

// Reader reads both streams of a message.
type Reader struct {
	BitsR  *bits.Reader
	BytesR *fast.Reader
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{
		BitsW:  bits.NewWriter(&bits.Array{Bytes: make([]byte, 0, 32)}),
		BytesW: fast.NewWriter(make([]byte, 0, 256)),
	}
}

// writeUint64Compact writes v in 7-bit groups; the high bit marks the last group.
func writeUint64Compact(bytesW *fast.Writer, v uint64) {
	for {
		chunk := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			bytesW.WriteByte(chunk | 0x80)
			return
		}
		bytesW.WriteByte(chunk)
	}
}

func readUint64Compact(bytesR *fast.Reader) uint64 {
	var v uint64
	for i := 0; ; i++ {
		if i > 9 {
			panic(ErrMalformedEncoding)
		}
		chunk := bytesR.ReadByte()
		word := uint64(chunk & 0x7f)
		v |= word << uint(7*i)
		if chunk&0x80 != 0 {
			if i > 0 && word == 0 {
				panic(ErrNonCanonicalEncoding)
			}
			return v
		}
	}
}

// writeUint64BitCompact writes the minimal little endian form of v, padded to minSize.
func writeUint64BitCompact(bytesW *fast.Writer, v uint64, minSize int) (size int) {
	for size < minSize || v != 0 {
		bytesW.WriteByte(byte(v))
		size++
		v >>= 8
	}
	return size
}

func readUint64BitCompact(bytesR *fast.Reader, size, minSize int) uint64 {
	buf := bytesR.Read(size)
	var v uint64
	for i, b := range buf {
		v |= uint64(b) << uint(8*i)
	}
	if size > minSize && buf[size-1] == 0 {
		panic(ErrNonCanonicalEncoding)
	}
	return v
}

func (w *Writer) writeSized(minSize, sizeBits int, v uint64) {
	size := writeUint64BitCompact(w.BytesW, v, minSize)
	w.BitsW.Write(sizeBits, uint(size-minSize))
}

func (r *Reader) readSized(minSize, sizeBits int) uint64 {
	size := int(r.BitsR.Read(sizeBits)) + minSize
	if size > 8 {
		panic(ErrMalformedEncoding)
	}
	return readUint64BitCompact(r.BytesR, size, minSize)
}

// U8 writes a raw byte.
func (w *Writer) U8(v uint8) {
	w.BytesW.WriteByte(v)
}

// U8 reads a raw byte.
func (r *Reader) U8() uint8 {
	return r.BytesR.ReadByte()
}

// U16 uses 1 size bit (1..2 bytes).
func (w *Writer) U16(v uint16) {
	w.writeSized(1, 1, uint64(v))
}

// U16 reads a value written by Writer.U16.
func (r *Reader) U16() uint16 {
	return uint16(r.readSized(1, 1))
}

// U32 uses 2 size bits (1..4 bytes).
func (w *Writer) U32(v uint32) {
	w.writeSized(1, 2, uint64(v))
}

// U32 reads a value written by Writer.U32.
func (r *Reader) U32() uint32 {
	v := r.readSized(1, 2)
	if v > 0xffffffff {
		panic(ErrMalformedEncoding)
	}
	return uint32(v)
}

// U64 uses 3 size bits (1..8 bytes).
func (w *Writer) U64(v uint64) {
	w.writeSized(1, 3, v)
}

// U64 reads a value written by Writer.U64.
func (r *Reader) U64() uint64 {
	return r.readSized(1, 3)
}

// U56 is the length prefix of slices; zero costs no bytes at all.
func (w *Writer) U56(v uint64) {
	if v > 1<<56-1 {
		panic(ErrValueTooBig)
	}
	w.writeSized(0, 3, v)
}

// U56 reads a value written by Writer.U56.
func (r *Reader) U56() uint64 {
	size := int(r.BitsR.Read(3))
	if size > 7 {
		panic(ErrMalformedEncoding)
	}
	return readUint64BitCompact(r.BytesR, size, 0)
}

// Bool is a single bit.
func (w *Writer) Bool(v bool) {
	u := uint(0)
	if v {
		u = 1
	}
	w.BitsW.Write(1, u)
}

// Bool reads a single bit.
func (r *Reader) Bool() bool {
	return r.BitsR.Read(1) != 0
}

// FixedBytes writes v without a length prefix.
func (w *Writer) FixedBytes(v []byte) {
	w.BytesW.Write(v)
}

// FixedBytes fills v completely.
func (r *Reader) FixedBytes(v []byte) {
	copy(v, r.BytesR.Read(len(v)))
}

// SliceBytes writes a U56 length followed by v.
func (w *Writer) SliceBytes(v []byte) {
	w.U56(uint64(len(v)))
	w.FixedBytes(v)
}

// SliceBytes reads a length-prefixed blob of at most maxLen bytes.
func (r *Reader) SliceBytes(maxLen int) []byte {
	size := r.U56()
	if size > uint64(maxLen) {
		panic(ErrTooLargeAlloc)
	}
	buf := make([]byte, size)
	r.FixedBytes(buf)
	return buf
}

// BigInt writes the big endian magnitude of a non-negative integer.
func (w *Writer) BigInt(v *big.Int) {
	if v == nil || v.Sign() == 0 {
		w.SliceBytes(nil)
		return
	}
	if v.Sign() < 0 {
		panic(ErrNegativeBigInt)
	}
	w.SliceBytes(v.Bytes())
}

// BigInt reads a value written by Writer.BigInt.
func (r *Reader) BigInt() *big.Int {
	buf := r.SliceBytes(MaxBigIntBytes)
	if len(buf) > 0 && buf[0] == 0 {
		panic(ErrNonCanonicalEncoding)
	}
	return new(big.Int).SetBytes(buf)
}
