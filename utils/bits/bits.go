// Package bits is the bit-stream half of the CSER codec. Values are packed
// least significant bit first into consecutive bytes, so small flags and
// length prefixes cost only the bits they need.
package bits

import "errors"

// ErrOutOfBounds is the panic value of a read past the end of the stream.
var ErrOutOfBounds = errors.New("bits: read out of bounds")

type (
	// Array holds the packed bytes.
	Array struct {
		Bytes []byte
	}

	// Writer appends bit fields to an Array.
	Writer struct {
		*Array
		bitOffset int // next free bit of the last byte, 0 means a new byte is needed
	}

	// Reader consumes bit fields from an Array.
	Reader struct {
		*Array
		byteOffset int
		bitOffset  int
	}
)

// NewWriter returns a Writer appending to arr.
func NewWriter(arr *Array) *Writer {
	return &Writer{Array: arr}
}

// NewReader returns a Reader positioned at the first bit of arr.
func NewReader(arr *Array) *Reader {
	return &Reader{Array: arr}
}

func lowBits(v uint, n int) uint {
	return v & (1<<uint(n) - 1)
}

// Write appends the lowest `bits` bits of v.
func (w *Writer) Write(bits int, v uint) {
	for bits > 0 {
		if w.bitOffset == 0 {
			w.Bytes = append(w.Bytes, 0)
		}
		n := 8 - w.bitOffset
		if bits < n {
			n = bits
		}
		w.Bytes[len(w.Bytes)-1] |= byte(lowBits(v, n) << uint(w.bitOffset))
		w.bitOffset = (w.bitOffset + n) % 8
		v >>= uint(n)
		bits -= n
	}
}

// Read consumes `bits` bits and returns them as an integer.
func (r *Reader) Read(bits int) (v uint) {
	if bits > r.NonReadBits() {
		panic(ErrOutOfBounds)
	}
	shift := uint(0)
	for bits > 0 {
		n := 8 - r.bitOffset
		if bits < n {
			n = bits
		}
		chunk := lowBits(uint(r.Bytes[r.byteOffset])>>uint(r.bitOffset), n)
		v |= chunk << shift
		shift += uint(n)
		r.bitOffset += n
		if r.bitOffset == 8 {
			r.bitOffset = 0
			r.byteOffset++
		}
		bits -= n
	}
	return v
}

// NonReadBytes returns the number of bytes not yet fully consumed.
func (r *Reader) NonReadBytes() int {
	return len(r.Bytes) - r.byteOffset
}

// NonReadBits returns the number of unread bits.
func (r *Reader) NonReadBits() int {
	return r.NonReadBytes()*8 - r.bitOffset
}
