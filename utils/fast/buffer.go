// Package fast provides the byte-stream half of the CSER codec: an append-only
// Writer and a cursor-based Reader over a plain byte slice.
//
// Reads past the end panic with ErrOutOfBounds. The cser adapter recovers the
// panic and reports the message as malformed, so decoders never need to check
// lengths before every field.
package fast

import "errors"

// ErrOutOfBounds is the panic value of a read past the end of the buffer.
var ErrOutOfBounds = errors.New("fast: read out of bounds")

// Reader consumes a byte slice front to back.
type Reader struct {
	buf    []byte
	offset int
}

// Writer accumulates bytes.
type Writer struct {
	buf []byte
}

// NewReader returns a Reader positioned at the start of bb.
func NewReader(bb []byte) *Reader {
	return &Reader{buf: bb}
}

// NewWriter returns a Writer appending to bb.
func NewWriter(bb []byte) *Writer {
	return &Writer{buf: bb}
}

// WriteByte appends v.
func (b *Writer) WriteByte(v byte) {
	b.buf = append(b.buf, v)
}

// Write appends v.
func (b *Writer) Write(v []byte) {
	b.buf = append(b.buf, v...)
}

// Bytes returns everything written so far.
func (b *Writer) Bytes() []byte {
	return b.buf
}

// Len returns the number of bytes written so far.
func (b *Writer) Len() int {
	return len(b.buf)
}

// Read returns the next n bytes. The result aliases the underlying buffer.
func (b *Reader) Read(n int) []byte {
	if n < 0 || n > b.Remaining() {
		panic(ErrOutOfBounds)
	}
	res := b.buf[b.offset : b.offset+n]
	b.offset += n
	return res
}

// ReadByte returns the next byte.
func (b *Reader) ReadByte() byte {
	if b.Remaining() < 1 {
		panic(ErrOutOfBounds)
	}
	res := b.buf[b.offset]
	b.offset++
	return res
}

// Position returns the number of consumed bytes.
func (b *Reader) Position() int {
	return b.offset
}

// Remaining returns the number of unconsumed bytes.
func (b *Reader) Remaining() int {
	return len(b.buf) - b.offset
}

// Bytes returns the whole underlying buffer.
func (b *Reader) Bytes() []byte {
	return b.buf
}

// Empty reports whether every byte was consumed.
func (b *Reader) Empty() bool {
	return b.offset == len(b.buf)
}
