package cser

import (
	"github.com/rony4d/go-asset-bft/utils/bits"
	"github.com/rony4d/go-asset-bft/utils/fast"
)

// MarshalBinaryAdapter runs marshalCser and packs both streams as
//
//	body bytes | bit stream bytes | reversed varint(len(bit stream))
//
// Writer panics carrying an error are returned as that error.
func MarshalBinaryAdapter(marshalCser func(*Writer) error) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				panic(r)
			}
			raw, err = nil, e
		}
	}()

	w := NewWriter()
	if err := marshalCser(w); err != nil {
		return nil, err
	}
	return pack(w.BitsW.Array, w.BytesW.Bytes()), nil
}

func pack(bbits *bits.Array, bbytes []byte) []byte {
	out := fast.NewWriter(bbytes)
	out.Write(bbits.Bytes)

	size := fast.NewWriter(make([]byte, 0, 4))
	writeUint64Compact(size, uint64(len(bbits.Bytes)))
	out.Write(reversed(size.Bytes()))
	return out.Bytes()
}

func unpack(raw []byte) (*bits.Array, []byte, error) {
	sizeR := fast.NewReader(reversed(tail(raw, 9)))
	bitsSize := readUint64Compact(sizeR)
	raw = raw[:len(raw)-sizeR.Position()]
	if uint64(len(raw)) < bitsSize {
		return nil, nil, ErrMalformedEncoding
	}
	split := uint64(len(raw)) - bitsSize
	return &bits.Array{Bytes: raw[split:]}, raw[:split], nil
}

// UnmarshalBinaryAdapter splits raw into both streams, runs unmarshalCser and
// then requires that every byte and every non-padding bit was consumed.
func UnmarshalBinaryAdapter(raw []byte, unmarshalCser func(reader *Reader) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch r {
			case ErrNonCanonicalEncoding, ErrTooLargeAlloc:
				err = r.(error)
			default:
				err = ErrMalformedEncoding
			}
		}
	}()

	bbits, bbytes, err := unpack(raw)
	if err != nil {
		return err
	}
	r := &Reader{
		BitsR:  bits.NewReader(bbits),
		BytesR: fast.NewReader(bbytes),
	}
	if err := unmarshalCser(r); err != nil {
		return err
	}

	if r.BitsR.NonReadBytes() > 1 {
		return ErrNonCanonicalEncoding
	}
	if r.BitsR.Read(r.BitsR.NonReadBits()) != 0 {
		return ErrNonCanonicalEncoding
	}
	if !r.BytesR.Empty() {
		return ErrNonCanonicalEncoding
	}
	return nil
}

func tail(b []byte, n int) []byte {
	if len(b) > n {
		return b[len(b)-n:]
	}
	return b
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
