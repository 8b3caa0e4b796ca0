// Package validatorpk holds typed validator public keys. A validator has two
// of them: a secp256k1 wallet key that generates blocks and owns funds, and a
// BLS key it signs consensus messages with.
package validatorpk

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// PubKey is a public key tagged with its scheme.
type PubKey struct {
	Type uint8
	Raw  []byte
}

// Types enumerates the supported schemes.
var Types = struct {
	Secp256k1 uint8
	BLS       uint8
}{
	Secp256k1: 0xc0,
	BLS:       0xb1,
}

var sizes = map[uint8]int{
	Types.Secp256k1: 33, // compressed
	Types.BLS:       96, // compressed G2 point
}

var ErrEmptyPubKey = errors.New("empty pubkey")

// Secp256k1 wraps a compressed secp256k1 key.
func Secp256k1(raw []byte) PubKey {
	return PubKey{Type: Types.Secp256k1, Raw: common.CopyBytes(raw)}
}

// BLS wraps a compressed BLS public key.
func BLS(raw []byte) PubKey {
	return PubKey{Type: Types.BLS, Raw: common.CopyBytes(raw)}
}

// Empty reports whether the key is unset.
func (pk PubKey) Empty() bool {
	return len(pk.Raw) == 0 && pk.Type == 0
}

// Validate checks that the raw key has the size its type requires.
func (pk PubKey) Validate() error {
	size, ok := sizes[pk.Type]
	if !ok {
		return fmt.Errorf("unknown pubkey type 0x%x", pk.Type)
	}
	if len(pk.Raw) != size {
		return fmt.Errorf("pubkey type 0x%x must be %d bytes, got %d", pk.Type, size, len(pk.Raw))
	}
	return nil
}

// String returns the 0x-prefixed hex of Bytes.
func (pk PubKey) String() string {
	return "0x" + common.Bytes2Hex(pk.Bytes())
}

// Bytes returns the type byte followed by the raw key.
func (pk PubKey) Bytes() []byte {
	return append([]byte{pk.Type}, pk.Raw...)
}

// Copy returns a deep copy.
func (pk PubKey) Copy() PubKey {
	return PubKey{
		Type: pk.Type,
		Raw:  common.CopyBytes(pk.Raw),
	}
}

// FromString parses hex, with or without 0x prefix.
func FromString(str string) (PubKey, error) {
	return FromBytes(common.FromHex(str))
}

// FromBytes is the inverse of Bytes.
func FromBytes(b []byte) (PubKey, error) {
	if len(b) == 0 {
		return PubKey{}, ErrEmptyPubKey
	}
	pk := PubKey{b[0], common.CopyBytes(b[1:])}
	return pk, pk.Validate()
}

// MarshalText implements encoding.TextMarshaler.
func (pk *PubKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PubKey) UnmarshalText(input []byte) error {
	res, err := FromString(string(input))
	if err != nil {
		return err
	}
	*pk = res
	return nil
}
