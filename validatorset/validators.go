// Package validatorset keeps the registered validators in index order.
// The first ActiveValidators of them (per milestone) take part in consensus.
package validatorset

import (
	"bytes"
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/pkg/errors"

	"github.com/rony4d/go-asset-bft/crypto/bls"
	"github.com/rony4d/go-asset-bft/inter/validatorpk"
)

var ErrUnknownValidator = errors.New("unknown validator")

// Validator is one registered validator.
type Validator struct {
	Index        idx.Validator
	WalletKey    validatorpk.PubKey // secp256k1, generates blocks
	ConsensusKey validatorpk.PubKey // BLS, signs consensus messages

	bls bls.PublicKey
}

// BLS returns the parsed consensus key.
func (v *Validator) BLS() bls.PublicKey {
	return v.bls
}

// Set is an immutable ordered list of validators.
type Set struct {
	list []*Validator
}

// New validates the keys and assigns indices in order.
func New(keys []Keys) (*Set, error) {
	s := &Set{list: make([]*Validator, len(keys))}
	for i, k := range keys {
		if err := k.Wallet.Validate(); err != nil {
			return nil, errors.Wrapf(err, "validator %d wallet key", i)
		}
		if k.Wallet.Type != validatorpk.Types.Secp256k1 {
			return nil, fmt.Errorf("validator %d: wallet key must be secp256k1", i)
		}
		if k.Consensus.Type != validatorpk.Types.BLS {
			return nil, fmt.Errorf("validator %d: consensus key must be BLS", i)
		}
		pk, err := bls.PublicKeyFromBytes(k.Consensus.Raw)
		if err != nil {
			return nil, errors.Wrapf(err, "validator %d consensus key", i)
		}
		s.list[i] = &Validator{
			Index:        idx.Validator(i),
			WalletKey:    k.Wallet.Copy(),
			ConsensusKey: k.Consensus.Copy(),
			bls:          pk,
		}
	}
	return s, nil
}

// Keys are the public keys a validator registers with.
type Keys struct {
	Wallet    validatorpk.PubKey
	Consensus validatorpk.PubKey
}

// Len returns the number of registered validators.
func (s *Set) Len() int {
	return len(s.list)
}

// Get returns the validator at index i.
func (s *Set) Get(i idx.Validator) (*Validator, error) {
	if int(i) >= len(s.list) {
		return nil, errors.Wrapf(ErrUnknownValidator, "index %d", i)
	}
	return s.list[i], nil
}

// Active returns the first n validators.
func (s *Set) Active(n int) []*Validator {
	if n > len(s.list) {
		n = len(s.list)
	}
	return s.list[:n]
}

// IndexOfWallet finds the validator generating with the given compressed key.
func (s *Set) IndexOfWallet(walletKey []byte) (idx.Validator, bool) {
	for _, v := range s.list {
		if bytes.Equal(v.WalletKey.Raw, walletKey) {
			return v.Index, true
		}
	}
	return 0, false
}

// IsActiveGenerator reports whether walletKey belongs to one of the first n validators.
func (s *Set) IsActiveGenerator(walletKey []byte, n int) bool {
	i, ok := s.IndexOfWallet(walletKey)
	return ok && int(i) < n
}
