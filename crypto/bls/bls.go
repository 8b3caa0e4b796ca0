// Package bls signs and verifies consensus messages with minimized-signature
// BLS over BLS12-381: signatures live in G1 (48 bytes compressed) and public
// keys in G2 (96 bytes compressed). Signatures of many validators over the
// same message aggregate into one, checked against the sum of their keys.
package bls

import (
	"fmt"

	"github.com/pkg/errors"
	blst "github.com/supranational/blst/bindings/go"
)

const (
	SignatureSize = blst.BLST_P1_COMPRESS_BYTES
	PublicKeySize = blst.BLST_P2_COMPRESS_BYTES
)

// DomainSeparationTag is the ciphersuite id of the basic min-sig scheme.
var DomainSeparationTag = []byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_")

var keygenSalt = []byte("asset-bft consensus key")

var (
	ErrBadPublicKey = errors.New("invalid BLS public key")
	ErrBadSignature = errors.New("invalid BLS signature")
	ErrNoSignatures = errors.New("nothing to aggregate")
)

// PublicKey is a validated G2 point.
type PublicKey struct {
	p blst.P2Affine
}

// PublicKeyFromBytes decodes and validates a compressed key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return PublicKey{}, errors.Wrapf(ErrBadPublicKey, "expected %d bytes, got %d", PublicKeySize, len(b))
	}
	p := new(blst.P2Affine).Uncompress(b)
	if p == nil {
		return PublicKey{}, errors.Wrap(ErrBadPublicKey, "failed to decompress")
	}
	if !p.KeyValidate() {
		return PublicKey{}, errors.Wrap(ErrBadPublicKey, "failed validation")
	}
	return PublicKey{p: *p}, nil
}

// Bytes returns the compressed key.
func (k PublicKey) Bytes() []byte {
	return k.p.Compress()
}

// Equal reports whether both keys are the same point.
func (k PublicKey) Equal(o PublicKey) bool {
	return k.p.Equals(&o.p)
}

// Verify reports whether sig is k's signature of msg.
func (k PublicKey) Verify(msg, sig []byte) bool {
	s := new(blst.P1Affine).Uncompress(sig)
	if s == nil || !s.SigValidate(false) {
		return false
	}
	return s.Verify(false, &k.p, false, blst.Message(msg), DomainSeparationTag)
}

// Signer holds a secret key.
type Signer struct {
	secret blst.SecretKey
	public PublicKey
}

// NewSigner derives a key pair from at least 32 bytes of key material.
func NewSigner(ikm []byte) (*Signer, error) {
	if len(ikm) < blst.BLST_SCALAR_BYTES {
		return nil, fmt.Errorf("ikm too short: got %d, need at least %d", len(ikm), blst.BLST_SCALAR_BYTES)
	}
	sk := blst.KeyGenV5(ikm, keygenSalt)
	if sk == nil {
		return nil, errors.New("BLS key generation failed")
	}
	return &Signer{
		secret: *sk,
		public: PublicKey{p: *new(blst.P2Affine).From(sk)},
	}, nil
}

// PublicKey returns the signer's public key.
func (s *Signer) PublicKey() PublicKey {
	return s.public
}

// Sign returns the compressed signature of msg.
func (s *Signer) Sign(msg []byte) ([]byte, error) {
	sig := new(blst.P1Affine).Sign(&s.secret, msg, DomainSeparationTag, true)
	if sig == nil {
		return nil, errors.New("failed to sign")
	}
	return sig.Compress(), nil
}

// AggregateSignatures adds signatures of the same message.
func AggregateSignatures(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, ErrNoSignatures
	}
	acc := new(blst.P1)
	for i, raw := range sigs {
		s := new(blst.P1Affine).Uncompress(raw)
		if s == nil || !s.SigValidate(false) {
			return nil, errors.Wrapf(ErrBadSignature, "signature #%d", i)
		}
		acc = acc.Add(s)
	}
	return acc.ToAffine().Compress(), nil
}

// AggregatePublicKeys adds keys, so the sum verifies an aggregated signature.
func AggregatePublicKeys(keys []PublicKey) (PublicKey, error) {
	if len(keys) == 0 {
		return PublicKey{}, ErrNoSignatures
	}
	acc := new(blst.P2)
	for i := range keys {
		acc = acc.Add(&keys[i].p)
	}
	return PublicKey{p: *acc.ToAffine()}, nil
}

// VerifyAggregate checks an aggregated signature of msg by all keys.
func VerifyAggregate(keys []PublicKey, msg, sig []byte) bool {
	agg, err := AggregatePublicKeys(keys)
	if err != nil {
		return false
	}
	return agg.Verify(msg, sig)
}
