package consensus

import (
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"github.com/rony4d/go-asset-bft/crypto/bls"
	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/validatorset"
)

var ErrNoMajority = errors.New("signatures do not reach a supermajority")

// MajoritySize is the smallest number of validators out of n that forms a
// supermajority.
func MajoritySize(n int) int {
	return n*2/3 + 1
}

// Aggregator builds and checks lock proofs over the registered validators.
type Aggregator struct {
	validators *validatorset.Set
}

// NewAggregator returns an Aggregator over validators. Signer bit i of every
// proof refers to validator index i of this set.
func NewAggregator(validators *validatorset.Set) *Aggregator {
	return &Aggregator{validators: validators}
}

// Verify reports whether proof is a supermajority of the first
// activeValidators validators signing data.
func (a *Aggregator) Verify(proof *inter.LockProof, data []byte, activeValidators int) bool {
	if proof == nil || proof.Validators == nil || len(proof.Signature) != bls.SignatureSize {
		return false
	}
	if activeValidators <= 0 || activeValidators > a.validators.Len() {
		return false
	}
	signers := proof.Validators
	if signers.Count() < uint(MajoritySize(activeValidators)) {
		return false
	}
	keys := make([]bls.PublicKey, 0, signers.Count())
	for i, ok := signers.NextSet(0); ok; i, ok = signers.NextSet(i + 1) {
		if i >= uint(activeValidators) {
			return false
		}
		v, err := a.validators.Get(idx.Validator(i))
		if err != nil {
			return false
		}
		keys = append(keys, v.BLS())
	}
	return bls.VerifyAggregate(keys, data, proof.Signature)
}

// Aggregate joins individual signatures of the same data into a lock proof.
// It fails unless the signers form a supermajority of activeValidators.
func (a *Aggregator) Aggregate(sigs map[idx.Validator][]byte, activeValidators int) (*inter.LockProof, error) {
	if len(sigs) < MajoritySize(activeValidators) {
		return nil, errors.Wrapf(ErrNoMajority, "%d of %d", len(sigs), activeValidators)
	}
	order := make([]idx.Validator, 0, len(sigs))
	for v := range sigs {
		if int(v) >= activeValidators {
			return nil, errors.Wrapf(validatorset.ErrUnknownValidator, "index %d", v)
		}
		order = append(order, v)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	signers := bitset.New(uint(activeValidators))
	list := make([][]byte, 0, len(order))
	for _, v := range order {
		signers.Set(uint(v))
		list = append(list, sigs[v])
	}
	sig, err := bls.AggregateSignatures(list)
	if err != nil {
		return nil, err
	}
	return &inter.LockProof{Signature: sig, Validators: signers}, nil
}
