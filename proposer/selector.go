// Package proposer assigns the proposer of every consensus round.
//
// At the first height of every round of the schedule the active validators
// are shuffled with a PRNG seeded by the total number of consensus rounds
// committed so far. The proposer of round r at a height is then found at
// offset totalRound+r of that permutation, so a stalled height walks through
// every validator before repeating one. The seed is known in advance; mixing
// in the last block id would make the order unpredictable but changes the
// schedule every node computes.
package proposer

import (
	"fmt"
	"strconv"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network"
	"github.com/rony4d/go-asset-bft/state"
	"github.com/rony4d/go-asset-bft/utils/seedrand"
)

// ErrMatrixNotBuilt is returned before the first commit built a permutation.
var ErrMatrixNotBuilt = errors.New("validator matrix is not built")

// AttributeStore persists chain attributes.
type AttributeStore interface {
	SetAttribute(name string, v interface{}) error
	GetAttribute(name string, v interface{}) (bool, error)
}

func matrixAttribute(roundHeight idx.Block) string {
	return fmt.Sprintf("validatorMatrix/%d", roundHeight)
}

// Selector is the proposer rotation. It keeps its permutation in the state
// store and persists it per round.
type Selector struct {
	rules network.Rules
	state *state.Store
	attrs AttributeStore
	log   logrus.FieldLogger
}

// New returns a selector reading the chain tip from st and persisting the
// validator matrix through attrs. Call Restore before first use.
func New(rules network.Rules, st *state.Store, attrs AttributeStore, log logrus.FieldLogger) *Selector {
	return &Selector{
		rules: rules,
		state: st,
		attrs: attrs,
		log:   log.WithField("module", "proposer"),
	}
}

// OnCommit reshuffles the validators when the height after the committed
// block starts a new round.
func (s *Selector) OnCommit(unit inter.CommittedUnit) error {
	height := unit.CommittedBlock().Height
	next := height + 1
	if len(s.state.GetValidatorMatrix()) != 0 && !s.rules.IsNewRound(next) {
		return nil
	}
	info, err := s.rules.CalculateRound(next)
	if err != nil {
		return err
	}
	if info.RoundHeight != next {
		s.log.WithField("height", height).Warn("Building validator matrix inside a round")
	}
	return s.shuffle(info)
}

func (s *Selector) shuffle(info network.RoundInfo) error {
	totalRound := s.state.GetTotalRound()
	matrix := seedrand.New(strconv.FormatUint(totalRound, 10)).Shuffle(info.MaxValidators)
	s.state.SetValidatorMatrix(matrix)

	if s.attrs != nil {
		if err := s.attrs.SetAttribute(matrixAttribute(info.RoundHeight), toUint32s(matrix)); err != nil {
			return errors.Wrap(err, "persist validator matrix")
		}
	}
	s.log.WithFields(logrus.Fields{
		"round":      info.Round,
		"height":     info.RoundHeight,
		"totalRound": totalRound,
		"validators": info.MaxValidators,
	}).Debug("Validator matrix built")
	return nil
}

// GetValidatorIndex returns the proposer of the given round at the current
// height. It is defined for any round.
func (s *Selector) GetValidatorIndex(round uint32) (idx.Validator, error) {
	matrix := s.state.GetValidatorMatrix()
	n := uint64(len(matrix))
	if n == 0 {
		return 0, ErrMatrixNotBuilt
	}
	offset := (s.state.GetTotalRound() + uint64(round)) % n
	return idx.Validator(matrix[offset%n]), nil
}

// MustGetValidatorIndex is GetValidatorIndex for callers that already
// committed at least one block.
func (s *Selector) MustGetValidatorIndex(round uint32) idx.Validator {
	v, err := s.GetValidatorIndex(round)
	if err != nil {
		panic(err)
	}
	return v
}

// Restore loads the permutation of the round following the last block. It
// rebuilds and persists it when it was never stored.
func (s *Selector) Restore() error {
	next := s.state.GetLastHeight() + 1
	info, err := s.rules.CalculateRound(next)
	if err != nil {
		return err
	}
	var stored []uint32
	ok, err := s.attrs.GetAttribute(matrixAttribute(info.RoundHeight), &stored)
	if err != nil {
		return err
	}
	if !ok || len(stored) != info.MaxValidators {
		s.log.WithField("height", info.RoundHeight).Warn("Validator matrix not found, rebuilding")
		return s.shuffle(info)
	}
	s.state.SetValidatorMatrix(toInts(stored))
	return nil
}

func toUint32s(v []int) []uint32 {
	out := make([]uint32, len(v))
	for i, x := range v {
		out[i] = uint32(x)
	}
	return out
}

func toInts(v []uint32) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}
