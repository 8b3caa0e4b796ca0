package consensus

import (
	"sync"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/go-asset-bft/inter"
)

type vote struct {
	blockID   *hash.Hash
	signature []byte
}

// RoundState is what a node knows about one round: the single admitted
// proposal and the votes of each validator.
type RoundState struct {
	height idx.Block
	round  uint32

	mu         sync.RWMutex
	proposal   *inter.Proposal
	prevotes   map[idx.Validator]vote
	precommits map[idx.Validator]vote
}

func newRoundState(height idx.Block, round uint32) *RoundState {
	return &RoundState{
		height:     height,
		round:      round,
		prevotes:   make(map[idx.Validator]vote),
		precommits: make(map[idx.Validator]vote),
	}
}

func (s *RoundState) Height() idx.Block { return s.height }
func (s *RoundState) Round() uint32     { return s.round }

func (s *RoundState) HasProposal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proposal != nil
}

// Proposal returns the admitted proposal, nil before one is admitted.
func (s *RoundState) Proposal() *inter.Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proposal
}

// AddProposal stores p unless a proposal is already stored. It reports
// whether p was stored.
func (s *RoundState) AddProposal(p *inter.Proposal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proposal != nil {
		return false
	}
	s.proposal = p
	return true
}

// AddPrevote records the first prevote of a validator.
func (s *RoundState) AddPrevote(v idx.Validator, blockID *hash.Hash, sig []byte) bool {
	return s.addVote(s.prevotes, v, blockID, sig)
}

// AddPrecommit records the first precommit of a validator.
func (s *RoundState) AddPrecommit(v idx.Validator, blockID *hash.Hash, sig []byte) bool {
	return s.addVote(s.precommits, v, blockID, sig)
}

func (s *RoundState) addVote(votes map[idx.Validator]vote, v idx.Validator, blockID *hash.Hash, sig []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := votes[v]; ok {
		return false
	}
	votes[v] = vote{blockID: blockID, signature: sig}
	return true
}

func sameBlock(a, b *hash.Hash) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Prevotes returns the prevote signatures for blockID (nil for no block).
func (s *RoundState) Prevotes(blockID *hash.Hash) map[idx.Validator][]byte {
	return s.votesFor(s.prevotes, blockID)
}

// Precommits returns the precommit signatures for blockID (nil for no block).
func (s *RoundState) Precommits(blockID *hash.Hash) map[idx.Validator][]byte {
	return s.votesFor(s.precommits, blockID)
}

func (s *RoundState) votesFor(votes map[idx.Validator]vote, blockID *hash.Hash) map[idx.Validator][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[idx.Validator][]byte)
	for v, vt := range votes {
		if sameBlock(vt.blockID, blockID) {
			out[v] = vt.signature
		}
	}
	return out
}

type roundKey struct {
	height idx.Block
	round  uint32
}

// RoundStateRepository creates round states on first use and forgets them
// once their height is committed.
type RoundStateRepository struct {
	mu     sync.Mutex
	states map[roundKey]*RoundState
}

// NewRoundStateRepository returns an empty repository.
func NewRoundStateRepository() *RoundStateRepository {
	return &RoundStateRepository{states: make(map[roundKey]*RoundState)}
}

// GetRoundState returns the state of (height, round), creating it on first use.
// Every caller asking for the same round gets the same *RoundState.
func (r *RoundStateRepository) GetRoundState(height idx.Block, round uint32) *RoundState {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := roundKey{height, round}
	s, ok := r.states[key]
	if !ok {
		s = newRoundState(height, round)
		r.states[key] = s
	}
	return s
}

// OnCommit drops the states of the committed height and below.
func (r *RoundStateRepository) OnCommit(unit inter.CommittedUnit) error {
	h := unit.CommittedBlock().Height
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.states {
		if key.height <= h {
			delete(r.states, key)
		}
	}
	return nil
}

func (r *RoundStateRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
