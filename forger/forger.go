// Package forger runs the proposer of a network with a single active
// validator. Every slot it proposes a block of pending transactions and,
// the proposal being admitted, hands the block to the blockchain as the
// network's decision. Networks with more validators need the BFT engine,
// so the forger only proposes there.
package forger

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/blockchain"
	"github.com/rony4d/go-asset-bft/consensus"
	"github.com/rony4d/go-asset-bft/crypto/bls"
	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network"
	"github.com/rony4d/go-asset-bft/state"
)

var (
	ErrProposalRefused    = errors.New("own proposal not admitted")
	ErrInvalidCommitProof = errors.New("commit proof does not verify")
)

type (
	// Chain is the blockchain service as seen by the forger.
	Chain interface {
		State() blockchain.State
		HandleIncomingBlock(b *inter.Block, fromForger bool)
	}

	// Proposals admits proposals.
	Proposals interface {
		ProcessProposal(p *inter.Proposal, broadcast bool) consensus.ProcessorResult
	}

	// Pool hands out pending transactions.
	Pool interface {
		Pending(limit int) inter.Transactions
	}
)

// Keys identify the local validator.
type Keys struct {
	Index     idx.Validator
	Wallet    *ecdsa.PrivateKey
	Consensus *bls.Signer
}

// Deps are the collaborators of a Forger.
type Deps struct {
	Rules      network.Rules
	Context    *consensus.Context
	Selector   consensus.Selector
	Proposals  Proposals
	Aggregator *consensus.Aggregator
	State      *state.Store
	Pool       Pool
	Chain      Chain
	Clock      func() time.Time
}

type Forger struct {
	keys      Keys
	generator []byte
	rules     network.Rules
	consensus *consensus.Context
	selector  consensus.Selector
	proposals Proposals
	votes     *consensus.Aggregator
	state     *state.Store
	pool      Pool
	chain     Chain
	now       func() time.Time

	log logrus.FieldLogger
}

// New returns a forger for the validator owning keys. Start runs it.
func New(keys Keys, deps Deps, log logrus.FieldLogger) *Forger {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Forger{
		keys:      keys,
		generator: crypto.CompressPubkey(&keys.Wallet.PublicKey),
		rules:     deps.Rules,
		consensus: deps.Context,
		selector:  deps.Selector,
		proposals: deps.Proposals,
		votes:     deps.Aggregator,
		state:     deps.State,
		pool:      deps.Pool,
		chain:     deps.Chain,
		now:       deps.Clock,
		log:       log.WithField("module", "forger"),
	}
}

// Start tries to forge once a second until ctx is done.
func (f *Forger) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := f.Forge(); err != nil {
					f.log.WithError(err).Warn("Failed to forge block")
				}
			}
		}
	}()
}

// Forge proposes a block when the node is idle, the local validator is the
// proposer of the current round and the slot after the last block has
// begun. It returns the proposal, or nil when it is not the time to forge.
func (f *Forger) Forge() (*inter.Proposal, error) {
	if !f.state.IsStarted() || f.chain.State() != blockchain.StateIdle {
		return nil, nil
	}
	last := f.state.GetLastBlock()
	height, round := f.consensus.Position()
	if last == nil || height != last.Height+1 {
		return nil, nil
	}
	proposer, err := f.selector.GetValidatorIndex(round)
	if err != nil {
		return nil, err
	}
	if proposer != f.keys.Index {
		return nil, nil
	}

	m := f.rules.Milestone(height)
	now := uint32(f.now().Unix())
	if m.BlockTime != 0 && now/m.BlockTime <= last.Timestamp/m.BlockTime {
		return nil, nil
	}

	reward := new(big.Int)
	if m.Reward != nil {
		reward.Set(m.Reward)
	}
	b := inter.NewBlock(inter.BlockHeader{
		Version:            m.Block.Version,
		Timestamp:          now,
		Height:             height,
		Round:              round,
		PreviousBlock:      last.ID(),
		Reward:             reward,
		GeneratorPublicKey: f.generator,
	}, f.pool.Pending(int(m.Block.MaxTransactions)))

	p := &inter.Proposal{
		Height:         height,
		Round:          round,
		ValidatorIndex: f.keys.Index,
		Block:          inter.ProposedBlock{Block: b},
	}
	payload, err := p.SignaturePayload()
	if err != nil {
		return nil, err
	}
	if p.Signature, err = f.keys.Consensus.Sign(payload); err != nil {
		return nil, errors.Wrap(err, "sign proposal")
	}

	if res := f.proposals.ProcessProposal(p, true); res != consensus.Accepted {
		return nil, errors.Wrapf(ErrProposalRefused, "%d/%d %s", height, round, res)
	}
	f.log.WithFields(logrus.Fields{
		"height": height,
		"round":  round,
		"txs":    len(b.Transactions),
	}).Info("Forged new block")
	return p, nil
}

// Handle decides an admitted proposal when the local validator is the whole
// active set: it prevotes and precommits the block in rs, and hands the
// block over once the precommits aggregate into a valid commit proof.
func (f *Forger) Handle(rs *consensus.RoundState) {
	p := rs.Proposal()
	if p == nil {
		return
	}
	active := f.rules.ActiveValidators(p.Height)
	if active != 1 {
		f.log.WithField("height", p.Height).Debug("Proposal left to the BFT engine")
		return
	}
	log := f.log.WithFields(logrus.Fields{"height": p.Height, "round": p.Round})
	if _, err := f.commitProof(rs, p, active); err != nil {
		log.WithError(err).Warn("Failed to decide own proposal")
		return
	}
	f.chain.HandleIncomingBlock(p.Block.Block, false)
}

// commitProof casts the local votes for the proposed block and aggregates
// the precommits.
func (f *Forger) commitProof(rs *consensus.RoundState, p *inter.Proposal, active int) (*inter.LockProof, error) {
	id := p.Block.Block.ID()

	prevote, err := f.keys.Consensus.Sign(inter.PrevotePayload(p.Height, p.Round, &id))
	if err != nil {
		return nil, errors.Wrap(err, "sign prevote")
	}
	rs.AddPrevote(f.keys.Index, &id, prevote)
	if _, err := f.votes.Aggregate(rs.Prevotes(&id), active); err != nil {
		return nil, errors.Wrap(err, "prevotes")
	}

	data := inter.PrecommitPayload(p.Height, p.Round, &id)
	precommit, err := f.keys.Consensus.Sign(data)
	if err != nil {
		return nil, errors.Wrap(err, "sign precommit")
	}
	rs.AddPrecommit(f.keys.Index, &id, precommit)
	proof, err := f.votes.Aggregate(rs.Precommits(&id), active)
	if err != nil {
		return nil, errors.Wrap(err, "precommits")
	}
	if !f.votes.Verify(proof, data, active) {
		return nil, ErrInvalidCommitProof
	}
	return proof, nil
}
