package consensus

import (
	"bytes"
	"context"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network"
	"github.com/rony4d/go-asset-bft/validatorset"
)

// ProcessorResult is the outcome of admitting one message.
type ProcessorResult int

const (
	Accepted ProcessorResult = iota
	Skipped
	Invalid
)

func (r ProcessorResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Skipped:
		return "skipped"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// DefaultMaxRoundAhead bounds how far ahead of the local round a proposal
// may be.
const DefaultMaxRoundAhead = 100

type (
	// Selector names the proposer of a round at the current height.
	Selector interface {
		GetValidatorIndex(round uint32) (idx.Validator, error)
	}

	// LockProofVerifier checks aggregated prevotes.
	LockProofVerifier interface {
		Verify(proof *inter.LockProof, data []byte, activeValidators int) bool
	}

	// Storage keeps admitted proposals.
	Storage interface {
		SaveProposal(*inter.Proposal) error
	}

	// Handler is the BFT engine, told about every admitted proposal.
	Handler interface {
		Handle(*RoundState)
	}
)

// ProposalProcessorConfig configures a ProposalProcessor.
type ProposalProcessorConfig struct {
	MaxRoundAhead uint32
}

// ProposalProcessor validates incoming proposals and admits at most one per
// height and round.
type ProposalProcessor struct {
	cfg        ProposalProcessorConfig
	ctx        *Context
	rules      network.Rules
	validators *validatorset.Set
	selector   Selector
	aggregator LockProofVerifier
	rounds     *RoundStateRepository
	storage    Storage
	broadcast  *asyncBroadcaster
	handler    Handler

	log logrus.FieldLogger
}

// ProposalProcessorDeps are the collaborators of a ProposalProcessor.
type ProposalProcessorDeps struct {
	Context     *Context
	Rules       network.Rules
	Validators  *validatorset.Set
	Selector    Selector
	Aggregator  LockProofVerifier
	Rounds      *RoundStateRepository
	Storage     Storage
	Broadcaster Broadcaster
	Handler     Handler
}

// NewProposalProcessor returns a processor admitting proposals into the round
// states of deps.Rounds. Broadcasting starts with Start; until then admitted
// proposals are only queued for broadcast.
func NewProposalProcessor(cfg ProposalProcessorConfig, deps ProposalProcessorDeps, log logrus.FieldLogger) *ProposalProcessor {
	if cfg.MaxRoundAhead == 0 {
		cfg.MaxRoundAhead = DefaultMaxRoundAhead
	}
	log = log.WithField("module", "proposal-processor")
	p := &ProposalProcessor{
		cfg:        cfg,
		ctx:        deps.Context,
		rules:      deps.Rules,
		validators: deps.Validators,
		selector:   deps.Selector,
		aggregator: deps.Aggregator,
		rounds:     deps.Rounds,
		storage:    deps.Storage,
		handler:    deps.Handler,
		log:        log,
	}
	if deps.Broadcaster != nil {
		p.broadcast = newAsyncBroadcaster(deps.Broadcaster, log)
	}
	return p
}

// Start runs the broadcaster until ctx is done.
func (p *ProposalProcessor) Start(ctx context.Context) {
	if p.broadcast != nil {
		go p.broadcast.run(ctx)
	}
}

// SetHandler sets the engine notified of admitted proposals.
func (p *ProposalProcessor) SetHandler(h Handler) {
	p.handler = h
}

// Process decodes and admits a proposal, relaying it to peers if broadcast.
func (p *ProposalProcessor) Process(data []byte, broadcast bool) ProcessorResult {
	proposal, err := inter.DecodeProposal(data)
	if err != nil {
		p.log.WithError(err).Debug("Malformed proposal")
		return Invalid
	}
	return p.ProcessProposal(proposal, broadcast)
}

// ProcessProposal admits a decoded proposal.
func (p *ProposalProcessor) ProcessProposal(proposal *inter.Proposal, broadcast bool) ProcessorResult {
	lock := p.ctx.SharedLocker()
	lock.Lock()
	defer lock.Unlock()

	log := p.log.WithFields(logrus.Fields{
		"height":    proposal.Height,
		"round":     proposal.Round,
		"validator": proposal.ValidatorIndex,
	})

	height, round := p.ctx.Position()
	if proposal.Height != height || proposal.Round < round {
		log.WithFields(logrus.Fields{
			"currentHeight": height,
			"currentRound":  round,
		}).Debug("Skipping proposal for another height or an older round")
		return Skipped
	}
	if proposal.Round > round+p.cfg.MaxRoundAhead {
		log.WithField("currentRound", round).Debug("Proposal round too far ahead")
		return Invalid
	}

	proposer, ok := p.hasValidProposer(proposal, log)
	if !ok {
		return Invalid
	}
	if !p.hasValidSignature(proposal, proposer, log) {
		return Invalid
	}
	if !p.hasValidBlockGenerator(proposal, proposer, log) {
		return Invalid
	}
	if !p.hasValidLockProof(proposal, log) {
		return Invalid
	}

	rs := p.rounds.GetRoundState(proposal.Height, proposal.Round)
	if !rs.AddProposal(proposal) {
		log.Debug("Round already has a proposal")
		return Skipped
	}

	if p.storage != nil {
		if err := p.storage.SaveProposal(proposal); err != nil {
			log.WithError(err).Error("Failed to store proposal")
		}
	}
	if broadcast && p.broadcast != nil {
		p.broadcast.enqueue(proposal)
	}
	if p.handler != nil {
		go p.handler.Handle(rs)
	}
	log.WithField("block", proposal.Block.Block.String()).Debug("Proposal accepted")
	return Accepted
}

func (p *ProposalProcessor) hasValidProposer(proposal *inter.Proposal, log logrus.FieldLogger) (*validatorset.Validator, bool) {
	expected, err := p.selector.GetValidatorIndex(proposal.Round)
	if err != nil {
		log.WithError(err).Error("No proposer for round")
		return nil, false
	}
	if proposal.ValidatorIndex != expected {
		log.WithField("expected", expected).Debug("Proposal from wrong proposer")
		return nil, false
	}
	v, err := p.validators.Get(expected)
	if err != nil {
		log.WithError(err).Error("Proposer is not registered")
		return nil, false
	}
	return v, true
}

func (p *ProposalProcessor) hasValidSignature(proposal *inter.Proposal, proposer *validatorset.Validator, log logrus.FieldLogger) bool {
	payload, err := proposal.SignaturePayload()
	if err != nil {
		log.WithError(err).Debug("Proposal cannot be encoded")
		return false
	}
	if !proposer.BLS().Verify(payload, proposal.Signature) {
		log.Debug("Proposal with invalid signature")
		return false
	}
	return true
}

// A re-proposed block was checked when it was first proposed, possibly by
// another validator, so only fresh blocks are checked.
func (p *ProposalProcessor) hasValidBlockGenerator(proposal *inter.Proposal, proposer *validatorset.Validator, log logrus.FieldLogger) bool {
	if proposal.HasValidRound() {
		return true
	}
	if !bytes.Equal(proposal.Block.Block.GeneratorPublicKey, proposer.WalletKey.Raw) {
		log.Debug("Proposal with invalid block generator")
		return false
	}
	return true
}

func (p *ProposalProcessor) hasValidLockProof(proposal *inter.Proposal, log logrus.FieldLogger) bool {
	if !proposal.HasValidRound() {
		return true
	}
	validRound := *proposal.ValidRound
	if validRound >= proposal.Round {
		log.WithField("validRound", validRound).Warn("Proposal valid round is not below its round")
	}
	proof := proposal.Block.LockProof
	if proof == nil {
		log.Debug("Proposal with missing lock proof")
		return false
	}
	blockID := proposal.Block.Block.ID()
	data := inter.PrevotePayload(proposal.Height, validRound, &blockID)
	active := p.rules.ActiveValidators(proposal.Height)
	if !p.aggregator.Verify(proof, data, active) {
		log.Debug("Proposal with invalid lock proof")
		return false
	}
	return true
}
