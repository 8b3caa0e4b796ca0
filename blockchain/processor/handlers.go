package processor

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network"
	"github.com/rony4d/go-asset-bft/state"
	"github.com/rony4d/go-asset-bft/validatorset"
)

// RevertBlockHandler undoes a block that was applied but must not stay.
type RevertBlockHandler struct {
	db    DatabaseInteraction
	store BlockStore
	state *state.Store
	pool  TransactionPool
	log   logrus.FieldLogger
}

// NewRevertBlockHandler returns a handler reading previous blocks from the
// recent blocks cache of st, then from store.
func NewRevertBlockHandler(db DatabaseInteraction, store BlockStore, st *state.Store, pool TransactionPool, log logrus.FieldLogger) *RevertBlockHandler {
	return &RevertBlockHandler{db: db, store: store, state: st, pool: pool, log: log}
}

// Execute reverts the ledger effects of b, returns its transactions to the
// pool and moves the tip back to the block at b.Height-1.
//
// Any failure, including a previous block that is not exactly one below b,
// leaves the node in an unknown state and yields Corrupted. The tip is only
// moved on success.
func (h *RevertBlockHandler) Execute(b *inter.Block) Result {
	log := h.log.WithFields(logrus.Fields{"height": b.Height, "id": b.ID().String()})

	prev, err := h.previousBlock(b)
	if err != nil {
		return corrupted(log, err, "Failed to find the previous block")
	}
	if err := h.db.RevertBlock(b); err != nil {
		return corrupted(log, err, "Failed to revert block")
	}
	h.pool.Readd(b.Transactions)

	if prev.Height+1 != b.Height {
		return corrupted(log.WithField("previous", prev.Height), nil, "Reverted block does not follow the previous block")
	}
	h.state.SetLastBlock(prev)
	return Reverted
}

// previousBlock prefers the recent blocks cache and falls back to the
// database by height.
func (h *RevertBlockHandler) previousBlock(b *inter.Block) (*inter.Block, error) {
	if b.Height == 0 {
		return nil, ErrRevertGenesis
	}
	if prev, ok := h.state.GetRecentBlock(b.Height - 1); ok {
		return prev, nil
	}
	return h.store.GetBlock(b.Height - 1)
}

func corrupted(log logrus.FieldLogger, err error, msg string) Result {
	if err != nil {
		log = log.WithError(err)
	}
	log.WithField("severity", "critical").Error(msg)
	return Corrupted
}

// AcceptBlockHandler applies a block that extends the chain.
type AcceptBlockHandler struct {
	db     DatabaseInteraction
	state  *state.Store
	pool   TransactionPool
	chain  Blockchain
	revert *RevertBlockHandler
	log    logrus.FieldLogger
}

// NewAcceptBlockHandler returns a handler that uses revert to undo a block
// that was applied only in part.
func NewAcceptBlockHandler(db DatabaseInteraction, st *state.Store, pool TransactionPool, chain Blockchain, revert *RevertBlockHandler, log logrus.FieldLogger) *AcceptBlockHandler {
	return &AcceptBlockHandler{db: db, state: st, pool: pool, chain: chain, revert: revert, log: log}
}

// Execute applies b on top of the tip. A block that fails to apply is
// Rejected, or Corrupted when it had already become the tip and could not
// be reverted.
func (h *AcceptBlockHandler) Execute(b *inter.Block) Result {
	if err := h.db.ApplyBlock(b); err != nil {
		return h.refuse(b, err)
	}

	if forked := h.state.GetForkedBlock(); forked != nil && forked.Height == b.Height {
		h.log.WithField("height", b.Height).Info("Successfully recovered from fork")
		h.state.ClearForkedBlockAt(b.Height)
	}
	h.pool.Remove(b.Transactions)

	// no need to wake up while blocks keep coming
	if h.state.IsStarted() {
		h.chain.ResetWakeUp()
	}
	h.state.AdvanceLastDownloadedBlock(b)
	return Accepted
}

func (h *AcceptBlockHandler) refuse(b *inter.Block, err error) Result {
	h.log.WithFields(logrus.Fields{
		"block": b.String(),
		"stack": fmt.Sprintf("%+v", errors.WithStack(err)),
	}).Warnf("Refused new block: %v", err)
	h.chain.ResetLastDownloadedBlock()

	if last := h.state.GetLastBlock(); last != nil && last.Height == b.Height {
		if h.revert.Execute(b) == Corrupted {
			return Corrupted
		}
	}
	return Rejected
}

// UnchainedHandler explains a block that does not extend the last block.
type UnchainedHandler struct {
	rules      network.Rules
	validators *validatorset.Set
	state      *state.Store
	chain      Blockchain
	log        logrus.FieldLogger
}

func NewUnchainedHandler(rules network.Rules, validators *validatorset.Set, st *state.Store, chain Blockchain, log logrus.FieldLogger) *UnchainedHandler {
	return &UnchainedHandler{rules: rules, validators: validators, state: st, chain: chain, log: log}
}

// Execute classifies a block that does not chain onto the tip: too far
// ahead, already known, a double forge at the tip height, or a block with
// the wrong parent or slot.
func (h *UnchainedHandler) Execute(b *inter.Block) Result {
	last := h.state.GetLastBlock()
	log := h.log.WithFields(logrus.Fields{
		"height":     b.Height,
		"id":         b.ID().String(),
		"lastHeight": last.Height,
	})

	switch {
	case b.Height > last.Height+1:
		log.Debug("Blockchain not ready to accept new block")
		// the rest of the batch would be refused the same way
		h.chain.ClearQueue()
		return Rejected

	case b.Height < last.Height:
		log.Debug("Block disregarded because already in blockchain")
		return DiscardedButCanBeBroadcasted

	case b.Height == last.Height && b.ID() == last.ID():
		log.Debug("Block disregarded because already in blockchain")
		return DiscardedButCanBeBroadcasted

	case b.Height == last.Height:
		active := h.rules.ActiveValidators(b.Height)
		if h.validators.IsActiveGenerator(b.GeneratorPublicKey, active) {
			log.Warn("Detected double forging")
			return Rollback
		}
		log.Warn("Block disregarded because generator is not an active validator")
		return Rejected

	default:
		log.WithFields(logrus.Fields{
			"previous":     b.PreviousBlock.String(),
			"lastId":       last.ID().String(),
			"timestamp":    b.Timestamp,
			"lastTimestmp": last.Timestamp,
		}).Warn("Block disregarded because it does not follow the last block")
		return Rejected
	}
}
