package processor

import (
	"math/big"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network"
	"github.com/rony4d/go-asset-bft/state"
	"github.com/rony4d/go-asset-bft/validatorset"
)

var (
	// ErrNotAccepted is returned when committing a unit that was not accepted.
	ErrNotAccepted = errors.New("block was not accepted")
	// ErrInvalidNonce is the cause of a block rejected for its nonce sequence.
	ErrInvalidNonce = errors.New("invalid transaction nonce")
	// ErrRevertGenesis is returned when asked to revert the genesis block.
	ErrRevertGenesis = errors.New("genesis block cannot be reverted")
)

// BlockProcessor runs every block arriving at the tip through verification
// and the chaining rules, then hands it to the matching handler.
type BlockProcessor struct {
	rules      network.Rules
	verifier   *Verifier
	store      BlockStore
	state      *state.Store
	wallets    *state.WalletRepository
	accept     *AcceptBlockHandler
	revert     *RevertBlockHandler
	unchained  *UnchainedHandler
	commitLock sync.Locker

	handlersMu sync.RWMutex
	handlers   []CommitHandler

	log logrus.FieldLogger
}

// BlockProcessorDeps are the collaborators of a BlockProcessor.
type BlockProcessorDeps struct {
	Rules      network.Rules
	Validators *validatorset.Set
	Database   DatabaseInteraction
	Store      BlockStore
	State      *state.Store
	Wallets    *state.WalletRepository
	Pool       TransactionPool
	Blockchain Blockchain
	CommitLock sync.Locker
}

// NewBlockProcessor wires the verifier and the block handlers around deps.
// Without deps.CommitLock commits are serialized by a private mutex.
func NewBlockProcessor(deps BlockProcessorDeps, log logrus.FieldLogger) *BlockProcessor {
	log = log.WithField("module", "block-processor")
	revert := NewRevertBlockHandler(deps.Database, deps.Store, deps.State, deps.Pool, log.WithField("handler", "revert"))
	commitLock := deps.CommitLock
	if commitLock == nil {
		commitLock = new(sync.Mutex)
	}
	return &BlockProcessor{
		rules:      deps.Rules,
		verifier:   NewVerifier(deps.Rules),
		store:      deps.Store,
		state:      deps.State,
		wallets:    deps.Wallets,
		accept:     NewAcceptBlockHandler(deps.Database, deps.State, deps.Pool, deps.Blockchain, revert, log.WithField("handler", "accept")),
		revert:     revert,
		unchained:  NewUnchainedHandler(deps.Rules, deps.Validators, deps.State, deps.Blockchain, log.WithField("handler", "unchained")),
		commitLock: commitLock,
		log:        log,
	}
}

// Revert undoes the last applied block.
func (p *BlockProcessor) Revert(b *inter.Block) Result {
	return p.revert.Execute(b)
}

// RegisterCommitHandler adds h to the handlers run after every commit, in
// registration order.
func (p *BlockProcessor) RegisterCommitHandler(h CommitHandler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Process stores the processing result in unit and reports whether the block
// was accepted.
func (p *BlockProcessor) Process(unit *Unit) bool {
	unit.Result = p.ProcessBlock(unit.Block)
	return unit.Result == Accepted
}

// ProcessBlock decides the fate of b. The checks run in a fixed order and
// the first one to fail decides the result.
func (p *BlockProcessor) ProcessBlock(b *inter.Block) Result {
	log := p.log.WithFields(logrus.Fields{"height": b.Height, "id": b.ID().String()})

	if v := p.verifier.Verify(b); !v.Verified {
		log.WithField("errors", v.Errors).Warn("Block failed verification")
		return Rejected
	}
	if !p.compatibleVersions(b) {
		log.Warn("Block has transactions of an unsupported version")
		return Rejected
	}
	if err := p.checkNonces(b); err != nil {
		log.WithError(err).Warn("Block has invalid transaction nonces")
		return Rejected
	}

	last := p.state.GetLastBlock()
	if last == nil || !IsBlockChained(p.rules, last, b) {
		if last == nil {
			log.Warn("No last block to chain to")
			return Rejected
		}
		return p.unchained.Execute(b)
	}

	forged, err := p.forgedTransactions(b)
	if err != nil {
		log.WithError(err).Error("Failed to look up forged transactions")
		return Rejected
	}
	if len(forged) != 0 {
		log.WithField("forged", forged.String()).Warn("Block contains already forged transactions")
		return Rejected
	}

	return p.accept.Execute(b)
}

func (p *BlockProcessor) compatibleVersions(b *inter.Block) bool {
	for _, tx := range b.Transactions {
		if tx.Version == 0 || tx.Version > inter.TxVersion {
			return false
		}
	}
	return true
}

// checkNonces requires every sender's transactions to continue its nonce
// sequence without gaps.
func (p *BlockProcessor) checkNonces(b *inter.Block) error {
	expected := make(map[common.Address]*big.Int)
	for _, tx := range b.Transactions {
		if tx.Version < 2 {
			break
		}
		sender, err := tx.Sender()
		if err != nil {
			return errors.Wrapf(err, "tx %s", tx.ID().String())
		}
		next, ok := expected[sender]
		if !ok {
			next = new(big.Int).Add(p.wallets.Nonce(sender), big.NewInt(1))
		}
		if tx.Nonce == nil || tx.Nonce.Cmp(next) != 0 {
			return errors.Wrapf(ErrInvalidNonce, "tx %s: nonce %v for sender %s, expected %v", tx.ID().String(), tx.Nonce, sender.Hex(), next)
		}
		expected[sender] = new(big.Int).Add(next, big.NewInt(1))
	}
	return nil
}

// IsBlockChained reports whether next follows last in id, height and slot.
func IsBlockChained(rules network.Rules, last, next *inter.Block) bool {
	if next.PreviousBlock != last.ID() || next.Height != last.Height+1 {
		return false
	}
	blockTime := rules.Milestone(next.Height).BlockTime
	if blockTime == 0 {
		return next.Timestamp > last.Timestamp
	}
	return last.Timestamp/blockTime < next.Timestamp/blockTime
}

// forgedTransactions finds ids of b already in the chain, either stored or
// applied but not yet committed.
func (p *BlockProcessor) forgedTransactions(b *inter.Block) (hash.Hashes, error) {
	ids := b.Transactions.IDs()
	if len(ids) == 0 {
		return nil, nil
	}
	forged, err := p.store.ForgedTransactionIDs(ids)
	if err != nil {
		return nil, err
	}
	unflushed := p.state.UnflushedTransactionIDs()
	for _, id := range ids {
		if _, ok := unflushed[id]; ok {
			forged = append(forged, id)
		}
	}
	return forged, nil
}

// Commit persists one accepted unit.
func (p *BlockProcessor) Commit(unit *Unit) error {
	return p.CommitBatch([]*Unit{unit})
}

// CommitBatch persists accepted units in one write, advances the round
// counter and runs the commit handlers for each unit in order.
func (p *BlockProcessor) CommitBatch(units []*Unit) error {
	if len(units) == 0 {
		return nil
	}
	blocks := make([]*inter.Block, len(units))
	for i, u := range units {
		if u.Result != Accepted {
			return errors.Wrapf(ErrNotAccepted, "height %d: %s", u.Block.Height, u.Result)
		}
		blocks[i] = u.Block
	}

	p.commitLock.Lock()
	defer p.commitLock.Unlock()

	if err := p.store.SaveBlocks(blocks); err != nil {
		return errors.Wrap(err, "save blocks")
	}
	p.state.SetLastStoredHeight(blocks[len(blocks)-1].Height)

	p.handlersMu.RLock()
	handlers := p.handlers
	p.handlersMu.RUnlock()

	for _, u := range units {
		total := p.state.AddTotalRound(uint64(u.Block.Round) + 1)
		p.log.WithFields(logrus.Fields{
			"height":     u.Block.Height,
			"round":      u.Block.Round,
			"totalRound": total,
			"txs":        len(u.Block.Transactions),
		}).Info("Committed block")
		for _, h := range handlers {
			if err := h.OnCommit(u); err != nil {
				p.log.WithError(err).WithField("height", u.Block.Height).Error("Commit handler failed")
			}
		}
	}
	return nil
}
