// Package processor decides what happens to a block that reaches the tip of
// the chain: it verifies the block, applies it or explains why not, and
// commits accepted blocks.
package processor

import (
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/go-asset-bft/inter"
)

// Result is the outcome of processing one block.
type Result int

const (
	Accepted Result = iota
	DiscardedButCanBeBroadcasted
	Rejected
	Rollback
	Reverted
	Corrupted
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case DiscardedButCanBeBroadcasted:
		return "discarded"
	case Rejected:
		return "rejected"
	case Rollback:
		return "rollback"
	case Reverted:
		return "reverted"
	case Corrupted:
		return "corrupted"
	}
	return "unknown"
}

type (
	// DatabaseInteraction applies and reverts the ledger effects of blocks.
	DatabaseInteraction interface {
		ApplyBlock(*inter.Block) error
		RevertBlock(*inter.Block) error
	}

	// BlockStore is the persistent chain.
	BlockStore interface {
		GetBlock(idx.Block) (*inter.Block, error)
		ForgedTransactionIDs(hash.Hashes) (hash.Hashes, error)
		SaveBlocks([]*inter.Block) error
	}

	// TransactionPool holds transactions not yet in a block.
	TransactionPool interface {
		Remove(inter.Transactions)
		Readd(inter.Transactions)
	}

	// Blockchain is the part of the blockchain service the handlers drive.
	Blockchain interface {
		ResetLastDownloadedBlock()
		ResetWakeUp()
		ClearQueue()
	}

	// CommitHandler is told about every committed block.
	CommitHandler interface {
		OnCommit(inter.CommittedUnit) error
	}
)

// Unit is a block on its way to be committed.
type Unit struct {
	Block  *inter.Block
	Result Result
}

// NewUnit wraps b, not yet processed.
func NewUnit(b *inter.Block) *Unit {
	return &Unit{Block: b, Result: Rejected}
}

func (u *Unit) CommittedBlock() *inter.Block { return u.Block }
func (u *Unit) CommitRound() uint32          { return u.Block.Round }
