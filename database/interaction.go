package database

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/state"
)

var (
	ErrNonceMismatch = errors.New("transaction nonce does not follow the wallet nonce")
	ErrRevertGenesis = errors.New("genesis block cannot be reverted")
	ErrNotLastBlock  = errors.New("block is not the last applied block")
)

// Interaction applies blocks to the wallet state and the chain tip.
type Interaction struct {
	store   *Store
	state   *state.Store
	wallets *state.WalletRepository
	log     logrus.FieldLogger
}

// NewInteraction binds the persisted chain in store to the in-memory tip
// state and wallets it keeps in step.
func NewInteraction(store *Store, st *state.Store, wallets *state.WalletRepository, log logrus.FieldLogger) *Interaction {
	return &Interaction{
		store:   store,
		state:   st,
		wallets: wallets,
		log:     log.WithField("module", "database-interaction"),
	}
}

func txCost(tx *inter.Transaction) *big.Int {
	return new(big.Int).Add(tx.Amount, tx.Fee)
}

func blockIncome(b *inter.Block) *big.Int {
	income := new(big.Int)
	if b.Reward != nil {
		income.Add(income, b.Reward)
	}
	if b.TotalFee != nil {
		income.Add(income, b.TotalFee)
	}
	return income
}

func applyTransaction(m *state.Mutator, tx *inter.Transaction, mint bool) error {
	sender, err := tx.Sender()
	if err != nil {
		return err
	}
	if tx.Version >= 2 {
		expected := new(big.Int).Add(m.Get(sender).Nonce, common.Big1)
		if tx.Nonce == nil || tx.Nonce.Cmp(expected) != 0 {
			return errors.Wrapf(ErrNonceMismatch, "tx %s: expected %s, got %v", tx.ID().String(), expected, tx.Nonce)
		}
	}
	if !mint {
		if err := m.Debit(sender, txCost(tx)); err != nil {
			return errors.Wrapf(err, "tx %s", tx.ID().String())
		}
	}
	if tx.Version >= 2 {
		m.IncrementNonce(sender)
	}
	m.Credit(tx.Recipient, tx.Amount)
	return nil
}

func revertTransaction(m *state.Mutator, tx *inter.Transaction) error {
	sender, err := tx.Sender()
	if err != nil {
		return err
	}
	if err := m.Debit(tx.Recipient, tx.Amount); err != nil {
		return errors.Wrapf(err, "tx %s", tx.ID().String())
	}
	if tx.Version >= 2 {
		if err := m.DecrementNonce(sender); err != nil {
			return err
		}
	}
	m.Credit(sender, txCost(tx))
	return nil
}

// ApplyBlock applies the ledger effects of b and makes it the last block.
// Either every effect is applied or none.
func (i *Interaction) ApplyBlock(b *inter.Block) error {
	if err := i.applyWallets(b); err != nil {
		return err
	}
	i.state.SetLastBlock(b)
	return nil
}

func (i *Interaction) applyWallets(b *inter.Block) error {
	generator, err := b.Generator()
	if err != nil {
		return err
	}
	mint := b.Height == 0
	return i.wallets.Update(func(m *state.Mutator) error {
		for _, tx := range b.Transactions {
			if err := applyTransaction(m, tx, mint); err != nil {
				return err
			}
		}
		m.Credit(generator, blockIncome(b))
		return nil
	})
}

// RevertBlock undoes the ledger effects of b, which must be the last block.
// The chain tip is left to the caller.
func (i *Interaction) RevertBlock(b *inter.Block) error {
	if b.Height == 0 {
		return ErrRevertGenesis
	}
	if last := i.state.GetLastBlock(); last != nil && last.ID() != b.ID() {
		return errors.Wrapf(ErrNotLastBlock, "revert %s, last %s", b.String(), last.String())
	}
	generator, err := b.Generator()
	if err != nil {
		return err
	}
	return i.wallets.Update(func(m *state.Mutator) error {
		if err := m.Debit(generator, blockIncome(b)); err != nil {
			return errors.Wrap(err, "generator")
		}
		for j := len(b.Transactions) - 1; j >= 0; j-- {
			if err := revertTransaction(m, b.Transactions[j]); err != nil {
				return err
			}
		}
		return nil
	})
}

// RebuildState replays every stored block into empty wallets and restores
// the chain tip pointers and the total round.
func (i *Interaction) RebuildState() error {
	i.wallets.Reset()
	i.state.ClearRecentBlocks()

	var (
		last       *inter.Block
		applyErr   error
		totalRound uint64
	)
	err := i.store.ForEachBlock(0, func(b *inter.Block) bool {
		if b.Height == 0 {
			i.state.SetGenesisBlock(b)
		}
		if applyErr = i.applyWallets(b); applyErr != nil {
			applyErr = errors.Wrapf(applyErr, "block %s", b.String())
			return false
		}
		if b.Height != 0 {
			totalRound += uint64(b.Round) + 1
		}
		i.state.SetLastBlock(b)
		last = b
		return true
	})
	if err != nil {
		return err
	}
	if applyErr != nil {
		return applyErr
	}
	if last == nil {
		return errors.Wrap(ErrNotFound, "empty chain")
	}

	i.state.SetLastStoredHeight(last.Height)
	i.state.SetTotalRound(totalRound)
	i.log.WithFields(logrus.Fields{
		"height":  last.Height,
		"wallets": i.wallets.Len(),
	}).Info("State rebuilt")
	return nil
}
