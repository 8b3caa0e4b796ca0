// Package genesis describes the initial state of a network: its rules, the
// registered validators and the genesis block, whose transactions mint the
// initial balances.
package genesis

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network"
	"github.com/rony4d/go-asset-bft/validatorset"
)

var ErrNethashMismatch = errors.New("genesis payload hash does not match the network nethash")

// Account is an initial balance.
type Account struct {
	Address common.Address
	Balance *big.Int
}

// Genesis is everything a node needs to start a network from scratch.
type Genesis struct {
	Rules      network.Rules
	Validators []validatorset.Keys
	Block      *inter.Block
}

// New builds the genesis block and sets rules.Nethash from it.
func New(rules network.Rules, validators []validatorset.Keys, alloc []Account, minter *ecdsa.PrivateKey, timestamp uint32) (*Genesis, error) {
	milestone := rules.Milestone(0)
	txs := make(inter.Transactions, 0, len(alloc))
	for i, acc := range alloc {
		tx := &inter.Transaction{
			Version:   inter.TxVersion,
			Nonce:     big.NewInt(int64(i + 1)),
			Recipient: acc.Address,
			Amount:    new(big.Int).Set(acc.Balance),
			Fee:       new(big.Int),
		}
		if err := tx.Sign(minter); err != nil {
			return nil, errors.Wrapf(err, "genesis allocation %d", i)
		}
		txs = append(txs, tx)
	}

	reward := new(big.Int)
	if milestone.Reward != nil {
		reward.Set(milestone.Reward)
	}
	block := inter.NewBlock(inter.BlockHeader{
		Version:            milestone.Block.Version,
		Timestamp:          timestamp,
		Height:             0,
		PreviousBlock:      hash.Zero,
		Reward:             reward,
		GeneratorPublicKey: crypto.CompressPubkey(&minter.PublicKey),
	}, txs)

	rules = rules.Copy()
	rules.Nethash = block.PayloadHash
	return &Genesis{
		Rules:      rules,
		Validators: validators,
		Block:      block,
	}, nil
}

// Validate checks that the block is a genesis block of these rules.
func (g *Genesis) Validate() error {
	if g.Block == nil || g.Block.Height != 0 {
		return errors.New("genesis block must have height 0")
	}
	if g.Block.PreviousBlock != hash.Zero {
		return errors.New("genesis block must not have a parent")
	}
	if g.Block.PayloadHash != g.Rules.Nethash {
		return ErrNethashMismatch
	}
	_, err := validatorset.New(g.Validators)
	return err
}
