package integration

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network"
)

// FakeTransfer returns a signed transfer from the owner of key.
func FakeTransfer(key *ecdsa.PrivateKey, nonce uint64, to common.Address, amount, fee int64) *inter.Transaction {
	tx := &inter.Transaction{
		Version:   inter.TxVersion,
		Nonce:     new(big.Int).SetUint64(nonce),
		Recipient: to,
		Amount:    big.NewInt(amount),
		Fee:       big.NewInt(fee),
	}
	if err := tx.Sign(key); err != nil {
		panic(err)
	}
	return tx
}

// FakeAddress returns the wallet address of fake validator n.
func FakeAddress(n int) common.Address {
	return crypto.PubkeyToAddress(FakeKey(n).PublicKey)
}

// NextBlock forges the block on top of parent at the given round, as rules
// dictate for its height.
func NextBlock(rules network.Rules, parent *inter.Block, generator *ecdsa.PrivateKey, round uint32, txs inter.Transactions) *inter.Block {
	height := parent.Height + 1
	m := rules.Milestone(height)
	reward := new(big.Int)
	if m.Reward != nil {
		reward.Set(m.Reward)
	}
	return inter.NewBlock(inter.BlockHeader{
		Version:            m.Block.Version,
		Timestamp:          parent.Timestamp + m.BlockTime*(round+1),
		Height:             height,
		Round:              round,
		PreviousBlock:      parent.ID(),
		Reward:             reward,
		GeneratorPublicKey: crypto.CompressPubkey(&generator.PublicKey),
	}, txs)
}
