package processor

import (
	"fmt"
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/hash"

	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network"
)

// Verification lists everything wrong with a block.
type Verification struct {
	Verified bool
	Errors   []string
}

// Verifier checks a block on its own, against the rules of its height.
type Verifier struct {
	rules network.Rules
}

// NewVerifier returns a Verifier applying the milestone of each block height.
func NewVerifier(rules network.Rules) *Verifier {
	return &Verifier{rules: rules}
}

// Verify runs every structural check on b and collects all failures rather
// than stopping at the first one:
//
//   - previous block id: zero for genesis, set for every other height
//   - reward and version required by the milestone
//   - serialized size and transaction count within the milestone limits
//   - no duplicate, expired or badly signed transaction
//   - totals, payload length and payload hash recomputed from the transactions
//
// Chaining onto the tip and ledger effects are not checked here.
func (v *Verifier) Verify(b *inter.Block) Verification {
	var errs []string
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}
	m := v.rules.Milestone(b.Height)

	if b.Height == 0 && b.PreviousBlock != hash.Zero {
		fail("genesis block has invalid previous block")
	}
	if b.Height != 0 && b.PreviousBlock == hash.Zero {
		fail("invalid previous block")
	}
	if reward := orZero(m.Reward); b.Reward == nil || b.Reward.Cmp(reward) != 0 {
		fail("invalid block reward: %v expected: %v", b.Reward, reward)
	}
	if b.Version != m.Block.Version {
		fail("invalid block version %d, expected %d", b.Version, m.Block.Version)
	}
	if size := b.Size(); size == 0 || uint32(size) > m.Block.MaxPayload {
		fail("payload is too large: %d > %d", size, m.Block.MaxPayload)
	}
	if uint32(len(b.Transactions)) != b.NumberOfTransactions {
		fail("invalid number of transactions")
	}
	if b.Height > 0 && uint32(len(b.Transactions)) > m.Block.MaxTransactions {
		fail("transactions length is too high")
	}

	seen := make(map[hash.Hash]bool, len(b.Transactions))
	for _, tx := range b.Transactions {
		id := tx.ID()
		if seen[id] {
			fail("encountered duplicate transaction: %s", id.String())
		}
		seen[id] = true
		if tx.Expiration > 0 && uint64(tx.Expiration) <= uint64(b.Height) {
			fail("encountered expired transaction: %s", id.String())
		}
		if !tx.Verify() {
			fail("invalid transaction signature: %s", id.String())
		}
	}

	p := inter.ComputePayload(b.Transactions)
	if b.TotalAmount == nil || p.TotalAmount.Cmp(b.TotalAmount) != 0 {
		fail("invalid total amount")
	}
	if b.TotalFee == nil || p.TotalFee.Cmp(b.TotalFee) != 0 {
		fail("invalid total fee")
	}
	if p.Length != b.PayloadLength {
		fail("invalid payload length")
	}
	if p.Hash != b.PayloadHash {
		fail("invalid payload hash")
	}

	return Verification{Verified: len(errs) == 0, Errors: errs}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
