// Package network defines the consensus-critical parameters of a network.
//
// Parameters that may change over the life of a chain are grouped into
// Milestones, each taking effect from its Height onwards. Everything that
// validates or produces blocks reads its limits through Rules.Milestone.
package network

import (
	"encoding/json"
	"math/big"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
)

// Network identification constants
const (
	MainNetworkID uint64 = 0xa5e7
	TestNetworkID uint64 = 0xa5e8
	FakeNetworkID uint64 = 0xa5e9

	// DefaultActiveValidators is the validator count of the public networks.
	DefaultActiveValidators = 53
)

// Milestone is a set of parameters active from Height onwards.
type Milestone struct {
	Height idx.Block

	// ActiveValidators is the number of validators taking part in every round.
	// A change must land exactly on a round boundary.
	ActiveValidators uint32

	// BlockTime is the target block interval in seconds.
	BlockTime uint32

	// Reward is paid to the generator of every block.
	Reward *big.Int

	Block BlockRules
}

// BlockRules bounds a single block.
type BlockRules struct {
	Version         uint8
	MaxTransactions uint32
	MaxPayload      uint32 // serialized size in bytes
}

// Rules describes a network: its identity and its milestone schedule.
type Rules struct {
	Name      string
	NetworkID uint64

	// Nethash is the payload hash of the genesis block. A node refuses to
	// start on a database whose genesis does not match it.
	Nethash hash.Hash

	// Milestones are ordered by height. The first one applies to genesis.
	Milestones []Milestone
}

// Milestone returns the milestone in effect at height.
func (r Rules) Milestone(height idx.Block) Milestone {
	i := sort.Search(len(r.Milestones), func(i int) bool {
		return r.Milestones[i].Height > height
	})
	if i == 0 {
		return r.Milestones[0]
	}
	return r.Milestones[i-1]
}

// ActiveValidators is a shortcut for Milestone(height).ActiveValidators.
func (r Rules) ActiveValidators(height idx.Block) int {
	return int(r.Milestone(height).ActiveValidators)
}

// MainNetRules returns the configuration of the public network.
func MainNetRules() Rules {
	return Rules{
		Name:      "main",
		NetworkID: MainNetworkID,
		Milestones: []Milestone{
			{
				Height:           0,
				ActiveValidators: DefaultActiveValidators,
				BlockTime:        8,
				Reward:           big.NewInt(0),
				Block:            DefaultBlockRules(),
			},
			{
				Height:           75600,
				ActiveValidators: DefaultActiveValidators,
				BlockTime:        8,
				Reward:           big.NewInt(2e8),
				Block:            DefaultBlockRules(),
			},
		},
	}
}

// TestNetRules mirrors the main network with its own id.
func TestNetRules() Rules {
	rules := MainNetRules()
	rules.Name = "test"
	rules.NetworkID = TestNetworkID
	return rules
}

// FakeNetRules returns rules for a local network of n validators with
// short blocks and a reward from the first height.
func FakeNetRules(n int) Rules {
	return Rules{
		Name:      "fake",
		NetworkID: FakeNetworkID,
		Milestones: []Milestone{
			{
				Height:           0,
				ActiveValidators: uint32(n),
				BlockTime:        1,
				Reward:           big.NewInt(2e8),
				Block:            DefaultBlockRules(),
			},
		},
	}
}

// DefaultBlockRules returns the block limits shared by all networks.
func DefaultBlockRules() BlockRules {
	return BlockRules{
		Version:         1,
		MaxTransactions: 150,
		MaxPayload:      2 * 1024 * 1024,
	}
}

// Copy creates a deep copy of Rules.
func (r Rules) Copy() Rules {
	cp := r
	cp.Milestones = make([]Milestone, len(r.Milestones))
	for i, m := range r.Milestones {
		cp.Milestones[i] = m
		if m.Reward != nil {
			cp.Milestones[i].Reward = new(big.Int).Set(m.Reward)
		}
	}
	return cp
}

// String returns the JSON form of the rules, for logs.
func (r Rules) String() string {
	b, _ := json.Marshal(&r)
	return string(b)
}
