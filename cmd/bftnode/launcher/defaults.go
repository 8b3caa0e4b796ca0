package launcher

import (
	"github.com/rony4d/go-asset-bft/blockchain"
	"github.com/rony4d/go-asset-bft/consensus"
	"github.com/rony4d/go-asset-bft/logger"
)

const (
	NetworkMain = "main"
	NetworkTest = "test"
	NetworkFake = "fake"
)

// DefaultConfig returns the configuration the CLI flags override.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			Name: "bftnode", //	Identity shown in every log line.
		},
		Network: NetworkConfig{
			Name:    NetworkFake, //	Network preset; only the fake network ships a genesis.
			FakeNet: "1/1",       //	Local validator and size of the fake network.
		},
		Logging: logger.DefaultConfig(),
		Consensus: consensus.ProposalProcessorConfig{
			MaxRoundAhead: consensus.DefaultMaxRoundAhead, //	Proposals further ahead of the local round are invalid.
		},
		Blockchain: blockchain.DefaultConfig(),
		Cache: CacheConfig{
			RecentBlocks: 100, //	Recent blocks kept for reverts and duplicate transaction checks.
		},
		TxPool: TxPoolConfig{
			Size: 4096, //	Pending transactions beyond this are refused.
		},
	}
}
