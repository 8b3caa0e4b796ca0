package launcher

import (
	"context"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb/memorydb"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/blockchain"
	"github.com/rony4d/go-asset-bft/blockchain/processor"
	"github.com/rony4d/go-asset-bft/consensus"
	"github.com/rony4d/go-asset-bft/database"
	"github.com/rony4d/go-asset-bft/forger"
	"github.com/rony4d/go-asset-bft/integration"
	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network/genesis"
	"github.com/rony4d/go-asset-bft/proposer"
	"github.com/rony4d/go-asset-bft/state"
	"github.com/rony4d/go-asset-bft/txpool"
	"github.com/rony4d/go-asset-bft/validatorset"
)

// Node is every component of a running node, wired together.
type Node struct {
	Genesis   *genesis.Genesis
	Store     *database.Store
	State     *state.Store
	Wallets   *state.WalletRepository
	Pool      *txpool.Pool
	Consensus *consensus.Context
	Selector  *proposer.Selector
	Proposals *consensus.ProposalProcessor
	Processor *processor.BlockProcessor
	Chain     *blockchain.Service
	Forger    *forger.Forger // nil unless the node is a validator

	exit chan string
	log  logrus.FieldLogger
}

// NewNode builds a node of the fake network described by cfg.
func NewNode(cfg Config, log logrus.FieldLogger) (*Node, error) {
	id, num, err := integration.ParseFakeNet(cfg.Network.FakeNet)
	if err != nil {
		return nil, err
	}
	g, err := integration.FakeGenesis(num)
	if err != nil {
		return nil, errors.Wrap(err, "genesis")
	}
	validators, err := validatorset.New(g.Validators)
	if err != nil {
		return nil, errors.Wrap(err, "validators")
	}
	log = log.WithField("node", cfg.Node.Name)

	n := &Node{
		Genesis:   g,
		Store:     database.NewStore(memorydb.New(), log),
		State:     state.NewStore(cfg.Cache.RecentBlocks),
		Wallets:   state.NewWalletRepository(),
		Pool:      txpool.New(cfg.TxPool.Size, log),
		Consensus: consensus.NewContext(0),
		exit:      make(chan string, 1),
		log:       log,
	}
	if err := n.installGenesis(); err != nil {
		return nil, err
	}
	interaction := database.NewInteraction(n.Store, n.State, n.Wallets, log)
	n.Selector = proposer.New(g.Rules, n.State, n.Store, log)
	rounds := consensus.NewRoundStateRepository()

	n.Chain = blockchain.NewService(cfg.Blockchain, blockchain.Deps{
		Rules:       g.Rules,
		State:       n.State,
		Database:    n.Store,
		Interaction: interaction,
		Pool:        n.Pool,
		Network:     blockchain.NewStandaloneMonitor(log),
		Exit:        n.onExit,
	}, log)
	n.Processor = processor.NewBlockProcessor(processor.BlockProcessorDeps{
		Rules:      g.Rules,
		Validators: validators,
		Database:   interaction,
		Store:      n.Store,
		State:      n.State,
		Wallets:    n.Wallets,
		Pool:       n.Pool,
		Blockchain: n.Chain,
		CommitLock: n.Consensus.CommitLocker(),
	}, log)
	n.Processor.RegisterCommitHandler(n.Selector)
	n.Processor.RegisterCommitHandler(n.Consensus)
	n.Processor.RegisterCommitHandler(rounds)
	n.Chain.SetProcessor(n.Processor)
	n.Chain.RegisterResetHook(func(last *inter.Block) error {
		n.Consensus.Reset(last.Height)
		return n.Selector.Restore()
	})

	aggregator := consensus.NewAggregator(validators)
	n.Proposals = consensus.NewProposalProcessor(cfg.Consensus, consensus.ProposalProcessorDeps{
		Context:    n.Consensus,
		Rules:      g.Rules,
		Validators: validators,
		Selector:   n.Selector,
		Aggregator: aggregator,
		Rounds:     rounds,
		Storage:    n.Store,
	}, log)

	if id != 0 {
		n.Forger = forger.New(forger.Keys{
			Index:     idx.Validator(id - 1),
			Wallet:    integration.FakeKey(id),
			Consensus: integration.FakeConsensusKey(id),
		}, forger.Deps{
			Rules:      g.Rules,
			Context:    n.Consensus,
			Selector:   n.Selector,
			Proposals:  n.Proposals,
			Aggregator: aggregator,
			State:      n.State,
			Pool:       n.Pool,
			Chain:      n.Chain,
		}, log)
		n.Proposals.SetHandler(n.Forger)
	}
	return n, nil
}

func (n *Node) installGenesis() error {
	_, ok, err := n.Store.GetLastHeight()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	n.log.WithField("nethash", n.Genesis.Rules.Nethash.String()).Info("Installing genesis block")
	return n.Store.SaveBlocks([]*inter.Block{n.Genesis.Block})
}

func (n *Node) onExit(reason string) {
	select {
	case n.exit <- reason:
	default:
	}
}

// Start runs the node until ctx is done.
func (n *Node) Start(ctx context.Context) {
	n.Proposals.Start(ctx)
	n.Chain.Start(ctx)
	if n.Forger != nil {
		n.Forger.Start(ctx)
	}
}

// Exited delivers the reason the node gave up.
func (n *Node) Exited() <-chan string {
	return n.exit
}

// Stop stops syncing and closes the store.
func (n *Node) Stop() error {
	n.Chain.Stop()
	return n.Store.Close()
}
