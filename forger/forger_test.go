package forger

import (
	"sync"
	"testing"
	"time"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb/memorydb"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-asset-bft/blockchain"
	"github.com/rony4d/go-asset-bft/consensus"
	"github.com/rony4d/go-asset-bft/database"
	"github.com/rony4d/go-asset-bft/integration"
	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network/genesis"
	"github.com/rony4d/go-asset-bft/proposer"
	"github.com/rony4d/go-asset-bft/state"
	"github.com/rony4d/go-asset-bft/txpool"
	"github.com/rony4d/go-asset-bft/validatorset"
)

type chainStub struct {
	mu       sync.Mutex
	state    blockchain.State
	received []*inter.Block
}

func (c *chainStub) State() blockchain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *chainStub) HandleIncomingBlock(b *inter.Block, fromForger bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, b)
}

func (c *chainStub) blocks() []*inter.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*inter.Block(nil), c.received...)
}

type testEnv struct {
	genesis  *genesis.Genesis
	state    *state.Store
	pool     *txpool.Pool
	selector *proposer.Selector
	chain    *chainStub
	rounds   *consensus.RoundStateRepository
	now      time.Time
	forger   *Forger
}

func newTestEnv(t *testing.T, validators int, local func(*proposer.Selector) idx.Validator) *testEnv {
	g, err := integration.FakeGenesis(validators)
	require.NoError(t, err)
	set, err := validatorset.New(g.Validators)
	require.NoError(t, err)
	log, _ := test.NewNullLogger()

	env := &testEnv{
		genesis: g,
		state:   state.NewStore(10),
		pool:    txpool.New(100, log),
		chain:   &chainStub{state: blockchain.StateIdle},
		now:     time.Unix(integration.FakeGenesisTime+10, 0),
	}
	store := database.NewStore(memorydb.New(), log)
	env.state.SetLastBlock(g.Block)
	env.state.SetStarted(true)
	env.selector = proposer.New(g.Rules, env.state, store, log)
	require.NoError(t, env.selector.Restore())

	env.rounds = consensus.NewRoundStateRepository()
	aggregator := consensus.NewAggregator(set)
	cctx := consensus.NewContext(0)
	proposals := consensus.NewProposalProcessor(consensus.ProposalProcessorConfig{}, consensus.ProposalProcessorDeps{
		Context:    cctx,
		Rules:      g.Rules,
		Validators: set,
		Selector:   env.selector,
		Aggregator: aggregator,
		Rounds:     env.rounds,
		Storage:    store,
	}, log)

	v := local(env.selector)
	env.forger = New(Keys{
		Index:     v,
		Wallet:    integration.FakeKey(int(v) + 1),
		Consensus: integration.FakeConsensusKey(int(v) + 1),
	}, Deps{
		Rules:      g.Rules,
		Context:    cctx,
		Selector:   env.selector,
		Proposals:  proposals,
		Aggregator: aggregator,
		State:      env.state,
		Pool:       env.pool,
		Chain:      env.chain,
		Clock:      func() time.Time { return env.now },
	}, log)
	proposals.SetHandler(env.forger)
	return env
}

func roundProposer(s *proposer.Selector) idx.Validator {
	return s.MustGetValidatorIndex(0)
}

func TestForgeSoloBlock(t *testing.T) {
	env := newTestEnv(t, 1, roundProposer)
	tx := integration.FakeTransfer(integration.FakeKey(1), 1, integration.FakeAddress(1), 10, 1)
	require.NoError(t, env.pool.Add(tx))

	p, err := env.forger.Forge()
	require.NoError(t, err)
	require.NotNil(t, p)

	b := p.Block.Block
	require.Equal(t, idx.Block(1), b.Height)
	require.Equal(t, env.genesis.Block.ID(), b.PreviousBlock)
	require.Equal(t, uint32(env.now.Unix()), b.Timestamp)
	require.Equal(t, inter.Transactions{tx}, b.Transactions)
	require.Eventually(t, func() bool {
		got := env.chain.blocks()
		return len(got) == 1 && got[0].ID() == b.ID()
	}, time.Second, 10*time.Millisecond)

	id := b.ID()
	rs := env.rounds.GetRoundState(b.Height, b.Round)
	require.Len(t, rs.Prevotes(&id), 1)
	require.Len(t, rs.Precommits(&id), 1)
}

func TestSoloCommitRejectsMismatchedPrecommit(t *testing.T) {
	env := newTestEnv(t, 1, roundProposer)
	p, err := env.forger.Forge()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(env.chain.blocks()) == 1 }, time.Second, 10*time.Millisecond)

	// a precommit already recorded for the block but signed over another
	// round takes the local vote's place and breaks the proof
	id := p.Block.Block.ID()
	stale, err := integration.FakeConsensusKey(int(p.ValidatorIndex) + 1).Sign(inter.PrecommitPayload(p.Height, p.Round+5, &id))
	require.NoError(t, err)
	rs := env.rounds.GetRoundState(p.Height, p.Round+1)
	require.True(t, rs.AddPrecommit(p.ValidatorIndex, &id, stale))

	proof, err := env.forger.commitProof(rs, p, 1)
	require.ErrorIs(t, err, ErrInvalidCommitProof)
	require.Nil(t, proof)
}

func TestForgeWaits(t *testing.T) {
	t.Run("not started", func(t *testing.T) {
		env := newTestEnv(t, 1, roundProposer)
		env.state.SetStarted(false)
		p, err := env.forger.Forge()
		require.NoError(t, err)
		require.Nil(t, p)
	})

	t.Run("syncing", func(t *testing.T) {
		env := newTestEnv(t, 1, roundProposer)
		env.chain.state = blockchain.StateSyncing
		p, err := env.forger.Forge()
		require.NoError(t, err)
		require.Nil(t, p)
	})

	t.Run("slot of the last block", func(t *testing.T) {
		env := newTestEnv(t, 1, roundProposer)
		env.now = time.Unix(integration.FakeGenesisTime, 0)
		p, err := env.forger.Forge()
		require.NoError(t, err)
		require.Nil(t, p)
	})

	t.Run("not the proposer", func(t *testing.T) {
		env := newTestEnv(t, 3, func(s *proposer.Selector) idx.Validator {
			return (s.MustGetValidatorIndex(0) + 1) % 3
		})
		p, err := env.forger.Forge()
		require.NoError(t, err)
		require.Nil(t, p)
	})
}

func TestProposalLeftToEngine(t *testing.T) {
	env := newTestEnv(t, 3, roundProposer)

	p, err := env.forger.Forge()
	require.NoError(t, err)
	require.NotNil(t, p)

	// the proposal is admitted, the block waits for the votes
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, env.chain.blocks())
}

func TestForgeTwiceInRound(t *testing.T) {
	env := newTestEnv(t, 3, roundProposer)

	_, err := env.forger.Forge()
	require.NoError(t, err)
	_, err = env.forger.Forge()
	require.ErrorIs(t, err, ErrProposalRefused)
}
