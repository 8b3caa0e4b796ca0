package blockchain

import (
	"math/rand"
	"testing"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-asset-bft/integration"
	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/state"
)

var errCorrupted = errors.New("corrupted")

func nullLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func blockAt(h idx.Block) *inter.Block {
	return inter.NewBlock(inter.BlockHeader{Height: h, Timestamp: uint32(h)}, nil)
}

func TestRollbackDatabase(t *testing.T) {
	cfg := RollbackConfig{MaxBlockRewind: 20, Steps: 5}

	t.Run("removes blocks until the chain verifies", func(t *testing.T) {
		last, after := blockAt(5556), blockAt(5536)
		db := new(databaseMock)
		db.On("GetLastBlock").Return(last, nil).Once()
		db.On("GetLastBlock").Return(after, nil).Once()
		db.On("VerifyBlockchain").Return(errCorrupted).Times(3)
		db.On("VerifyBlockchain").Return(nil).Once()
		chain := new(blockchainMock)
		chain.On("RemoveTopBlocks", 5).Return(nil).Times(4)
		chain.On("Dispatch", EventSuccess).Once()
		st := state.NewStore(10)

		NewRollbackDatabase(cfg, chain, db, st, nullLogger()).Handle()

		db.AssertNumberOfCalls(t, "VerifyBlockchain", 4)
		chain.AssertExpectations(t)
		chain.AssertNumberOfCalls(t, "Dispatch", 1)
		require.True(t, st.GetRestoredDatabaseIntegrity())
		require.Equal(t, after, st.GetLastBlock())
		require.Equal(t, idx.Block(5536), st.GetLastStoredHeight())
	})

	t.Run("fails when the rewind budget is spent", func(t *testing.T) {
		db := new(databaseMock)
		db.On("GetLastBlock").Return(blockAt(5556), nil)
		db.On("VerifyBlockchain").Return(errCorrupted)
		chain := new(blockchainMock)
		chain.On("RemoveTopBlocks", 5).Return(nil)
		chain.On("Dispatch", EventFailure).Once()
		st := state.NewStore(10)

		NewRollbackDatabase(cfg, chain, db, st, nullLogger()).Handle()

		db.AssertNumberOfCalls(t, "VerifyBlockchain", 4)
		chain.AssertNumberOfCalls(t, "RemoveTopBlocks", 4)
		chain.AssertNumberOfCalls(t, "Dispatch", 1)
		chain.AssertExpectations(t)
		require.False(t, st.GetRestoredDatabaseIntegrity())
		require.Nil(t, st.GetLastBlock())
		require.Equal(t, idx.Block(0), st.GetLastStoredHeight())
	})

	t.Run("fails after rewinding to the first block", func(t *testing.T) {
		db := new(databaseMock)
		db.On("GetLastBlock").Return(blockAt(3), nil)
		db.On("VerifyBlockchain").Return(errCorrupted)
		chain := new(blockchainMock)
		chain.On("RemoveTopBlocks", 2).Return(nil).Once()
		chain.On("Dispatch", EventFailure).Once()
		st := state.NewStore(10)

		NewRollbackDatabase(cfg, chain, db, st, nullLogger()).Handle()

		db.AssertNumberOfCalls(t, "VerifyBlockchain", 1)
		chain.AssertExpectations(t)
		require.False(t, st.GetRestoredDatabaseIntegrity())
		require.Nil(t, st.GetLastBlock())
	})
}

func TestStartForkRecovery(t *testing.T) {
	t.Run("random rollback", func(t *testing.T) {
		var removed []int
		chain := new(blockchainMock)
		chain.On("ClearAndStopQueue")
		chain.On("RemoveBlocks", mock.AnythingOfType("int")).Run(func(args mock.Arguments) {
			removed = append(removed, args.Int(0))
		}).Return(nil)
		chain.On("Dispatch", EventSuccess)
		chain.On("ResumeQueue")
		nm := new(networkMock)
		nm.On("RefreshPeersAfterFork").Return(nil)

		a := NewStartForkRecovery(chain, state.NewStore(10), nm, rand.New(rand.NewSource(1)), nullLogger())
		const runs = 3000
		for i := 0; i < runs; i++ {
			a.Handle()
		}

		require.Len(t, removed, runs)
		seen := make(map[int]bool)
		for _, n := range removed {
			require.GreaterOrEqual(t, n, 4)
			require.LessOrEqual(t, n, 102)
			seen[n] = true
		}
		require.Len(t, seen, 99)
		chain.AssertNumberOfCalls(t, "Dispatch", runs)
		chain.AssertNumberOfCalls(t, "ResumeQueue", runs)
	})

	t.Run("recorded rollback", func(t *testing.T) {
		st := state.NewStore(10)
		st.SetNumberOfBlocksToRollback(7)
		chain := new(blockchainMock)
		chain.On("ClearAndStopQueue").Once()
		chain.On("RemoveBlocks", 7).Return(nil).Once()
		chain.On("Dispatch", EventSuccess).Once()
		chain.On("ResumeQueue").Once()
		nm := new(networkMock)
		nm.On("RefreshPeersAfterFork").Return(nil).Once()

		NewStartForkRecovery(chain, st, nm, rand.New(rand.NewSource(1)), nullLogger()).Handle()

		chain.AssertExpectations(t)
		nm.AssertExpectations(t)
		require.Equal(t, 0, st.GetNumberOfBlocksToRollback())
	})

	t.Run("removal fails", func(t *testing.T) {
		chain := new(blockchainMock)
		chain.On("ClearAndStopQueue").Once()
		chain.On("RemoveBlocks", mock.AnythingOfType("int")).Return(errCorrupted).Once()
		chain.On("Dispatch", EventFailure).Once()

		NewStartForkRecovery(chain, state.NewStore(10), new(networkMock), rand.New(rand.NewSource(1)), nullLogger()).Handle()

		chain.AssertExpectations(t)
		chain.AssertNotCalled(t, "ResumeQueue")
	})
}

func TestCheckLastDownloadedBlockSynced(t *testing.T) {
	newChain := func(queued int, running, synced bool, expect Event) *blockchainMock {
		chain := new(blockchainMock)
		chain.On("QueueSize").Return(queued)
		chain.On("IsQueueRunning").Return(running)
		chain.On("IsSynced").Return(synced)
		chain.On("Dispatch", mock.Anything)
		return chain
	}
	dispatched := func(t *testing.T, chain *blockchainMock, expect Event) {
		t.Helper()
		chain.AssertNumberOfCalls(t, "Dispatch", 1)
		chain.AssertCalled(t, "Dispatch", expect)
	}

	t.Run("not synced by default", func(t *testing.T) {
		chain := newChain(0, false, false, EventNotSynced)
		NewCheckLastDownloadedBlockSynced(chain, state.NewStore(10), new(networkMock), nullLogger()).Handle()
		dispatched(t, chain, EventNotSynced)
	})

	t.Run("network start", func(t *testing.T) {
		st := state.NewStore(10)
		st.SetNetworkStart(true)
		chain := newChain(0, false, false, EventSynced)
		NewCheckLastDownloadedBlockSynced(chain, st, new(networkMock), nullLogger()).Handle()
		dispatched(t, chain, EventSynced)
	})

	t.Run("paused", func(t *testing.T) {
		chain := newChain(101, false, false, EventPaused)
		NewCheckLastDownloadedBlockSynced(chain, state.NewStore(10), new(networkMock), nullLogger()).Handle()
		dispatched(t, chain, EventPaused)
	})

	t.Run("network halted", func(t *testing.T) {
		st := state.NewStore(10)
		st.SetNoBlockCounter(6)
		chain := newChain(0, false, false, EventNetworkHalted)

		NewCheckLastDownloadedBlockSynced(chain, st, new(networkMock), nullLogger()).Handle()

		dispatched(t, chain, EventNetworkHalted)
		require.Equal(t, 1, st.GetP2PUpdateCounter())
		require.Equal(t, 0, st.GetNoBlockCounter())
	})

	t.Run("network halted without fork", func(t *testing.T) {
		st := state.NewStore(10)
		st.SetNoBlockCounter(6)
		st.SetP2PUpdateCounter(3)
		chain := newChain(0, false, false, EventNetworkHalted)
		nm := new(networkMock)
		nm.On("CheckNetworkHealth").Return(NetworkStatus{}).Once()

		NewCheckLastDownloadedBlockSynced(chain, st, nm, nullLogger()).Handle()

		dispatched(t, chain, EventNetworkHalted)
		nm.AssertExpectations(t)
		require.Equal(t, 0, st.GetP2PUpdateCounter())
		require.Equal(t, 0, st.GetNoBlockCounter())
	})

	t.Run("forked", func(t *testing.T) {
		st := state.NewStore(10)
		st.SetNoBlockCounter(6)
		st.SetP2PUpdateCounter(3)
		chain := newChain(0, false, false, EventFork)
		nm := new(networkMock)
		nm.On("CheckNetworkHealth").Return(NetworkStatus{Forked: true, BlocksToRollback: 12}).Once()

		NewCheckLastDownloadedBlockSynced(chain, st, nm, nullLogger()).Handle()

		dispatched(t, chain, EventFork)
		require.Equal(t, 12, st.GetNumberOfBlocksToRollback())
		require.Equal(t, 0, st.GetP2PUpdateCounter())
	})

	t.Run("queue still running", func(t *testing.T) {
		st := state.NewStore(10)
		st.SetNoBlockCounter(6)
		chain := newChain(0, true, false, EventNotSynced)

		NewCheckLastDownloadedBlockSynced(chain, st, new(networkMock), nullLogger()).Handle()

		dispatched(t, chain, EventNotSynced)
		require.Equal(t, 6, st.GetNoBlockCounter())
	})

	t.Run("synced", func(t *testing.T) {
		st := state.NewStore(10)
		st.SetLastDownloadedBlock(blockAt(1))
		st.SetNoBlockCounter(2)
		chain := newChain(0, false, true, EventSynced)

		NewCheckLastDownloadedBlockSynced(chain, st, new(networkMock), nullLogger()).Handle()

		dispatched(t, chain, EventSynced)
		require.Equal(t, 0, st.GetNoBlockCounter())
	})
}

func TestDownloadBlocks(t *testing.T) {
	g, err := integration.FakeGenesis(1)
	require.NoError(t, err)
	rules := g.Rules
	b1 := integration.NextBlock(rules, g.Block, integration.FakeKey(1), 0, nil)
	b2 := integration.NextBlock(rules, b1, integration.FakeKey(1), 0, nil)

	setup := func() (*blockchainMock, *networkMock, *state.Store) {
		st := state.NewStore(10)
		st.SetLastBlock(g.Block)
		st.SetLastDownloadedBlock(b1)
		chain := new(blockchainMock)
		chain.On("GetLastDownloadedBlock").Return(b1)
		chain.On("IsStopped").Return(false)
		return chain, new(networkMock), st
	}

	t.Run("chained blocks are queued", func(t *testing.T) {
		chain, nm, st := setup()
		nm.On("DownloadBlocksFromHeight", idx.Block(1)).Return([]*inter.Block{b2}, nil)
		chain.On("EnqueueBlocks", []*inter.Block{b2}).Once()
		chain.On("Dispatch", EventDownloaded).Once()

		NewDownloadBlocks(chain, st, nm, rules, nullLogger()).Handle()
		chain.AssertExpectations(t)
	})

	for name, blocks := range map[string][]*inter.Block{
		"no blocks":        nil,
		"unchained blocks": {b1},
	} {
		blocks := blocks
		t.Run(name, func(t *testing.T) {
			chain, nm, st := setup()
			nm.On("DownloadBlocksFromHeight", idx.Block(1)).Return(blocks, nil)
			chain.On("Dispatch", EventNoBlock).Once()

			NewDownloadBlocks(chain, st, nm, rules, nullLogger()).Handle()

			chain.AssertExpectations(t)
			chain.AssertNotCalled(t, "EnqueueBlocks", mock.Anything)
			require.Equal(t, 1, st.GetNoBlockCounter())
			require.Equal(t, g.Block.ID(), st.GetLastDownloadedBlock().ID())
		})
	}

	t.Run("stopped meanwhile", func(t *testing.T) {
		st := state.NewStore(10)
		st.SetLastDownloadedBlock(b1)
		chain := new(blockchainMock)
		chain.On("GetLastDownloadedBlock").Return(b1)
		chain.On("IsStopped").Return(true)
		nm := new(networkMock)
		nm.On("DownloadBlocksFromHeight", idx.Block(1)).Return([]*inter.Block{b2}, nil)

		NewDownloadBlocks(chain, st, nm, rules, nullLogger()).Handle()
		chain.AssertNotCalled(t, "Dispatch", mock.Anything)
	})

	t.Run("pointer moved meanwhile", func(t *testing.T) {
		chain, nm, st := setup()
		nm.On("DownloadBlocksFromHeight", idx.Block(1)).Run(func(mock.Arguments) {
			st.SetLastDownloadedBlock(g.Block)
		}).Return([]*inter.Block{b2}, nil)

		NewDownloadBlocks(chain, st, nm, rules, nullLogger()).Handle()
		chain.AssertNotCalled(t, "Dispatch", mock.Anything)
		chain.AssertNotCalled(t, "EnqueueBlocks", mock.Anything)
	})
}

func TestInitialize(t *testing.T) {
	g, err := integration.FakeGenesis(1)
	require.NoError(t, err)

	t.Run("integrity failure rolls back", func(t *testing.T) {
		db := new(databaseMock)
		db.On("VerifyBlockchain").Return(errCorrupted).Once()
		chain := new(blockchainMock)
		chain.On("Dispatch", EventRollback).Once()

		NewInitialize(chain, state.NewStore(10), db, new(interactionMock), new(networkMock), g.Rules, nullLogger()).Handle()
		chain.AssertExpectations(t)
	})

	t.Run("wrong genesis fails", func(t *testing.T) {
		other := inter.NewBlock(g.Block.BlockHeader, nil)
		db := new(databaseMock)
		db.On("VerifyBlockchain").Return(nil)
		db.On("GetBlock", idx.Block(0)).Return(other, nil)
		chain := new(blockchainMock)
		chain.On("Dispatch", EventFailure).Once()
		interaction := new(interactionMock)

		NewInitialize(chain, state.NewStore(10), db, interaction, new(networkMock), g.Rules, nullLogger()).Handle()
		chain.AssertExpectations(t)
		interaction.AssertNotCalled(t, "RebuildState")
	})

	t.Run("starts after a restore", func(t *testing.T) {
		st := state.NewStore(10)
		st.SetRestoredDatabaseIntegrity(true)
		db := new(databaseMock)
		db.On("GetBlock", idx.Block(0)).Return(g.Block, nil)
		interaction := new(interactionMock)
		interaction.On("RebuildState").Run(func(mock.Arguments) {
			st.SetLastBlock(g.Block)
		}).Return(nil).Once()
		nm := new(networkMock)
		nm.On("Boot").Return(nil).Once()
		chain := new(blockchainMock)
		chain.On("RunResetHooks").Return(nil).Once()
		chain.On("Dispatch", EventStarted).Once()

		NewInitialize(chain, st, db, interaction, nm, g.Rules, nullLogger()).Handle()

		db.AssertNotCalled(t, "VerifyBlockchain")
		chain.AssertExpectations(t)
		interaction.AssertExpectations(t)
		nm.AssertExpectations(t)
		require.Equal(t, g.Block.ID(), st.GetLastDownloadedBlock().ID())
	})

	t.Run("rebuild failure", func(t *testing.T) {
		db := new(databaseMock)
		db.On("VerifyBlockchain").Return(nil)
		db.On("GetBlock", idx.Block(0)).Return(g.Block, nil)
		interaction := new(interactionMock)
		interaction.On("RebuildState").Return(errCorrupted)
		chain := new(blockchainMock)
		chain.On("Dispatch", EventFailure).Once()

		NewInitialize(chain, state.NewStore(10), db, interaction, new(networkMock), g.Rules, nullLogger()).Handle()
		chain.AssertExpectations(t)
	})
}

func TestDownloadFinished(t *testing.T) {
	t.Run("network start skips processing", func(t *testing.T) {
		st := state.NewStore(10)
		st.SetNetworkStart(true)
		chain := new(blockchainMock)
		chain.On("Dispatch", EventSyncFinished).Once()

		NewDownloadFinished(chain, st, nullLogger()).Handle()
		chain.AssertExpectations(t)
		require.False(t, st.IsNetworkStart())
	})

	t.Run("idle queue", func(t *testing.T) {
		chain := new(blockchainMock)
		chain.On("IsQueueIdle").Return(true)
		chain.On("Dispatch", EventProcessFinished).Once()

		NewDownloadFinished(chain, state.NewStore(10), nullLogger()).Handle()
		chain.AssertExpectations(t)
	})

	t.Run("busy queue", func(t *testing.T) {
		chain := new(blockchainMock)
		chain.On("IsQueueIdle").Return(false)

		NewDownloadFinished(chain, state.NewStore(10), nullLogger()).Handle()
		chain.AssertNotCalled(t, "Dispatch", mock.Anything)
	})
}

func TestCheckLater(t *testing.T) {
	chain := new(blockchainMock)
	chain.On("IsStopped").Return(false)
	chain.On("IsWakeUpSet").Return(false).Once()
	chain.On("SetWakeUp").Once()
	NewCheckLater(chain).Handle()

	chain.On("IsWakeUpSet").Return(true)
	NewCheckLater(chain).Handle()
	chain.AssertNumberOfCalls(t, "SetWakeUp", 1)
}
