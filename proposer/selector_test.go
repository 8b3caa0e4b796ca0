package proposer

import (
	"testing"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb/memorydb"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-asset-bft/database"
	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network"
	"github.com/rony4d/go-asset-bft/state"
)

var (
	// permutation of 53 validators seeded with total round 0
	expectedRound1 = []int{
		12, 30, 4, 39, 16, 7, 31, 52, 44, 47, 13, 46, 19, 29, 6, 28, 14, 17, 0, 3, 38, 25, 9, 20, 37, 40, 11, 33, 10,
		43, 45, 50, 22, 5, 36, 8, 21, 26, 18, 23, 15, 48, 1, 49, 32, 51, 34, 35, 42, 24, 27, 2, 41,
	}
	// seeded with total round 53
	expectedRound2 = []int{
		12, 27, 28, 6, 30, 14, 0, 35, 11, 5, 32, 52, 4, 29, 23, 40, 22, 51, 38, 44, 7, 50, 43, 10, 42, 26, 47, 39, 16,
		31, 3, 34, 13, 49, 17, 48, 2, 20, 21, 8, 46, 25, 1, 36, 9, 45, 18, 15, 33, 24, 37, 19, 41,
	}
)

type committed struct {
	block *inter.Block
}

func (c committed) CommittedBlock() *inter.Block { return c.block }
func (c committed) CommitRound() uint32          { return c.block.Round }

func commitAt(h idx.Block) committed {
	return committed{inter.NewBlock(inter.BlockHeader{Height: h}, nil)}
}

type env struct {
	state    *state.Store
	db       *database.Store
	selector *Selector
}

func newEnv() *env {
	log, _ := test.NewNullLogger()
	e := &env{
		state: state.NewStore(0),
		db:    database.NewStore(memorydb.New(), log),
	}
	e.selector = New(network.MainNetRules(), e.state, e.db, log)
	return e
}

func (e *env) indexes(t *testing.T, rounds int) []int {
	out := make([]int, rounds)
	for r := range out {
		v, err := e.selector.GetValidatorIndex(uint32(r))
		require.NoError(t, err)
		out[r] = int(v)
	}
	return out
}

func TestGetValidatorIndex(t *testing.T) {
	e := newEnv()
	require.NoError(t, e.selector.OnCommit(commitAt(0)))
	require.Equal(t, expectedRound1, e.indexes(t, 53))
	require.Equal(t, idx.Validator(12), e.selector.MustGetValidatorIndex(0))
}

func TestReshuffleAtRoundHeight(t *testing.T) {
	e := newEnv()
	require.NoError(t, e.selector.OnCommit(commitAt(0)))
	require.Equal(t, expectedRound1, e.indexes(t, 53))

	e.state.SetTotalRound(53)
	require.NoError(t, e.selector.OnCommit(commitAt(53)))
	require.Equal(t, expectedRound2, e.indexes(t, 53))
}

func TestNoReshuffleInsideRound(t *testing.T) {
	e := newEnv()
	require.NoError(t, e.selector.OnCommit(commitAt(0)))
	matrix := e.state.GetValidatorMatrix()

	for h := idx.Block(1); h < 53; h++ {
		e.state.SetTotalRound(uint64(h))
		require.NoError(t, e.selector.OnCommit(commitAt(h)))
		require.Equal(t, matrix, e.state.GetValidatorMatrix(), "height %d", h)
	}
	// proposer of round 0 follows the total round inside the matrix
	e.state.SetTotalRound(5)
	require.Equal(t, idx.Validator(matrix[5]), e.selector.MustGetValidatorIndex(0))
}

func TestProlongedRoundsWrap(t *testing.T) {
	e := newEnv()
	require.NoError(t, e.selector.OnCommit(commitAt(0)))
	for r := 0; r < 51*4; r++ {
		v, err := e.selector.GetValidatorIndex(uint32(r))
		require.NoError(t, err)
		require.Equal(t, expectedRound1[r%53], int(v), "round %d", r)
	}
	require.Equal(t, e.selector.MustGetValidatorIndex(7), e.selector.MustGetValidatorIndex(7+53*1000))
}

func TestIndexesArePermutation(t *testing.T) {
	e := newEnv()
	e.state.SetTotalRound(1234)
	require.NoError(t, e.selector.OnCommit(commitAt(0)))
	seen := make(map[int]bool)
	for _, v := range e.indexes(t, 53) {
		require.False(t, seen[v])
		seen[v] = true
	}
	require.Len(t, seen, 53)
}

func TestNoMatrixBeforeFirstCommit(t *testing.T) {
	e := newEnv()
	_, err := e.selector.GetValidatorIndex(0)
	require.Equal(t, ErrMatrixNotBuilt, err)
	require.Panics(t, func() { e.selector.MustGetValidatorIndex(0) })
}

func TestRestore(t *testing.T) {
	e := newEnv()
	e.state.SetTotalRound(53)
	require.NoError(t, e.selector.OnCommit(commitAt(53)))

	log, _ := test.NewNullLogger()
	st := state.NewStore(0)
	st.SetLastBlock(inter.NewBlock(inter.BlockHeader{Height: 60}, nil))
	st.SetTotalRound(60)
	restored := New(network.MainNetRules(), st, e.db, log)
	require.NoError(t, restored.Restore())
	require.Equal(t, e.state.GetValidatorMatrix(), st.GetValidatorMatrix())
	require.Equal(t, expectedRound2[7], int(restored.MustGetValidatorIndex(0)))
}

func TestRestoreRebuildsMissingMatrix(t *testing.T) {
	e := newEnv()
	e.state.SetLastBlock(inter.NewBlock(inter.BlockHeader{Height: 0}, nil))
	require.NoError(t, e.selector.Restore())
	require.Equal(t, expectedRound1, e.state.GetValidatorMatrix())

	var stored []uint32
	ok, err := e.db.GetAttribute(matrixAttribute(1), &stored)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, stored, 53)
}
