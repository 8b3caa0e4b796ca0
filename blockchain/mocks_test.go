package blockchain

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/stretchr/testify/mock"

	"github.com/rony4d/go-asset-bft/blockchain/processor"
	"github.com/rony4d/go-asset-bft/inter"
)

type blockchainMock struct {
	mock.Mock
}

func (m *blockchainMock) Dispatch(e Event)     { m.Called(e) }
func (m *blockchainMock) IsStopped() bool      { return m.Called().Bool(0) }
func (m *blockchainMock) IsSynced() bool       { return m.Called().Bool(0) }
func (m *blockchainMock) QueueSize() int       { return m.Called().Int(0) }
func (m *blockchainMock) IsQueueRunning() bool { return m.Called().Bool(0) }
func (m *blockchainMock) IsQueueIdle() bool    { return m.Called().Bool(0) }
func (m *blockchainMock) ClearAndStopQueue()   { m.Called() }
func (m *blockchainMock) ResumeQueue()         { m.Called() }
func (m *blockchainMock) SetWakeUp()           { m.Called() }
func (m *blockchainMock) IsWakeUpSet() bool    { return m.Called().Bool(0) }
func (m *blockchainMock) Exit(reason string)   { m.Called(reason) }

func (m *blockchainMock) GetLastBlock() *inter.Block {
	b, _ := m.Called().Get(0).(*inter.Block)
	return b
}

func (m *blockchainMock) GetLastDownloadedBlock() *inter.Block {
	b, _ := m.Called().Get(0).(*inter.Block)
	return b
}

func (m *blockchainMock) EnqueueBlocks(blocks []*inter.Block) { m.Called(blocks) }
func (m *blockchainMock) RemoveBlocks(n int) error            { return m.Called(n).Error(0) }
func (m *blockchainMock) RemoveTopBlocks(n int) error         { return m.Called(n).Error(0) }
func (m *blockchainMock) RunResetHooks() error                { return m.Called().Error(0) }

type databaseMock struct {
	mock.Mock
}

func (m *databaseMock) GetBlock(h idx.Block) (*inter.Block, error) {
	args := m.Called(h)
	b, _ := args.Get(0).(*inter.Block)
	return b, args.Error(1)
}

func (m *databaseMock) GetLastBlock() (*inter.Block, error) {
	args := m.Called()
	b, _ := args.Get(0).(*inter.Block)
	return b, args.Error(1)
}

func (m *databaseMock) VerifyBlockchain() error     { return m.Called().Error(0) }
func (m *databaseMock) DeleteTopBlocks(n int) error { return m.Called(n).Error(0) }

type interactionMock struct {
	mock.Mock
}

func (m *interactionMock) RevertBlock(b *inter.Block) error { return m.Called(b).Error(0) }
func (m *interactionMock) RebuildState() error              { return m.Called().Error(0) }

type networkMock struct {
	mock.Mock
}

func (m *networkMock) Boot() error    { return m.Called().Error(0) }
func (m *networkMock) HasPeers() bool { return m.Called().Bool(0) }

func (m *networkMock) CheckNetworkHealth() NetworkStatus {
	return m.Called().Get(0).(NetworkStatus)
}

func (m *networkMock) DownloadBlocksFromHeight(from idx.Block) ([]*inter.Block, error) {
	args := m.Called(from)
	blocks, _ := args.Get(0).([]*inter.Block)
	return blocks, args.Error(1)
}

func (m *networkMock) RefreshPeersAfterFork() error  { return m.Called().Error(0) }
func (m *networkMock) BroadcastBlock(b *inter.Block) { m.Called(b) }

type processorMock struct {
	mock.Mock
}

// Process records the result mocked for the block height.
func (m *processorMock) Process(u *processor.Unit) bool {
	u.Result = m.Called(u.Block.Height).Get(0).(processor.Result)
	return u.Result == processor.Accepted
}

func (m *processorMock) CommitBatch(units []*processor.Unit) error {
	return m.Called(len(units)).Error(0)
}

func (m *processorMock) Revert(b *inter.Block) processor.Result {
	return m.Called(b.Height).Get(0).(processor.Result)
}
