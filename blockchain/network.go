package blockchain

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/inter"
)

// NetworkStatus is what the peers think of the local chain.
type NetworkStatus struct {
	Forked           bool
	BlocksToRollback int
}

// NetworkMonitor is the peer layer as seen by the blockchain.
type NetworkMonitor interface {
	Boot() error
	HasPeers() bool
	CheckNetworkHealth() NetworkStatus
	DownloadBlocksFromHeight(from idx.Block) ([]*inter.Block, error)
	RefreshPeersAfterFork() error
	BroadcastBlock(*inter.Block)
}

// StandaloneMonitor is the monitor of a node without peers, such as a single
// validator fakenet.
type StandaloneMonitor struct {
	log logrus.FieldLogger
}

// NewStandaloneMonitor returns the monitor of a node without peers.
func NewStandaloneMonitor(log logrus.FieldLogger) *StandaloneMonitor {
	return &StandaloneMonitor{log: log.WithField("module", "network")}
}

func (m *StandaloneMonitor) Boot() error {
	m.log.Info("Running without peers")
	return nil
}

func (m *StandaloneMonitor) HasPeers() bool { return false }

func (m *StandaloneMonitor) CheckNetworkHealth() NetworkStatus { return NetworkStatus{} }

// DownloadBlocksFromHeight has nobody to ask and returns no blocks.
func (m *StandaloneMonitor) DownloadBlocksFromHeight(idx.Block) ([]*inter.Block, error) {
	return nil, nil
}

func (m *StandaloneMonitor) RefreshPeersAfterFork() error { return nil }

func (m *StandaloneMonitor) BroadcastBlock(b *inter.Block) {
	m.log.WithField("height", b.Height).Debug("No peers to broadcast block to")
}
