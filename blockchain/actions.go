package blockchain

import (
	"math/rand"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/blockchain/processor"
	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network"
	"github.com/rony4d/go-asset-bft/state"
)

const (
	// a larger backlog pauses the download
	maxQueuedJobs = 100
	// empty downloads tolerated before the network is considered halted
	maxNoBlocks = 5
	// halts tolerated before asking the peers whether the node forked
	maxP2PUpdates = 3

	minForkRollback   = 4
	forkRollbackRange = 99
)

// Action runs when the state machine enters a state.
type Action interface {
	Handle()
}

// Blockchain is what the actions drive.
type Blockchain interface {
	Dispatch(Event)
	IsStopped() bool
	IsSynced() bool
	GetLastBlock() *inter.Block
	GetLastDownloadedBlock() *inter.Block
	EnqueueBlocks([]*inter.Block)
	QueueSize() int
	IsQueueRunning() bool
	IsQueueIdle() bool
	ClearAndStopQueue()
	ResumeQueue()
	RemoveBlocks(n int) error
	RemoveTopBlocks(n int) error
	SetWakeUp()
	IsWakeUpSet() bool
	RunResetHooks() error
	Exit(reason string)
}

type logAction struct {
	log logrus.FieldLogger
	msg string
}

func (a logAction) Handle() { a.log.Info(a.msg) }

// ProcessIncoming queues the blocks pushed to the node.
type ProcessIncoming struct {
	chain interface{ EnqueueIncoming() }
	log   logrus.FieldLogger
}

func NewProcessIncoming(chain interface{ EnqueueIncoming() }, log logrus.FieldLogger) *ProcessIncoming {
	return &ProcessIncoming{chain: chain, log: log}
}

func (a *ProcessIncoming) Handle() {
	a.log.Debug("Processing incoming block")
	a.chain.EnqueueIncoming()
}

// Initialize loads the stored chain: it checks its integrity and the genesis
// block, then rebuilds the ledger and everything that depends on the tip.
type Initialize struct {
	chain       Blockchain
	state       *state.Store
	db          Database
	interaction DatabaseInteraction
	network     NetworkMonitor
	rules       network.Rules
	log         logrus.FieldLogger
}

func NewInitialize(chain Blockchain, st *state.Store, db Database, interaction DatabaseInteraction, nm NetworkMonitor, rules network.Rules, log logrus.FieldLogger) *Initialize {
	return &Initialize{chain: chain, state: st, db: db, interaction: interaction, network: nm, rules: rules, log: log}
}

// Handle verifies the stored chain unless a rollback has just restored it,
// checks the genesis payload hash against the network nethash and rebuilds
// the ledger before dispatching STARTED. A broken chain dispatches ROLLBACK,
// anything unrecoverable FAILURE.
func (a *Initialize) Handle() {
	if !a.state.GetRestoredDatabaseIntegrity() {
		a.log.Info("Verifying database integrity")
		if err := a.db.VerifyBlockchain(); err != nil {
			a.log.WithError(err).Warn("Database integrity check failed")
			a.chain.Dispatch(EventRollback)
			return
		}
		a.log.Info("Verified database integrity")
	} else {
		a.log.Info("Skipping database integrity check after successful database recovery")
	}

	genesis, err := a.db.GetBlock(0)
	if err != nil {
		a.fail(err, "Failed to load the genesis block")
		return
	}
	if genesis.PayloadHash != a.rules.Nethash {
		a.log.WithFields(logrus.Fields{
			"payloadHash": genesis.PayloadHash.String(),
			"nethash":     a.rules.Nethash.String(),
		}).Error("FATAL: The genesis block payload hash is different from the configured nethash")
		a.chain.Dispatch(EventFailure)
		return
	}

	if err := a.interaction.RebuildState(); err != nil {
		a.fail(err, "Failed to rebuild the state")
		return
	}
	if err := a.chain.RunResetHooks(); err != nil {
		a.fail(err, "Failed to restore the consensus state")
		return
	}
	a.state.SetLastDownloadedBlock(a.state.GetLastBlock())
	if err := a.network.Boot(); err != nil {
		a.fail(err, "Failed to boot the network monitor")
		return
	}

	a.log.WithField("height", a.state.GetLastHeight()).Info("Last block in database")
	a.chain.Dispatch(EventStarted)
}

func (a *Initialize) fail(err error, msg string) {
	a.log.WithError(err).Error(msg)
	a.chain.Dispatch(EventFailure)
}

// RollbackDatabase removes blocks from the top of the store, a few steps at
// a time, until it verifies or the rewind budget is spent.
type RollbackDatabase struct {
	cfg   RollbackConfig
	chain Blockchain
	db    Database
	state *state.Store
	log   logrus.FieldLogger
}

// NewRollbackDatabase returns the action rewinding at most cfg.MaxBlockRewind
// blocks, cfg.Steps at a time.
func NewRollbackDatabase(cfg RollbackConfig, chain Blockchain, db Database, st *state.Store, log logrus.FieldLogger) *RollbackDatabase {
	return &RollbackDatabase{cfg: cfg, chain: chain, db: db, state: st, log: log}
}

// Handle removes blocks from the top of the database until the rest of it
// verifies. It dispatches SUCCESS with the state pointing at the new top, or
// FAILURE once the rewind budget is spent.
func (a *RollbackDatabase) Handle() {
	last, err := a.db.GetLastBlock()
	if err != nil {
		a.log.WithError(err).Error("Failed to load the last block")
		a.chain.Dispatch(EventFailure)
		return
	}
	initial := last.Height
	a.log.WithField("height", initial).Info("Rolling back database")

	var (
		verified  bool
		maxRewind = a.cfg.MaxBlockRewind
		steps     = a.cfg.Steps
		height    = last.Height
	)
	for !verified && maxRewind > 0 && height > 1 {
		// never below height 1
		if steps > int(height-1) {
			steps = int(height - 1)
		}
		maxRewind -= steps
		height -= idx.Block(steps)

		if err := a.chain.RemoveTopBlocks(steps); err != nil {
			a.log.WithError(err).Error("Failed to remove blocks")
			break
		}
		verified = a.db.VerifyBlockchain() == nil
	}

	if !verified {
		a.log.WithFields(logrus.Fields{
			"maxBlockRewind": a.cfg.MaxBlockRewind,
			"steps":          a.cfg.Steps,
		}).Error("FATAL: Failed to restore database integrity")
		a.chain.Dispatch(EventFailure)
		return
	}

	last, err = a.db.GetLastBlock()
	if err != nil {
		a.log.WithError(err).Error("Failed to load the last block")
		a.chain.Dispatch(EventFailure)
		return
	}
	a.state.SetRestoredDatabaseIntegrity(true)
	a.state.SetLastBlock(last)
	a.state.SetLastStoredHeight(last.Height)
	a.log.WithFields(logrus.Fields{
		"from":    initial,
		"to":      last.Height,
		"removed": initial - last.Height,
	}).Info("Database integrity verified again after rollback")
	a.chain.Dispatch(EventSuccess)
}

// StartForkRecovery rolls the chain back past the fork and syncs again.
type StartForkRecovery struct {
	chain   Blockchain
	state   *state.Store
	network NetworkMonitor
	rnd     *rand.Rand
	log     logrus.FieldLogger
}

// NewStartForkRecovery returns the fork recovery action. rnd picks the
// rollback depth when none was recorded.
func NewStartForkRecovery(chain Blockchain, st *state.Store, nm NetworkMonitor, rnd *rand.Rand, log logrus.FieldLogger) *StartForkRecovery {
	return &StartForkRecovery{chain: chain, state: st, network: nm, rnd: rnd, log: log}
}

// Handle stops the queue, removes the recorded number of blocks (or a random
// 4..102 when none), refreshes the peers and dispatches SUCCESS or FAILURE.
func (a *StartForkRecovery) Handle() {
	a.log.Info("Starting fork recovery")
	a.chain.ClearAndStopQueue()

	n := a.state.GetNumberOfBlocksToRollback()
	if n <= 0 {
		n = minForkRollback + a.rnd.Intn(forkRollbackRange)
	}
	if err := a.chain.RemoveBlocks(n); err != nil {
		a.log.WithError(err).WithField("count", n).Error("Failed to remove blocks")
		a.chain.Dispatch(EventFailure)
		return
	}
	a.state.SetNumberOfBlocksToRollback(0)
	a.log.WithField("count", n).Info("Removed blocks")

	// peers that led the node into the fork are not synced from again
	if err := a.network.RefreshPeersAfterFork(); err != nil {
		a.log.WithError(err).Warn("Failed to refresh peers")
	}

	a.chain.Dispatch(EventSuccess)
	a.chain.ResumeQueue()
}

// CheckLastDownloadedBlockSynced decides how syncing goes on.
type CheckLastDownloadedBlockSynced struct {
	chain   Blockchain
	state   *state.Store
	network NetworkMonitor
	log     logrus.FieldLogger
}

func NewCheckLastDownloadedBlockSynced(chain Blockchain, st *state.Store, nm NetworkMonitor, log logrus.FieldLogger) *CheckLastDownloadedBlockSynced {
	return &CheckLastDownloadedBlockSynced{chain: chain, state: st, network: nm, log: log}
}

// Handle decides whether the node has caught up with the network, and
// dispatches one of NOTSYNCED, SYNCED, PAUSED, NETWORKHALTED or FORK.
func (a *CheckLastDownloadedBlockSynced) Handle() {
	event := EventNotSynced
	if a.state.IsNetworkStart() {
		event = EventSynced
	}
	if a.chain.QueueSize() > maxQueuedJobs {
		event = EventPaused
	}

	if a.state.GetNoBlockCounter() > maxNoBlocks && !a.chain.IsQueueRunning() {
		a.log.Info("Tried to sync several times, looks like the network is missing blocks")
		a.state.SetNoBlockCounter(0)
		event = EventNetworkHalted

		if a.state.GetP2PUpdateCounter()+1 > maxP2PUpdates {
			a.log.Info("Network keeps missing blocks")
			status := a.network.CheckNetworkHealth()
			if status.Forked {
				a.state.SetNumberOfBlocksToRollback(status.BlocksToRollback)
				event = EventFork
			}
			a.state.SetP2PUpdateCounter(0)
		} else {
			a.state.SetP2PUpdateCounter(a.state.GetP2PUpdateCounter() + 1)
		}
	}

	if a.state.GetLastDownloadedBlock() != nil && a.chain.IsSynced() {
		a.state.SetNoBlockCounter(0)
		a.state.SetP2PUpdateCounter(0)
		event = EventSynced
	}

	a.chain.Dispatch(event)
}

// DownloadBlocks fetches the blocks following the last downloaded one.
type DownloadBlocks struct {
	chain   Blockchain
	state   *state.Store
	network NetworkMonitor
	rules   network.Rules
	log     logrus.FieldLogger
}

func NewDownloadBlocks(chain Blockchain, st *state.Store, nm NetworkMonitor, rules network.Rules, log logrus.FieldLogger) *DownloadBlocks {
	return &DownloadBlocks{chain: chain, state: st, network: nm, rules: rules, log: log}
}

// Handle fetches the blocks after the last downloaded one. When the first of
// them chains they are enqueued and DOWNLOADED is dispatched, otherwise the
// pointer falls back to the tip and NOBLOCK is dispatched.
func (a *DownloadBlocks) Handle() {
	from := a.chain.GetLastDownloadedBlock()
	log := a.log.WithField("height", from.Height)

	blocks, err := a.network.DownloadBlocksFromHeight(from.Height)
	if err != nil {
		log.WithError(err).Warn("Failed to download blocks")
	}
	if a.chain.IsStopped() {
		return
	}
	// a rollback may have moved the pointer meanwhile
	if current := a.state.GetLastDownloadedBlock(); current == nil || current.ID() != from.ID() {
		log.Debug("Last downloaded block changed while downloading")
		return
	}

	if len(blocks) != 0 && processor.IsBlockChained(a.rules, from, blocks[0]) {
		log.WithField("count", len(blocks)).Info("Downloaded new blocks")
		a.chain.EnqueueBlocks(blocks)
		a.chain.Dispatch(EventDownloaded)
		return
	}

	if len(blocks) == 0 {
		log.Info("Could not download any blocks from any peer")
	} else {
		log.WithFields(logrus.Fields{
			"first":    blocks[0].Height,
			"previous": blocks[0].PreviousBlock.String(),
		}).Warn("Downloaded block not accepted")
	}
	a.state.SetNoBlockCounter(a.state.GetNoBlockCounter() + 1)
	a.state.SetLastDownloadedBlock(a.state.GetLastBlock())
	a.chain.Dispatch(EventNoBlock)
}

// DownloadFinished waits for the queue to drain, unless the node starts a
// new network, which has nothing to download.
type DownloadFinished struct {
	chain Blockchain
	state *state.Store
	log   logrus.FieldLogger
}

func NewDownloadFinished(chain Blockchain, st *state.Store, log logrus.FieldLogger) *DownloadFinished {
	return &DownloadFinished{chain: chain, state: st, log: log}
}

func (a *DownloadFinished) Handle() {
	a.log.Info("Block download finished")
	if a.state.IsNetworkStart() {
		// only the first sync skips the network
		a.state.SetNetworkStart(false)
		a.chain.Dispatch(EventSyncFinished)
		return
	}
	if a.chain.IsQueueIdle() {
		a.chain.Dispatch(EventProcessFinished)
	}
}

// CheckLastBlockSynced checks the tip once every queued block was processed.
type CheckLastBlockSynced struct {
	chain Blockchain
}

func NewCheckLastBlockSynced(chain Blockchain) *CheckLastBlockSynced {
	return &CheckLastBlockSynced{chain: chain}
}

func (a *CheckLastBlockSynced) Handle() {
	if a.chain.IsSynced() {
		a.chain.Dispatch(EventSynced)
		return
	}
	a.chain.Dispatch(EventNotSynced)
}

type SyncingComplete struct {
	chain Blockchain
	log   logrus.FieldLogger
}

func NewSyncingComplete(chain Blockchain, log logrus.FieldLogger) *SyncingComplete {
	return &SyncingComplete{chain: chain, log: log}
}

func (a *SyncingComplete) Handle() {
	a.log.Info("Blockchain 100% in sync")
	a.chain.Dispatch(EventSyncFinished)
}

// CheckLater makes an idle node sync again after a while.
type CheckLater struct {
	chain Blockchain
}

func NewCheckLater(chain Blockchain) *CheckLater {
	return &CheckLater{chain: chain}
}

func (a *CheckLater) Handle() {
	if !a.chain.IsStopped() && !a.chain.IsWakeUpSet() {
		a.chain.SetWakeUp()
	}
}

type BlockchainReady struct {
	state *state.Store
	log   logrus.FieldLogger
}

func NewBlockchainReady(st *state.Store, log logrus.FieldLogger) *BlockchainReady {
	return &BlockchainReady{state: st, log: log}
}

func (a *BlockchainReady) Handle() {
	if !a.state.IsStarted() {
		a.state.SetStarted(true)
		a.log.WithField("height", a.state.GetLastHeight()).Info("Blockchain ready")
	}
}

type ExitApp struct {
	chain Blockchain
}

func NewExitApp(chain Blockchain) *ExitApp {
	return &ExitApp{chain: chain}
}

func (a *ExitApp) Handle() {
	a.chain.Exit("Failed to startup blockchain")
}
