// Package blockchain keeps the local chain in step with the network. A single
// event loop drives the state machine of machine.go and runs the entry
// actions of every state it reaches; downloaded and received blocks are
// processed in order by a queue worker.
package blockchain

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/blockchain/processor"
	"github.com/rony4d/go-asset-bft/inter"
	"github.com/rony4d/go-asset-bft/network"
	"github.com/rony4d/go-asset-bft/state"
)

const (
	// DefaultWakeUpTimeout is how long an idle node waits before syncing again.
	DefaultWakeUpTimeout = 60 * time.Second

	maxChunkTransactions = 150
	maxChunkBlocks       = 100
	// forged blocks arriving later than this before the next slot are discarded
	minSlotTimeLeft = 2 * time.Second
)

var ErrTipMismatch = errors.New("last stored block is not the last state block")

// RollbackConfig bounds the integrity rollback of the database.
type RollbackConfig struct {
	MaxBlockRewind int
	Steps          int
}

// Config configures the blockchain service.
type Config struct {
	Rollback      RollbackConfig
	NetworkStart  bool
	WakeUpTimeout time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Rollback: RollbackConfig{
			MaxBlockRewind: 10000,
			Steps:          1000,
		},
		WakeUpTimeout: DefaultWakeUpTimeout,
	}
}

type (
	// Database is the persistent chain.
	Database interface {
		GetBlock(idx.Block) (*inter.Block, error)
		GetLastBlock() (*inter.Block, error)
		VerifyBlockchain() error
		DeleteTopBlocks(n int) error
	}

	// DatabaseInteraction reverts ledger effects and rebuilds the ledger
	// from stored blocks.
	DatabaseInteraction interface {
		RevertBlock(*inter.Block) error
		RebuildState() error
	}

	// BlockProcessor processes, commits and reverts blocks.
	BlockProcessor interface {
		Process(*processor.Unit) bool
		CommitBatch([]*processor.Unit) error
		Revert(*inter.Block) processor.Result
	}

	// TransactionPool takes back the transactions of removed blocks.
	TransactionPool interface {
		Readd(inter.Transactions)
	}

	// ResetHook brings a component in line with a new chain tip that was not
	// reached by committing blocks.
	ResetHook func(last *inter.Block) error
)

// Deps are the collaborators of the service.
type Deps struct {
	Rules       network.Rules
	State       *state.Store
	Database    Database
	Interaction DatabaseInteraction
	Processor   BlockProcessor
	Pool        TransactionPool
	Network     NetworkMonitor
	// Exit is called when the node cannot go on.
	Exit  func(reason string)
	Clock func() time.Time
	Rand  *rand.Rand
}

// Service is the blockchain manager of a node.
type Service struct {
	cfg         Config
	rules       network.Rules
	state       *state.Store
	db          Database
	interaction DatabaseInteraction
	processor   BlockProcessor
	pool        TransactionPool
	network     NetworkMonitor
	exit        func(reason string)
	now         func() time.Time

	queue   *queue
	actions map[State][]Action

	mu       sync.Mutex
	current  State
	events   []Event
	wake     chan struct{}
	stopped  bool
	wakeUp   *time.Timer
	incoming []*inter.Block

	hooksMu    sync.Mutex
	resetHooks []ResetHook

	log logrus.FieldLogger
}

// NewService returns a stopped service. SetProcessor must be called before Start.
func NewService(cfg Config, deps Deps, log logrus.FieldLogger) *Service {
	if cfg.WakeUpTimeout == 0 {
		cfg.WakeUpTimeout = DefaultWakeUpTimeout
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Exit == nil {
		deps.Exit = func(string) {}
	}
	log = log.WithField("module", "blockchain")

	s := &Service{
		cfg:         cfg,
		rules:       deps.Rules,
		state:       deps.State,
		db:          deps.Database,
		interaction: deps.Interaction,
		processor:   deps.Processor,
		pool:        deps.Pool,
		network:     deps.Network,
		exit:        deps.Exit,
		now:         deps.Clock,
		current:     StateUninitialised,
		wake:        make(chan struct{}, 1),
		log:         log,
	}
	s.queue = newQueue(func() { s.Dispatch(EventProcessFinished) })
	s.actions = s.entryActions(deps.Rand)

	s.state.SetNetworkStart(cfg.NetworkStart)
	if cfg.NetworkStart {
		s.log.Warn("Launched in network start mode. This is meant for the first node of a new network only")
	}
	return s
}

func (s *Service) entryActions(rnd *rand.Rand) map[State][]Action {
	named := func(name string) logrus.FieldLogger { return s.log.WithField("action", name) }
	return map[State][]Action{
		StateInit:             {NewInitialize(s, s.state, s.db, s.interaction, s.network, s.rules, named("init"))},
		StateRollback:         {NewRollbackDatabase(s.cfg.Rollback, s, s.db, s.state, named("rollbackDatabase"))},
		StateSyncing:          {NewCheckLastDownloadedBlockSynced(s, s.state, s.network, named("checkLastDownloadedBlockSynced"))},
		StateDownloadBlocks:   {NewDownloadBlocks(s, s.state, s.network, s.rules, named("downloadBlocks"))},
		StateDownloadFinished: {NewDownloadFinished(s, s.state, named("downloadFinished"))},
		StateDownloadPaused:   {logAction{named("downloadPaused"), "Blockchain download paused"}},
		StateProcessFinished:  {NewCheckLastBlockSynced(s)},
		StateSyncEnd:          {NewSyncingComplete(s, named("syncingComplete"))},
		StateIdle:             {NewCheckLater(s), NewBlockchainReady(s.state, named("blockchainReady"))},
		StateProcessingBlock:  {NewProcessIncoming(s, named("processBlock"))},
		StateFork:             {NewStartForkRecovery(s, s.state, s.network, rnd, named("startForkRecovery"))},
		StateStopped:          {logAction{named("stopped"), "The blockchain has been stopped"}},
		StateExit:             {NewExitApp(s)},
	}
}

// SetProcessor sets the block processor, which itself reports to the service.
func (s *Service) SetProcessor(p BlockProcessor) {
	s.processor = p
}

// Start runs the event loop and the queue worker until ctx is done, and
// kicks off initialization.
func (s *Service) Start(ctx context.Context) {
	s.log.Info("Starting blockchain manager")
	go s.queue.run(ctx)
	go s.loop(ctx)
	s.Dispatch(EventStart)
}

// Stop stops syncing for good.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.clearWakeUpLocked()
	s.mu.Unlock()

	s.log.Info("Stopping blockchain manager")
	s.Dispatch(EventStop)
	s.queue.pause()
}

func (s *Service) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Dispatch queues e for the event loop. It never blocks, so actions may
// dispatch events themselves.
func (s *Service) Dispatch(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// State is the current state of the machine.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Service) nextEvent() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0, false
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e, true
}

func (s *Service) loop(ctx context.Context) {
	for {
		for e, ok := s.nextEvent(); ok; e, ok = s.nextEvent() {
			s.step(e)
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

func (s *Service) step(e Event) {
	s.mu.Lock()
	from := s.current
	to, ok := Transition(from, e)
	if ok {
		s.current = to
	}
	s.mu.Unlock()

	log := s.log.WithFields(logrus.Fields{"event": e.String(), "state": from.String()})
	if !ok {
		log.Debug("Event ignored")
		if e == EventNewBlock {
			// busy syncing, the block joins the queue
			s.EnqueueIncoming()
		}
		return
	}
	log.WithField("next", to.String()).Debug("State transition")
	for _, a := range s.actions[to] {
		a.Handle()
	}
}

// SetWakeUp schedules a WAKEUP event.
func (s *Service) SetWakeUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setWakeUpLocked()
}

func (s *Service) setWakeUpLocked() {
	s.clearWakeUpLocked()
	var t *time.Timer
	t = time.AfterFunc(s.cfg.WakeUpTimeout, func() {
		s.mu.Lock()
		if s.wakeUp == t {
			s.wakeUp = nil
		}
		s.mu.Unlock()
		s.Dispatch(EventWakeUp)
	})
	s.wakeUp = t
}

func (s *Service) clearWakeUpLocked() {
	if s.wakeUp != nil {
		s.wakeUp.Stop()
		s.wakeUp = nil
	}
}

// ResetWakeUp postpones the scheduled WAKEUP.
func (s *Service) ResetWakeUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setWakeUpLocked()
}

func (s *Service) IsWakeUpSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakeUp != nil
}

// ForceWakeUp syncs right away.
func (s *Service) ForceWakeUp() {
	s.mu.Lock()
	s.clearWakeUpLocked()
	s.mu.Unlock()
	s.Dispatch(EventWakeUp)
}

// ClearQueue drops every job not yet started.
func (s *Service) ClearQueue() {
	s.queue.clear()
}

// ClearAndStopQueue drops queued blocks and stops processing until
// ResumeQueue.
func (s *Service) ClearAndStopQueue() {
	s.state.SetLastDownloadedBlock(s.GetLastBlock())
	s.queue.pause()
	s.queue.clear()
}

func (s *Service) ResumeQueue() {
	s.queue.resume()
}

func (s *Service) QueueSize() int {
	return s.queue.size()
}

func (s *Service) IsQueueRunning() bool {
	return s.queue.isRunning()
}

// IsQueueIdle reports whether no job is running or pending.
func (s *Service) IsQueueIdle() bool {
	return s.queue.idle()
}

// EnqueueBlocks splits blocks into jobs of bounded weight. A chunk never
// spans a milestone height, so every job runs under a single set of rules.
func (s *Service) EnqueueBlocks(blocks []*inter.Block) {
	if len(blocks) == 0 {
		return
	}

	from := s.GetLastDownloadedBlock().Height
	var milestones []idx.Block
	for _, m := range s.rules.Milestones {
		if m.Height > from {
			milestones = append(milestones, m.Height)
		}
	}

	var (
		chunk []*inter.Block
		txs   int
	)
	for _, b := range blocks {
		chunk = append(chunk, b)
		txs += int(b.NumberOfTransactions)
		for len(milestones) != 0 && milestones[0] < b.Height {
			milestones = milestones[1:]
		}

		atMilestone := len(milestones) != 0 && milestones[0] == b.Height
		if txs >= maxChunkTransactions || len(chunk) >= maxChunkBlocks || atMilestone {
			s.queue.push(s.newJob(chunk))
			chunk, txs = nil, 0
			if atMilestone {
				milestones = milestones[1:]
			}
		}
	}
	if len(chunk) != 0 {
		s.queue.push(s.newJob(chunk))
	}
	s.queue.resume()
}

func (s *Service) slot(height idx.Block, timestamp uint32) uint32 {
	blockTime := s.rules.Milestone(height).BlockTime
	if blockTime == 0 {
		return timestamp
	}
	return timestamp / blockTime
}

func (s *Service) nowUnix() uint32 {
	return uint32(s.now().Unix())
}

func (s *Service) isFutureSlot(b *inter.Block) bool {
	return s.slot(b.Height, b.Timestamp) > s.slot(b.Height, s.nowUnix())
}

// HandleIncomingBlock queues a block pushed by a peer. Blocks straight from
// their generator must arrive early enough in their own slot.
func (s *Service) HandleIncomingBlock(b *inter.Block, fromForger bool) {
	log := s.log.WithField("height", b.Height)
	now := s.now()
	current := s.slot(b.Height, uint32(now.Unix()))
	received := s.slot(b.Height, b.Timestamp)

	if fromForger {
		blockTime := time.Duration(s.rules.Milestone(b.Height).BlockTime) * time.Second
		var timeLeft time.Duration
		if blockTime > 0 {
			timeLeft = blockTime - time.Duration(now.UnixNano())%blockTime
		}
		if current != received || timeLeft < minSlotTimeLeft {
			log.Info("Discarded block because it was received too late")
			return
		}
	}
	if received > current {
		log.Info("Discarded block because it takes a future slot")
		return
	}

	if !s.state.IsStarted() {
		log.Info("Block disregarded because blockchain is not ready")
		return
	}
	s.mu.Lock()
	s.incoming = append(s.incoming, b)
	s.mu.Unlock()
	s.Dispatch(EventNewBlock)
}

// EnqueueIncoming moves the blocks received by HandleIncomingBlock to the
// queue. It runs on the event loop, so a pushed block is processed only
// after the machine reacted to its NEWBLOCK.
func (s *Service) EnqueueIncoming() {
	s.mu.Lock()
	blocks := s.incoming
	s.incoming = nil
	s.mu.Unlock()
	s.EnqueueBlocks(blocks)
}

// ResetLastDownloadedBlock moves the download pointer back to the tip.
func (s *Service) ResetLastDownloadedBlock() {
	s.state.SetLastDownloadedBlock(s.GetLastBlock())
}

// ForkBlock starts fork recovery because of b. A positive n fixes the number
// of blocks to roll back.
func (s *Service) ForkBlock(b *inter.Block, n int) {
	s.state.SetForkedBlock(b)
	s.ClearAndStopQueue()
	if n > 0 {
		s.state.SetNumberOfBlocksToRollback(n)
	}
	s.Dispatch(EventFork)
}

// IsSynced reports whether the last block is less than three block times old.
// A node without peers is always synced.
func (s *Service) IsSynced() bool {
	if !s.network.HasPeers() {
		return true
	}
	last := s.GetLastBlock()
	if last == nil {
		return false
	}
	blockTime := s.rules.Milestone(last.Height).BlockTime
	return int64(s.nowUnix())-int64(last.Timestamp) < 3*int64(blockTime)
}

func (s *Service) GetLastBlock() *inter.Block {
	return s.state.GetLastBlock()
}

func (s *Service) GetLastHeight() idx.Block {
	return s.state.GetLastHeight()
}

func (s *Service) GetLastDownloadedBlock() *inter.Block {
	if b := s.state.GetLastDownloadedBlock(); b != nil {
		return b
	}
	return s.GetLastBlock()
}

// RegisterResetHook adds h to the hooks run whenever the tip is moved
// without committing blocks.
func (s *Service) RegisterResetHook(h ResetHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.resetHooks = append(s.resetHooks, h)
}

// RunResetHooks calls the registered hooks with the current tip, in
// registration order, and stops at the first error.
func (s *Service) RunResetHooks() error {
	s.hooksMu.Lock()
	hooks := s.resetHooks
	s.hooksMu.Unlock()

	last := s.GetLastBlock()
	for _, h := range hooks {
		if err := h(last); err != nil {
			return err
		}
	}
	return nil
}

// RemoveBlocks reverts and deletes the top n blocks. The genesis block is
// never removed.
func (s *Service) RemoveBlocks(n int) error {
	last := s.GetLastBlock()
	if last == nil {
		return errors.New("no last block")
	}
	stored, err := s.db.GetLastBlock()
	if err != nil {
		return errors.Wrap(err, "last stored block")
	}
	if stored.ID() != last.ID() {
		return errors.Wrapf(ErrTipMismatch, "stored %d, state %d", stored.Height, last.Height)
	}
	if n > int(last.Height) {
		n = int(last.Height)
	}
	if n <= 0 {
		return nil
	}
	s.log.WithFields(logrus.Fields{
		"from": last.Height,
		"to":   last.Height - idx.Block(n),
	}).Info("Removing blocks")

	for i := 0; i < n; i++ {
		b := s.GetLastBlock()
		prev, err := s.db.GetBlock(b.Height - 1)
		if err != nil {
			return errors.Wrapf(err, "block %d", b.Height-1)
		}
		if err := s.interaction.RevertBlock(b); err != nil {
			return errors.Wrapf(err, "revert block %d", b.Height)
		}
		s.pool.Readd(b.Transactions)
		s.state.SetLastBlock(prev)
		if total, done := s.state.GetTotalRound(), uint64(b.Round)+1; total >= done {
			s.state.SetTotalRound(total - done)
		}
	}

	if err := s.db.DeleteTopBlocks(n); err != nil {
		return errors.Wrap(err, "delete blocks")
	}
	tip := s.GetLastBlock()
	s.state.SetLastStoredHeight(tip.Height)
	s.ResetLastDownloadedBlock()
	return s.RunResetHooks()
}

// RemoveTopBlocks deletes the top n stored blocks without touching the
// ledger. It is meant for a database that is yet to be loaded.
func (s *Service) RemoveTopBlocks(n int) error {
	s.log.WithField("count", n).Info("Removing top blocks")
	return s.db.DeleteTopBlocks(n)
}

// Exit gives up on running the node.
func (s *Service) Exit(reason string) {
	s.log.WithField("reason", reason).Error("Shutting down")
	s.exit(reason)
}
