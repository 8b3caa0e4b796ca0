// Package state holds the in-memory view of the chain a node works on: tip
// pointers, sync counters and the most recent blocks, plus the wallet
// balances derived from every applied block.
package state

import (
	"sort"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	lru "github.com/hashicorp/golang-lru"

	"github.com/rony4d/go-asset-bft/inter"
)

// DefaultRecentBlocks is the default size of the recent blocks cache.
const DefaultRecentBlocks = 100

// Store is the node's chain-tip state. It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	genesis          *inter.Block
	lastBlock        *inter.Block
	lastDownloaded   *inter.Block
	forkedBlock      *inter.Block
	lastStoredHeight idx.Block

	totalRound      uint64
	validatorMatrix []int

	blocksToRollback  int
	restoredIntegrity bool
	started           bool
	networkStart      bool
	noBlockCounter    int
	p2pUpdateCounter  int

	recent *lru.Cache // idx.Block -> *inter.Block

	// applied blocks above lastStoredHeight; never evicted
	unflushed map[idx.Block]*inter.Block
}

// NewStore returns an empty store keeping up to recentBlocks recent blocks.
func NewStore(recentBlocks int) *Store {
	if recentBlocks <= 0 {
		recentBlocks = DefaultRecentBlocks
	}
	recent, err := lru.New(recentBlocks)
	if err != nil {
		panic(err)
	}
	return &Store{
		recent:    recent,
		unflushed: make(map[idx.Block]*inter.Block),
	}
}

func (s *Store) GetGenesisBlock() *inter.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.genesis
}

func (s *Store) SetGenesisBlock(b *inter.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genesis = b
}

// GetLastBlock returns the chain tip.
func (s *Store) GetLastBlock() *inter.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastBlock
}

// GetLastHeight returns the height of the chain tip, 0 when there is none.
func (s *Store) GetLastHeight() idx.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastBlock == nil {
		return 0
	}
	return s.lastBlock.Height
}

// SetLastBlock moves the tip to b. When b does not extend the current tip,
// recent blocks at or above its height are forgotten.
func (s *Store) SetLastBlock(b *inter.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastBlock != nil && b.Height != s.lastBlock.Height+1 {
		for _, k := range s.recent.Keys() {
			if k.(idx.Block) >= b.Height {
				s.recent.Remove(k)
			}
		}
		for h := range s.unflushed {
			if h >= b.Height {
				delete(s.unflushed, h)
			}
		}
	}
	s.lastBlock = b
	s.recent.Add(b.Height, b)
	if b.Height > s.lastStoredHeight {
		s.unflushed[b.Height] = b
	}
}

// GetRecentBlock returns a cached block by height.
func (s *Store) GetRecentBlock(height idx.Block) (*inter.Block, bool) {
	v, ok := s.recent.Get(height)
	if !ok {
		return nil, false
	}
	return v.(*inter.Block), true
}

// GetRecentBlocks returns the cached blocks, highest first.
func (s *Store) GetRecentBlocks() []*inter.Block {
	keys := s.recent.Keys()
	blocks := make([]*inter.Block, 0, len(keys))
	for _, k := range keys {
		if v, ok := s.recent.Peek(k); ok {
			blocks = append(blocks, v.(*inter.Block))
		}
	}
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Height > blocks[j].Height
	})
	return blocks
}

// UnflushedTransactionIDs returns the ids of transactions in every block
// applied above the last stored height, mapped to the block height.
// Unlike the recent blocks cache, these blocks are kept until they are
// stored or reverted, however many a commit batch holds.
func (s *Store) UnflushedTransactionIDs() map[hash.Hash]idx.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[hash.Hash]idx.Block)
	for h, b := range s.unflushed {
		for _, tx := range b.Transactions {
			ids[tx.ID()] = h
		}
	}
	return ids
}

// ClearRecentBlocks empties the recent blocks cache and forgets unflushed blocks.
func (s *Store) ClearRecentBlocks() {
	s.recent.Purge()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unflushed = make(map[idx.Block]*inter.Block)
}

func (s *Store) GetLastDownloadedBlock() *inter.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDownloaded
}

func (s *Store) SetLastDownloadedBlock(b *inter.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDownloaded = b
}

// AdvanceLastDownloadedBlock sets the last downloaded block unless a higher one is already known.
func (s *Store) AdvanceLastDownloadedBlock(b *inter.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDownloaded == nil || b.Height > s.lastDownloaded.Height {
		s.lastDownloaded = b
	}
}

// GetForkedBlock returns the block a fork was detected at, or nil.
func (s *Store) GetForkedBlock() *inter.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forkedBlock
}

func (s *Store) SetForkedBlock(b *inter.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forkedBlock = b
}

// ClearForkedBlockAt forgets the forked block if it sits at height.
func (s *Store) ClearForkedBlockAt(height idx.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forkedBlock != nil && s.forkedBlock.Height == height {
		s.forkedBlock = nil
	}
}

// GetLastStoredHeight returns the height of the last block in the database.
func (s *Store) GetLastStoredHeight() idx.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStoredHeight
}

// SetLastStoredHeight records the height of the last block in the database.
// Unflushed blocks at or below h are dropped.
func (s *Store) SetLastStoredHeight(h idx.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStoredHeight = h
	for height := range s.unflushed {
		if height <= h {
			delete(s.unflushed, height)
		}
	}
}

// GetTotalRound returns the sum of round+1 over every committed block but
// genesis. It seeds the proposer order.
func (s *Store) GetTotalRound() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalRound
}

func (s *Store) SetTotalRound(v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRound = v
}

// AddTotalRound increments the total round and returns the new value.
func (s *Store) AddTotalRound(delta uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRound += delta
	return s.totalRound
}

// GetValidatorMatrix returns a copy of the current proposer permutation.
func (s *Store) GetValidatorMatrix() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.validatorMatrix...)
}

func (s *Store) SetValidatorMatrix(m []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validatorMatrix = append([]int(nil), m...)
}

// GetNumberOfBlocksToRollback returns the fork recovery depth recorded by
// the block job, 0 when none.
func (s *Store) GetNumberOfBlocksToRollback() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocksToRollback
}

func (s *Store) SetNumberOfBlocksToRollback(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocksToRollback = n
}

func (s *Store) GetRestoredDatabaseIntegrity() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restoredIntegrity
}

func (s *Store) SetRestoredDatabaseIntegrity(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoredIntegrity = v
}

// IsStarted reports whether the node finished its initial sync.
func (s *Store) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Store) SetStarted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = v
}

// IsNetworkStart reports whether this node is bootstrapping a new network
// and must not wait for peers.
func (s *Store) IsNetworkStart() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.networkStart
}

func (s *Store) SetNetworkStart(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkStart = v
}

func (s *Store) GetNoBlockCounter() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.noBlockCounter
}

func (s *Store) SetNoBlockCounter(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noBlockCounter = v
}

func (s *Store) GetP2PUpdateCounter() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p2pUpdateCounter
}

func (s *Store) SetP2PUpdateCounter(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p2pUpdateCounter = v
}
