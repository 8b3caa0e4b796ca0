// Package consensus admits proposals into the per-round state that the BFT
// engine drives.
package consensus

import (
	"sync"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/go-asset-bft/inter"
)

// Context is the consensus progress of one node. Proposal processing holds
// the commit lock shared, committing a block holds it exclusively.
type Context struct {
	commit sync.RWMutex

	mu     sync.RWMutex
	height idx.Block
	round  uint32
}

// NewContext starts at the height following lastHeight.
func NewContext(lastHeight idx.Block) *Context {
	return &Context{height: lastHeight + 1}
}

// Height is the height being decided.
func (c *Context) Height() idx.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

// Round is the current round at Height.
func (c *Context) Round() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.round
}

// Position returns height and round together.
func (c *Context) Position() (idx.Block, uint32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height, c.round
}

// StartRound moves to a later round of the current height.
func (c *Context) StartRound(round uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if round > c.round {
		c.round = round
	}
}

// Reset moves to round 0 of the height following lastHeight.
func (c *Context) Reset(lastHeight idx.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = lastHeight + 1
	c.round = 0
}

// OnCommit moves past the committed height.
func (c *Context) OnCommit(unit inter.CommittedUnit) error {
	c.Reset(unit.CommittedBlock().Height)
	return nil
}

// CommitLocker is the exclusive side of the commit lock.
func (c *Context) CommitLocker() sync.Locker {
	return &c.commit
}

// SharedLocker is the shared side of the commit lock.
func (c *Context) SharedLocker() sync.Locker {
	return c.commit.RLocker()
}
