// Package txpool keeps signed transactions waiting to be forged, in arrival
// order.
package txpool

import (
	"sync"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/inter"
)

var (
	ErrBadSignature = errors.New("transaction signature is invalid")
	ErrPoolFull     = errors.New("transaction pool is full")
	ErrDuplicate    = errors.New("transaction is already pooled")
)

// DefaultMaxSize is the default pool capacity.
const DefaultMaxSize = 15000

// Pool is a bounded FIFO of pending transactions, unique by id.
type Pool struct {
	mu      sync.Mutex
	maxSize int
	byID    map[hash.Hash]*inter.Transaction
	order   []hash.Hash

	log logrus.FieldLogger
}

// New returns an empty pool admitting at most maxSize transactions.
func New(maxSize int, log logrus.FieldLogger) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Pool{
		maxSize: maxSize,
		byID:    make(map[hash.Hash]*inter.Transaction),
		log:     log.WithField("module", "txpool"),
	}
}

// Add pools a new transaction.
func (p *Pool) Add(tx *inter.Transaction) error {
	if !tx.Verify() {
		return errors.Wrap(ErrBadSignature, tx.ID().String())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.add(tx)
}

func (p *Pool) add(tx *inter.Transaction) error {
	id := tx.ID()
	if _, ok := p.byID[id]; ok {
		return ErrDuplicate
	}
	if len(p.byID) >= p.maxSize {
		return ErrPoolFull
	}
	p.byID[id] = tx
	p.order = append(p.order, id)
	return nil
}

// Readd returns the transactions of a reverted block to the pool. They were
// valid once, so signatures are not checked again.
func (p *Pool) Readd(txs inter.Transactions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, tx := range txs {
		if err := p.add(tx); err == nil {
			added++
		}
	}
	if added != 0 {
		p.log.WithField("count", added).Debug("Transactions re-added")
	}
}

// Remove drops the given transactions, typically because a block included them.
func (p *Pool) Remove(txs inter.Transactions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := false
	for _, tx := range txs {
		id := tx.ID()
		if _, ok := p.byID[id]; ok {
			delete(p.byID, id)
			removed = true
		}
	}
	if !removed {
		return
	}
	order := p.order[:0]
	for _, id := range p.order {
		if _, ok := p.byID[id]; ok {
			order = append(order, id)
		}
	}
	p.order = order
}

// Has reports whether a transaction with the given id is pending.
func (p *Pool) Has(id hash.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byID[id]
	return ok
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// Pending returns up to limit transactions in arrival order.
func (p *Pool) Pending(limit int) inter.Transactions {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit <= 0 || limit > len(p.order) {
		limit = len(p.order)
	}
	txs := make(inter.Transactions, 0, limit)
	for _, id := range p.order[:limit] {
		txs = append(txs, p.byID[id])
	}
	return txs
}

// Clear empties the pool.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = make(map[hash.Hash]*inter.Transaction)
	p.order = nil
}
