// Package database persists the chain: blocks by height, block and
// transaction id indexes, admitted proposals and chain attributes.
package database

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/Fantom-foundation/lachesis-base/kvdb/table"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/inter"
)

// Table prefixes. They must match the tags of Store.table.
const (
	blocksPrefix     = "b"
	blockIDsPrefix   = "i"
	txsPrefix        = "t"
	proposalsPrefix  = "p"
	attributesPrefix = "a"
)

var lastHeightKey = []byte("lastHeight")

var (
	ErrNotFound       = errors.New("not found")
	ErrNotChained     = errors.New("block does not extend the stored chain")
	ErrCorruptedChain = errors.New("stored chain is corrupted")
)

// Store is the persistent chain storage.
type Store struct {
	mainDB kvdb.Store
	table  struct {
		Blocks     kvdb.Store `table:"b"` // height -> serialized block
		BlockIDs   kvdb.Store `table:"i"` // block id -> height
		Txs        kvdb.Store `table:"t"` // tx id -> height
		Proposals  kvdb.Store `table:"p"` // height|round -> proposal
		Attributes kvdb.Store `table:"a"` // name -> rlp value
	}

	mu  sync.Mutex // serializes writers
	log logrus.FieldLogger
}

// NewStore opens the tables over db.
func NewStore(db kvdb.Store, log logrus.FieldLogger) *Store {
	s := &Store{
		mainDB: db,
		log:    log.WithField("module", "database"),
	}
	table.MigrateTables(&s.table, s.mainDB)
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	table.MigrateTables(&s.table, nil)
	return s.mainDB.Close()
}

func heightKey(h idx.Block) []byte {
	return bigendian.Uint64ToBytes(uint64(h))
}

func proposalKey(h idx.Block, round uint32) []byte {
	return append(heightKey(h), bigendian.Uint32ToBytes(round)...)
}

func prefixed(prefix string, key []byte) []byte {
	return append([]byte(prefix), key...)
}

// batch writes to several tables atomically through the main database.
type batch struct {
	kvdb.Batch
}

func (b batch) put(prefix string, key, value []byte) error {
	return b.Put(prefixed(prefix, key), value)
}

func (b batch) delete(prefix string, key []byte) error {
	return b.Delete(prefixed(prefix, key))
}

func (s *Store) lastHeight() (idx.Block, bool, error) {
	raw, err := s.table.Attributes.Get(lastHeightKey)
	if err != nil || raw == nil {
		return 0, false, err
	}
	return idx.Block(bigendian.BytesToUint64(raw)), true, nil
}

// GetLastHeight returns the height of the highest stored block.
func (s *Store) GetLastHeight() (idx.Block, bool, error) {
	return s.lastHeight()
}

// SaveBlocks appends blocks to the stored chain in one batch. Blocks must be
// consecutive and extend the stored tip.
func (s *Store) SaveBlocks(blocks []*inter.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	top, ok, err := s.lastHeight()
	if err != nil {
		return err
	}
	next := idx.Block(0)
	if ok {
		next = top + 1
	}

	b := batch{s.mainDB.NewBatch()}
	for _, block := range blocks {
		if block.Height != next {
			return errors.Wrapf(ErrNotChained, "block %s, expected height %d", block.String(), next)
		}
		raw, err := block.Serialize()
		if err != nil {
			return errors.Wrapf(err, "serialize block %s", block.String())
		}
		key := heightKey(block.Height)
		if err := b.put(blocksPrefix, key, raw); err != nil {
			return err
		}
		if err := b.put(blockIDsPrefix, block.ID().Bytes(), key); err != nil {
			return err
		}
		for _, tx := range block.Transactions {
			if err := b.put(txsPrefix, tx.ID().Bytes(), key); err != nil {
				return err
			}
		}
		next++
	}
	if err := b.put(attributesPrefix, lastHeightKey, heightKey(next-1)); err != nil {
		return err
	}
	if err := b.Write(); err != nil {
		return errors.Wrap(err, "write blocks")
	}
	s.log.WithFields(logrus.Fields{
		"from": blocks[0].Height,
		"to":   next - 1,
	}).Debug("Blocks saved")
	return nil
}

// GetBlock returns the block at height, or ErrNotFound.
func (s *Store) GetBlock(height idx.Block) (*inter.Block, error) {
	raw, err := s.table.Blocks.Get(heightKey(height))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.Wrapf(ErrNotFound, "block %d", height)
	}
	b, err := inter.DeserializeBlock(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptedChain, "block %d: %v", height, err)
	}
	return b, nil
}

// GetBlockByID returns the block with the given id, or ErrNotFound.
func (s *Store) GetBlockByID(id hash.Hash) (*inter.Block, error) {
	raw, err := s.table.BlockIDs.Get(id.Bytes())
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.Wrapf(ErrNotFound, "block %s", id.String())
	}
	return s.GetBlock(idx.Block(bigendian.BytesToUint64(raw)))
}

// GetLastBlock returns the stored tip, or ErrNotFound on an empty database.
func (s *Store) GetLastBlock() (*inter.Block, error) {
	h, ok, err := s.lastHeight()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "empty chain")
	}
	return s.GetBlock(h)
}

// ForEachBlock calls fn for every stored block in height order until fn returns false.
func (s *Store) ForEachBlock(from idx.Block, fn func(*inter.Block) bool) error {
	it := s.table.Blocks.NewIterator(nil, heightKey(from))
	defer it.Release()
	for it.Next() {
		b, err := inter.DeserializeBlock(it.Value())
		if err != nil {
			return errors.Wrapf(ErrCorruptedChain, "block %d: %v", bigendian.BytesToUint64(it.Key()), err)
		}
		if !fn(b) {
			break
		}
	}
	return it.Error()
}

// DeleteTopBlocks removes the n highest blocks and their indexes.
func (s *Store) DeleteTopBlocks(n int) error {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	top, ok, err := s.lastHeight()
	if err != nil || !ok {
		return err
	}
	if uint64(n) > uint64(top) {
		// the genesis block is never removed
		n = int(top)
	}

	b := batch{s.mainDB.NewBatch()}
	for h := top; h > top-idx.Block(n); h-- {
		block, err := s.GetBlock(h)
		if err != nil {
			return err
		}
		if err := b.delete(blocksPrefix, heightKey(h)); err != nil {
			return err
		}
		if err := b.delete(blockIDsPrefix, block.ID().Bytes()); err != nil {
			return err
		}
		for _, tx := range block.Transactions {
			if err := b.delete(txsPrefix, tx.ID().Bytes()); err != nil {
				return err
			}
		}
	}
	newTop := top - idx.Block(n)
	if err := b.put(attributesPrefix, lastHeightKey, heightKey(newTop)); err != nil {
		return err
	}
	if err := b.Write(); err != nil {
		return errors.Wrap(err, "delete blocks")
	}
	s.log.WithFields(logrus.Fields{
		"removed": n,
		"height":  newTop,
	}).Info("Removed top blocks")
	return nil
}

// ForgedTransactionIDs returns those of ids already included in a stored block.
func (s *Store) ForgedTransactionIDs(ids hash.Hashes) (hash.Hashes, error) {
	var forged hash.Hashes
	for _, id := range ids {
		ok, err := s.table.Txs.Has(id.Bytes())
		if err != nil {
			return nil, err
		}
		if ok {
			forged = append(forged, id)
		}
	}
	return forged, nil
}

// SaveProposal stores the admitted proposal of its height and round. A
// proposal already stored for the slot is kept.
func (s *Store) SaveProposal(p *inter.Proposal) error {
	key := proposalKey(p.Height, p.Round)
	if ok, err := s.table.Proposals.Has(key); err != nil || ok {
		return err
	}
	raw, err := p.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encode proposal")
	}
	return s.table.Proposals.Put(key, raw)
}

// GetProposal returns the stored proposal of a slot, or ErrNotFound.
func (s *Store) GetProposal(height idx.Block, round uint32) (*inter.Proposal, error) {
	raw, err := s.table.Proposals.Get(proposalKey(height, round))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.Wrapf(ErrNotFound, "proposal %d/%d", height, round)
	}
	return inter.DecodeProposal(raw)
}

// SetAttribute stores v under name.
func (s *Store) SetAttribute(name string, v interface{}) error {
	raw, err := rlp.EncodeToBytes(v)
	if err != nil {
		return errors.Wrapf(err, "encode attribute %s", name)
	}
	return s.table.Attributes.Put([]byte(name), raw)
}

// GetAttribute decodes the value stored under name into v. It reports false
// if nothing is stored.
func (s *Store) GetAttribute(name string, v interface{}) (bool, error) {
	raw, err := s.table.Attributes.Get([]byte(name))
	if err != nil || raw == nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, v); err != nil {
		return false, errors.Wrapf(err, "decode attribute %s", name)
	}
	return true, nil
}

// VerifyBlockchain checks the stored chain: the tip is present and its height
// matches the number of blocks, blocks link to their parents and match their
// payload summary, and every transaction is indexed.
func (s *Store) VerifyBlockchain() error {
	top, ok, err := s.lastHeight()
	if err != nil {
		return err
	}
	var problems []string
	if !ok {
		problems = append(problems, "last block is not available")
	}

	var (
		count     uint64
		txCount   uint64
		expected  idx.Block
		prevID    = hash.Zero
		totalFee  = new(big.Int)
		headerFee = new(big.Int)
	)
	err = s.ForEachBlock(0, func(b *inter.Block) bool {
		if b.Height != expected {
			problems = append(problems, fmt.Sprintf("missing block at height %d", expected))
			return false
		}
		if b.PreviousBlock != prevID {
			problems = append(problems, fmt.Sprintf("block %s does not link to its parent", b.String()))
		}
		p := inter.ComputePayload(b.Transactions)
		if p.Hash != b.PayloadHash || p.TotalAmount.Cmp(b.TotalAmount) != 0 {
			problems = append(problems, fmt.Sprintf("block %s payload mismatch", b.String()))
		}
		totalFee.Add(totalFee, p.TotalFee)
		headerFee.Add(headerFee, b.TotalFee)
		txCount += uint64(b.NumberOfTransactions)
		for _, tx := range b.Transactions {
			if ok, _ := s.table.Txs.Has(tx.ID().Bytes()); !ok {
				problems = append(problems, fmt.Sprintf("transaction %s is not indexed", tx.ID().String()))
			}
		}
		prevID = b.ID()
		expected++
		count++
		return true
	})
	if err != nil {
		return err
	}

	if ok && uint64(top)+1 != count {
		problems = append(problems, fmt.Sprintf("last block height %d does not match %d stored blocks", top, count))
	}
	if totalFee.Cmp(headerFee) != 0 {
		problems = append(problems, fmt.Sprintf("total transaction fees %s differ from block totals %s", totalFee, headerFee))
	}
	if indexed := s.countTxs(); indexed != txCount {
		problems = append(problems, fmt.Sprintf("%d indexed transactions, %d included in blocks", indexed, txCount))
	}

	if len(problems) != 0 {
		s.log.WithField("problems", problems).Error("FATAL: The database is corrupted")
		return errors.Wrapf(ErrCorruptedChain, "%d problems", len(problems))
	}
	return nil
}

func (s *Store) countTxs() uint64 {
	it := s.table.Txs.NewIterator(nil, nil)
	defer it.Release()
	var n uint64
	for it.Next() {
		n++
	}
	return n
}
