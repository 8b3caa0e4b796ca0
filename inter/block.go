// Package inter holds the data exchanged between nodes: transactions, blocks,
// proposals and the lock proofs that justify re-proposing a block.
//
// Every type here has a canonical CSER encoding. Identifiers are the sha256 of
// that encoding, so two honest nodes always derive the same id for the same
// value.
package inter

import (
	"fmt"
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/rony4d/go-asset-bft/utils/cser"
)

// ProtocolMaxMsgSize limits any encoded block or proposal.
const ProtocolMaxMsgSize = 10 * 1024 * 1024

var ErrMalformedBlock = errors.New("malformed block encoding")

// BlockHeader is everything about a block except its transactions.
type BlockHeader struct {
	Version              uint8
	Timestamp            uint32 // unix seconds
	Height               idx.Block
	Round                uint32 // consensus round the block was committed in
	PreviousBlock        hash.Hash
	NumberOfTransactions uint32
	TotalAmount          *big.Int
	TotalFee             *big.Int
	Reward               *big.Int
	PayloadLength        uint32
	PayloadHash          hash.Hash
	GeneratorPublicKey   []byte
}

// MarshalCSER writes the header.
func (h *BlockHeader) MarshalCSER(w *cser.Writer) error {
	if len(h.GeneratorPublicKey) != senderKeySize {
		return errors.Wrap(ErrTxBadSenderKey, "generator")
	}
	w.U8(h.Version)
	w.U32(h.Timestamp)
	w.U64(uint64(h.Height))
	w.U32(h.Round)
	w.FixedBytes(h.PreviousBlock.Bytes())
	w.U32(h.NumberOfTransactions)
	w.BigInt(h.TotalAmount)
	w.BigInt(h.TotalFee)
	w.BigInt(h.Reward)
	w.U32(h.PayloadLength)
	w.FixedBytes(h.PayloadHash.Bytes())
	w.FixedBytes(h.GeneratorPublicKey)
	return nil
}

// UnmarshalCSER reads the header.
func (h *BlockHeader) UnmarshalCSER(r *cser.Reader) error {
	h.Version = r.U8()
	h.Timestamp = r.U32()
	h.Height = idx.Block(r.U64())
	h.Round = r.U32()
	r.FixedBytes(h.PreviousBlock[:])
	h.NumberOfTransactions = r.U32()
	h.TotalAmount = r.BigInt()
	h.TotalFee = r.BigInt()
	h.Reward = r.BigInt()
	h.PayloadLength = r.U32()
	r.FixedBytes(h.PayloadHash[:])
	h.GeneratorPublicKey = make([]byte, senderKeySize)
	r.FixedBytes(h.GeneratorPublicKey)
	return nil
}

// Block is a header plus the transactions it commits to.
type Block struct {
	BlockHeader
	Transactions Transactions

	id hash.Hash
}

// NewBlock returns a block whose payload fields are derived from txs.
func NewBlock(header BlockHeader, txs Transactions) *Block {
	b := &Block{BlockHeader: header, Transactions: txs}
	b.FillPayload()
	return b
}

// FillPayload recomputes the header fields that summarize the transactions.
func (b *Block) FillPayload() {
	p := ComputePayload(b.Transactions)
	b.NumberOfTransactions = uint32(len(b.Transactions))
	b.TotalAmount = p.TotalAmount
	b.TotalFee = p.TotalFee
	b.PayloadLength = p.Length
	b.PayloadHash = p.Hash
	b.id = hash.Zero
}

// Payload summarizes a list of transactions.
type Payload struct {
	TotalAmount *big.Int
	TotalFee    *big.Int
	Length      uint32    // 4 bytes of length prefix plus the encoding, per transaction
	Hash        hash.Hash // sha256 over the concatenated transaction ids
}

// ComputePayload derives the payload summary of txs.
func ComputePayload(txs Transactions) Payload {
	p := Payload{TotalAmount: new(big.Int), TotalFee: new(big.Int)}
	ids := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		p.TotalAmount.Add(p.TotalAmount, tx.Amount)
		p.TotalFee.Add(p.TotalFee, tx.Fee)
		p.Length += 4 + uint32(len(tx.Bytes()))
		ids = append(ids, tx.ID().Bytes())
	}
	p.Hash = hash.Of(ids...)
	return p
}

// HeaderBytes returns the encoded header.
func (b *Block) HeaderBytes() ([]byte, error) {
	return cser.MarshalBinaryAdapter(b.BlockHeader.MarshalCSER)
}

// ID is the hash of the encoded header. It is cached, so the block must not be
// modified after the first call.
func (b *Block) ID() hash.Hash {
	if b.id != hash.Zero {
		return b.id
	}
	raw, err := b.HeaderBytes()
	if err != nil {
		return hash.Zero
	}
	b.id = hash.Of(raw)
	return b.id
}

// Serialize encodes the block as a length-prefixed header followed by every
// length-prefixed transaction.
func (b *Block) Serialize() ([]byte, error) {
	header, err := b.HeaderBytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+len(header)+int(b.PayloadLength))
	out = append(out, bigendian.Uint32ToBytes(uint32(len(header)))...)
	out = append(out, header...)
	for _, tx := range b.Transactions {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, errors.Wrapf(err, "transaction %s", tx.ID().String())
		}
		out = append(out, bigendian.Uint32ToBytes(uint32(len(raw)))...)
		out = append(out, raw...)
	}
	return out, nil
}

// Size returns the length of the serialized block, 0 if it cannot be encoded.
func (b *Block) Size() int {
	raw, err := b.Serialize()
	if err != nil {
		return 0
	}
	return len(raw)
}

func nextChunk(raw []byte) (chunk, rest []byte, err error) {
	if len(raw) < 4 {
		return nil, nil, ErrMalformedBlock
	}
	size := bigendian.BytesToUint32(raw[:4])
	if uint64(size) > uint64(len(raw)-4) {
		return nil, nil, ErrMalformedBlock
	}
	return raw[4 : 4+size], raw[4+size:], nil
}

// DeserializeBlock parses the output of Serialize.
func DeserializeBlock(raw []byte) (*Block, error) {
	if len(raw) > ProtocolMaxMsgSize {
		return nil, cser.ErrTooLargeAlloc
	}
	chunk, rest, err := nextChunk(raw)
	if err != nil {
		return nil, err
	}
	b := &Block{}
	if err := cser.UnmarshalBinaryAdapter(chunk, b.BlockHeader.UnmarshalCSER); err != nil {
		return nil, errors.Wrap(err, "block header")
	}
	for len(rest) > 0 {
		chunk, rest, err = nextChunk(rest)
		if err != nil {
			return nil, err
		}
		tx, err := DecodeTransaction(chunk)
		if err != nil {
			return nil, errors.Wrapf(err, "transaction #%d", len(b.Transactions))
		}
		b.Transactions = append(b.Transactions, tx)
	}
	return b, nil
}

// Generator returns the address owning GeneratorPublicKey.
func (b *Block) Generator() (common.Address, error) {
	pub, err := crypto.DecompressPubkey(b.GeneratorPublicKey)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "generator public key")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// String is a short description for logs.
func (b *Block) String() string {
	return fmt.Sprintf("%d:%s", b.Height, hexutil.Encode(b.ID().Bytes()[:8]))
}
