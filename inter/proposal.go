package inter

import (
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"github.com/rony4d/go-asset-bft/utils/cser"
)

// BLSSignatureSize is the size of a compressed consensus signature.
const BLSSignatureSize = 48

// MaxValidators bounds the signer bitmap of a lock proof.
const MaxValidators = 1024

var ErrMissingSignature = errors.New("proposal is not signed")

// MessageType tags the payloads validators sign.
type MessageType uint8

const (
	MessageProposal MessageType = iota
	MessagePrevote
	MessagePrecommit
)

// LockProof is an aggregated prevote signature for a block, together with the
// indices of the validators it aggregates.
type LockProof struct {
	Signature  []byte
	Validators *bitset.BitSet
}

func (p *LockProof) marshal(w *cser.Writer) error {
	if len(p.Signature) != BLSSignatureSize {
		return errors.New("lock proof signature size")
	}
	if p.Validators == nil {
		return errors.New("lock proof without signers")
	}
	bm, err := p.Validators.MarshalBinary()
	if err != nil {
		return err
	}
	w.FixedBytes(p.Signature)
	w.SliceBytes(bm)
	return nil
}

func (p *LockProof) unmarshal(r *cser.Reader) error {
	p.Signature = make([]byte, BLSSignatureSize)
	r.FixedBytes(p.Signature)
	p.Validators = new(bitset.BitSet)
	return p.Validators.UnmarshalBinary(r.SliceBytes(8 + MaxValidators/8))
}

// ProposedBlock is the block of a proposal, and the lock proof when the block
// is re-proposed from an earlier round.
type ProposedBlock struct {
	Block     *Block
	LockProof *LockProof
}

// Proposal is the message the round's proposer sends.
type Proposal struct {
	Height         idx.Block
	Round          uint32
	ValidRound     *uint32 // round the block was locked in, nil for a fresh block
	ValidatorIndex idx.Validator
	Block          ProposedBlock
	Signature      []byte
}

func (p *Proposal) marshal(w *cser.Writer, withSignature bool) error {
	if p.Block.Block == nil {
		return errors.New("proposal without block")
	}
	block, err := p.Block.Block.Serialize()
	if err != nil {
		return err
	}
	w.U64(uint64(p.Height))
	w.U32(p.Round)
	w.Bool(p.ValidRound != nil)
	if p.ValidRound != nil {
		w.U32(*p.ValidRound)
	}
	w.U32(uint32(p.ValidatorIndex))
	w.SliceBytes(block)
	w.Bool(p.Block.LockProof != nil)
	if p.Block.LockProof != nil {
		if err := p.Block.LockProof.marshal(w); err != nil {
			return err
		}
	}
	if withSignature {
		if len(p.Signature) != BLSSignatureSize {
			return ErrMissingSignature
		}
		w.FixedBytes(p.Signature)
	}
	return nil
}

// MarshalCSER writes the signed proposal.
func (p *Proposal) MarshalCSER(w *cser.Writer) error {
	return p.marshal(w, true)
}

// UnmarshalCSER reads a signed proposal.
func (p *Proposal) UnmarshalCSER(r *cser.Reader) error {
	p.Height = idx.Block(r.U64())
	p.Round = r.U32()
	p.ValidRound = nil
	if r.Bool() {
		vr := r.U32()
		p.ValidRound = &vr
	}
	p.ValidatorIndex = idx.Validator(r.U32())
	block, err := DeserializeBlock(r.SliceBytes(ProtocolMaxMsgSize))
	if err != nil {
		return err
	}
	p.Block = ProposedBlock{Block: block}
	if r.Bool() {
		p.Block.LockProof = &LockProof{}
		if err := p.Block.LockProof.unmarshal(r); err != nil {
			return err
		}
	}
	p.Signature = make([]byte, BLSSignatureSize)
	r.FixedBytes(p.Signature)
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p *Proposal) MarshalBinary() ([]byte, error) {
	return cser.MarshalBinaryAdapter(p.MarshalCSER)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *Proposal) UnmarshalBinary(raw []byte) error {
	if len(raw) > ProtocolMaxMsgSize {
		return cser.ErrTooLargeAlloc
	}
	return cser.UnmarshalBinaryAdapter(raw, p.UnmarshalCSER)
}

// DecodeProposal parses a signed proposal.
func DecodeProposal(raw []byte) (*Proposal, error) {
	p := &Proposal{}
	if err := p.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return p, nil
}

// SignaturePayload returns the bytes the proposer signs: the proposal encoded
// without its signature, tagged with MessageProposal.
func (p *Proposal) SignaturePayload() ([]byte, error) {
	return cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		w.U8(uint8(MessageProposal))
		return p.marshal(w, false)
	})
}

// HasValidRound reports whether the proposal re-proposes a locked block.
func (p *Proposal) HasValidRound() bool {
	return p.ValidRound != nil
}

// PrevotePayload returns the bytes a validator signs to prevote for blockID,
// or for nothing when blockID is nil.
func PrevotePayload(height idx.Block, round uint32, blockID *hash.Hash) []byte {
	return votePayload(MessagePrevote, height, round, blockID)
}

// PrecommitPayload is PrevotePayload for the precommit step.
func PrecommitPayload(height idx.Block, round uint32, blockID *hash.Hash) []byte {
	return votePayload(MessagePrecommit, height, round, blockID)
}

func votePayload(t MessageType, height idx.Block, round uint32, blockID *hash.Hash) []byte {
	raw, _ := cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		w.U8(uint8(t))
		w.U64(uint64(height))
		w.U32(round)
		w.Bool(blockID != nil)
		if blockID != nil {
			w.FixedBytes(blockID.Bytes())
		}
		return nil
	})
	return raw
}

// CommittedUnit is a block that has been agreed on and is being committed.
type CommittedUnit interface {
	CommittedBlock() *Block
	CommitRound() uint32
}
