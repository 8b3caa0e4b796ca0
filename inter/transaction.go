package inter

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/rony4d/go-asset-bft/utils/cser"
)

const (
	// TxVersion is the version new transactions are created with. Versions
	// below 2 carry no sequential nonce.
	TxVersion = 2

	// MaxTxDataSize bounds the free-form data of a transaction.
	MaxTxDataSize = 1024

	senderKeySize = 33 // compressed secp256k1
	txSigSize     = crypto.SignatureLength
)

var (
	ErrTxMissingSignature = errors.New("transaction is not signed")
	ErrTxBadSenderKey     = errors.New("malformed sender public key")
)

// Transaction moves Amount from the owner of SenderPublicKey to Recipient.
//
// ID is the hash of the full encoding. Hash covers everything but the
// signature and is what the sender signs.
type Transaction struct {
	Version         uint8
	Nonce           *big.Int
	SenderPublicKey []byte
	Recipient       common.Address
	Amount          *big.Int
	Fee             *big.Int
	Expiration      uint32 // block height, 0 means never
	Data            []byte
	Signature       []byte

	id hash.Hash
}

func (tx *Transaction) marshal(w *cser.Writer, withSignature bool) error {
	if len(tx.SenderPublicKey) != senderKeySize {
		return ErrTxBadSenderKey
	}
	if len(tx.Data) > MaxTxDataSize {
		return cser.ErrTooLargeAlloc
	}
	w.U8(tx.Version)
	w.BigInt(tx.Nonce)
	w.FixedBytes(tx.SenderPublicKey)
	w.FixedBytes(tx.Recipient.Bytes())
	w.BigInt(tx.Amount)
	w.BigInt(tx.Fee)
	w.U32(tx.Expiration)
	w.SliceBytes(tx.Data)
	if withSignature {
		if len(tx.Signature) != txSigSize {
			return ErrTxMissingSignature
		}
		w.FixedBytes(tx.Signature)
	}
	return nil
}

// MarshalCSER writes the signed transaction.
func (tx *Transaction) MarshalCSER(w *cser.Writer) error {
	return tx.marshal(w, true)
}

// UnmarshalCSER reads a signed transaction.
func (tx *Transaction) UnmarshalCSER(r *cser.Reader) error {
	tx.Version = r.U8()
	tx.Nonce = r.BigInt()
	tx.SenderPublicKey = make([]byte, senderKeySize)
	r.FixedBytes(tx.SenderPublicKey)
	r.FixedBytes(tx.Recipient[:])
	tx.Amount = r.BigInt()
	tx.Fee = r.BigInt()
	tx.Expiration = r.U32()
	tx.Data = r.SliceBytes(MaxTxDataSize)
	tx.Signature = make([]byte, txSigSize)
	r.FixedBytes(tx.Signature)
	tx.id = hash.Zero
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	return cser.MarshalBinaryAdapter(tx.MarshalCSER)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (tx *Transaction) UnmarshalBinary(raw []byte) error {
	return cser.UnmarshalBinaryAdapter(raw, tx.UnmarshalCSER)
}

// DecodeTransaction parses a signed transaction.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	tx := &Transaction{}
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return tx, nil
}

// Hash returns the digest the sender signs.
func (tx *Transaction) Hash() hash.Hash {
	raw, err := cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		return tx.marshal(w, false)
	})
	if err != nil {
		return hash.Zero
	}
	return hash.Of(raw)
}

// ID returns the identifier of the signed transaction. It is cached, so the
// transaction must not be modified after the first call.
func (tx *Transaction) ID() hash.Hash {
	if tx.id != hash.Zero {
		return tx.id
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return hash.Zero
	}
	tx.id = hash.Of(raw)
	return tx.id
}

// Bytes returns the encoding of the signed transaction, nil if it cannot be
// encoded.
func (tx *Transaction) Bytes() []byte {
	raw, _ := tx.MarshalBinary()
	return raw
}

// Sign sets SenderPublicKey and Signature from key.
func (tx *Transaction) Sign(key *ecdsa.PrivateKey) error {
	tx.SenderPublicKey = crypto.CompressPubkey(&key.PublicKey)
	digest := tx.Hash()
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return errors.Wrap(err, "sign transaction")
	}
	tx.Signature = sig
	tx.id = hash.Zero
	return nil
}

// Verify reports whether Signature was produced by SenderPublicKey over Hash.
func (tx *Transaction) Verify() bool {
	if len(tx.Signature) != txSigSize || len(tx.SenderPublicKey) != senderKeySize {
		return false
	}
	digest := tx.Hash()
	if digest == hash.Zero {
		return false
	}
	return crypto.VerifySignature(tx.SenderPublicKey, digest.Bytes(), tx.Signature[:txSigSize-1])
}

// Sender returns the address owning SenderPublicKey.
func (tx *Transaction) Sender() (common.Address, error) {
	pub, err := crypto.DecompressPubkey(tx.SenderPublicKey)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrTxBadSenderKey, err.Error())
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Transactions is an ordered list of transactions.
type Transactions []*Transaction

// IDs returns the identifiers in order.
func (txs Transactions) IDs() hash.Hashes {
	ids := make(hash.Hashes, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID()
	}
	return ids
}
