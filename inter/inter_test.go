package inter

import (
	"bytes"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/bits-and-blooms/bitset"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-asset-bft/utils/cser"
)

func testKey(n uint64) *ecdsa.PrivateKey {
	key, err := crypto.ToECDSA(hash.Of([]byte("inter"), bigendian.Uint64ToBytes(n)).Bytes())
	if err != nil {
		panic(err)
	}
	return key
}

func signedTx(t *testing.T, key *ecdsa.PrivateKey, nonce int64, amount int64) *Transaction {
	tx := &Transaction{
		Version:   TxVersion,
		Nonce:     big.NewInt(nonce),
		Recipient: common.Address{0xaa},
		Amount:    big.NewInt(amount),
		Fee:       big.NewInt(10),
		Data:      []byte("memo"),
	}
	require.NoError(t, tx.Sign(key))
	return tx
}

func testBlock(t *testing.T, txs Transactions) *Block {
	return NewBlock(BlockHeader{
		Version:            1,
		Timestamp:          1700000000,
		Height:             7,
		Round:              2,
		PreviousBlock:      hash.Of([]byte("parent")),
		Reward:             big.NewInt(2e8),
		GeneratorPublicKey: crypto.CompressPubkey(&testKey(100).PublicKey),
	}, txs)
}

func TestTransactionSignVerify(t *testing.T) {
	key := testKey(1)
	tx := signedTx(t, key, 1, 500)
	require.True(t, tx.Verify())

	sender, err := tx.Sender()
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)

	t.Run("tampered amount", func(t *testing.T) {
		forged := *tx
		forged.Amount = big.NewInt(501)
		require.False(t, forged.Verify())
	})
	t.Run("foreign key", func(t *testing.T) {
		forged := *tx
		forged.SenderPublicKey = crypto.CompressPubkey(&testKey(2).PublicKey)
		require.False(t, forged.Verify())
	})
	t.Run("unsigned", func(t *testing.T) {
		forged := *tx
		forged.Signature = nil
		require.False(t, forged.Verify())
		_, err := forged.MarshalBinary()
		require.Equal(t, ErrTxMissingSignature, err)
	})
}

func TestTransactionEncoding(t *testing.T) {
	tx := signedTx(t, testKey(1), 3, 1)
	tx.Expiration = 99
	require.NoError(t, tx.Sign(testKey(1)))

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	got, err := DecodeTransaction(raw)
	require.NoError(t, err)

	assert.Equal(t, tx.ID(), got.ID())
	assert.Equal(t, tx.Hash(), got.Hash())
	assert.Equal(t, uint32(99), got.Expiration)
	assert.Equal(t, 0, tx.Nonce.Cmp(got.Nonce))
	assert.True(t, got.Verify())
	assert.NotEqual(t, tx.ID(), tx.Hash())

	_, err = DecodeTransaction(raw[:len(raw)/2])
	require.Error(t, err)

	t.Run("trailing bytes", func(t *testing.T) {
		extra, err := cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
			if err := tx.MarshalCSER(w); err != nil {
				return err
			}
			w.U8(0)
			return nil
		})
		require.NoError(t, err)
		_, err = DecodeTransaction(extra)
		require.Equal(t, cser.ErrNonCanonicalEncoding, err)
	})

	t.Run("zero padded nonce", func(t *testing.T) {
		padded, err := cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
			w.U8(tx.Version)
			w.SliceBytes(append([]byte{0}, tx.Nonce.Bytes()...))
			w.FixedBytes(tx.SenderPublicKey)
			w.FixedBytes(tx.Recipient.Bytes())
			w.BigInt(tx.Amount)
			w.BigInt(tx.Fee)
			w.U32(tx.Expiration)
			w.SliceBytes(tx.Data)
			w.FixedBytes(tx.Signature)
			return nil
		})
		require.NoError(t, err)
		_, err = DecodeTransaction(padded)
		require.Equal(t, cser.ErrNonCanonicalEncoding, err)
	})

	t.Run("missing bit stream", func(t *testing.T) {
		_, err := DecodeTransaction(append(append([]byte(nil), raw...), 0x80))
		require.Error(t, err)
	})
}

func TestBlockSerialization(t *testing.T) {
	txs := Transactions{
		signedTx(t, testKey(1), 1, 10),
		signedTx(t, testKey(2), 1, 20),
		signedTx(t, testKey(1), 2, 30),
	}
	b := testBlock(t, txs)

	require.Equal(t, uint32(3), b.NumberOfTransactions)
	require.Equal(t, big.NewInt(60), b.TotalAmount)
	require.Equal(t, big.NewInt(30), b.TotalFee)

	length := 0
	var ids [][]byte
	for _, tx := range txs {
		length += 4 + len(tx.Bytes())
		ids = append(ids, tx.ID().Bytes())
	}
	require.Equal(t, uint32(length), b.PayloadLength)
	require.Equal(t, hash.Of(ids...), b.PayloadHash)

	raw, err := b.Serialize()
	require.NoError(t, err)
	require.Equal(t, len(raw), b.Size())

	got, err := DeserializeBlock(raw)
	require.NoError(t, err)
	require.Equal(t, b.ID(), got.ID())
	require.Len(t, got.Transactions, 3)
	for i := range txs {
		require.Equal(t, txs[i].ID(), got.Transactions[i].ID())
	}

	_, err = DeserializeBlock(raw[:len(raw)-1])
	require.Error(t, err)
	_, err = DeserializeBlock(nil)
	require.Equal(t, ErrMalformedBlock, err)
}

func TestBlockIDCoversHeaderOnly(t *testing.T) {
	b := testBlock(t, nil)
	id := b.ID()
	b.Transactions = Transactions{signedTx(t, testKey(1), 1, 1)}
	require.Equal(t, id, b.ID())

	b.FillPayload()
	require.NotEqual(t, id, b.ID())
}

func TestEmptyPayload(t *testing.T) {
	p := ComputePayload(nil)
	require.Equal(t, uint32(0), p.Length)
	require.Equal(t, 0, p.TotalAmount.Sign())
	require.Equal(t, hash.Of(), p.Hash)
}

func TestProposalEncoding(t *testing.T) {
	validRound := uint32(1)
	signers := bitset.New(4).Set(0).Set(2).Set(3)
	p := &Proposal{
		Height:         7,
		Round:          3,
		ValidRound:     &validRound,
		ValidatorIndex: 2,
		Block: ProposedBlock{
			Block: testBlock(t, Transactions{signedTx(t, testKey(1), 1, 10)}),
			LockProof: &LockProof{
				Signature:  bytes.Repeat([]byte{0xab}, BLSSignatureSize),
				Validators: signers,
			},
		},
		Signature: bytes.Repeat([]byte{0xcd}, BLSSignatureSize),
	}

	raw, err := p.MarshalBinary()
	require.NoError(t, err)
	got, err := DecodeProposal(raw)
	require.NoError(t, err)

	require.Equal(t, p.Height, got.Height)
	require.Equal(t, p.Round, got.Round)
	require.True(t, got.HasValidRound())
	require.Equal(t, validRound, *got.ValidRound)
	require.Equal(t, p.ValidatorIndex, got.ValidatorIndex)
	require.Equal(t, p.Block.Block.ID(), got.Block.Block.ID())
	require.True(t, signers.Equal(got.Block.LockProof.Validators))
	require.Equal(t, p.Signature, got.Signature)

	payload, err := p.SignaturePayload()
	require.NoError(t, err)
	got.Signature = bytes.Repeat([]byte{0xee}, BLSSignatureSize)
	payload2, err := got.SignaturePayload()
	require.NoError(t, err)
	require.Equal(t, payload, payload2, "signature is not part of the signed payload")

	t.Run("fresh block", func(t *testing.T) {
		fresh := *p
		fresh.ValidRound = nil
		fresh.Block.LockProof = nil
		raw, err := fresh.MarshalBinary()
		require.NoError(t, err)
		got, err := DecodeProposal(raw)
		require.NoError(t, err)
		require.False(t, got.HasValidRound())
		require.Nil(t, got.Block.LockProof)
	})

	t.Run("unsigned", func(t *testing.T) {
		unsigned := *p
		unsigned.Signature = nil
		_, err := unsigned.MarshalBinary()
		require.Equal(t, ErrMissingSignature, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeProposal([]byte{1, 2, 3})
		require.Error(t, err)
	})
}

func TestPrevotePayload(t *testing.T) {
	id := hash.Of([]byte("block"))
	other := hash.Of([]byte("other"))
	a := PrevotePayload(5, 1, &id)
	require.Equal(t, a, PrevotePayload(5, 1, &id))
	require.NotEqual(t, a, PrevotePayload(5, 1, &other))
	require.NotEqual(t, a, PrevotePayload(5, 2, &id))
	require.NotEqual(t, a, PrevotePayload(6, 1, &id))
	require.NotEqual(t, a, PrevotePayload(5, 1, nil))
}
