package txpool

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-asset-bft/integration"
	"github.com/rony4d/go-asset-bft/inter"
)

func transfers(n int) inter.Transactions {
	txs := make(inter.Transactions, n)
	for i := range txs {
		txs[i] = integration.FakeTransfer(integration.FakeKey(1), uint64(i+1), integration.FakeAddress(2), 1, 1)
	}
	return txs
}

func TestPoolOrder(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := New(0, log)
	txs := transfers(4)
	for _, tx := range txs {
		require.NoError(t, p.Add(tx))
	}
	require.Equal(t, ErrDuplicate, p.Add(txs[0]))
	require.Equal(t, 4, p.Len())
	require.Equal(t, txs[:2].IDs(), p.Pending(2).IDs())

	p.Remove(inter.Transactions{txs[1]})
	require.False(t, p.Has(txs[1].ID()))
	require.Equal(t, inter.Transactions{txs[0], txs[2], txs[3]}.IDs(), p.Pending(0).IDs())

	p.Readd(inter.Transactions{txs[1]})
	require.True(t, p.Has(txs[1].ID()))
	require.Equal(t, 4, p.Len())

	p.Clear()
	require.Equal(t, 0, p.Len())
	require.Empty(t, p.Pending(10))
}

func TestPoolRejectsBadSignature(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := New(0, log)
	tx := transfers(1)[0]
	tx.Signature = append([]byte(nil), tx.Signature...)
	tx.Signature[10] ^= 0xff
	require.True(t, errors.Is(p.Add(tx), ErrBadSignature))
}

func TestPoolCapacity(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := New(2, log)
	txs := transfers(3)
	require.NoError(t, p.Add(txs[0]))
	require.NoError(t, p.Add(txs[1]))
	require.Equal(t, ErrPoolFull, p.Add(txs[2]))
}
