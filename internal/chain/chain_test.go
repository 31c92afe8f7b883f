package chain

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/stretchr/testify/require"

	"github.com/insoblok/inso-node/internal/consensus"
	"github.com/insoblok/inso-node/pkg/types"
)

func newTestChain(t *testing.T) (*Chain, ethdb.Database) {
	t.Helper()
	db := rawdb.NewMemoryDatabase()
	c, err := New(db, consensus.New(consensus.DefaultParameters()), DefaultGenesis())
	require.NoError(t, err)
	return c, db
}

func nextBlock(c *Chain, txs ...*types.Transaction) *types.Block {
	head := c.Head()
	return types.NewBlock(&types.Header{
		Sequence:  head.Sequence + 1,
		PrevHash:  head.Hash(),
		Timestamp: head.Timestamp + 1,
	}, txs)
}

func spendTx(fee uint64, nullifier byte) *types.Transaction {
	return types.NewTransaction(types.TxData{
		Fee:    fee,
		Spends: []types.Spend{{Nullifier: common.Hash{nullifier}}},
	})
}

func TestNewWritesGenesis(t *testing.T) {
	c, _ := newTestChain(t)
	ctx := context.Background()

	head := c.Head()
	require.Equal(t, uint32(1), head.Sequence)
	require.Equal(t, c.Genesis().Hash(), head.Hash())

	block, err := c.GetBlock(ctx, head.Hash())
	require.NoError(t, err)
	require.NotNil(t, block)
	require.Len(t, block.Transactions, 1)
	require.True(t, block.Transactions[0].IsMinersFee())

	missing, err := c.GetHeader(ctx, common.HexToHash("0x1234"))
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestConnectAndReload(t *testing.T) {
	c, db := newTestChain(t)
	ctx := context.Background()

	b2 := nextBlock(c, spendTx(10, 1))
	require.NoError(t, c.ConnectBlock(ctx, b2))
	b3 := nextBlock(c)
	require.NoError(t, c.ConnectBlock(ctx, b3))
	require.Equal(t, b3.Hash(), c.Head().Hash())

	byNumber, err := c.GetBlockBySequence(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, b2.Hash(), byNumber.Hash())
	require.Equal(t, b2.Transactions[0].Hash(), byNumber.Transactions[0].Hash())

	reopened, err := New(db, consensus.New(consensus.DefaultParameters()), DefaultGenesis())
	require.NoError(t, err)
	require.Equal(t, b3.Hash(), reopened.Head().Hash())

	other := DefaultGenesis()
	other.Timestamp++
	_, err = New(db, consensus.New(consensus.DefaultParameters()), other)
	require.ErrorIs(t, err, ErrGenesisMismatch)
}

func TestConnectRejectsInvalid(t *testing.T) {
	c, _ := newTestChain(t)
	ctx := context.Background()

	wrongParent := types.NewBlock(&types.Header{Sequence: 2, PrevHash: common.HexToHash("0x01")}, nil)
	require.ErrorIs(t, c.ConnectBlock(ctx, wrongParent), ErrNotExtendingHead)

	wrongSeq := types.NewBlock(&types.Header{Sequence: 5, PrevHash: c.Head().Hash()}, nil)
	require.ErrorIs(t, c.ConnectBlock(ctx, wrongSeq), ErrInvalidSequence)

	badRoot := nextBlock(c, spendTx(1, 1))
	badRoot.Transactions = append(badRoot.Transactions, spendTx(2, 2))
	require.ErrorIs(t, c.ConnectBlock(ctx, badRoot), ErrInvalidTxRoot)

	huge := types.NewTransaction(types.TxData{Signature: make([]byte, consensus.DefaultParameters().MaxBlockSizeBytes)})
	require.ErrorIs(t, c.ConnectBlock(ctx, nextBlock(c, huge)), ErrBlockTooLarge)

	require.Equal(t, uint32(1), c.Head().Sequence)
}

func TestDisconnectBlock(t *testing.T) {
	c, _ := newTestChain(t)
	ctx := context.Background()
	genesis := c.Head()

	_, err := c.DisconnectBlock(ctx)
	require.ErrorIs(t, err, ErrDisconnectGenesis)

	b2 := nextBlock(c)
	require.NoError(t, c.ConnectBlock(ctx, b2))

	removed, err := c.DisconnectBlock(ctx)
	require.NoError(t, err)
	require.Equal(t, b2.Hash(), removed.Hash())
	require.Equal(t, genesis.Hash(), c.Head().Hash())

	byNumber, err := c.GetBlockBySequence(ctx, 2)
	require.NoError(t, err)
	require.Nil(t, byNumber)

	// The block body is kept, so the same block can be reconnected.
	require.NoError(t, c.ConnectBlock(ctx, b2))
}

func TestListenersRunInOrder(t *testing.T) {
	c, _ := newTestChain(t)
	ctx := context.Background()

	var calls []string
	unsubA := c.OnConnectBlock(func(*types.Block) { calls = append(calls, "a") })
	c.OnConnectBlock(func(*types.Block) { calls = append(calls, "b") })
	c.OnDisconnectBlock(func(context.Context, *types.Block) error {
		calls = append(calls, "d1")
		return nil
	})
	c.OnDisconnectBlock(func(ctx context.Context, b *types.Block) error {
		calls = append(calls, "d2")
		return ctx.Err()
	})

	require.NoError(t, c.ConnectBlock(ctx, nextBlock(c)))
	require.Equal(t, []string{"a", "b"}, calls)

	unsubA()
	unsubA()
	calls = nil
	require.NoError(t, c.ConnectBlock(ctx, nextBlock(c)))
	require.Equal(t, []string{"b"}, calls)

	calls = nil
	_, err := c.DisconnectBlock(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"d1", "d2"}, calls)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.DisconnectBlock(cancelled)
	require.ErrorIs(t, err, context.Canceled)
}

func TestChainHeadEvent(t *testing.T) {
	c, _ := newTestChain(t)
	ch := make(chan ChainHeadEvent, 2)
	sub := c.SubscribeChainHeadEvent(ch)
	defer sub.Unsubscribe()

	b2 := nextBlock(c)
	require.NoError(t, c.ConnectBlock(context.Background(), b2))
	_, err := c.DisconnectBlock(context.Background())
	require.NoError(t, err)

	for _, want := range []struct {
		hash         common.Hash
		disconnected bool
	}{{b2.Hash(), false}, {c.Genesis().Hash(), true}} {
		select {
		case ev := <-ch:
			require.Equal(t, want.hash, ev.Header.Hash())
			require.Equal(t, want.disconnected, ev.Disconnected)
		case <-time.After(time.Second):
			t.Fatal("missing ChainHeadEvent")
		}
	}
}

func TestLoadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "timestamp": "0x10",
  "miner": "0x00000000000000000000000000000000000000aa",
  "alloc": [
    {"owner": "0x00000000000000000000000000000000000000bb", "value": "1000", "memo": "0x6869"}
  ]
}`), 0o600))

	gen, err := LoadGenesis(path)
	require.NoError(t, err)
	require.Equal(t, uint64(16), uint64(gen.Timestamp))
	require.Len(t, gen.Alloc, 1)
	require.Equal(t, uint64(1000), uint64(gen.Alloc[0].Value))
	require.Equal(t, []byte("hi"), []byte(gen.Alloc[0].Memo))

	block := gen.ToBlock(consensus.DefaultParameters())
	require.Equal(t, uint32(1), block.Sequence())
	require.Equal(t, common.Hash{}, block.Header.PrevHash)
	require.Equal(t, uint64(1000), block.Transactions[0].Notes()[0].Value)
}
