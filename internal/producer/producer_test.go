package producer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/stretchr/testify/require"

	"github.com/insoblok/inso-node/internal/chain"
	"github.com/insoblok/inso-node/internal/config"
	"github.com/insoblok/inso-node/internal/consensus"
	"github.com/insoblok/inso-node/internal/fees"
	"github.com/insoblok/inso-node/internal/mempool"
	"github.com/insoblok/inso-node/internal/metrics"
	"github.com/insoblok/inso-node/pkg/types"
)

type testNode struct {
	chain    *chain.Chain
	pool     *mempool.MemPool
	producer *Producer
	cfg      *config.ProducerConfig
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	ctx := context.Background()

	cons := consensus.New(consensus.Parameters{MaxBlockSizeBytes: 4096, GenesisSequence: 1})
	ch, err := chain.New(rawdb.NewMemoryDatabase(), cons, chain.DefaultGenesis())
	require.NoError(t, err)

	pool := mempool.New(&config.MempoolConfig{
		MaxSizeBytes:             1 << 20,
		RecentlyEvictedCacheSize: 100,
	}, ch, cons, fees.NewEstimator(&config.FeesConfig{Blocks: 5, MinFeeRate: 1}))
	require.NoError(t, pool.Start(ctx))
	t.Cleanup(pool.Stop)

	cfg := config.DefaultConfig().Producer
	cfg.MinBlockBytes = 1024
	cfg.MaxBlockBytes = 8192

	p := New(&cfg, ch, pool, cons)
	p.SetMetrics(metrics.New())
	return &testNode{chain: ch, pool: pool, producer: p, cfg: &cfg}
}

var testNullifierSeq int64

func newTx(fee uint64, expiration uint32, sigLen int) *types.Transaction {
	testNullifierSeq++
	return types.NewTransaction(types.TxData{
		Fee:        fee,
		Expiration: expiration,
		Spends:     []types.Spend{{Nullifier: common.BigToHash(big.NewInt(testNullifierSeq))}},
		Signature:  make([]byte, sigLen),
	})
}

func TestProduceBlockOrdersByFeeRate(t *testing.T) {
	n := newTestNode(t)

	var total uint64
	for _, fee := range []uint64{300, 5000, 1200, 80, 99_000} {
		tx := newTx(fee, 0, 64)
		require.NoError(t, n.pool.Accept(tx))
		total += fee
	}

	block, err := n.producer.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.Len(t, block.Transactions, 6)

	reward := block.Transactions[0]
	require.True(t, reward.IsMinersFee())
	require.Equal(t, n.cfg.Reward+total, reward.Notes()[0].Value)

	for i := 2; i < len(block.Transactions); i++ {
		require.GreaterOrEqual(t,
			fees.FeeRate(block.Transactions[i-1]),
			fees.FeeRate(block.Transactions[i]))
	}

	require.Zero(t, n.pool.Count())
	require.Equal(t, block.Hash(), n.chain.Head().Hash())
	require.Equal(t, block.Hash(), n.pool.Head().Hash())
}

func TestProduceBlockRespectsTarget(t *testing.T) {
	n := newTestNode(t)
	target := n.producer.Sizer().CurrentTarget()

	for i := 0; i < 20; i++ {
		require.NoError(t, n.pool.Accept(newTx(uint64(1000+i), 0, 500)))
	}

	block, err := n.producer.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.LessOrEqual(t, block.Size(), target)
	require.Greater(t, len(block.Transactions), 1)
	require.Positive(t, n.pool.Count(), "the backlog does not fit one block")

	// A full template pushes the target up.
	require.Greater(t, n.producer.Sizer().UtilizationEMA(), n.cfg.TargetUtilization)
}

func TestProduceBlockSkipsExpiring(t *testing.T) {
	n := newTestNode(t)
	next := n.chain.Head().Sequence + 1

	expiring := newTx(10_000, next, 64)
	keeper := newTx(1, 0, 64)
	require.NoError(t, n.pool.Accept(expiring))
	require.NoError(t, n.pool.Accept(keeper))

	block, err := n.producer.ProduceBlock(context.Background())
	require.NoError(t, err)

	var hashes []common.Hash
	for _, tx := range block.Transactions {
		hashes = append(hashes, tx.Hash())
	}
	require.NotContains(t, hashes, expiring.Hash())
	require.Contains(t, hashes, keeper.Hash())
	require.False(t, n.pool.Exists(expiring.Hash()), "expired at the new head")
}

func TestDisconnectReturnsTransactionsToPool(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	parent := n.chain.Head()

	tx := newTx(500, 0, 64)
	require.NoError(t, n.pool.Accept(tx))

	block, err := n.producer.ProduceBlock(ctx)
	require.NoError(t, err)
	require.False(t, n.pool.Exists(tx.Hash()))

	removed, err := n.chain.DisconnectBlock(ctx)
	require.NoError(t, err)
	require.Equal(t, block.Hash(), removed.Hash())

	require.True(t, n.pool.Exists(tx.Hash()))
	require.False(t, n.pool.Exists(block.Transactions[0].Hash()), "miner's fee is not re-added")
	require.Equal(t, parent.Hash(), n.pool.Head().Hash())
}

func TestEmptyBlocksAdvanceChain(t *testing.T) {
	n := newTestNode(t)
	for i := 0; i < 3; i++ {
		_, err := n.producer.ProduceBlock(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, uint32(4), n.chain.Head().Sequence)
}

func TestStartStop(t *testing.T) {
	n := newTestNode(t)
	n.cfg.BlockTime = 10 * time.Millisecond
	n.producer = New(n.cfg, n.chain, n.pool, consensus.New(consensus.Parameters{MaxBlockSizeBytes: 4096, GenesisSequence: 1}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		n.producer.Start(context.Background())
	}()

	require.Eventually(t, func() bool { return n.chain.Head().Sequence >= 3 }, 5*time.Second, 5*time.Millisecond)
	n.producer.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer loop did not stop")
	}
}
