package producer

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-node/internal/chain"
	"github.com/insoblok/inso-node/internal/config"
	"github.com/insoblok/inso-node/internal/consensus"
	"github.com/insoblok/inso-node/internal/mempool"
	"github.com/insoblok/inso-node/internal/metrics"
	"github.com/insoblok/inso-node/pkg/types"
)

// headerReserve covers the growth of the block's RLP list prefixes as
// transactions are added to a template.
const headerReserve = 16

// Producer is the devnet block production engine. It periodically fills a
// template from the mempool in fee rate order and connects it to the chain.
type Producer struct {
	mu        sync.Mutex
	cfg       *config.ProducerConfig
	chain     *chain.Chain
	pool      *mempool.MemPool
	consensus *consensus.Consensus
	sizer     *AdaptiveBlockSizer
	miner     common.Address
	metrics   *metrics.Metrics
	logger    log.Logger
	cancel    context.CancelFunc
}

// New creates a new block producer.
func New(cfg *config.ProducerConfig, ch *chain.Chain, pool *mempool.MemPool, cons *consensus.Consensus) *Producer {
	return &Producer{
		cfg:       cfg,
		chain:     ch,
		pool:      pool,
		consensus: cons,
		sizer:     NewAdaptiveBlockSizer(cfg, cons.MaxBlockSizeBytes()),
		miner:     common.HexToAddress(cfg.Miner),
		logger:    log.New("module", "producer"),
	}
}

// SetMetrics attaches metrics instruments to the producer.
func (p *Producer) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Sizer returns the adaptive block sizer.
func (p *Producer) Sizer() *AdaptiveBlockSizer {
	return p.sizer
}

// Start begins the block production loop. Runs until the context is cancelled.
func (p *Producer) Start(ctx context.Context) {
	p.mu.Lock()
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()
	ticker := time.NewTicker(p.cfg.BlockTime)
	defer ticker.Stop()

	p.logger.Info("Block producer started",
		"blockTime", p.cfg.BlockTime,
		"miner", p.miner,
		"target", p.sizer.CurrentTarget(),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Block producer stopped")
			return
		case <-ticker.C:
			if _, err := p.ProduceBlock(ctx); err != nil {
				p.logger.Error("Block production failed", "err", err)
			}
		}
	}
}

// Stop halts the block production loop.
func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// ProduceBlock builds a block on top of the current head and connects it.
// The miner's fee transaction comes first and collects the reward plus the
// fees of the included transactions.
func (p *Producer) ProduceBlock(ctx context.Context) (*types.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	head := p.chain.Head()
	header := &types.Header{
		Sequence:  head.Sequence + 1,
		PrevHash:  head.Hash(),
		Timestamp: max(uint64(time.Now().Unix()), head.Timestamp+1),
		Miner:     p.miner,
	}

	target := p.sizer.CurrentTarget()
	overhead := types.NewBlock(header, []*types.Transaction{p.minersFee(header.Sequence, math.MaxUint64)}).Size() + headerReserve
	var budget uint64
	if target > overhead {
		budget = target - overhead
	}

	var (
		selected []*types.Transaction
		used     uint64
		fees     uint64
	)
	for it := p.pool.OrderedTransactions(); it.Next(); {
		tx := it.Transaction()
		if p.consensus.IsExpiredSequence(tx.Expiration(), header.Sequence) {
			continue
		}
		if used+tx.Size() > budget {
			continue
		}
		selected = append(selected, tx)
		used += tx.Size()
		fees = saturatingAdd(fees, tx.Fee())
	}

	txs := make([]*types.Transaction, 0, len(selected)+1)
	txs = append(txs, p.minersFee(header.Sequence, saturatingAdd(p.cfg.Reward, fees)))
	txs = append(txs, selected...)
	block := types.NewBlock(header, txs)

	if err := p.chain.ConnectBlock(ctx, block); err != nil {
		return nil, fmt.Errorf("connect block %d: %w", header.Sequence, err)
	}
	p.sizer.AdjustAfterBlock(used, budget)

	if p.metrics != nil {
		p.metrics.BlocksProduced.Inc(1)
		p.metrics.TemplateTxs.Update(int64(len(selected)))
		p.metrics.TemplateBytes.Update(int64(used))
		p.metrics.BlockSizeTarget.Update(int64(p.sizer.CurrentTarget()))
	}

	if len(selected) > 0 {
		p.logger.Info("Block produced",
			"sequence", header.Sequence,
			"txCount", len(selected),
			"bytes", used,
			"fees", fees,
			"hash", block.Hash().Hex()[:10],
		)
	} else {
		p.logger.Debug("Empty block produced", "sequence", header.Sequence)
	}
	return block, nil
}

// minersFee creates the reward transaction for the block at sequence. The
// sequence in the memo keeps reward hashes unique across blocks.
func (p *Producer) minersFee(sequence uint32, value uint64) *types.Transaction {
	return types.NewTransaction(types.TxData{
		Notes: []types.Note{{
			Owner: p.miner,
			Value: value,
			Memo:  binary.BigEndian.AppendUint32(nil, sequence),
		}},
	})
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
