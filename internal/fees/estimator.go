package fees

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-node/internal/config"
	"github.com/insoblok/inso-node/pkg/types"
)

// ErrUnknownPriority is returned for a priority other than slow, average or fast.
var ErrUnknownPriority = errors.New("unknown fee priority")

// Priority selects how aggressively a fee rate estimate should compete.
type Priority string

const (
	PrioritySlow    Priority = "slow"
	PriorityAverage Priority = "average"
	PriorityFast    Priority = "fast"
)

// percentile of the sampled fee rates returned for each priority
var priorityPercentiles = map[Priority]int{
	PrioritySlow:    10,
	PriorityAverage: 20,
	PriorityFast:    30,
}

// Pool is the view of the mempool the estimator needs.
type Pool interface {
	Exists(hash common.Hash) bool
}

// Chain is the view of the blockchain the estimator needs.
type Chain interface {
	Head() *types.Header
	GetBlock(ctx context.Context, hash common.Hash) (*types.Block, error)
}

// FeeRate returns the fee of tx per kilobyte of its encoding. The result is
// never below 1.
func FeeRate(tx *types.Transaction) uint64 {
	size := tx.Size()
	if size == 0 {
		return 1
	}
	hi, lo := bits.Mul64(tx.Fee(), 1000)
	if hi >= size {
		return math.MaxUint64
	}
	rate, _ := bits.Div64(hi, lo, size)
	if rate == 0 {
		return 1
	}
	return rate
}

// Estimator suggests fee rates from the transactions of recently connected
// blocks. Only transactions that passed through the local pool are sampled,
// so miners' own zero-fee transactions do not drag estimates down.
type Estimator struct {
	mu sync.RWMutex

	blocks  int
	minRate uint64

	// samples are ordered oldest first; at most blocks of them are kept
	samples []blockSample

	logger log.Logger
}

type blockSample struct {
	hash     common.Hash
	sequence uint32
	rates    []uint64 // sorted ascending
}

// NewEstimator creates an estimator over the last cfg.Blocks blocks.
func NewEstimator(cfg *config.FeesConfig) *Estimator {
	blocks := cfg.Blocks
	if blocks < 1 {
		blocks = 1
	}
	minRate := cfg.MinFeeRate
	if minRate == 0 {
		minRate = 1
	}
	return &Estimator{
		blocks:  blocks,
		minRate: minRate,
		logger:  log.New("module", "fees"),
	}
}

// Init loads samples by walking back from the chain head. Every
// non-miner's-fee transaction is sampled since there is no pool history yet.
func (e *Estimator) Init(ctx context.Context, chain Chain) error {
	head := chain.Head()
	if head == nil {
		return nil
	}

	var samples []blockSample
	hash := head.Hash()
	for len(samples) < e.blocks {
		block, err := chain.GetBlock(ctx, hash)
		if err != nil {
			return fmt.Errorf("load block %s: %w", hash.Hex(), err)
		}
		if block == nil {
			break
		}
		samples = append(samples, sampleBlock(block, nil))
		if block.Header.PrevHash == (common.Hash{}) {
			break
		}
		hash = block.Header.PrevHash
	}
	slices.Reverse(samples)

	e.mu.Lock()
	e.samples = samples
	e.mu.Unlock()

	e.logger.Info("Fee estimator initialized", "blocks", len(samples), "head", head.Sequence)
	return nil
}

// OnConnectBlock samples block. It must run before the pool purges the
// block's transactions so that pool membership can still be checked.
func (e *Estimator) OnConnectBlock(block *types.Block, pool Pool) {
	sample := sampleBlock(block, pool)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.samples = append(e.samples, sample)
	if over := len(e.samples) - e.blocks; over > 0 {
		e.samples = slices.Delete(e.samples, 0, over)
	}
	e.logger.Trace("Sampled block fee rates", "sequence", sample.sequence, "txs", len(sample.rates))
}

// OnDisconnectBlock drops the sample taken for block, if any.
func (e *Estimator) OnDisconnectBlock(block *types.Block) {
	hash := block.Hash()

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := len(e.samples) - 1; i >= 0; i-- {
		if e.samples[i].hash == hash {
			e.samples = slices.Delete(e.samples, i, i+1)
			return
		}
	}
}

// EstimateFeeRate returns the suggested fee rate per kilobyte for priority.
func (e *Estimator) EstimateFeeRate(priority Priority) (uint64, error) {
	pct, ok := priorityPercentiles[priority]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPriority, priority)
	}

	e.mu.RLock()
	var rates []uint64
	for _, s := range e.samples {
		rates = append(rates, s.rates...)
	}
	e.mu.RUnlock()

	if len(rates) == 0 {
		return e.minRate, nil
	}
	slices.Sort(rates)

	rate := rates[len(rates)*pct/100]
	if rate < e.minRate {
		rate = e.minRate
	}
	return rate, nil
}

// Stats returns estimator statistics.
func (e *Estimator) Stats() Stats {
	e.mu.RLock()
	stats := Stats{
		Blocks:     len(e.samples),
		Window:     e.blocks,
		MinFeeRate: e.minRate,
	}
	for _, s := range e.samples {
		stats.Samples += len(s.rates)
	}
	e.mu.RUnlock()

	stats.Slow, _ = e.EstimateFeeRate(PrioritySlow)
	stats.Average, _ = e.EstimateFeeRate(PriorityAverage)
	stats.Fast, _ = e.EstimateFeeRate(PriorityFast)
	return stats
}

// Stats contains fee estimator metrics.
type Stats struct {
	Blocks     int    `json:"blocks"`
	Window     int    `json:"window"`
	Samples    int    `json:"samples"`
	MinFeeRate uint64 `json:"minFeeRate"`
	Slow       uint64 `json:"slow"`
	Average    uint64 `json:"average"`
	Fast       uint64 `json:"fast"`
}

func sampleBlock(block *types.Block, pool Pool) blockSample {
	sample := blockSample{
		hash:     block.Hash(),
		sequence: block.Sequence(),
	}
	for _, tx := range block.Transactions {
		if tx.IsMinersFee() {
			continue
		}
		if pool != nil && !pool.Exists(tx.Hash()) {
			continue
		}
		sample.rates = append(sample.rates, FeeRate(tx))
	}
	slices.Sort(sample.rates)
	return sample
}
