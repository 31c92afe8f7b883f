package producer

import (
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-node/internal/config"
)

// AdaptiveBlockSizer adjusts the byte target of block templates to demand.
// When templates keep filling up, the target grows toward the ceiling; when
// they stay mostly empty, it shrinks toward the floor. The ceiling never
// exceeds the consensus block size limit.
type AdaptiveBlockSizer struct {
	mu sync.RWMutex

	currentTarget uint64
	minTarget     uint64
	maxTarget     uint64

	// EMA of template utilization (0-1)
	utilizationEMA float64

	// Smoothing factor for EMA (0-1, higher = more reactive)
	alpha float64

	// Target utilization (expand above, shrink below)
	targetUtilization float64

	// Step size for adjustments (basis points of range)
	adjustStepBps uint64

	logger log.Logger
}

// NewAdaptiveBlockSizer creates a sizer bounded by cfg and by maxBlockSizeBytes.
func NewAdaptiveBlockSizer(cfg *config.ProducerConfig, maxBlockSizeBytes uint64) *AdaptiveBlockSizer {
	maxTarget := min(cfg.MaxBlockBytes, maxBlockSizeBytes)
	minTarget := min(cfg.MinBlockBytes, maxTarget)

	return &AdaptiveBlockSizer{
		currentTarget:     minTarget + (maxTarget-minTarget)/2,
		minTarget:         minTarget,
		maxTarget:         maxTarget,
		utilizationEMA:    cfg.TargetUtilization,
		alpha:             cfg.Alpha,
		targetUtilization: cfg.TargetUtilization,
		adjustStepBps:     cfg.AdjustStepBps,
		logger:            log.New("module", "adaptive-block"),
	}
}

// AdjustAfterBlock folds the utilization of the last template into the EMA
// and moves the target one step if the EMA left the dead band.
func (a *AdaptiveBlockSizer) AdjustAfterBlock(usedBytes, targetBytes uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if targetBytes == 0 {
		return
	}

	utilization := math.Min(float64(usedBytes)/float64(targetBytes), 1)
	a.utilizationEMA = a.alpha*utilization + (1-a.alpha)*a.utilizationEMA

	step := (a.maxTarget - a.minTarget) * a.adjustStepBps / 10000

	if a.utilizationEMA > a.targetUtilization+0.1 {
		a.currentTarget = min(a.currentTarget+step, a.maxTarget)
		a.logger.Debug("Block target expanded",
			"target", a.currentTarget,
			"utilization", math.Round(a.utilizationEMA*100)/100,
		)
	} else if a.utilizationEMA < a.targetUtilization-0.1 {
		if a.currentTarget-a.minTarget < step {
			a.currentTarget = a.minTarget
		} else {
			a.currentTarget -= step
		}
		a.logger.Debug("Block target shrunk",
			"target", a.currentTarget,
			"utilization", math.Round(a.utilizationEMA*100)/100,
		)
	}
}

// CurrentTarget returns the current template byte target.
func (a *AdaptiveBlockSizer) CurrentTarget() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentTarget
}

// UtilizationEMA returns the current EMA of template utilization.
func (a *AdaptiveBlockSizer) UtilizationEMA() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.utilizationEMA
}

// Stats returns current adaptive block sizing stats.
func (a *AdaptiveBlockSizer) Stats() (target uint64, utilization float64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentTarget, a.utilizationEMA
}
