package producer

import (
	"math"
	"testing"

	"github.com/insoblok/inso-node/internal/config"
)

func testSizerConfig() *config.ProducerConfig {
	cfg := config.DefaultConfig().Producer
	return &cfg
}

func TestAdaptiveBlockSizer_ExpandOnHighUtil(t *testing.T) {
	sizer := NewAdaptiveBlockSizer(testSizerConfig(), math.MaxUint64)
	initial := sizer.CurrentTarget()

	// Simulate templates that fill 90% of the target
	for i := 0; i < 20; i++ {
		target := sizer.CurrentTarget()
		sizer.AdjustAfterBlock(target*9/10, target)
	}

	if sizer.CurrentTarget() <= initial {
		t.Errorf("target should expand: got %d, initial was %d", sizer.CurrentTarget(), initial)
	}
}

func TestAdaptiveBlockSizer_ShrinkOnLowUtil(t *testing.T) {
	sizer := NewAdaptiveBlockSizer(testSizerConfig(), math.MaxUint64)
	initial := sizer.CurrentTarget()

	// Simulate templates that fill 10% of the target
	for i := 0; i < 20; i++ {
		target := sizer.CurrentTarget()
		sizer.AdjustAfterBlock(target/10, target)
	}

	if sizer.CurrentTarget() >= initial {
		t.Errorf("target should shrink: got %d, initial was %d", sizer.CurrentTarget(), initial)
	}
}

func TestAdaptiveBlockSizer_BoundsRespected(t *testing.T) {
	cfg := testSizerConfig()
	sizer := NewAdaptiveBlockSizer(cfg, math.MaxUint64)

	for i := 0; i < 100; i++ {
		sizer.AdjustAfterBlock(sizer.CurrentTarget(), sizer.CurrentTarget())
	}
	if got := sizer.CurrentTarget(); got != cfg.MaxBlockBytes {
		t.Errorf("CurrentTarget() = %d, want ceiling %d", got, cfg.MaxBlockBytes)
	}

	for i := 0; i < 100; i++ {
		sizer.AdjustAfterBlock(0, sizer.CurrentTarget())
	}
	if got := sizer.CurrentTarget(); got != cfg.MinBlockBytes {
		t.Errorf("CurrentTarget() = %d, want floor %d", got, cfg.MinBlockBytes)
	}
}

func TestAdaptiveBlockSizer_ConsensusCeiling(t *testing.T) {
	cfg := testSizerConfig()
	cfg.MaxBlockBytes = 1 << 30

	const limit = 100_000
	sizer := NewAdaptiveBlockSizer(cfg, limit)
	for i := 0; i < 200; i++ {
		sizer.AdjustAfterBlock(sizer.CurrentTarget(), sizer.CurrentTarget())
	}
	if got := sizer.CurrentTarget(); got > limit {
		t.Errorf("CurrentTarget() = %d exceeds consensus limit %d", got, limit)
	}
}

func TestAdaptiveBlockSizer_StableAtTarget(t *testing.T) {
	sizer := NewAdaptiveBlockSizer(testSizerConfig(), math.MaxUint64)
	initial := sizer.CurrentTarget()

	for i := 0; i < 50; i++ {
		target := sizer.CurrentTarget()
		sizer.AdjustAfterBlock(target/2, target)
	}

	if got := sizer.CurrentTarget(); got != initial {
		t.Errorf("target moved at target utilization: got %d, want %d", got, initial)
	}
	if ema := sizer.UtilizationEMA(); math.Abs(ema-0.5) > 0.01 {
		t.Errorf("UtilizationEMA() = %.3f, want ~0.5", ema)
	}
}
