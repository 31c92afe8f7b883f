package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/insoblok/inso-node/internal/consensus"
)

// Config is the top-level node configuration.
type Config struct {
	Node      NodeConfig           `yaml:"node"`
	Mempool   MempoolConfig        `yaml:"mempool"`
	Consensus consensus.Parameters `yaml:"consensus"`
	Fees      FeesConfig           `yaml:"fees"`
	Producer  ProducerConfig       `yaml:"producer"`
	RPC       RPCConfig            `yaml:"rpc"`
	Logging   LoggingConfig        `yaml:"logging"`
	Metrics   MetricsConfig        `yaml:"metrics"`
}

// NodeConfig holds storage and chain bootstrap settings.
type NodeConfig struct {
	DataDir     string `yaml:"datadir"`      // empty keeps the chain in memory
	GenesisPath string `yaml:"genesis_path"` // empty uses the built-in genesis
}

// MempoolConfig holds the transaction pool limits.
type MempoolConfig struct {
	MaxSizeBytes             uint64 `yaml:"max_size_bytes"`
	RecentlyEvictedCacheSize int    `yaml:"recently_evicted_cache_size"`
}

// FeesConfig holds fee estimator settings.
type FeesConfig struct {
	Blocks     int    `yaml:"blocks"`       // number of recent blocks sampled
	MinFeeRate uint64 `yaml:"min_fee_rate"` // per kilobyte, returned when no samples exist
}

// ProducerConfig holds the devnet block producer settings.
type ProducerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BlockTime         time.Duration `yaml:"block_time"`
	Miner             string        `yaml:"miner"`
	Reward            uint64        `yaml:"reward"`
	MinBlockBytes     uint64        `yaml:"min_block_bytes"`
	MaxBlockBytes     uint64        `yaml:"max_block_bytes"`
	Alpha             float64       `yaml:"alpha"`
	TargetUtilization float64       `yaml:"target_utilization"`
	AdjustStepBps     uint64        `yaml:"adjust_step_bps"`
}

// RPCConfig holds the JSON-RPC listener addresses.
type RPCConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	WSAddr     string `yaml:"ws_addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "terminal" or "json"
	File   string `yaml:"file"`   // optional rotating log file
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.Mempool.MaxSizeBytes == 0 {
		return errors.New("mempool.max_size_bytes must be positive")
	}
	if c.Mempool.RecentlyEvictedCacheSize <= 0 {
		return errors.New("mempool.recently_evicted_cache_size must be positive")
	}
	if c.Consensus.MaxBlockSizeBytes == 0 {
		return errors.New("consensus.max_block_size_bytes must be positive")
	}
	if c.Fees.Blocks <= 0 {
		return errors.New("fees.blocks must be positive")
	}
	if c.Producer.Enabled {
		if c.Producer.BlockTime <= 0 {
			return errors.New("producer.block_time must be positive")
		}
		if c.Producer.MinBlockBytes > c.Producer.MaxBlockBytes {
			return fmt.Errorf("producer.min_block_bytes %d exceeds max_block_bytes %d",
				c.Producer.MinBlockBytes, c.Producer.MaxBlockBytes)
		}
	}
	return nil
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir: "./data",
		},
		Mempool: MempoolConfig{
			MaxSizeBytes:             60_000_000,
			RecentlyEvictedCacheSize: 60_000,
		},
		Consensus: consensus.DefaultParameters(),
		Fees: FeesConfig{
			Blocks:     10,
			MinFeeRate: 1,
		},
		Producer: ProducerConfig{
			Enabled:           false,
			BlockTime:         15 * time.Second,
			Miner:             "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			Reward:            20_00000000,
			MinBlockBytes:     64 * 1024,
			MaxBlockBytes:     512 * 1024,
			Alpha:             0.2,
			TargetUtilization: 0.5,
			AdjustStepBps:     500,
		},
		RPC: RPCConfig{
			ListenAddr: "127.0.0.1:8020",
			WSAddr:     "127.0.0.1:8021",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "terminal",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:6060",
		},
	}
}
