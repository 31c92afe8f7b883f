package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	flags "github.com/jessevdk/go-flags"

	"github.com/insoblok/inso-node/internal/chain"
	"github.com/insoblok/inso-node/internal/config"
	"github.com/insoblok/inso-node/internal/consensus"
	"github.com/insoblok/inso-node/internal/fees"
	"github.com/insoblok/inso-node/internal/logging"
	"github.com/insoblok/inso-node/internal/mempool"
	"github.com/insoblok/inso-node/internal/metrics"
	"github.com/insoblok/inso-node/internal/producer"
	"github.com/insoblok/inso-node/internal/rpc"
)

var version = "dev"

// options defines the command line options. Values given here override the
// configuration file.
type options struct {
	ConfigFile string `short:"C" long:"config" description:"Path to the YAML configuration file; built-in defaults are used when empty"`
	DataDir    string `short:"b" long:"datadir" description:"Directory for chain data; empty keeps the chain in memory"`
	LogLevel   string `short:"d" long:"loglevel" description:"Logging level {trace, debug, info, warn, error, crit}"`
	LogFile    string `long:"logfile" description:"Also write logs to this file, rotated by size"`
	Produce    bool   `long:"produce" description:"Run the devnet block producer"`
	Version    bool   `short:"V" long:"version" description:"Display version information and exit"`
}

// loadConfig parses the command line and merges it over the configuration file.
func loadConfig() (*config.Config, error) {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	if opts.Version {
		fmt.Println("inso-node", version)
		os.Exit(0)
	}

	cfg := config.DefaultConfig()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigFile); err != nil {
			return nil, err
		}
	}
	if opts.DataDir != "" {
		cfg.Node.DataDir = opts.DataDir
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFile != "" {
		cfg.Logging.File = opts.LogFile
	}
	if opts.Produce {
		cfg.Producer.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := run(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCloser, err := logging.Setup(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	logger := log.New("module", "main")
	logger.Info("InSo node starting", "version", version)

	met := metrics.New()

	db, err := chain.OpenDatabase(cfg.Node.DataDir)
	if err != nil {
		return fmt.Errorf("open chain database: %w", err)
	}

	gen := chain.DefaultGenesis()
	if cfg.Node.GenesisPath != "" {
		if gen, err = chain.LoadGenesis(cfg.Node.GenesisPath); err != nil {
			db.Close()
			return fmt.Errorf("load genesis: %w", err)
		}
	}

	cons := consensus.New(cfg.Consensus)
	bc, err := chain.New(db, cons, gen)
	if err != nil {
		db.Close()
		return fmt.Errorf("initialize chain: %w", err)
	}
	defer bc.Close()
	bc.SetMetrics(met)

	head := bc.Head()
	logger.Info("Chain loaded",
		"dataDir", cfg.Node.DataDir,
		"head", head.Sequence,
		"hash", head.Hash().Hex()[:10],
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	estimator := fees.NewEstimator(&cfg.Fees)
	pool := mempool.New(&cfg.Mempool, bc, cons, estimator)
	pool.SetMetrics(met)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start mempool: %w", err)
	}
	defer pool.Stop()
	logger.Info("Mempool initialized",
		"maxSizeBytes", cfg.Mempool.MaxSizeBytes,
		"recentlyEvictedCacheSize", cfg.Mempool.RecentlyEvictedCacheSize,
	)

	handler := rpc.NewHandler(pool, bc, estimator)
	handler.SetMetrics(met)
	rpcServer := rpc.NewServer(&cfg.RPC, handler, pool, bc)
	if err := rpcServer.Start(ctx); err != nil {
		return fmt.Errorf("start RPC server: %w", err)
	}

	var metricsServer interface{ Shutdown(context.Context) error }
	if cfg.Metrics.Enabled {
		metricsServer = met.Serve(cfg.Metrics.Addr)
	}

	var (
		blockProducer *producer.Producer
		producerDone  = make(chan struct{})
	)
	if cfg.Producer.Enabled {
		blockProducer = producer.New(&cfg.Producer, bc, pool, cons)
		blockProducer.SetMetrics(met)
		go func() {
			defer close(producerDone)
			blockProducer.Start(ctx)
		}()
	}

	logger.Info("InSo node is running",
		"rpc", cfg.RPC.ListenAddr,
		"ws", cfg.RPC.WSAddr,
		"metrics", cfg.Metrics.Enabled,
		"producer", cfg.Producer.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", "signal", sig)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if blockProducer != nil {
		blockProducer.Stop()
		<-producerDone
	}
	if err := rpcServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error during RPC shutdown", "err", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during metrics shutdown", "err", err)
		}
	}

	logger.Info("InSo node stopped gracefully")
	return nil
}
