package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	gethmetrics "github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/prometheus"
)

var enableOnce sync.Once

// Metrics holds the node's instruments, registered on a private registry and
// exported in Prometheus text format.
type Metrics struct {
	registry gethmetrics.Registry

	// Chain
	HeadSequence       gethmetrics.Gauge
	BlocksConnected    gethmetrics.Counter
	BlocksDisconnected gethmetrics.Counter

	// Mempool
	MempoolSize            gethmetrics.Gauge
	MempoolBytes           gethmetrics.Gauge
	MempoolEvicted         gethmetrics.Counter
	MempoolExpired         gethmetrics.Counter
	MempoolRejected        gethmetrics.Counter
	MempoolRecentlyEvicted gethmetrics.Gauge

	// Block production
	BlocksProduced  gethmetrics.Counter
	TemplateTxs     gethmetrics.Gauge
	TemplateBytes   gethmetrics.Gauge
	BlockSizeTarget gethmetrics.Gauge

	// RPC
	RPCRequests gethmetrics.Counter
	RPCErrors   gethmetrics.Counter

	logger log.Logger
}

// New creates a Metrics instance with every instrument registered.
func New() *Metrics {
	// go-ethereum hands out no-op instruments unless collection is on.
	enableOnce.Do(func() { gethmetrics.Enabled = true })

	r := gethmetrics.NewRegistry()
	return &Metrics{
		registry: r,

		HeadSequence:       gethmetrics.NewRegisteredGauge("chain/head", r),
		BlocksConnected:    gethmetrics.NewRegisteredCounter("chain/connected", r),
		BlocksDisconnected: gethmetrics.NewRegisteredCounter("chain/disconnected", r),

		MempoolSize:            gethmetrics.NewRegisteredGauge("mempool/size", r),
		MempoolBytes:           gethmetrics.NewRegisteredGauge("mempool/bytes", r),
		MempoolEvicted:         gethmetrics.NewRegisteredCounter("mempool/evicted", r),
		MempoolExpired:         gethmetrics.NewRegisteredCounter("mempool/expired", r),
		MempoolRejected:        gethmetrics.NewRegisteredCounter("mempool/rejected", r),
		MempoolRecentlyEvicted: gethmetrics.NewRegisteredGauge("mempool/recentlyevicted", r),

		BlocksProduced:  gethmetrics.NewRegisteredCounter("producer/blocks", r),
		TemplateTxs:     gethmetrics.NewRegisteredGauge("producer/template/txs", r),
		TemplateBytes:   gethmetrics.NewRegisteredGauge("producer/template/bytes", r),
		BlockSizeTarget: gethmetrics.NewRegisteredGauge("producer/target/bytes", r),

		RPCRequests: gethmetrics.NewRegisteredCounter("rpc/requests", r),
		RPCErrors:   gethmetrics.NewRegisteredCounter("rpc/errors", r),

		logger: log.New("module", "metrics"),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() gethmetrics.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving /metrics and /health.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prometheus.Handler(m.registry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"inso-node","head":%d,"timestamp":%d}`,
			m.HeadSequence.Snapshot().Value(), time.Now().Unix())
	})
	return mux
}

// Serve starts the metrics HTTP endpoint in the background.
func (m *Metrics) Serve(addr string) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      m.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Metrics server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server error", "err", err)
		}
	}()
	return server
}
