package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsExport(t *testing.T) {
	m := New()
	m.MempoolSize.Update(3)
	m.MempoolBytes.Update(1500)
	m.MempoolEvicted.Inc(2)
	m.HeadSequence.Update(42)

	if got := m.MempoolSize.Snapshot().Value(); got != 3 {
		t.Fatalf("MempoolSize = %d, want 3", got)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	for _, want := range []string{"mempool_size 3", "mempool_bytes 1500", "mempool_evicted 2"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"head":42`) {
		t.Errorf("/health = %s, want head 42", body)
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RPCRequests.Inc(1)
	if got := b.RPCRequests.Snapshot().Count(); got != 0 {
		t.Errorf("second registry RPCRequests = %d, want 0", got)
	}
}
