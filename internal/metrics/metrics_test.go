package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSyncMetrics(t *testing.T) {
	m := New()

	m.ObserveSymbol("updated", 12)
	m.ObserveSymbol("updated", 3)
	m.ObserveSymbol("error", 0)
	m.ObserveTimeout()
	m.ObserveBatch(1500 * time.Millisecond)
	m.SetRunning(true)

	if got := testutil.ToFloat64(m.symbols.WithLabelValues("updated")); got != 2 {
		t.Errorf("symbols_total{updated} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rows); got != 15 {
		t.Errorf("rows_total = %v, want 15", got)
	}
	if got := testutil.ToFloat64(m.timeouts); got != 1 {
		t.Errorf("timeouts_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.running); got != 1 {
		t.Errorf("running = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "astock_sync_batch_duration_seconds_count 1") {
		t.Errorf("exposition missing batch histogram:\n%s", rec.Body.String())
	}
}

func TestNilSyncMetrics(t *testing.T) {
	var m *SyncMetrics
	m.ObserveSymbol("updated", 1)
	m.ObserveTimeout()
	m.ObserveBatch(time.Second)
	m.SetRunning(true)
	if m.Registry() != nil {
		t.Error("nil SyncMetrics should have nil registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}
