package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	m.RecordFetch(10, time.Second, "")
	m.RecordCache(true)
	m.RecordRepairs(3)
	m.RecordEpoch()
	m.RecordSessionEnd("completed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil metrics handler must 404, got %d", rec.Code)
	}
}

func TestCountersMove(t *testing.T) {
	m := NewMetrics("test")
	m.RecordFetch(25, 100*time.Millisecond, "")
	m.RecordFetch(0, 50*time.Millisecond, "rate_limited")
	m.RecordCache(true)
	m.RecordCache(false)
	m.RecordSessionEnd("completed")

	if got := testutil.ToFloat64(m.BarsFetched); got != 25 {
		t.Errorf("bars fetched = %v", got)
	}
	if got := testutil.ToFloat64(m.FetchErrors.WithLabelValues("rate_limited")); got != 1 {
		t.Errorf("fetch errors = %v", got)
	}
	if got := testutil.ToFloat64(m.FrameCacheHits); got != 1 {
		t.Errorf("cache hits = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("handler status %d", rec.Code)
	}
}
