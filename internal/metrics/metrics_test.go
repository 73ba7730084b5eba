package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSummarize(t *testing.T) {
	m := New()

	m.ObserveHTTP("GET", "/daily-tokens", 200, 0.01)
	m.ObserveHTTP("GET", "/monthly-tokens", 200, 0.02)
	m.ObserveHTTP("POST", "/update-tokens", 500, 0.5)
	m.ObserveHTTP("POST", "/update-tokens", 429, 0.001)

	m.ObserveRun("daily", "ok", 2)
	m.ObserveRun("daily", "error", 1)
	m.ObserveRun("estimate", "no_data", 0.1)
	m.AddRowsWritten(3)

	m.ObserveLookup("ok", 0.2)
	m.ObserveLookup("ok", 0.3)
	m.ObserveLookup("error", 1.5)
	m.IncLookupRetry()
	m.IncLookupRetry()

	m.IncRateLimitRejection("/update-tokens")
	m.RegisterDBPoolCollector(func() DBPoolStats {
		return DBPoolStats{Total: 4, Idle: 3, Acquired: 1, Max: 10, EmptyAcquires: 7}
	})

	s, err := m.Summarize()
	if err != nil {
		t.Fatal(err)
	}

	if s.HTTP.TotalRequests != 4 {
		t.Errorf("expected 4 requests, got %v", s.HTTP.TotalRequests)
	}
	if math.Abs(s.HTTP.ErrorRate-0.25) > 1e-9 {
		t.Errorf("expected error rate 0.25 (5xx only), got %v", s.HTTP.ErrorRate)
	}
	if s.Aggregation.DailyRuns != 2 || s.Aggregation.EstimateRuns != 1 {
		t.Errorf("unexpected run counts: %+v", s.Aggregation)
	}
	if s.Aggregation.Failures != 1 || s.Aggregation.NoData != 1 {
		t.Errorf("unexpected run outcomes: %+v", s.Aggregation)
	}
	if s.Aggregation.RowsWritten != 3 {
		t.Errorf("expected 3 rows written, got %v", s.Aggregation.RowsWritten)
	}
	if s.Lookups.Total != 3 || s.Lookups.Errors != 1 || s.Lookups.Retries != 2 {
		t.Errorf("unexpected lookup summary: %+v", s.Lookups)
	}
	if s.Lookups.P95Latency <= 0 {
		t.Errorf("expected a positive p95 lookup latency, got %v", s.Lookups.P95Latency)
	}
	if s.RateLimit.Rejections != 1 {
		t.Errorf("expected 1 rejection, got %v", s.RateLimit.Rejections)
	}
	if s.DB.TotalConns != 4 || s.DB.IdleConns != 3 || s.DB.AcquiredConns != 1 ||
		s.DB.MaxConns != 10 || s.DB.EmptyAcquires != 7 {
		t.Errorf("unexpected db stats: %+v", s.DB)
	}
	if s.Server.StartTime == 0 {
		t.Error("expected server start time to be set")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRun("daily", "ok", 1)

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	var s Summary
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Aggregation.DailyRuns != 1 {
		t.Errorf("expected 1 daily run, got %v", s.Aggregation.DailyRuns)
	}
}

func TestHistogramPercentile_Empty(t *testing.T) {
	if got := histogramPercentile(nil, 0.5); got != 0 {
		t.Errorf("expected 0 for nil family, got %v", got)
	}
}
