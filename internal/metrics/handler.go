package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the stats endpoint.
type Summary struct {
	HTTP        httpSummary        `json:"http"`
	Aggregation aggregationSummary `json:"aggregation"`
	Lookups     lookupSummary      `json:"lookups"`
	RateLimit   rateLimitInfo      `json:"rateLimit"`
	DB          dbInfo             `json:"db"`
	Server      serverInfo         `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type aggregationSummary struct {
	DailyRuns    float64 `json:"dailyRuns"`
	EstimateRuns float64 `json:"estimateRuns"`
	Failures     float64 `json:"failures"`
	NoData       float64 `json:"noData"`
	RowsWritten  float64 `json:"rowsWritten"`
	P95Duration  float64 `json:"p95Duration"`
}

type lookupSummary struct {
	Total      float64 `json:"total"`
	Errors     float64 `json:"errors"`
	Retries    float64 `json:"retries"`
	P50Latency float64 `json:"p50Latency"`
	P95Latency float64 `json:"p95Latency"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
	MaxConns      float64 `json:"maxConns"`
	EmptyAcquires float64 `json:"emptyAcquires"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summarize()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize() (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	httpDur := fam["usagedash_http_request_duration_seconds"]
	runs := fam["usagedash_aggregation_runs_total"]
	lookups := fam["usagedash_usage_lookups_total"]
	lookupDur := fam["usagedash_usage_lookup_duration_seconds"]
	start := gaugeValue(fam["usagedash_server_start_time_seconds"])

	return &Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["usagedash_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["usagedash_http_requests_total"]),
			P50Latency:    histogramPercentile(httpDur, 0.50),
			P95Latency:    histogramPercentile(httpDur, 0.95),
			P99Latency:    histogramPercentile(httpDur, 0.99),
		},
		Aggregation: aggregationSummary{
			DailyRuns:    sumCounterWithLabel(runs, "mode", "daily"),
			EstimateRuns: sumCounterWithLabel(runs, "mode", "estimate"),
			Failures:     sumCounterWithLabel(runs, "status", "error"),
			NoData:       sumCounterWithLabel(runs, "status", "no_data"),
			RowsWritten:  sumCounter(fam["usagedash_rows_written_total"]),
			P95Duration:  histogramPercentile(fam["usagedash_aggregation_run_duration_seconds"], 0.95),
		},
		Lookups: lookupSummary{
			Total:      sumCounter(lookups),
			Errors:     sumCounterWithLabel(lookups, "status", "error"),
			Retries:    sumCounter(fam["usagedash_usage_lookup_retries_total"]),
			P50Latency: histogramPercentile(lookupDur, 0.50),
			P95Latency: histogramPercentile(lookupDur, 0.95),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["usagedash_ratelimit_rejections_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["usagedash_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["usagedash_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["usagedash_db_pool_acquired_conns"]),
			MaxConns:      gaugeValue(fam["usagedash_db_pool_max_conns"]),
			EmptyAcquires: sumCounter(fam["usagedash_db_pool_empty_acquires_total"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func sumCounterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if hasLabel(m, labelName, labelValue) && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// computeErrorRate is the share of requests answered with a 5xx status.
func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '5' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// Past the last finite bucket.
	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
