package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBPoolStats is a snapshot of connection pool state. It mirrors the parts of
// pgxpool.Stat that matter while lookups fan out and rows are upserted.
type DBPoolStats struct {
	Total    int32
	Idle     int32
	Acquired int32
	Max      int32
	// EmptyAcquires counts acquires that had to wait for a free connection.
	EmptyAcquires int64
}

// DBPoolStatFunc returns pool statistics without importing pgxpool.
type DBPoolStatFunc func() DBPoolStats

type dbPoolCollector struct {
	statFunc DBPoolStatFunc

	totalDesc         *prometheus.Desc
	idleDesc          *prometheus.Desc
	acquiredDesc      *prometheus.Desc
	maxDesc           *prometheus.Desc
	emptyAcquiresDesc *prometheus.Desc
}

// NewDBPoolCollector exposes pool gauges and the waited-acquire counter,
// reading statFunc on every scrape.
func NewDBPoolCollector(statFunc DBPoolStatFunc) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("usagedash_db_pool_"+name, help, nil, nil)
	}
	return &dbPoolCollector{
		statFunc:          statFunc,
		totalDesc:         desc("total_conns", "Connections currently open in the pool."),
		idleDesc:          desc("idle_conns", "Idle connections in the pool."),
		acquiredDesc:      desc("acquired_conns", "Connections checked out by queries."),
		maxDesc:           desc("max_conns", "Configured pool size."),
		emptyAcquiresDesc: desc("empty_acquires_total", "Acquires that waited because the pool was exhausted."),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalDesc
	ch <- c.idleDesc
	ch <- c.acquiredDesc
	ch <- c.maxDesc
	ch <- c.emptyAcquiresDesc
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statFunc()
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(s.Acquired))
	ch <- prometheus.MustNewConstMetric(c.maxDesc, prometheus.GaugeValue, float64(s.Max))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquiresDesc, prometheus.CounterValue, float64(s.EmptyAcquires))
}
