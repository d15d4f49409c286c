// Package metrics collects server-level observability the zone database
// itself does not own: query throughput, per-result-code and per-qtype
// counters, the top NXDOMAIN-producing names, and host resource usage.
// Per-database counters (glue cache hits/misses, node count, resign heap
// depth) live in zonedb.Stats instead, next to the data they describe.
package metrics

import (
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// LatencyStat holds the total latency and count for a domain.
type LatencyStat struct {
	TotalLatency time.Duration
	Count        int64
}

// Metrics holds the collected metrics.
type Metrics struct {
	sync.RWMutex
	totalQueries      int64
	startTime         time.Time
	topNXDomains      sync.Map // map[string]int64
	topLatencyDomains sync.Map // map[string]LatencyStat
}

var (
	instance *Metrics
	once     sync.Once

	promQPS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qpdb_server_qps",
		Help: "Queries per second served by the surrounding server.",
	})
	promTotalQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qpdb_server_total_queries",
		Help: "Total number of queries served.",
	})
	promCPUUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qpdb_server_cpu_usage_percent",
		Help: "Current CPU usage percentage of the serving host.",
	})
	promMemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qpdb_server_memory_usage_percent",
		Help: "Current memory usage percentage of the serving host.",
	})
	promGoroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qpdb_server_goroutine_count",
		Help: "Current number of goroutines.",
	})
	promTopNXDomains = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qpdb_server_top_nx_domains",
		Help: "Top queried names that most recently received NXDOMAIN.",
	}, []string{"domain"})
	promTopLatencyDomains = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qpdb_server_top_latency_domains_ms",
		Help: "Top names by average find() latency in milliseconds.",
	}, []string{"domain"})
	promQueryTypes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qpdb_server_query_types_total",
		Help: "Total number of queries by RR type.",
	}, []string{"type"})
	promResultCodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qpdb_server_result_codes_total",
		Help: "Total number of find() results by zonedb.Result.",
	}, []string{"result"})
)

// NewMetrics returns the singleton instance of Metrics.
func NewMetrics() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			startTime: time.Now(),
		}
		go instance.qpsCalculator()
		go instance.systemMetricsCollector()
		go instance.topDomainsProcessor()
	})
	return instance
}

// IncrementQueries increments the total number of queries.
func (m *Metrics) IncrementQueries() {
	m.Lock()
	defer m.Unlock()
	m.totalQueries++
	promTotalQueries.Inc()
}

// qpsCalculator calculates the QPS every second.
func (m *Metrics) qpsCalculator() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastQueryCount int64
	for range ticker.C {
		m.Lock()
		currentQueries := m.totalQueries
		qps := float64(currentQueries - lastQueryCount)
		lastQueryCount = currentQueries
		m.Unlock()
		promQPS.Set(qps)
	}
}

// systemMetricsCollector gathers host resource metrics periodically.
func (m *Metrics) systemMetricsCollector() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		cpuPercentages, err := cpu.Percent(0, false)
		if err == nil && len(cpuPercentages) > 0 {
			promCPUUsage.Set(cpuPercentages[0])
		}

		memInfo, err := mem.VirtualMemory()
		if err == nil {
			promMemoryUsage.Set(memInfo.UsedPercent)
		} else {
			log.Printf("metrics: error collecting memory stats: %v", err)
		}

		promGoroutineCount.Set(float64(runtime.NumGoroutine()))
	}
}

// RecordNXDOMAIN records an NXDOMAIN response for a given name.
func (m *Metrics) RecordNXDOMAIN(name string) {
	val, _ := m.topNXDomains.LoadOrStore(name, int64(0))
	m.topNXDomains.Store(name, val.(int64)+1)
}

// RecordLatency records a find() latency sample for a given name.
func (m *Metrics) RecordLatency(name string, latency time.Duration) {
	val, _ := m.topLatencyDomains.LoadOrStore(name, LatencyStat{})
	stat := val.(LatencyStat)
	stat.TotalLatency += latency
	stat.Count++
	m.topLatencyDomains.Store(name, stat)
}

// topDomainsProcessor periodically rebuilds the top-N gauges from the
// running per-name maps.
func (m *Metrics) topDomainsProcessor() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.processTopNXDomains()
		m.processTopLatencyDomains()
	}
}

func (m *Metrics) processTopNXDomains() {
	var domains []struct {
		Domain string
		Count  int64
	}
	m.topNXDomains.Range(func(key, value interface{}) bool {
		domains = append(domains, struct {
			Domain string
			Count  int64
		}{key.(string), value.(int64)})
		return true
	})

	for i := 0; i < len(domains); i++ {
		for j := i + 1; j < len(domains); j++ {
			if domains[i].Count < domains[j].Count {
				domains[i], domains[j] = domains[j], domains[i]
			}
		}
	}
	if len(domains) > 10 {
		domains = domains[:10]
	}

	promTopNXDomains.Reset()
	for _, d := range domains {
		promTopNXDomains.WithLabelValues(d.Domain).Set(float64(d.Count))
	}
}

func (m *Metrics) processTopLatencyDomains() {
	var domains []struct {
		Domain     string
		AvgLatency float64
	}
	m.topLatencyDomains.Range(func(key, value interface{}) bool {
		stat := value.(LatencyStat)
		if stat.Count > 0 {
			avgLatency := stat.TotalLatency.Seconds() * 1000 / float64(stat.Count)
			domains = append(domains, struct {
				Domain     string
				AvgLatency float64
			}{key.(string), avgLatency})
		}
		return true
	})

	for i := 0; i < len(domains); i++ {
		for j := i + 1; j < len(domains); j++ {
			if domains[i].AvgLatency < domains[j].AvgLatency {
				domains[i], domains[j] = domains[j], domains[i]
			}
		}
	}
	if len(domains) > 10 {
		domains = domains[:10]
	}

	promTopLatencyDomains.Reset()
	for _, d := range domains {
		promTopLatencyDomains.WithLabelValues(d.Domain).Set(d.AvgLatency)
	}
}

// RecordQueryType records the RR type of a query.
func (m *Metrics) RecordQueryType(qtype string) {
	promQueryTypes.WithLabelValues(qtype).Inc()
}

// RecordResult records a find() result code.
func (m *Metrics) RecordResult(result string) {
	promResultCodes.WithLabelValues(result).Inc()
}
