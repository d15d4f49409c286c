package zonedb

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats implements the §6 external interfaces set-gluecache-stats and
// get-size: a small set of prometheus gauges/counters describing this
// database's memory footprint and glue-cache behavior. Unlike
// internal/metrics, which registers package-level collectors through
// promauto, Stats builds its collectors with prometheus.New* and
// registers them only when Register is called.
type Stats struct {
	mu sync.Mutex

	glueHits   int64
	glueMisses int64

	nodeCountGauge   prometheus.Gauge
	glueHitCounter   prometheus.Counter
	glueMissCounter  prometheus.Counter
	resignHeapGauge  *prometheus.GaugeVec
	recordCountGauge prometheus.Gauge
}

func newStats() *Stats {
	return &Stats{
		nodeCountGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qpdb_node_count",
			Help: "Number of distinct owner names in the zone tree.",
		}),
		glueHitCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qpdb_glue_cache_hits_total",
			Help: "Glue cache lookups served from the memoized list.",
		}),
		glueMissCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qpdb_glue_cache_misses_total",
			Help: "Glue cache lookups that required a fresh computation.",
		}),
		resignHeapGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qpdb_resign_heap_depth",
			Help: "Per-partition resign heap depth.",
		}, []string{"partition"}),
		recordCountGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qpdb_record_count",
			Help: "Record count of the current committed version.",
		}),
	}
}

// Register registers the database's collectors with reg. Callers own
// the registry; nothing is registered with the global default registry.
func (s *Stats) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		s.nodeCountGauge, s.glueHitCounter, s.glueMissCounter,
		s.resignHeapGauge, s.recordCountGauge,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stats) recordGlueHit()  { atomic.AddInt64(&s.glueHits, 1); s.glueHitCounter.Inc() }
func (s *Stats) recordGlueMiss() { atomic.AddInt64(&s.glueMisses, 1); s.glueMissCounter.Inc() }

// GlueCacheStats returns the cumulative glue-cache hit/miss counts
// (§6: set-gluecache-stats' read side).
func (s *Stats) GlueCacheStats() (hits, misses int64) {
	return atomic.LoadInt64(&s.glueHits), atomic.LoadInt64(&s.glueMisses)
}

// Size reports the database's approximate in-memory footprint (§6:
// get-size): header metadata plus packed slab bytes, summed over every
// node in the main tree. It takes the tree lock for the duration of
// the walk, matching a read-mostly, infrequent operation.
func (db *DB) Size() int64 {
	db.treeLock.RLock()
	defer db.treeLock.RUnlock()

	var total int64
	_, _, it := db.tree.Lookup(db.origin)
	for n, ok := it.First(); ok; n, ok = it.Next() {
		for h := n.data; h != nil; h = h.Next {
			total += int64(unsafeHeaderOverhead)
			if h.Slab != nil {
				total += int64(h.Slab.Len())
			}
		}
	}
	db.stats.nodeCountGauge.Set(float64(db.tree.Count()))
	return total
}

// unsafeHeaderOverhead is a rough, architecture-independent estimate of
// a Header's fixed struct overhead, used only for the approximate size
// accounting above (not for any correctness-sensitive path).
const unsafeHeaderOverhead = 96

// RefreshResignGauge updates the per-partition resign-heap depth
// gauge; callers invoke this periodically (e.g. after a commit), not on
// every insert, to keep it off the hot path.
func (db *DB) RefreshResignGauge() {
	for i, rh := range db.resignHeaps {
		rh.mu.RLock()
		depth := len(rh.items)
		rh.mu.RUnlock()
		db.stats.resignHeapGauge.WithLabelValues(strconv.Itoa(i)).Set(float64(depth))
	}
}
