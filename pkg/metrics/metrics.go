package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NewRegistry creates a metrics registry for one database instance.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initEngineMetrics()
	return r
}

// Gatherer exposes the underlying prometheus registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordWrite records a committed or failed write batch.
func (r *Registry) RecordWrite(status string, entries int) {
	r.WritesTotal.WithLabelValues(status).Inc()
	if entries > 0 {
		r.WriteBatchEntries.Observe(float64(entries))
	}
}

// RecordRead records a point read with its latency.
func (r *Registry) RecordRead(outcome string, duration time.Duration) {
	r.ReadsTotal.WithLabelValues(outcome).Inc()
	r.ReadDuration.Observe(duration.Seconds())
}

// RecordCompaction records one finished compaction.
func (r *Registry) RecordCompaction(kind string, duration time.Duration, bytesRead, bytesWritten int64) {
	r.CompactionsTotal.WithLabelValues(kind).Inc()
	r.CompactionDuration.Observe(duration.Seconds())
	r.CompactionBytesRead.Add(float64(bytesRead))
	r.CompactionBytesOut.Add(float64(bytesWritten))
}

// UpdateLevels refreshes the per-level layout gauges.
func (r *Registry) UpdateLevels(files []int, bytes []int64) {
	for level := range files {
		l := strconv.Itoa(level)
		r.LevelFiles.WithLabelValues(l).Set(float64(files[level]))
		r.LevelBytes.WithLabelValues(l).Set(float64(bytes[level]))
	}
}

// cacheCounters holds the cumulative cache counts seen at the last
// update. Counters only move forward; deltas are computed against these.
type cacheCounters struct {
	blockHits, blockMisses int64
	tableHits, tableMisses int64
}

// CacheStatsUpdater tracks previously-reported cache counts so the
// prometheus counters advance by deltas.
type CacheStatsUpdater struct {
	last cacheCounters
}

// Update publishes the difference since the previous call.
func (u *CacheStatsUpdater) Update(r *Registry, blockHits, blockMisses, tableHits, tableMisses int64) {
	r.BlockCacheHits.Add(float64(blockHits - u.last.blockHits))
	r.BlockCacheMisses.Add(float64(blockMisses - u.last.blockMisses))
	r.TableCacheHits.Add(float64(tableHits - u.last.tableHits))
	r.TableCacheMisses.Add(float64(tableMisses - u.last.tableMisses))
	u.last = cacheCounters{blockHits, blockMisses, tableHits, tableMisses}
}
