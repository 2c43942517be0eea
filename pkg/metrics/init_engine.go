package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initEngineMetrics() {
	r.WritesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "leveldb_writes_total",
			Help: "Total number of write batches by outcome",
		},
		[]string{"status"},
	)

	r.WriteBatchEntries = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leveldb_write_batch_entries",
			Help:    "Entries per committed write batch",
			Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000},
		},
	)

	r.WriteStallSeconds = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_write_stall_seconds_total",
			Help: "Cumulative time writes spent stalled on L0 pressure",
		},
	)

	r.WALBytesWritten = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_wal_bytes_written_total",
			Help: "Bytes appended to the write-ahead log",
		},
	)

	r.WALSyncsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_wal_syncs_total",
			Help: "Number of fsyncs issued against the write-ahead log",
		},
	)

	r.ReadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "leveldb_reads_total",
			Help: "Point reads by outcome (hit, miss, error)",
		},
		[]string{"outcome"},
	)

	r.ReadDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leveldb_read_duration_seconds",
			Help:    "Point read latency in seconds",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		},
	)

	r.IteratorsOpened = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_iterators_opened_total",
			Help: "Database iterators created",
		},
	)

	r.BlockCacheHits = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_block_cache_hits_total",
			Help: "Block cache hits",
		},
	)

	r.BlockCacheMisses = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_block_cache_misses_total",
			Help: "Block cache misses",
		},
	)

	r.TableCacheHits = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_table_cache_hits_total",
			Help: "Table cache hits",
		},
	)

	r.TableCacheMisses = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_table_cache_misses_total",
			Help: "Table cache misses (table opens)",
		},
	)

	r.FlushesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_flushes_total",
			Help: "Memtable flushes completed",
		},
	)

	r.FlushBytes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_flush_bytes_total",
			Help: "Bytes written by memtable flushes",
		},
	)

	r.CompactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "leveldb_compactions_total",
			Help: "Compactions by kind (size, manual, trivial_move); seek-triggered compactions count as size",
		},
		[]string{"kind"},
	)

	r.CompactionDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leveldb_compaction_duration_seconds",
			Help:    "Wall time per compaction",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
	)

	r.CompactionBytesRead = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_compaction_bytes_read_total",
			Help: "Bytes read by compactions",
		},
	)

	r.CompactionBytesOut = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_compaction_bytes_written_total",
			Help: "Bytes written by compactions",
		},
	)

	r.BackgroundErrors = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "leveldb_background_errors_total",
			Help: "Background flush/compaction failures latched by the engine",
		},
	)

	r.LevelFiles = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leveldb_level_files",
			Help: "Live table files per level",
		},
		[]string{"level"},
	)

	r.LevelBytes = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leveldb_level_bytes",
			Help: "Live table bytes per level",
		},
		[]string{"level"},
	)

	r.MemtableBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "leveldb_memtable_bytes",
			Help: "Approximate bytes held by the active memtable",
		},
	)

	r.LiveSequence = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "leveldb_last_sequence",
			Help: "Newest committed sequence number",
		},
	)
}
