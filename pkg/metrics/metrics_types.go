package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for one database instance. Each open
// database owns its own Registry backed by a private prometheus
// registry, so embedding applications can expose several databases
// side by side.
type Registry struct {
	registry *prometheus.Registry

	// Write path
	WritesTotal        *prometheus.CounterVec
	WriteBatchEntries  prometheus.Histogram
	WriteStallSeconds  prometheus.Counter
	WALBytesWritten    prometheus.Counter
	WALSyncsTotal      prometheus.Counter

	// Read path
	ReadsTotal      *prometheus.CounterVec
	ReadDuration    prometheus.Histogram
	IteratorsOpened prometheus.Counter

	// Cache
	BlockCacheHits    prometheus.Counter
	BlockCacheMisses  prometheus.Counter
	TableCacheHits    prometheus.Counter
	TableCacheMisses  prometheus.Counter

	// Background work
	FlushesTotal        prometheus.Counter
	FlushBytes          prometheus.Counter
	CompactionsTotal    *prometheus.CounterVec
	CompactionDuration  prometheus.Histogram
	CompactionBytesRead prometheus.Counter
	CompactionBytesOut  prometheus.Counter
	BackgroundErrors    prometheus.Counter

	// Layout
	LevelFiles    *prometheus.GaugeVec
	LevelBytes    *prometheus.GaugeVec
	MemtableBytes prometheus.Gauge
	LiveSequence  prometheus.Gauge
}
