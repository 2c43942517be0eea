package db

import (
	"github.com/dd0wney/cluso-leveldb/pkg/compress"
	"github.com/dd0wney/cluso-leveldb/pkg/filter"
	"github.com/dd0wney/cluso-leveldb/pkg/keys"
	"github.com/dd0wney/cluso-leveldb/pkg/logging"
	"github.com/dd0wney/cluso-leveldb/pkg/metrics"
	"github.com/dd0wney/cluso-leveldb/pkg/table"
	"github.com/dd0wney/cluso-leveldb/pkg/vfs"
)

// Options configures an open database. The zero value is not usable;
// start from DefaultOptions.
type Options struct {
	// Comparator orders user keys. Its name is persisted; reopening with
	// a differently-named comparator fails.
	Comparator keys.Comparator

	// CreateIfMissing creates the database when none exists.
	CreateIfMissing bool

	// ErrorIfExists refuses to open a pre-existing database.
	ErrorIfExists bool

	// ParanoidChecks re-verifies block checksums on every read.
	ParanoidChecks bool

	// WriteBufferSize is the memtable size that triggers a flush.
	WriteBufferSize int

	// MaxOpenFiles bounds the table cache.
	MaxOpenFiles int

	// BlockSize is the uncompressed data block threshold.
	BlockSize int

	// BlockRestartInterval is the entry count between restart points.
	BlockRestartInterval int

	// BlockCacheSize bounds the decoded-block cache in bytes.
	BlockCacheSize int64

	// Compression is the block compressor tag for newly written tables.
	Compression uint8

	// Compressors resolves compression tags for reads and writes. New
	// databases can restrict this; reads of foreign databases need the
	// tags those databases used.
	Compressors *compress.Registry

	// FilterPolicy adds per-table filters; nil disables them.
	FilterPolicy filter.Policy

	// Logger receives structured engine events. Nil routes to the
	// database's LOG file.
	Logger logging.Logger

	// InfoLogLevel is the LOG file threshold when Logger is nil.
	InfoLogLevel logging.Level

	// Metrics receives engine metrics. Nil allocates a private registry.
	Metrics *metrics.Registry

	// FS is the filesystem collaborator. Nil uses the operating system.
	FS vfs.FS
}

// DefaultOptions returns the standard configuration: 4 MiB write buffer,
// 4 KiB blocks, snappy compression, a 10-bit bloom filter, and an 8 MiB
// block cache.
func DefaultOptions() *Options {
	return &Options{
		Comparator:           keys.BytewiseComparator(),
		CreateIfMissing:      true,
		WriteBufferSize:      4 * 1024 * 1024,
		MaxOpenFiles:         1000,
		BlockSize:            table.DefaultBlockSize,
		BlockRestartInterval: table.DefaultRestartInterval,
		BlockCacheSize:       8 * 1024 * 1024,
		Compression:          compress.TagSnappy,
		Compressors:          compress.DefaultRegistry(),
		FilterPolicy:         filter.NewBloomPolicy(10),
		InfoLogLevel:         logging.InfoLevel,
	}
}

// sanitize fills defaults for zero fields and clamps nonsense values.
func (o *Options) sanitize() {
	if o.Comparator == nil {
		o.Comparator = keys.BytewiseComparator()
	}
	if o.WriteBufferSize < 64*1024 {
		o.WriteBufferSize = 64 * 1024
	}
	if o.MaxOpenFiles < 64 {
		o.MaxOpenFiles = 64
	}
	if o.BlockSize <= 0 {
		o.BlockSize = table.DefaultBlockSize
	}
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = table.DefaultRestartInterval
	}
	if o.BlockCacheSize <= 0 {
		o.BlockCacheSize = 8 * 1024 * 1024
	}
	if o.Compressors == nil {
		o.Compressors = compress.DefaultRegistry()
	}
	if o.FS == nil {
		o.FS = vfs.OS()
	}
}

// WriteOptions controls the durability of one write.
type WriteOptions struct {
	// Sync forces an fsync of the WAL before the write returns. Without
	// it a machine crash can lose recent writes (a process crash cannot).
	Sync bool
}

// ReadOptions controls one read.
type ReadOptions struct {
	// Snapshot pins the read to a point in time; nil reads the newest
	// committed state.
	Snapshot *Snapshot

	// VerifyChecksums is not consulted by Get; whether block CRCs are
	// rechecked on reads is set for the whole database by
	// Options.ParanoidChecks.
	VerifyChecksums bool
}

// IterOptions controls one iterator.
type IterOptions struct {
	// Snapshot pins the iterator; nil iterates the newest state.
	Snapshot *Snapshot

	// LowerBound, when set, limits the iterator to keys >= LowerBound.
	LowerBound []byte

	// UpperBound, when set, limits the iterator to keys < UpperBound.
	UpperBound []byte
}

// internalFilterPolicy exposes a user-key filter policy over internal
// keys: the trailer is stripped before hashing so lookups with any
// sequence probe the same bits.
type internalFilterPolicy struct {
	user filter.Policy
}

func (p internalFilterPolicy) Name() string {
	return p.user.Name()
}

func (p internalFilterPolicy) Append(dst []byte, ikeys [][]byte) []byte {
	ukeys := make([][]byte, len(ikeys))
	for i, ik := range ikeys {
		ukeys[i] = keys.UserKey(ik)
	}
	return p.user.Append(dst, ukeys)
}

func (p internalFilterPolicy) MayContain(f, ikey []byte) bool {
	return p.user.MayContain(f, keys.UserKey(ikey))
}
