// Package db implements the storage engine proper: the write path
// through WAL and memtable, point reads and iterators across memtables
// and tables, snapshots, and the background flush/compaction machinery
// that keeps the level hierarchy healthy.
package db

import (
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-leveldb/pkg/cache"
	"github.com/dd0wney/cluso-leveldb/pkg/iter"
	"github.com/dd0wney/cluso-leveldb/pkg/keys"
	"github.com/dd0wney/cluso-leveldb/pkg/logging"
	"github.com/dd0wney/cluso-leveldb/pkg/memtable"
	"github.com/dd0wney/cluso-leveldb/pkg/metrics"
	"github.com/dd0wney/cluso-leveldb/pkg/pools"
	"github.com/dd0wney/cluso-leveldb/pkg/table"
	"github.com/dd0wney/cluso-leveldb/pkg/version"
	"github.com/dd0wney/cluso-leveldb/pkg/vfs"
	"github.com/dd0wney/cluso-leveldb/pkg/wal"
)

// DB is an open database handle. It is safe for concurrent use: writes
// are serialized internally, reads proceed in parallel.
type DB struct {
	dir    string
	opts   *Options
	fs     vfs.FS
	icmp   keys.InternalComparator
	logger logging.Logger
	closeInfoLog func() error
	reg        *metrics.Registry
	cacheStats metrics.CacheStatsUpdater
	pool       *pools.BytePool

	blockCache *cache.Cache
	tables     *tableCache

	// mu guards everything below plus all VersionSet mutation.
	mu   sync.Mutex
	cond *sync.Cond // signaled when background state changes

	mem *memtable.MemTable
	imm *memtable.MemTable // frozen, being flushed

	logFile   vfs.AppendFile
	log       *wal.Writer
	logNumber uint64

	versions *version.VersionSet

	snapshots      snapshotList
	pendingOutputs map[uint64]bool

	bgScheduled bool
	bgWork      chan struct{}
	bgDone      chan struct{}
	bgErr       error

	manualCompaction *manualCompaction

	fileLock vfs.Lock
	closed   bool
}

// Open opens (and if permitted creates) the database at dir.
func Open(dir string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	o.sanitize()

	if err := o.FS.MkdirAll(dir); err != nil {
		return nil, fileErr("open", dir, err)
	}

	logger := o.Logger
	closeInfoLog := func() error { return nil }
	if logger == nil {
		var err error
		logger, closeInfoLog, err = logging.OpenInfoLog(
			vfs.InfoLogFileName(dir), vfs.OldInfoLogFileName(dir), o.InfoLogLevel)
		if err != nil {
			return nil, fileErr("open", dir, err)
		}
	}
	logger = logger.With(logging.String("db", dir))

	reg := o.Metrics
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	d := &DB{
		dir:          dir,
		opts:         &o,
		fs:           o.FS,
		icmp:         keys.InternalComparator{User: o.Comparator},
		logger:       logger,
		closeInfoLog: closeInfoLog,
		reg:          reg,
		pool:         pools.NewBytePool(),
		blockCache:   cache.New(o.BlockCacheSize),
		pendingOutputs: make(map[uint64]bool),
		bgWork:       make(chan struct{}, 1),
		bgDone:       make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	d.snapshots.init()

	ropt := table.ReaderOptions{
		Comparator:      d.icmp,
		Compressors:     o.Compressors,
		VerifyChecksums: o.ParanoidChecks,
		BlockCache:      cache.NewBlockCache(d.blockCache),
		Pool:            d.pool,
	}
	if o.FilterPolicy != nil {
		ropt.FilterPolicy = internalFilterPolicy{user: o.FilterPolicy}
	}
	d.tables = newTableCache(dir, o.FS, o.MaxOpenFiles, ropt)
	d.versions = version.NewVersionSet(dir, o.FS, d.icmp, logger)

	lock, err := o.FS.LockFile(vfs.LockFileName(dir))
	if err != nil {
		closeInfoLog()
		return nil, fileErr("open", dir, err)
	}
	d.fileLock = lock

	d.mu.Lock()
	err = d.recover()
	if err == nil {
		err = d.deleteObsoleteFiles()
	}
	d.mu.Unlock()
	if err != nil {
		lock.Unlock()
		closeInfoLog()
		return nil, err
	}

	go d.backgroundWorker()
	d.mu.Lock()
	d.maybeScheduleCompaction()
	d.mu.Unlock()

	logger.Info("database opened",
		logging.Sequence(d.versions.LastSequence()),
		logging.FileNumber(d.logNumber),
	)
	return d, nil
}

// Close flushes nothing (the WAL already holds every committed write),
// stops background work, and releases the directory lock. Outstanding
// iterators and snapshots keep their pinned state valid until released.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	// Wait for in-flight background work, then stop the worker.
	for d.bgScheduled {
		d.cond.Wait()
	}
	d.mu.Unlock()

	close(d.bgWork)
	<-d.bgDone

	d.mu.Lock()
	if d.log != nil {
		d.logFile.Close()
		d.log = nil
		d.logFile = nil
	}
	d.versions.Close()
	d.mu.Unlock()

	var err error
	if d.fileLock != nil {
		err = d.fileLock.Unlock()
		d.fileLock = nil
	}
	d.logger.Info("database closed")
	if cerr := d.closeInfoLog(); err == nil {
		err = cerr
	}
	return err
}

// Put stores key -> value.
func (d *DB) Put(key, value []byte, wo *WriteOptions) error {
	b := NewBatch()
	b.Put(key, value)
	return d.Write(b, wo)
}

// Delete removes key. Deleting an absent key is not an error.
func (d *DB) Delete(key []byte, wo *WriteOptions) error {
	b := NewBatch()
	b.Delete(key)
	return d.Write(b, wo)
}

// Write commits a batch atomically.
func (d *DB) Write(b *Batch, wo *WriteOptions) error {
	if b == nil {
		return opErr("write", ErrInvalidArgument)
	}
	sync := wo != nil && wo.Sync

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.reg.RecordWrite("error", 0)
		return opErr("write", ErrClosed)
	}
	if err := d.makeRoomForWrite(false); err != nil {
		d.reg.RecordWrite("error", 0)
		return err
	}

	seq := d.versions.LastSequence() + 1
	b.setSequence(seq)
	count := b.Count()

	// WAL first: a batch is committed once its record is on disk (or at
	// least in the OS when sync is off).
	record := b.contents()
	if err := d.log.AddRecord(record); err != nil {
		d.recordBackgroundError(fileErr("write wal", vfs.LogFileName(d.dir, d.logNumber), err))
		d.reg.RecordWrite("error", 0)
		return d.bgErr
	}
	d.reg.WALBytesWritten.Add(float64(len(record)))
	if sync {
		if err := d.log.Sync(); err != nil {
			// A failed sync leaves the tail of the WAL in unknown
			// state; latch the error so the database stops accepting
			// writes until reopened.
			d.recordBackgroundError(fileErr("sync wal", vfs.LogFileName(d.dir, d.logNumber), err))
			d.reg.RecordWrite("error", 0)
			return d.bgErr
		}
		d.reg.WALSyncsTotal.Inc()
	}

	if err := b.applyTo(d.mem); err != nil {
		d.recordBackgroundError(err)
		d.reg.RecordWrite("error", 0)
		return err
	}
	d.versions.SetLastSequence(seq + uint64(count) - 1)
	d.reg.LiveSequence.Set(float64(d.versions.LastSequence()))
	d.reg.MemtableBytes.Set(float64(d.mem.ApproximateMemoryUsage()))
	d.reg.RecordWrite("ok", int(count))
	return nil
}

// Get returns the newest value of key visible to the read's snapshot.
// Absence (including deletion) is reported as ErrNotFound.
func (d *DB) Get(key []byte, ro *ReadOptions) ([]byte, error) {
	start := time.Now()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, opErr("get", ErrClosed)
	}
	seq := d.versions.LastSequence()
	if ro != nil && ro.Snapshot != nil {
		seq = ro.Snapshot.seq
	}
	mem := d.mem
	imm := d.imm
	current := d.versions.Current()
	current.Ref()
	d.mu.Unlock()

	lookup := keys.LookupKey(key, seq)

	value, kind, ok := mem.Get(key, seq)
	if !ok && imm != nil {
		value, kind, ok = imm.Get(key, seq)
	}

	var stats version.GetStats
	var err error
	if !ok {
		value, kind, ok, stats, err = current.Get(d.tables, lookup, d.icmp.User)
	}

	d.mu.Lock()
	if current.UpdateStats(stats) {
		d.maybeScheduleCompaction()
	}
	current.Unref()
	d.mu.Unlock()
	d.publishCacheStats()

	if err != nil {
		d.reg.RecordRead("error", time.Since(start))
		return nil, opErr("get", err)
	}
	if !ok || kind == keys.KindDelete {
		d.reg.RecordRead("miss", time.Since(start))
		return nil, ErrNotFound
	}
	d.reg.RecordRead("hit", time.Since(start))
	// Memtable reads alias arena memory whose lifetime is tied to engine
	// internals; hand the caller a copy.
	return append([]byte(nil), value...), nil
}

// GetSnapshot pins the current sequence for repeatable reads.
func (d *DB) GetSnapshot() *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshots.add(d.versions.LastSequence())
}

// ReleaseSnapshot unpins a snapshot. Using it afterwards is a bug.
func (d *DB) ReleaseSnapshot(s *Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshots.remove(s)
}

// NewIterator returns an iterator over the database. The iterator
// observes a consistent view: the given snapshot, or the sequence at
// creation time.
func (d *DB) NewIterator(io *IterOptions) iter.Iterator {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return iter.Empty(opErr("iterator", ErrClosed))
	}
	seq := d.versions.LastSequence()
	var lower, upper []byte
	if io != nil {
		if io.Snapshot != nil {
			seq = io.Snapshot.seq
		}
		lower, upper = io.LowerBound, io.UpperBound
	}

	its := []iter.Iterator{d.mem.NewIterator()}
	if d.imm != nil {
		its = append(its, d.imm.NewIterator())
	}
	current := d.versions.Current()
	current.Ref()
	its = append(its, current.Iterators(d.tables)...)
	d.mu.Unlock()

	merged := iter.NewMerging(d.icmp.Compare, its...)
	d.reg.IteratorsOpened.Inc()
	return newDBIterator(d, merged, current, seq, lower, upper)
}

// CompactRange forces compaction of every level overlapping the user-key
// range [begin, end]; nil bounds are unbounded. It returns after the
// data has been compacted to the deepest sensible level.
func (d *DB) CompactRange(begin, end []byte) error {
	// First flush any memtable data overlapping the range.
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return opErr("compact range", ErrClosed)
	}
	maxLevel := 1
	cur := d.versions.Current()
	for level := 1; level < version.NumLevels; level++ {
		if cur.SomeFileOverlapsRange(level, begin, end) {
			maxLevel = level
		}
	}
	if err := d.makeRoomForWrite(true); err != nil {
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	for level := 0; level < maxLevel; level++ {
		if err := d.compactRangeLevel(level, begin, end); err != nil {
			return err
		}
	}
	return nil
}

// compactRangeLevel runs one manual compaction and waits for it.
func (d *DB) compactRangeLevel(level int, begin, end []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	mc := &manualCompaction{level: level, begin: begin, end: end}
	for !mc.done && !d.closed && d.bgErr == nil {
		if d.manualCompaction == nil {
			d.manualCompaction = mc
			d.maybeScheduleCompaction()
		}
		d.cond.Wait()
	}
	if d.manualCompaction == mc {
		d.manualCompaction = nil
	}
	return d.bgErr
}

// ApproximateSizes estimates the on-disk bytes spanned by each user-key
// range.
func (d *DB) ApproximateSizes(ranges [][2][]byte) []uint64 {
	d.mu.Lock()
	current := d.versions.Current()
	current.Ref()
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		current.Unref()
		d.mu.Unlock()
	}()

	sizes := make([]uint64, len(ranges))
	for i, r := range ranges {
		start := keys.MakeInternalKey(nil, r[0], keys.MaxSequence, keys.KindSeek)
		limit := keys.MakeInternalKey(nil, r[1], keys.MaxSequence, keys.KindSeek)
		var total uint64
		for level := 0; level < version.NumLevels; level++ {
			for _, f := range current.Files(level) {
				if d.icmp.Compare(f.Largest, start) < 0 {
					continue
				}
				if d.icmp.Compare(f.Smallest, limit) >= 0 {
					continue
				}
				lo := d.tables.ApproximateOffset(f, start)
				hi := d.tables.ApproximateOffset(f, limit)
				if hi > lo {
					total += hi - lo
				}
			}
		}
		sizes[i] = total
	}
	return sizes
}

// NumLevelFiles reports the file count at a level, for tests and tools.
func (d *DB) NumLevelFiles(level int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.versions.Current().NumFiles(level)
}

// Metrics exposes the database's metrics registry.
func (d *DB) Metrics() *metrics.Registry {
	return d.reg
}

// makeRoomForWrite blocks until the memtable can absorb another write.
// Called with mu held; may release it while waiting. force freezes the
// current memtable regardless of fill.
func (d *DB) makeRoomForWrite(force bool) error {
	allowDelay := !force
	for {
		switch {
		case d.bgErr != nil:
			return d.bgErr

		case allowDelay && d.versions.Current().NumFiles(0) >= version.L0SlowdownWritesTrigger:
			// Soft limit: give the compactor a millisecond per write
			// instead of stalling hard later.
			d.mu.Unlock()
			time.Sleep(time.Millisecond)
			d.reg.WriteStallSeconds.Add(0.001)
			allowDelay = false
			d.mu.Lock()

		case !force && int(d.mem.ApproximateMemoryUsage()) <= d.opts.WriteBufferSize:
			return nil

		case d.imm != nil:
			// The previous memtable is still flushing; wait.
			d.cond.Wait()

		case d.versions.Current().NumFiles(0) >= version.L0StopWritesTrigger:
			d.logger.Warn("stopping writes: too many L0 files",
				logging.Int("l0_files", d.versions.Current().NumFiles(0)))
			stallStart := time.Now()
			d.cond.Wait()
			d.reg.WriteStallSeconds.Add(time.Since(stallStart).Seconds())

		default:
			// Freeze the memtable and rotate the WAL.
			if err := d.rotateLog(); err != nil {
				return err
			}
			d.imm = d.mem
			d.mem = memtable.New(d.icmp)
			force = false
			d.maybeScheduleCompaction()
		}
	}
}

// rotateLog switches to a fresh WAL for the new memtable.
func (d *DB) rotateLog() error {
	newLogNumber := d.versions.NewFileNumber()
	f, err := d.fs.Create(vfs.LogFileName(d.dir, newLogNumber))
	if err != nil {
		d.versions.ReuseFileNumber(newLogNumber)
		return fileErr("rotate wal", vfs.LogFileName(d.dir, newLogNumber), err)
	}
	if d.logFile != nil {
		d.logFile.Close()
	}
	d.logFile = f
	d.log = wal.NewWriter(f)
	d.logNumber = newLogNumber
	return nil
}

// recordBackgroundError latches the first background failure; all
// subsequent writes fail with it until the database is reopened.
func (d *DB) recordBackgroundError(err error) {
	if d.bgErr == nil {
		d.bgErr = err
		d.reg.BackgroundErrors.Inc()
		d.logger.Error("background error latched", logging.Error(err))
		d.cond.Broadcast()
	}
}

// publishCacheStats pushes cache counters into the metrics registry.
// The updater keeps last-seen counts, so serialize under mu.
func (d *DB) publishCacheStats() {
	bh, bm := d.blockCache.Stats()
	th, tm := d.tables.stats()
	d.mu.Lock()
	d.cacheStats.Update(d.reg, bh, bm, th, tm)
	d.mu.Unlock()
}

// String describes the database for logs.
func (d *DB) String() string {
	return fmt.Sprintf("leveldb(%s)", d.dir)
}
