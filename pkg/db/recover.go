package db

import (
	"errors"
	"io"
	"io/fs"
	"sort"

	"github.com/dd0wney/cluso-leveldb/pkg/logging"
	"github.com/dd0wney/cluso-leveldb/pkg/memtable"
	"github.com/dd0wney/cluso-leveldb/pkg/version"
	"github.com/dd0wney/cluso-leveldb/pkg/vfs"
	"github.com/dd0wney/cluso-leveldb/pkg/wal"
)

// recover brings the database to a consistent state on open: replay the
// MANIFEST, then every WAL from the one it names onward (plus its
// prev-log), in file-number order. Called with mu held.
func (d *DB) recover() error {
	_, err := d.fs.ReadFile(vfs.CurrentFileName(d.dir))
	switch {
	case err == nil:
		if d.opts.ErrorIfExists {
			return fileErr("open", d.dir, ErrExists)
		}
	case errors.Is(err, fs.ErrNotExist):
		if !d.opts.CreateIfMissing {
			return fileErr("open", d.dir, ErrMissing)
		}
		return d.createNew()
	default:
		return fileErr("open", d.dir, err)
	}

	if err := d.versions.Recover(); err != nil {
		if errors.Is(err, version.ErrComparatorMismatch) {
			err = corruption("%v", err)
		}
		return opErr("recover", err)
	}

	// Any WAL at or past the manifest's log number (plus the prev-log of
	// an interrupted memtable switch) still holds unflushed writes.
	names, err := d.fs.List(d.dir)
	if err != nil {
		return fileErr("recover", d.dir, err)
	}
	minLog := d.versions.LogNumber()
	prevLog := d.versions.PrevLogNumber()
	var logNums []uint64
	expected := d.versions.LiveFiles()
	for _, name := range names {
		ft, num, ok := vfs.ParseFileName(name)
		if !ok {
			continue
		}
		if ft == vfs.TypeTable {
			delete(expected, num)
		}
		if ft == vfs.TypeLog && (num >= minLog || num == prevLog) {
			logNums = append(logNums, num)
		}
	}
	if len(expected) > 0 {
		for num := range expected {
			return fileErr("recover", vfs.TableFileName(d.dir, num),
				corruption("manifest references missing table"))
		}
	}
	sort.Slice(logNums, func(i, j int) bool { return logNums[i] < logNums[j] })

	maxSeq := d.versions.LastSequence()
	for _, num := range logNums {
		seq, err := d.replayLogFile(num)
		if err != nil {
			return err
		}
		if seq > maxSeq {
			maxSeq = seq
		}
		d.versions.MarkFileNumberUsed(num)
	}
	d.versions.SetLastSequence(maxSeq)

	if d.mem == nil {
		d.mem = memtable.New(d.icmp)
	}
	if err := d.rotateLog(); err != nil {
		return err
	}

	// Persist the recovered state so the replayed WALs become obsolete
	// once the recovered memtable flushes.
	edit := &version.VersionEdit{}
	edit.SetComparatorName(d.icmp.User.Name())
	edit.SetLogNumber(d.logNumber)
	edit.SetPrevLogNumber(0)
	if d.mem != nil && !d.mem.Empty() {
		// Flush recovered entries immediately rather than carrying the
		// old WALs forward.
		if err := d.flushMemTableLocked(d.mem, edit); err != nil {
			return err
		}
		d.mem = memtable.New(d.icmp)
	}
	if err := d.versions.LogAndApply(edit); err != nil {
		return opErr("recover", err)
	}
	return nil
}

// createNew initializes an empty database directory.
func (d *DB) createNew() error {
	d.logger.Info("creating new database")
	if err := d.rotateLog(); err != nil {
		return err
	}
	d.mem = memtable.New(d.icmp)

	edit := &version.VersionEdit{}
	edit.SetComparatorName(d.icmp.User.Name())
	edit.SetLogNumber(d.logNumber)
	edit.SetPrevLogNumber(0)
	if err := d.versions.LogAndApply(edit); err != nil {
		return opErr("create", err)
	}
	return nil
}

// replayLogFile applies every complete batch of one WAL to the current
// memtable, flushing it to a new table whenever it fills. Returns the
// largest sequence recovered.
func (d *DB) replayLogFile(num uint64) (uint64, error) {
	name := vfs.LogFileName(d.dir, num)
	f, err := d.fs.OpenRandom(name)
	if err != nil {
		return 0, fileErr("recover wal", name, err)
	}
	defer f.Close()
	size, err := d.fs.Size(name)
	if err != nil {
		return 0, fileErr("recover wal", name, err)
	}

	if d.mem == nil {
		d.mem = memtable.New(d.icmp)
	}

	var maxSeq uint64
	var records, entries int
	reader := wal.NewReader(io.NewSectionReader(f, 0, size))
	for {
		rec, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fileErr("recover wal", name, corruption("%v", err))
		}
		batch := &Batch{}
		if err := batch.setContents(append([]byte(nil), rec...)); err != nil {
			return 0, fileErr("recover wal", name, err)
		}
		// Replaying entries whose sequences are already covered by a
		// flushed table is harmless: the memtable entry shadows nothing
		// newer, and compaction discards it.
		if err := batch.applyTo(d.mem); err != nil {
			return 0, fileErr("recover wal", name, err)
		}
		records++
		entries += int(batch.Count())
		if last := batch.sequence() + uint64(batch.Count()) - 1; last > maxSeq {
			maxSeq = last
		}

		if int(d.mem.ApproximateMemoryUsage()) > d.opts.WriteBufferSize {
			edit := &version.VersionEdit{}
			if err := d.flushMemTableLocked(d.mem, edit); err != nil {
				return 0, err
			}
			if err := d.versions.LogAndApply(edit); err != nil {
				return 0, opErr("recover", err)
			}
			d.mem = memtable.New(d.icmp)
		}
	}

	d.logger.Info("wal replayed",
		logging.FileNumber(num),
		logging.Int("records", records),
		logging.Int("entries", entries),
		logging.Sequence(maxSeq),
	)
	return maxSeq, nil
}
