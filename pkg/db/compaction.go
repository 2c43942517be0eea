package db

import (
	"path/filepath"
	"time"

	"github.com/dd0wney/cluso-leveldb/pkg/iter"
	"github.com/dd0wney/cluso-leveldb/pkg/keys"
	"github.com/dd0wney/cluso-leveldb/pkg/logging"
	"github.com/dd0wney/cluso-leveldb/pkg/memtable"
	"github.com/dd0wney/cluso-leveldb/pkg/table"
	"github.com/dd0wney/cluso-leveldb/pkg/version"
	"github.com/dd0wney/cluso-leveldb/pkg/vfs"
)

// manualCompaction tracks one CompactRange request through the worker.
type manualCompaction struct {
	level      int
	begin, end []byte
	done       bool
}

// backgroundWorker is the single background goroutine: it drains wake
// signals and performs one unit of flush or compaction work per wake.
func (d *DB) backgroundWorker() {
	defer close(d.bgDone)
	for range d.bgWork {
		d.mu.Lock()
		d.backgroundCompaction()
		d.bgScheduled = false
		// More work may have accumulated while compacting.
		d.maybeScheduleCompaction()
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// maybeScheduleCompaction wakes the worker when there is work. Called
// with mu held.
func (d *DB) maybeScheduleCompaction() {
	if d.bgScheduled || d.closed || d.bgErr != nil {
		return
	}
	if d.imm == nil && d.manualCompaction == nil && !d.versions.Current().NeedsCompaction() {
		return
	}
	d.bgScheduled = true
	select {
	case d.bgWork <- struct{}{}:
	default:
	}
}

// backgroundCompaction performs one unit of work. Called with mu held;
// releases it for the heavy phases.
func (d *DB) backgroundCompaction() {
	if d.bgErr != nil || d.closed {
		return
	}

	if d.imm != nil {
		d.compactMemTable()
		return
	}

	var c *version.Compaction
	manualKind := false
	if mc := d.manualCompaction; mc != nil {
		manualKind = true
		c = d.versions.CompactRange(mc.level, mc.begin, mc.end)
		if c == nil {
			mc.done = true
			return
		}
	} else {
		c = d.versions.PickCompaction()
		if c == nil {
			return
		}
	}
	defer c.Release()

	if !manualKind && c.IsTrivialMove() {
		// Move the file down a level with a metadata-only edit.
		f := c.Input(0, 0)
		c.Edit().DeleteFile(c.Level(), f.Number)
		c.Edit().AddFile(c.Level()+1, f)
		if err := d.versions.LogAndApply(c.Edit()); err != nil {
			d.recordBackgroundError(opErr("trivial move", err))
			return
		}
		d.logger.Info("trivial move",
			logging.FileNumber(f.Number),
			logging.LevelNum(c.Level()),
			logging.Bytes("bytes", int64(f.Size)),
		)
		d.reg.RecordCompaction("trivial_move", 0, 0, 0)
		d.updateLevelMetrics()
		d.deleteObsoleteFiles()
		return
	}

	start := time.Now()
	err := d.doCompactionWork(c)
	if err != nil {
		d.recordBackgroundError(opErr("compaction", err))
		return
	}
	kind := "size"
	if manualKind {
		kind = "manual"
		if d.manualCompaction != nil {
			d.manualCompaction.done = true
		}
	}
	var bytesRead int64
	for which := 0; which < 2; which++ {
		for _, f := range c.Inputs(which) {
			bytesRead += int64(f.Size)
		}
	}
	d.reg.RecordCompaction(kind, time.Since(start), bytesRead, 0)
	d.updateLevelMetrics()
	d.deleteObsoleteFiles()
}

// compactMemTable flushes the immutable memtable to a table file and
// installs it. Called with mu held.
func (d *DB) compactMemTable() {
	imm := d.imm
	edit := &version.VersionEdit{}
	if err := d.flushMemTableLocked(imm, edit); err != nil {
		d.recordBackgroundError(err)
		return
	}
	// The flushed data supersedes every WAL before the current one.
	edit.SetLogNumber(d.logNumber)
	edit.SetPrevLogNumber(0)
	if err := d.versions.LogAndApply(edit); err != nil {
		d.recordBackgroundError(opErr("flush", err))
		return
	}
	d.imm = nil
	d.reg.FlushesTotal.Inc()
	d.updateLevelMetrics()
	d.deleteObsoleteFiles()
}

// flushMemTableLocked writes mem to a new table file and records it in
// edit. Called with mu held; drops the mutex for the file build.
func (d *DB) flushMemTableLocked(mem *memtable.MemTable, edit *version.VersionEdit) error {
	fileNum := d.versions.NewFileNumber()
	d.pendingOutputs[fileNum] = true
	base := d.versions.Current()
	base.Ref()

	d.mu.Unlock()
	meta, err := d.buildTable(fileNum, mem.NewIterator())
	d.mu.Lock()

	base.Unref()
	delete(d.pendingOutputs, fileNum)
	if err != nil {
		d.versions.ReuseFileNumber(fileNum)
		return err
	}
	if meta == nil {
		// Empty memtable: nothing to add.
		d.versions.ReuseFileNumber(fileNum)
		return nil
	}

	level := base.PickLevelForMemTableOutput(keys.UserKey(meta.Smallest), keys.UserKey(meta.Largest))
	edit.AddFile(level, meta)

	d.logger.Info("memtable flushed",
		logging.FileNumber(meta.Number),
		logging.LevelNum(level),
		logging.Bytes("bytes", int64(meta.Size)),
	)
	d.reg.FlushBytes.Add(float64(meta.Size))
	return nil
}

// buildTable writes the contents of it to table file fileNum. Returns
// nil metadata when the source is empty. Runs without mu.
func (d *DB) buildTable(fileNum uint64, it iter.Iterator) (*version.FileMetadata, error) {
	defer it.Close()

	name := vfs.TableFileName(d.dir, fileNum)
	it.SeekToFirst()
	if !it.Valid() {
		return nil, it.Err()
	}

	f, err := d.fs.Create(name)
	if err != nil {
		return nil, fileErr("build table", name, err)
	}

	wopt := table.WriterOptions{
		Comparator:      d.icmp,
		BlockSize:       d.opts.BlockSize,
		RestartInterval: d.opts.BlockRestartInterval,
		Compression:     d.opts.Compression,
		Compressors:     d.opts.Compressors,
	}
	if d.opts.FilterPolicy != nil {
		wopt.FilterPolicy = internalFilterPolicy{user: d.opts.FilterPolicy}
	}
	w := table.NewWriter(f, wopt)

	meta := &version.FileMetadata{Number: fileNum}
	meta.Smallest = append([]byte(nil), it.Key()...)
	var largest []byte
	for ; it.Valid(); it.Next() {
		largest = append(largest[:0], it.Key()...)
		if err := w.Add(it.Key(), it.Value()); err != nil {
			f.Close()
			d.fs.Remove(name)
			return nil, fileErr("build table", name, err)
		}
	}
	if err := it.Err(); err != nil {
		f.Close()
		d.fs.Remove(name)
		return nil, fileErr("build table", name, err)
	}
	meta.Largest = append([]byte(nil), largest...)

	if err := w.Finish(); err != nil {
		f.Close()
		d.fs.Remove(name)
		return nil, fileErr("build table", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		d.fs.Remove(name)
		return nil, fileErr("build table", name, err)
	}
	if err := f.Close(); err != nil {
		d.fs.Remove(name)
		return nil, fileErr("build table", name, err)
	}

	size, err := d.fs.Size(name)
	if err != nil {
		return nil, fileErr("build table", name, err)
	}
	meta.Size = uint64(size)
	meta.InitAllowedSeeks()

	// Verify the fresh table is readable before publishing it.
	checkIter := d.tables.NewIterator(meta)
	checkIter.SeekToFirst()
	err = checkIter.Err()
	checkIter.Close()
	if err != nil {
		d.fs.Remove(name)
		return nil, fileErr("build table", name, err)
	}
	return meta, nil
}

// compactionState accumulates the outputs of one compaction.
type compactionState struct {
	outputs       []*version.FileMetadata
	writer        *table.Writer
	file          vfs.AppendFile
	fileNum       uint64
	smallestValid bool
}

// doCompactionWork merges the compaction inputs into new level+1 files.
// Called with mu held; the merge itself runs unlocked.
func (d *DB) doCompactionWork(c *version.Compaction) error {
	// Entries older than every live snapshot and shadowed by a newer
	// entry for the same user key can be dropped.
	smallestSnapshot := d.versions.LastSequence()
	if !d.snapshots.empty() {
		smallestSnapshot = d.snapshots.oldest().seq
	}

	d.logger.Info("compaction started",
		logging.LevelNum(c.Level()),
		logging.Int("level_files", c.NumInputFiles(0)),
		logging.Int("parent_files", c.NumInputFiles(1)),
	)

	input := c.NewInputIterator(d.tables, d.icmp.Compare)
	state := &compactionState{}

	d.mu.Unlock()
	err := d.runCompactionMerge(c, state, input, smallestSnapshot)
	input.Close()
	d.mu.Lock()

	if err != nil {
		// Remove any half-written outputs.
		for _, out := range state.outputs {
			d.fs.Remove(vfs.TableFileName(d.dir, out.Number))
		}
		if state.file != nil {
			state.file.Close()
			d.fs.Remove(vfs.TableFileName(d.dir, state.fileNum))
		}
		for _, out := range state.outputs {
			delete(d.pendingOutputs, out.Number)
		}
		delete(d.pendingOutputs, state.fileNum)
		return err
	}

	// Install: drop inputs, add outputs.
	c.AddInputDeletions()
	var outBytes int64
	for _, out := range state.outputs {
		c.Edit().AddFile(c.Level()+1, out)
		outBytes += int64(out.Size)
		delete(d.pendingOutputs, out.Number)
	}
	if err := d.versions.LogAndApply(c.Edit()); err != nil {
		return err
	}

	d.logger.Info("compaction finished",
		logging.LevelNum(c.Level()),
		logging.Int("output_files", len(state.outputs)),
		logging.Bytes("output_bytes", outBytes),
	)
	d.reg.CompactionBytesOut.Add(float64(outBytes))
	return nil
}

// runCompactionMerge is the unlocked merge loop.
func (d *DB) runCompactionMerge(c *version.Compaction, state *compactionState, input iter.Iterator, smallestSnapshot uint64) error {
	var currentUserKey []byte
	haveCurrentUserKey := false
	lastSequenceForKey := keys.MaxSequence + 1

	for input.SeekToFirst(); input.Valid(); input.Next() {
		ikey := input.Key()

		ukey, seq, kind, perr := keys.ParseInternalKey(ikey)
		drop := false
		if perr != nil {
			// Undecodable keys are carried through verbatim so damage
			// stays visible rather than silently vanishing.
			haveCurrentUserKey = false
			lastSequenceForKey = keys.MaxSequence + 1
		} else {
			if !haveCurrentUserKey || d.icmp.User.Compare(ukey, currentUserKey) != 0 {
				currentUserKey = append(currentUserKey[:0], ukey...)
				haveCurrentUserKey = true
				lastSequenceForKey = keys.MaxSequence + 1
			}

			switch {
			case lastSequenceForKey <= smallestSnapshot:
				// Shadowed by a newer entry that every snapshot sees.
				drop = true
			case kind == keys.KindDelete && seq <= smallestSnapshot && c.IsBaseLevelForKey(ukey):
				// The tombstone deletes nothing in deeper levels, and
				// no snapshot can observe the deletion itself.
				drop = true
			}
			lastSequenceForKey = seq
		}

		if drop {
			continue
		}

		// Cut the output early if it would overlap too much grandparent
		// data.
		if state.writer != nil && c.ShouldStopBefore(ikey) {
			if err := d.finishCompactionOutput(state); err != nil {
				return err
			}
		}

		if state.writer == nil {
			if err := d.openCompactionOutput(state); err != nil {
				return err
			}
		}
		if !state.smallestValid {
			state.outputs[len(state.outputs)-1].Smallest = append([]byte(nil), ikey...)
			state.smallestValid = true
		}
		state.outputs[len(state.outputs)-1].Largest = append(
			state.outputs[len(state.outputs)-1].Largest[:0], ikey...)

		if err := state.writer.Add(ikey, input.Value()); err != nil {
			return err
		}
		if state.writer.EstimatedSize() >= c.MaxOutputFileSize() {
			if err := d.finishCompactionOutput(state); err != nil {
				return err
			}
		}
	}
	if err := input.Err(); err != nil {
		return err
	}
	if state.writer != nil {
		return d.finishCompactionOutput(state)
	}
	return nil
}

// openCompactionOutput starts a new output file. Takes mu briefly for
// the file number allocation.
func (d *DB) openCompactionOutput(state *compactionState) error {
	d.mu.Lock()
	fileNum := d.versions.NewFileNumber()
	d.pendingOutputs[fileNum] = true
	d.mu.Unlock()

	name := vfs.TableFileName(d.dir, fileNum)
	f, err := d.fs.Create(name)
	if err != nil {
		return fileErr("compaction output", name, err)
	}

	wopt := table.WriterOptions{
		Comparator:      d.icmp,
		BlockSize:       d.opts.BlockSize,
		RestartInterval: d.opts.BlockRestartInterval,
		Compression:     d.opts.Compression,
		Compressors:     d.opts.Compressors,
	}
	if d.opts.FilterPolicy != nil {
		wopt.FilterPolicy = internalFilterPolicy{user: d.opts.FilterPolicy}
	}

	state.writer = table.NewWriter(f, wopt)
	state.file = f
	state.fileNum = fileNum
	state.smallestValid = false
	state.outputs = append(state.outputs, &version.FileMetadata{Number: fileNum})
	return nil
}

// finishCompactionOutput seals the current output file.
func (d *DB) finishCompactionOutput(state *compactionState) error {
	name := vfs.TableFileName(d.dir, state.fileNum)
	if err := state.writer.Finish(); err != nil {
		return fileErr("compaction output", name, err)
	}
	if err := state.file.Sync(); err != nil {
		return fileErr("compaction output", name, err)
	}
	if err := state.file.Close(); err != nil {
		return fileErr("compaction output", name, err)
	}
	out := state.outputs[len(state.outputs)-1]
	size, err := d.fs.Size(name)
	if err != nil {
		return fileErr("compaction output", name, err)
	}
	out.Size = uint64(size)
	out.InitAllowedSeeks()

	state.writer = nil
	state.file = nil
	return nil
}

// deleteObsoleteFiles removes files no version references. Called with
// mu held.
func (d *DB) deleteObsoleteFiles() error {
	live := d.versions.LiveFiles()
	for num := range d.pendingOutputs {
		live[num] = true
	}

	names, err := d.fs.List(d.dir)
	if err != nil {
		return fileErr("gc", d.dir, err)
	}
	for _, name := range names {
		ft, num, ok := vfs.ParseFileName(name)
		if !ok {
			continue
		}
		keep := true
		switch ft {
		case vfs.TypeLog:
			keep = num >= d.versions.LogNumber() || num == d.versions.PrevLogNumber()
		case vfs.TypeManifest:
			keep = num >= d.versions.ManifestFileNumber()
		case vfs.TypeTable, vfs.TypeTemp:
			keep = live[num]
		}
		if keep {
			continue
		}
		if ft == vfs.TypeTable {
			d.tables.evict(num)
			d.blockCache.EvictFile(num)
		}
		d.logger.Debug("removing obsolete file", logging.String("name", name))
		d.fs.Remove(filepath.Join(d.dir, name))
	}
	return nil
}

// updateLevelMetrics refreshes the per-level gauges. Called with mu held.
func (d *DB) updateLevelMetrics() {
	current := d.versions.Current()
	files := make([]int, version.NumLevels)
	bytes := make([]int64, version.NumLevels)
	for level := 0; level < version.NumLevels; level++ {
		files[level] = current.NumFiles(level)
		for _, f := range current.Files(level) {
			bytes[level] += int64(f.Size)
		}
	}
	d.reg.UpdateLevels(files, bytes)
}
