package version

import (
	"encoding/binary"

	"github.com/dd0wney/cluso-leveldb/pkg/iter"
	"github.com/dd0wney/cluso-leveldb/pkg/keys"
	"github.com/dd0wney/cluso-leveldb/pkg/logging"
)

// Compaction describes one unit of background work: merge inputs[0]
// (level files) with inputs[1] (level+1 files) into new level+1 files.
type Compaction struct {
	level   int
	version *Version
	inputs  [2][]*FileMetadata

	// grandparents are the level+2 files overlapping the compaction,
	// used to cut output files before they become expensive to compact
	// later.
	grandparents      []*FileMetadata
	grandparentIndex  int
	seenKey           bool
	overlappedBytes   int64

	// levelPtrs tracks per-level positions for IsBaseLevelForKey.
	levelPtrs [NumLevels]int

	edit VersionEdit
}

// Level is the input level being compacted.
func (c *Compaction) Level() int { return c.level }

// Input returns file i of which (0 = level, 1 = level+1).
func (c *Compaction) Input(which, i int) *FileMetadata { return c.inputs[which][i] }

// NumInputFiles returns the file count of an input set.
func (c *Compaction) NumInputFiles(which int) int { return len(c.inputs[which]) }

// Inputs returns one input file list.
func (c *Compaction) Inputs(which int) []*FileMetadata { return c.inputs[which] }

// Edit exposes the pending version edit for this compaction.
func (c *Compaction) Edit() *VersionEdit { return &c.edit }

// Version is the pinned version the inputs belong to.
func (c *Compaction) Version() *Version { return c.version }

// MaxOutputFileSize is the size at which an output file is closed.
func (c *Compaction) MaxOutputFileSize() uint64 {
	return MaxFileSizeForLevel(c.level + 1)
}

// IsTrivialMove reports whether the compaction can be performed by
// reassigning a single file to the next level.
func (c *Compaction) IsTrivialMove() bool {
	return len(c.inputs[0]) == 1 &&
		len(c.inputs[1]) == 0 &&
		totalFileSize(c.grandparents) <= MaxGrandParentOverlapBytes
}

// AddInputDeletions records the removal of every input file.
func (c *Compaction) AddInputDeletions() {
	for which := 0; which < 2; which++ {
		for _, f := range c.inputs[which] {
			c.edit.DeleteFile(c.level+which, f.Number)
		}
	}
}

// IsBaseLevelForKey reports whether no level deeper than the output
// holds ukey, which lets the merge drop tombstones instead of carrying
// them down.
func (c *Compaction) IsBaseLevelForKey(ukey []byte) bool {
	ucmp := c.version.icmp.User
	for level := c.level + 2; level < NumLevels; level++ {
		files := c.version.files[level]
		for c.levelPtrs[level] < len(files) {
			f := files[c.levelPtrs[level]]
			if ucmp.Compare(ukey, keys.UserKey(f.Largest)) <= 0 {
				if ucmp.Compare(ukey, keys.UserKey(f.Smallest)) >= 0 {
					return false
				}
				break
			}
			// Keys arrive in increasing order, so the pointer only
			// moves forward.
			c.levelPtrs[level]++
		}
	}
	return true
}

// ShouldStopBefore reports whether the current output file should be cut
// before ikey to bound its overlap with the grandparent level.
func (c *Compaction) ShouldStopBefore(ikey []byte) bool {
	icmp := c.version.icmp
	for c.grandparentIndex < len(c.grandparents) &&
		icmp.Compare(ikey, c.grandparents[c.grandparentIndex].Largest) > 0 {
		if c.seenKey {
			c.overlappedBytes += int64(c.grandparents[c.grandparentIndex].Size)
		}
		c.grandparentIndex++
	}
	c.seenKey = true
	if c.overlappedBytes > MaxGrandParentOverlapBytes {
		c.overlappedBytes = 0
		return true
	}
	return false
}

// NewInputIterator merges every input file of the compaction into one
// internal-key-ordered stream. L0 inputs get one iterator per file
// (they overlap); deeper inputs share a concatenating iterator.
func (c *Compaction) NewInputIterator(ops TableOps, cmp iter.Compare) iter.Iterator {
	var its []iter.Iterator
	for which := 0; which < 2; which++ {
		if len(c.inputs[which]) == 0 {
			continue
		}
		if c.level+which == 0 {
			for _, f := range c.inputs[which] {
				its = append(its, ops.NewIterator(f))
			}
		} else {
			its = append(its, newFilesIterator(c.version.icmp, c.inputs[which], ops))
		}
	}
	return iter.NewMerging(cmp, its...)
}

// newFilesIterator concatenates the tables of a disjoint, sorted file
// list.
func newFilesIterator(icmp keys.InternalComparator, files []*FileMetadata, ops TableOps) iter.Iterator {
	return iter.NewTwoLevel(newFileListIterator(icmp, files), func(value []byte) (iter.Iterator, error) {
		num := binary.LittleEndian.Uint64(value)
		for _, f := range files {
			if f.Number == num {
				return ops.NewIterator(f), nil
			}
		}
		return iter.Empty(nil), nil
	})
}

// Release drops the compaction's pin on its version.
func (c *Compaction) Release() {
	if c.version != nil {
		c.version.Unref()
		c.version = nil
	}
}

// PickCompaction selects the next unit of background work, or nil when
// nothing needs compacting. Size triggers take precedence over seek
// triggers.
func (vs *VersionSet) PickCompaction() *Compaction {
	v := vs.current

	var c *Compaction
	switch {
	case v.compactionScore >= 1:
		level := v.compactionLevel
		c = &Compaction{level: level, version: v}
		// Resume after the last compacted key at this level, wrapping
		// to the start when the cursor passes the final file.
		ptr := vs.compactPointers[level]
		for _, f := range v.files[level] {
			if ptr == nil || vs.icmp.Compare(f.Largest, ptr) > 0 {
				c.inputs[0] = append(c.inputs[0], f)
				break
			}
		}
		if len(c.inputs[0]) == 0 && len(v.files[level]) > 0 {
			c.inputs[0] = append(c.inputs[0], v.files[level][0])
		}
	case v.fileToCompact.Load() != nil:
		level := int(v.fileToCompactLevel.Load())
		if level+1 >= NumLevels {
			// A bottom-level file has nowhere to go.
			return nil
		}
		c = &Compaction{level: level, version: v}
		c.inputs[0] = append(c.inputs[0], v.fileToCompact.Load())
	default:
		return nil
	}
	if len(c.inputs[0]) == 0 {
		return nil
	}

	v.Ref()

	if c.level == 0 {
		// L0 inputs must include every overlapping L0 file.
		smallest, largest := keyRange(vs.icmp, c.inputs[0])
		c.inputs[0] = v.OverlappingInputs(0, keys.UserKey(smallest), keys.UserKey(largest))
	}

	vs.setupOtherInputs(c)
	return c
}

// CompactRange builds a manual compaction over [begin, end] user keys at
// the given level, or nil when the level has no overlap.
func (vs *VersionSet) CompactRange(level int, begin, end []byte) *Compaction {
	inputs := vs.current.OverlappingInputs(level, begin, end)
	if len(inputs) == 0 {
		return nil
	}
	// Avoid pathological manual compactions at deep levels by trimming
	// the input set once it reaches 25 target file sizes of data.
	if level > 0 {
		limit := int64(MaxFileSizeForLevel(level)) * 25
		var total int64
		for i, f := range inputs {
			total += int64(f.Size)
			if total >= limit {
				inputs = inputs[:i+1]
				break
			}
		}
	}

	c := &Compaction{level: level, version: vs.current}
	c.version.Ref()
	c.inputs[0] = inputs
	vs.setupOtherInputs(c)
	return c
}

// setupOtherInputs selects the level+1 files, re-expands the level set
// when that costs nothing at level+1, and records the compact pointer.
func (vs *VersionSet) setupOtherInputs(c *Compaction) {
	v := c.version
	level := c.level

	smallest, largest := keyRange(vs.icmp, c.inputs[0])
	c.inputs[1] = v.OverlappingInputs(level+1, keys.UserKey(smallest), keys.UserKey(largest))

	allStart, allLimit := keyRange(vs.icmp, append(append([]*FileMetadata{}, c.inputs[0]...), c.inputs[1]...))

	if len(c.inputs[1]) > 0 {
		// Try growing the level inputs to every file covered by the
		// joint range, as long as the level+1 set stays fixed and the
		// total stays bounded.
		expanded0 := v.OverlappingInputs(level, keys.UserKey(allStart), keys.UserKey(allLimit))
		inputs0Size := totalFileSize(c.inputs[0])
		inputs1Size := totalFileSize(c.inputs[1])
		expanded0Size := totalFileSize(expanded0)
		if len(expanded0) > len(c.inputs[0]) &&
			inputs1Size+expanded0Size < ExpandedCompactionByteSizeLimit {
			newStart, newLimit := keyRange(vs.icmp, expanded0)
			expanded1 := v.OverlappingInputs(level+1, keys.UserKey(newStart), keys.UserKey(newLimit))
			if len(expanded1) == len(c.inputs[1]) {
				vs.logger.Debug("expanding compaction inputs",
					logging.Int("level", level),
					logging.Int("files_before", len(c.inputs[0])),
					logging.Int("files_after", len(expanded0)),
					logging.Int64("bytes_before", inputs0Size),
					logging.Int64("bytes_after", expanded0Size),
				)
				c.inputs[0] = expanded0
				smallest, largest = newStart, newLimit
				allStart, allLimit = keyRange(vs.icmp, append(append([]*FileMetadata{}, c.inputs[0]...), c.inputs[1]...))
			}
		}
	}

	if level+2 < NumLevels {
		c.grandparents = v.OverlappingInputs(level+2, keys.UserKey(allStart), keys.UserKey(allLimit))
	}

	// Future size compactions at this level resume past largest.
	vs.compactPointers[level] = append([]byte(nil), largest...)
	c.edit.SetCompactPointer(level, largest)
}

// keyRange returns the smallest and largest internal keys spanned by
// files.
func keyRange(icmp keys.InternalComparator, files []*FileMetadata) (smallest, largest []byte) {
	for i, f := range files {
		if i == 0 {
			smallest, largest = f.Smallest, f.Largest
			continue
		}
		if icmp.Compare(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if icmp.Compare(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	return smallest, largest
}
