package version

import (
	"encoding/binary"
	"sort"
	"sync/atomic"

	"github.com/dd0wney/cluso-leveldb/pkg/iter"
	"github.com/dd0wney/cluso-leveldb/pkg/keys"
)

// TableOps is the version's window onto open table files; the engine's
// table cache implements it.
type TableOps interface {
	// Get returns the first entry at or after ikey in file f.
	Get(f *FileMetadata, ikey []byte) (rkey, rvalue []byte, ok bool, err error)

	// NewIterator walks file f in internal key order. The iterator pins
	// the table handle until closed.
	NewIterator(f *FileMetadata) iter.Iterator

	// ApproximateOffset estimates the offset of ikey within file f.
	ApproximateOffset(f *FileMetadata, ikey []byte) uint64
}

// Version is an immutable snapshot of the level layout. Readers pin a
// Version with Ref/Unref and keep using it while newer versions are
// installed.
type Version struct {
	icmp  keys.InternalComparator
	files [NumLevels][]*FileMetadata
	refs  atomic.Int32

	// Size-compaction state, computed by finalize on install.
	compactionScore float64
	compactionLevel int

	// Seek-compaction state, set by UpdateStats.
	fileToCompact      atomic.Pointer[FileMetadata]
	fileToCompactLevel atomic.Int32
}

func newVersion(icmp keys.InternalComparator) *Version {
	v := &Version{icmp: icmp, compactionLevel: -1, compactionScore: -1}
	v.fileToCompactLevel.Store(-1)
	return v
}

// Ref pins the version.
func (v *Version) Ref() {
	v.refs.Add(1)
}

// Unref releases a pin. Memory is reclaimed by the collector once the
// last reference and the version list both let go.
func (v *Version) Unref() {
	v.refs.Add(-1)
}

// Files returns the file list of a level, ordered by smallest key (ties
// broken by file number) at every level; L0 files may overlap.
func (v *Version) Files(level int) []*FileMetadata {
	return v.files[level]
}

// NumFiles returns the file count at a level.
func (v *Version) NumFiles(level int) int {
	return len(v.files[level])
}

// GetStats records which file served (or failed to serve) a Get so the
// seek-compaction heuristic can charge it.
type GetStats struct {
	seekFile      *FileMetadata
	seekFileLevel int
}

// Get searches the version for ikey's user key, newest level first. The
// returned stats must be fed to UpdateStats.
func (v *Version) Get(ops TableOps, ikey []byte, ucmp keys.Comparator) (value []byte, kind keys.Kind, ok bool, stats GetStats, err error) {
	ukey := keys.UserKey(ikey)
	stats.seekFileLevel = -1

	var lastRead *FileMetadata
	lastReadLevel := -1

	match := func(level int, f *FileMetadata) (done bool) {
		// A read that touches more than one file charges a seek against
		// the first file it had to pass through.
		if lastRead != nil && stats.seekFile == nil {
			stats.seekFile = lastRead
			stats.seekFileLevel = lastReadLevel
		}
		lastRead, lastReadLevel = f, level

		rkey, rvalue, found, gerr := ops.Get(f, ikey)
		if gerr != nil {
			err = gerr
			return true
		}
		if !found {
			return false
		}
		rukey, _, rkind, perr := keys.ParseInternalKey(rkey)
		if perr != nil || ucmp.Compare(rukey, ukey) != 0 {
			return false
		}
		value, kind, ok = rvalue, rkind, true
		return true
	}

	// L0 files may overlap; probe them newest-first.
	l0 := make([]*FileMetadata, 0, len(v.files[0]))
	for _, f := range v.files[0] {
		if ucmp.Compare(ukey, keys.UserKey(f.Smallest)) >= 0 &&
			ucmp.Compare(ukey, keys.UserKey(f.Largest)) <= 0 {
			l0 = append(l0, f)
		}
	}
	sort.Slice(l0, func(i, j int) bool { return l0[i].Number > l0[j].Number })
	for _, f := range l0 {
		if match(0, f) {
			return value, kind, ok, stats, err
		}
	}

	// Deeper levels are disjoint: at most one candidate per level.
	for level := 1; level < NumLevels; level++ {
		files := v.files[level]
		if len(files) == 0 {
			continue
		}
		i := sort.Search(len(files), func(i int) bool {
			return v.icmp.Compare(files[i].Largest, ikey) >= 0
		})
		if i >= len(files) {
			continue
		}
		f := files[i]
		if ucmp.Compare(ukey, keys.UserKey(f.Smallest)) < 0 {
			continue
		}
		if match(level, f) {
			return value, kind, ok, stats, err
		}
	}

	return value, kind, ok, stats, err
}

// UpdateStats burns a seek on the file stats names. It reports whether
// the version now has a seek-triggered compaction candidate.
func (v *Version) UpdateStats(stats GetStats) bool {
	f := stats.seekFile
	if f == nil {
		return false
	}
	if f.ConsumeSeek() && v.fileToCompact.Load() == nil {
		v.fileToCompact.Store(f)
		v.fileToCompactLevel.Store(int32(stats.seekFileLevel))
		return true
	}
	return false
}

// NeedsCompaction reports whether a size or seek trigger is pending.
func (v *Version) NeedsCompaction() bool {
	return v.compactionScore >= 1 || v.fileToCompact.Load() != nil
}

// SomeFileOverlapsRange reports whether any file at level intersects the
// user-key range [smallest, largest]; nil bounds are unbounded.
func (v *Version) SomeFileOverlapsRange(level int, smallest, largest []byte) bool {
	ucmp := v.icmp.User
	files := v.files[level]
	if level == 0 {
		for _, f := range files {
			if (largest == nil || ucmp.Compare(keys.UserKey(f.Smallest), largest) <= 0) &&
				(smallest == nil || ucmp.Compare(keys.UserKey(f.Largest), smallest) >= 0) {
				return true
			}
		}
		return false
	}
	// Disjoint level: find the first file whose largest >= smallest.
	i := 0
	if smallest != nil {
		probe := keys.MakeInternalKey(nil, smallest, keys.MaxSequence, keys.KindSeek)
		i = sort.Search(len(files), func(i int) bool {
			return v.icmp.Compare(files[i].Largest, probe) >= 0
		})
	}
	if i >= len(files) {
		return false
	}
	return largest == nil || ucmp.Compare(keys.UserKey(files[i].Smallest), largest) <= 0
}

// PickLevelForMemTableOutput chooses where a fresh flush may be placed:
// push past L0 while the file overlaps nothing and grandparent overlap
// stays modest.
func (v *Version) PickLevelForMemTableOutput(smallest, largest []byte) int {
	level := 0
	if v.SomeFileOverlapsRange(0, smallest, largest) {
		return 0
	}
	for level < MaxMemCompactLevel {
		if v.SomeFileOverlapsRange(level+1, smallest, largest) {
			break
		}
		if level+2 < NumLevels {
			overlaps := v.OverlappingInputs(level+2, smallest, largest)
			if totalFileSize(overlaps) > MaxGrandParentOverlapBytes {
				break
			}
		}
		level++
	}
	return level
}

// OverlappingInputs returns every file at level intersecting the
// user-key range [begin, end]; nil bounds are unbounded. For L0 the
// range grows transitively, because overlapping L0 files must compact
// together.
func (v *Version) OverlappingInputs(level int, begin, end []byte) []*FileMetadata {
	ucmp := v.icmp.User
	var inputs []*FileMetadata

	for i := 0; i < len(v.files[level]); i++ {
		f := v.files[level][i]
		fStart := keys.UserKey(f.Smallest)
		fLimit := keys.UserKey(f.Largest)
		if begin != nil && ucmp.Compare(fLimit, begin) < 0 {
			continue
		}
		if end != nil && ucmp.Compare(fStart, end) > 0 {
			continue
		}
		inputs = append(inputs, f)
		if level == 0 {
			// L0 files overlap each other; widen and restart so every
			// transitively-overlapping file joins the set.
			if begin != nil && ucmp.Compare(fStart, begin) < 0 {
				begin = fStart
				inputs = inputs[:0]
				i = -1
			} else if end != nil && ucmp.Compare(fLimit, end) > 0 {
				end = fLimit
				inputs = inputs[:0]
				i = -1
			}
		}
	}
	return inputs
}

// NewConcatenatingIterator walks one disjoint level (L1+) through a
// two-level iterator over the file list.
func (v *Version) NewConcatenatingIterator(ops TableOps, level int) iter.Iterator {
	return newFilesIterator(v.icmp, v.files[level], ops)
}

// Iterators returns every iterator needed to merge the version: one per
// L0 file plus one concatenating iterator per deeper non-empty level.
func (v *Version) Iterators(ops TableOps) []iter.Iterator {
	var its []iter.Iterator
	for _, f := range v.files[0] {
		its = append(its, ops.NewIterator(f))
	}
	for level := 1; level < NumLevels; level++ {
		if len(v.files[level]) > 0 {
			its = append(its, v.NewConcatenatingIterator(ops, level))
		}
	}
	return its
}

// fileListIterator yields (largest key -> encoded file number) for the
// files of a disjoint level, serving as the index of a two-level
// iterator.
type fileListIterator struct {
	icmp  keys.InternalComparator
	files []*FileMetadata
	pos   int
	valBuf [8]byte
}

func newFileListIterator(icmp keys.InternalComparator, files []*FileMetadata) *fileListIterator {
	return &fileListIterator{icmp: icmp, files: files, pos: len(files)}
}

func (i *fileListIterator) Valid() bool  { return i.pos >= 0 && i.pos < len(i.files) }
func (i *fileListIterator) SeekToFirst() { i.pos = 0 }
func (i *fileListIterator) SeekToLast()  { i.pos = len(i.files) - 1 }

func (i *fileListIterator) Seek(target []byte) {
	i.pos = sort.Search(len(i.files), func(n int) bool {
		return i.icmp.Compare(i.files[n].Largest, target) >= 0
	})
}

func (i *fileListIterator) Next() { i.pos++ }
func (i *fileListIterator) Prev() { i.pos-- }

func (i *fileListIterator) Key() []byte {
	if !i.Valid() {
		return nil
	}
	return i.files[i.pos].Largest
}

func (i *fileListIterator) Value() []byte {
	if !i.Valid() {
		return nil
	}
	binary.LittleEndian.PutUint64(i.valBuf[:], i.files[i.pos].Number)
	return i.valBuf[:]
}

func (i *fileListIterator) Err() error   { return nil }
func (i *fileListIterator) Close() error { return nil }
