package version

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dd0wney/cluso-leveldb/pkg/keys"
	"github.com/dd0wney/cluso-leveldb/pkg/logging"
	"github.com/dd0wney/cluso-leveldb/pkg/vfs"
	"github.com/dd0wney/cluso-leveldb/pkg/wal"
)

// ErrComparatorMismatch is returned when the MANIFEST was written under a
// differently-named comparator.
var ErrComparatorMismatch = errors.New("comparator name does not match the database")

// VersionSet owns the chain of versions, the file number and sequence
// allocators, and the MANIFEST. All mutation happens under the engine's
// write mutex; read-side access goes through the pinned current Version.
type VersionSet struct {
	dir    string
	fs     vfs.FS
	icmp   keys.InternalComparator
	logger logging.Logger

	current *Version

	nextFileNumber     uint64
	manifestFileNumber uint64
	lastSequence       uint64
	logNumber          uint64
	prevLogNumber      uint64

	compactPointers [NumLevels][]byte

	manifestFile vfs.AppendFile
	manifestLog  *wal.Writer
}

// NewVersionSet creates an empty version set rooted at dir.
func NewVersionSet(dir string, fs vfs.FS, icmp keys.InternalComparator, logger logging.Logger) *VersionSet {
	vs := &VersionSet{
		dir:            dir,
		fs:             fs,
		icmp:           icmp,
		logger:         logger,
		nextFileNumber: 2,
		logNumber:      0,
		prevLogNumber:  0,
	}
	vs.appendVersion(newVersion(icmp))
	return vs
}

// Current returns the live version. Callers that use it outside the
// engine mutex must Ref it first.
func (vs *VersionSet) Current() *Version {
	return vs.current
}

// NewFileNumber allocates a file number.
func (vs *VersionSet) NewFileNumber() uint64 {
	n := vs.nextFileNumber
	vs.nextFileNumber++
	return n
}

// ReuseFileNumber returns an unused allocation, keeping numbers dense
// when table construction is abandoned.
func (vs *VersionSet) ReuseFileNumber(num uint64) {
	if vs.nextFileNumber == num+1 {
		vs.nextFileNumber = num
	}
}

// MarkFileNumberUsed advances the allocator past num (used while
// replaying WAL numbers).
func (vs *VersionSet) MarkFileNumberUsed(num uint64) {
	if vs.nextFileNumber <= num {
		vs.nextFileNumber = num + 1
	}
}

// LastSequence returns the newest committed sequence number.
func (vs *VersionSet) LastSequence() uint64 {
	return vs.lastSequence
}

// SetLastSequence publishes a newly committed sequence number.
func (vs *VersionSet) SetLastSequence(seq uint64) {
	vs.lastSequence = seq
}

// LogNumber is the WAL backing the current memtable.
func (vs *VersionSet) LogNumber() uint64 { return vs.logNumber }

// PrevLogNumber is the WAL backing the immutable memtable, zero if none.
func (vs *VersionSet) PrevLogNumber() uint64 { return vs.prevLogNumber }

// ManifestFileNumber is the number of the open MANIFEST.
func (vs *VersionSet) ManifestFileNumber() uint64 { return vs.manifestFileNumber }

// appendVersion installs v as current.
func (vs *VersionSet) appendVersion(v *Version) {
	if vs.current != nil {
		vs.current.Unref()
	}
	v.Ref()
	vs.current = v
}

// Recover rebuilds the version set from the MANIFEST named by CURRENT.
func (vs *VersionSet) Recover() error {
	manifestName, err := vfs.ReadCurrentFile(vs.fs, vs.dir)
	if err != nil {
		return fmt.Errorf("read CURRENT: %w", err)
	}
	manifestPath := filepath.Join(vs.dir, manifestName)

	f, err := vs.fs.OpenRandom(manifestPath)
	if err != nil {
		return fmt.Errorf("open manifest %s: %w", manifestName, err)
	}
	defer f.Close()
	size, err := vs.fs.Size(manifestPath)
	if err != nil {
		return fmt.Errorf("size manifest %s: %w", manifestName, err)
	}

	var (
		haveLogNumber      bool
		haveNextFile       bool
		haveLastSequence   bool
		logNumber          uint64
		prevLogNumber      uint64
		nextFileNumber     uint64
		lastSequence       uint64
	)

	b := newBuilder(vs.icmp, vs.current)
	reader := wal.NewReader(io.NewSectionReader(f, 0, size))
	for {
		rec, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("manifest %s: %w", manifestName, err)
		}
		edit, err := DecodeEdit(rec)
		if err != nil {
			return fmt.Errorf("manifest %s: %w", manifestName, err)
		}
		if edit.hasComparatorName && edit.ComparatorName != vs.icmp.User.Name() {
			return fmt.Errorf("%w: manifest has %q, options give %q",
				ErrComparatorMismatch, edit.ComparatorName, vs.icmp.User.Name())
		}
		b.apply(edit, vs)
		if edit.hasLogNumber {
			logNumber = edit.LogNumber
			haveLogNumber = true
		}
		if edit.hasPrevLogNumber {
			prevLogNumber = edit.PrevLogNumber
		}
		if edit.hasNextFileNumber {
			nextFileNumber = edit.NextFileNumber
			haveNextFile = true
		}
		if edit.hasLastSequence {
			lastSequence = edit.LastSequence
			haveLastSequence = true
		}
	}
	if !haveNextFile {
		return fmt.Errorf("manifest %s has no next-file entry", manifestName)
	}
	if !haveLogNumber {
		return fmt.Errorf("manifest %s has no log-number entry", manifestName)
	}
	if !haveLastSequence {
		return fmt.Errorf("manifest %s has no last-sequence entry", manifestName)
	}

	v := newVersion(vs.icmp)
	if err := b.saveTo(v); err != nil {
		return fmt.Errorf("manifest %s: %w", manifestName, err)
	}
	finalizeVersion(v)
	vs.appendVersion(v)

	vs.logNumber = logNumber
	vs.prevLogNumber = prevLogNumber
	vs.nextFileNumber = nextFileNumber
	vs.lastSequence = lastSequence
	vs.MarkFileNumberUsed(logNumber)
	vs.MarkFileNumberUsed(prevLogNumber)
	vs.manifestFileNumber = vs.NewFileNumber()

	vs.logger.Info("manifest recovered",
		logging.String("manifest", manifestName),
		logging.Int64("last_sequence", int64(lastSequence)),
		logging.Int64("next_file", int64(vs.nextFileNumber)),
	)
	return nil
}

// LogAndApply journals edit and installs the resulting version. On the
// first call of a run it starts a fresh MANIFEST with a full snapshot
// and atomically retargets CURRENT.
func (vs *VersionSet) LogAndApply(edit *VersionEdit) error {
	if edit.hasLogNumber {
		if edit.LogNumber < vs.logNumber || edit.LogNumber >= vs.nextFileNumber {
			return fmt.Errorf("version edit log number %d out of range", edit.LogNumber)
		}
	} else {
		edit.SetLogNumber(vs.logNumber)
	}
	if !edit.hasPrevLogNumber {
		edit.SetPrevLogNumber(vs.prevLogNumber)
	}
	edit.SetNextFileNumber(vs.nextFileNumber)
	edit.SetLastSequence(vs.lastSequence)

	v := newVersion(vs.icmp)
	b := newBuilder(vs.icmp, vs.current)
	b.apply(edit, vs)
	if err := b.saveTo(v); err != nil {
		return err
	}
	finalizeVersion(v)

	created := false
	if vs.manifestLog == nil {
		if vs.manifestFileNumber == 0 {
			vs.manifestFileNumber = vs.NewFileNumber()
		}
		if err := vs.createNewManifest(); err != nil {
			return err
		}
		created = true
	}

	if err := vs.writeEdit(edit); err != nil {
		// The old MANIFEST (or none) remains authoritative; the caller
		// may retry. A failure after CURRENT retarget would be fatal,
		// but retargeting happens below only on success.
		if created {
			vs.closeManifest()
			vs.fs.Remove(vfs.ManifestFileName(vs.dir, vs.manifestFileNumber))
		}
		return err
	}
	if created {
		if err := vfs.SetCurrentFile(vs.fs, vs.dir, vs.manifestFileNumber); err != nil {
			vs.closeManifest()
			return fmt.Errorf("retarget CURRENT: %w", err)
		}
	}

	vs.appendVersion(v)
	vs.logNumber = edit.LogNumber
	vs.prevLogNumber = edit.PrevLogNumber
	return nil
}

// createNewManifest opens a fresh MANIFEST seeded with a snapshot edit.
func (vs *VersionSet) createNewManifest() error {
	name := vfs.ManifestFileName(vs.dir, vs.manifestFileNumber)
	f, err := vs.fs.Create(name)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	vs.manifestFile = f
	vs.manifestLog = wal.NewWriter(f)

	snapshot := &VersionEdit{}
	snapshot.SetComparatorName(vs.icmp.User.Name())
	for level := 0; level < NumLevels; level++ {
		if cp := vs.compactPointers[level]; cp != nil {
			snapshot.SetCompactPointer(level, cp)
		}
		for _, meta := range vs.current.files[level] {
			snapshot.AddFile(level, meta)
		}
	}
	if err := vs.manifestLog.AddRecord(snapshot.Encode()); err != nil {
		vs.closeManifest()
		vs.fs.Remove(name)
		return fmt.Errorf("write manifest snapshot: %w", err)
	}
	return nil
}

func (vs *VersionSet) writeEdit(edit *VersionEdit) error {
	if err := vs.manifestLog.AddRecord(edit.Encode()); err != nil {
		return fmt.Errorf("append manifest edit: %w", err)
	}
	if err := vs.manifestFile.Sync(); err != nil {
		return fmt.Errorf("sync manifest: %w", err)
	}
	return nil
}

func (vs *VersionSet) closeManifest() {
	if vs.manifestFile != nil {
		vs.manifestFile.Close()
	}
	vs.manifestFile = nil
	vs.manifestLog = nil
}

// Close releases the MANIFEST writer and the current version pin.
func (vs *VersionSet) Close() {
	vs.closeManifest()
	if vs.current != nil {
		vs.current.Unref()
		vs.current = nil
	}
}

// LiveFiles collects the numbers of every table referenced by any level
// of the current version.
func (vs *VersionSet) LiveFiles() map[uint64]bool {
	live := make(map[uint64]bool)
	for level := 0; level < NumLevels; level++ {
		for _, f := range vs.current.files[level] {
			live[f.Number] = true
		}
	}
	return live
}

// finalizeVersion computes the level most in need of size compaction.
func finalizeVersion(v *Version) {
	bestLevel := -1
	bestScore := -1.0
	for level := 0; level < NumLevels-1; level++ {
		var score float64
		if level == 0 {
			// L0 is scored by file count: every file is consulted by
			// every read, so the count matters more than the bytes.
			score = float64(len(v.files[0])) / float64(L0CompactionTrigger)
		} else {
			score = float64(totalFileSize(v.files[level])) / MaxBytesForLevel(level)
		}
		if score > bestScore {
			bestScore = score
			bestLevel = level
		}
	}
	v.compactionLevel = bestLevel
	v.compactionScore = bestScore
}
