package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-leveldb/pkg/keys"
	"github.com/dd0wney/cluso-leveldb/pkg/logging"
	"github.com/dd0wney/cluso-leveldb/pkg/vfs"
)

func testICmp() keys.InternalComparator {
	return keys.InternalComparator{User: keys.BytewiseComparator()}
}

func ikey(ukey string, seq uint64) []byte {
	return keys.MakeInternalKey(nil, []byte(ukey), seq, keys.KindSet)
}

func mkFile(num uint64, size uint64, smallest, largest string) *FileMetadata {
	f := &FileMetadata{
		Number:   num,
		Size:     size,
		Smallest: ikey(smallest, 100),
		Largest:  ikey(largest, 1),
	}
	f.InitAllowedSeeks()
	return f
}

func TestEditRoundTrip(t *testing.T) {
	e := &VersionEdit{}
	e.SetComparatorName("leveldb.BytewiseComparator")
	e.SetLogNumber(12)
	e.SetPrevLogNumber(0)
	e.SetNextFileNumber(14)
	e.SetLastSequence(999)
	e.SetCompactPointer(2, ikey("pivot", 5))
	e.DeleteFile(1, 7)
	e.AddFile(2, mkFile(13, 4096, "aaa", "zzz"))

	decoded, err := DecodeEdit(e.Encode())
	require.NoError(t, err)

	assert.Equal(t, "leveldb.BytewiseComparator", decoded.ComparatorName)
	assert.Equal(t, uint64(12), decoded.LogNumber)
	assert.Equal(t, uint64(14), decoded.NextFileNumber)
	assert.Equal(t, uint64(999), decoded.LastSequence)
	require.Len(t, decoded.CompactPointers, 1)
	assert.Equal(t, 2, decoded.CompactPointers[0].Level)
	require.Len(t, decoded.DeletedFiles, 1)
	assert.Equal(t, DeletedFile{Level: 1, Number: 7}, decoded.DeletedFiles[0])
	require.Len(t, decoded.NewFiles, 1)
	nf := decoded.NewFiles[0]
	assert.Equal(t, 2, nf.Level)
	assert.Equal(t, uint64(13), nf.Meta.Number)
	assert.Equal(t, uint64(4096), nf.Meta.Size)
	assert.Equal(t, ikey("aaa", 100), nf.Meta.Smallest)
	assert.Equal(t, ikey("zzz", 1), nf.Meta.Largest)
	assert.Positive(t, nf.Meta.AllowedSeeks())
}

func TestEditDecodeErrors(t *testing.T) {
	_, err := DecodeEdit([]byte{tagComparator})
	assert.Error(t, err)

	_, err = DecodeEdit([]byte{0x63})
	assert.Error(t, err, "unknown tag")

	// Level out of range.
	bad := (&VersionEdit{DeletedFiles: []DeletedFile{{Level: NumLevels, Number: 1}}}).Encode()
	_, err = DecodeEdit(bad)
	assert.Error(t, err)
}

func TestBuilderAppliesEdits(t *testing.T) {
	icmp := testICmp()
	base := newVersion(icmp)
	base.files[1] = []*FileMetadata{
		mkFile(1, 100, "a", "c"),
		mkFile(2, 100, "e", "g"),
	}

	edit := &VersionEdit{}
	edit.DeleteFile(1, 1)
	edit.AddFile(1, mkFile(3, 100, "h", "j"))

	vs := NewVersionSet(t.TempDir(), vfs.OS(), icmp, logging.NewNopLogger())
	b := newBuilder(icmp, base)
	b.apply(edit, vs)

	v := newVersion(icmp)
	require.NoError(t, b.saveTo(v))

	require.Len(t, v.files[1], 2)
	assert.Equal(t, uint64(2), v.files[1][0].Number)
	assert.Equal(t, uint64(3), v.files[1][1].Number)
}

func TestBuilderRejectsOverlap(t *testing.T) {
	icmp := testICmp()
	base := newVersion(icmp)

	edit := &VersionEdit{}
	edit.AddFile(1, mkFile(1, 100, "a", "m"))
	edit.AddFile(1, mkFile(2, 100, "k", "z"))

	vs := NewVersionSet(t.TempDir(), vfs.OS(), icmp, logging.NewNopLogger())
	b := newBuilder(icmp, base)
	b.apply(edit, vs)

	v := newVersion(icmp)
	assert.Error(t, b.saveTo(v), "overlapping L1 files must be rejected")
}

func TestOverlappingInputs(t *testing.T) {
	icmp := testICmp()
	v := newVersion(icmp)
	v.files[1] = []*FileMetadata{
		mkFile(1, 100, "a", "c"),
		mkFile(2, 100, "e", "g"),
		mkFile(3, 100, "i", "k"),
	}

	got := v.OverlappingInputs(1, []byte("b"), []byte("f"))
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Number)
	assert.Equal(t, uint64(2), got[1].Number)

	got = v.OverlappingInputs(1, []byte("x"), []byte("z"))
	assert.Empty(t, got)

	// Unbounded range covers everything.
	got = v.OverlappingInputs(1, nil, nil)
	assert.Len(t, got, 3)
}

func TestOverlappingInputsL0Transitive(t *testing.T) {
	icmp := testICmp()
	v := newVersion(icmp)
	// f1 overlaps f2, f2 overlaps f3; asking for f1's range must pull in
	// all three.
	v.files[0] = []*FileMetadata{
		mkFile(1, 100, "a", "d"),
		mkFile(2, 100, "c", "g"),
		mkFile(3, 100, "f", "k"),
	}

	got := v.OverlappingInputs(0, []byte("a"), []byte("d"))
	assert.Len(t, got, 3)
}

func TestSomeFileOverlapsRange(t *testing.T) {
	icmp := testICmp()
	v := newVersion(icmp)
	v.files[1] = []*FileMetadata{
		mkFile(1, 100, "d", "f"),
	}

	assert.True(t, v.SomeFileOverlapsRange(1, []byte("e"), []byte("z")))
	assert.True(t, v.SomeFileOverlapsRange(1, []byte("a"), []byte("d")))
	assert.False(t, v.SomeFileOverlapsRange(1, []byte("a"), []byte("c")))
	assert.False(t, v.SomeFileOverlapsRange(1, []byte("g"), nil))
	assert.True(t, v.SomeFileOverlapsRange(1, nil, nil))
}

func TestPickLevelForMemTableOutput(t *testing.T) {
	icmp := testICmp()
	v := newVersion(icmp)

	// Empty version: flush may sink to MaxMemCompactLevel.
	assert.Equal(t, MaxMemCompactLevel, v.PickLevelForMemTableOutput([]byte("a"), []byte("b")))

	// Overlap at L0 keeps it at L0.
	v.files[0] = []*FileMetadata{mkFile(1, 100, "a", "c")}
	assert.Equal(t, 0, v.PickLevelForMemTableOutput([]byte("b"), []byte("d")))

	// Overlap at L1 stops the push at L0.
	v2 := newVersion(icmp)
	v2.files[1] = []*FileMetadata{mkFile(2, 100, "a", "c")}
	assert.Equal(t, 0, v2.PickLevelForMemTableOutput([]byte("b"), []byte("d")))
}

func TestVersionSetManifestRoundTrip(t *testing.T) {
	icmp := testICmp()
	dir := t.TempDir()
	fs := vfs.OS()

	vs := NewVersionSet(dir, fs, icmp, logging.NewNopLogger())
	vs.MarkFileNumberUsed(10)

	edit := &VersionEdit{}
	edit.SetComparatorName(icmp.User.Name())
	edit.SetLogNumber(5)
	edit.AddFile(1, mkFile(4, 2048, "apple", "mango"))
	vs.SetLastSequence(77)
	require.NoError(t, vs.LogAndApply(edit))

	edit2 := &VersionEdit{}
	edit2.AddFile(2, mkFile(6, 2048, "nectarine", "plum"))
	require.NoError(t, vs.LogAndApply(edit2))
	vs.Close()

	// Recover in a fresh set.
	vs2 := NewVersionSet(dir, fs, icmp, logging.NewNopLogger())
	require.NoError(t, vs2.Recover())

	assert.Equal(t, uint64(77), vs2.LastSequence())
	assert.Equal(t, uint64(5), vs2.LogNumber())
	require.Equal(t, 1, vs2.Current().NumFiles(1))
	require.Equal(t, 1, vs2.Current().NumFiles(2))
	assert.Equal(t, uint64(4), vs2.Current().Files(1)[0].Number)
	assert.Equal(t, uint64(6), vs2.Current().Files(2)[0].Number)

	live := vs2.LiveFiles()
	assert.True(t, live[4])
	assert.True(t, live[6])
	vs2.Close()
}

func TestVersionSetComparatorMismatch(t *testing.T) {
	icmp := testICmp()
	dir := t.TempDir()
	fs := vfs.OS()

	vs := NewVersionSet(dir, fs, icmp, logging.NewNopLogger())
	edit := &VersionEdit{}
	edit.SetComparatorName(icmp.User.Name())
	require.NoError(t, vs.LogAndApply(edit))
	vs.Close()

	other := keys.InternalComparator{User: reversedComparator{}}
	vs2 := NewVersionSet(dir, fs, other, logging.NewNopLogger())
	err := vs2.Recover()
	assert.ErrorIs(t, err, ErrComparatorMismatch)
}

type reversedComparator struct{}

func (reversedComparator) Compare(a, b []byte) int {
	return -keys.BytewiseComparator().Compare(a, b)
}
func (reversedComparator) Name() string { return "test.ReversedComparator" }
func (reversedComparator) FindShortSeparator(a, _ []byte) []byte { return a }
func (reversedComparator) FindShortSuccessor(a []byte) []byte    { return a }

func TestFinalizeScores(t *testing.T) {
	icmp := testICmp()
	v := newVersion(icmp)
	for i := 0; i < L0CompactionTrigger; i++ {
		v.files[0] = append(v.files[0], mkFile(uint64(i+1), 1000, "a", "z"))
	}
	finalizeVersion(v)
	assert.Equal(t, 0, v.compactionLevel)
	assert.GreaterOrEqual(t, v.compactionScore, 1.0)
	assert.True(t, v.NeedsCompaction())
}

func TestPickCompactionSizeTrigger(t *testing.T) {
	icmp := testICmp()
	dir := t.TempDir()
	vs := NewVersionSet(dir, vfs.OS(), icmp, logging.NewNopLogger())

	edit := &VersionEdit{}
	edit.SetComparatorName(icmp.User.Name())
	for i := 0; i < L0CompactionTrigger; i++ {
		edit.AddFile(0, mkFile(uint64(i+10), 1000, "a", "m"))
	}
	edit.AddFile(1, mkFile(20, 1000, "a", "g"))
	edit.AddFile(1, mkFile(21, 1000, "h", "z"))
	require.NoError(t, vs.LogAndApply(edit))

	c := vs.PickCompaction()
	require.NotNil(t, c)
	defer c.Release()

	assert.Equal(t, 0, c.Level())
	// All overlapping L0 files are included.
	assert.Equal(t, L0CompactionTrigger, c.NumInputFiles(0))
	// Both L1 files overlap [a,m].
	assert.Equal(t, 2, c.NumInputFiles(1))
	assert.False(t, c.IsTrivialMove())
	vs.Close()
}

func TestPickCompactionTrivialMove(t *testing.T) {
	icmp := testICmp()
	dir := t.TempDir()
	vs := NewVersionSet(dir, vfs.OS(), icmp, logging.NewNopLogger())

	// An oversized L1 with no L2 overlap: single-file move.
	edit := &VersionEdit{}
	edit.SetComparatorName(icmp.User.Name())
	edit.AddFile(1, mkFile(10, uint64(MaxBytesForLevel(1))+1, "a", "c"))
	edit.AddFile(2, mkFile(11, 1000, "x", "z"))
	require.NoError(t, vs.LogAndApply(edit))

	c := vs.PickCompaction()
	require.NotNil(t, c)
	defer c.Release()

	assert.Equal(t, 1, c.Level())
	assert.Equal(t, 1, c.NumInputFiles(0))
	assert.Equal(t, 0, c.NumInputFiles(1))
	assert.True(t, c.IsTrivialMove())
	vs.Close()
}

func TestCompactionIsBaseLevelForKey(t *testing.T) {
	icmp := testICmp()
	v := newVersion(icmp)
	v.files[3] = []*FileMetadata{mkFile(1, 100, "m", "p")}

	c := &Compaction{level: 1, version: v}
	assert.True(t, c.IsBaseLevelForKey([]byte("a")))
	assert.False(t, c.IsBaseLevelForKey([]byte("n")))
	assert.True(t, c.IsBaseLevelForKey([]byte("z")))
}

func TestCompactRangePicksInputs(t *testing.T) {
	icmp := testICmp()
	dir := t.TempDir()
	vs := NewVersionSet(dir, vfs.OS(), icmp, logging.NewNopLogger())

	edit := &VersionEdit{}
	edit.SetComparatorName(icmp.User.Name())
	edit.AddFile(1, mkFile(10, 1000, "a", "f"))
	edit.AddFile(1, mkFile(11, 1000, "g", "p"))
	require.NoError(t, vs.LogAndApply(edit))

	c := vs.CompactRange(1, []byte("b"), []byte("h"))
	require.NotNil(t, c)
	defer c.Release()
	assert.Equal(t, 2, c.NumInputFiles(0))

	assert.Nil(t, vs.CompactRange(1, []byte("x"), []byte("z")))
	vs.Close()
}
