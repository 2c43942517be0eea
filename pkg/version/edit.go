package version

import (
	"encoding/binary"
	"fmt"
)

// MANIFEST record field tags. The numbering is fixed by the on-disk
// format; tag 8 was retired by the reference implementation and is never
// written.
const (
	tagComparator     = 1
	tagLogNumber      = 2
	tagNextFileNumber = 3
	tagLastSequence   = 4
	tagCompactPointer = 5
	tagDeletedFile    = 6
	tagNewFile        = 7
	tagPrevLogNumber  = 9
)

// DeletedFile names a file removed from a level.
type DeletedFile struct {
	Level  int
	Number uint64
}

// NewFile places a file at a level.
type NewFile struct {
	Level int
	Meta  *FileMetadata
}

// CompactPointer records where the round-robin compaction cursor of a
// level stands (the largest internal key compacted so far).
type CompactPointer struct {
	Level int
	Key   []byte
}

// VersionEdit is one additive MANIFEST record: applied to a Version it
// produces the next Version. All fields are optional; the has* flags
// track presence because zero is a meaningful value for most of them.
type VersionEdit struct {
	ComparatorName string
	LogNumber      uint64
	PrevLogNumber  uint64
	NextFileNumber uint64
	LastSequence   uint64

	hasComparatorName bool
	hasLogNumber      bool
	hasPrevLogNumber  bool
	hasNextFileNumber bool
	hasLastSequence   bool

	CompactPointers []CompactPointer
	DeletedFiles    []DeletedFile
	NewFiles        []NewFile
}

// SetComparatorName records the comparator the database was created with.
func (e *VersionEdit) SetComparatorName(name string) {
	e.ComparatorName = name
	e.hasComparatorName = true
}

// SetLogNumber records the oldest WAL still needed after this edit.
func (e *VersionEdit) SetLogNumber(num uint64) {
	e.LogNumber = num
	e.hasLogNumber = true
}

// SetPrevLogNumber records the immutable-memtable WAL, zero when none.
func (e *VersionEdit) SetPrevLogNumber(num uint64) {
	e.PrevLogNumber = num
	e.hasPrevLogNumber = true
}

// SetNextFileNumber persists the file number allocator.
func (e *VersionEdit) SetNextFileNumber(num uint64) {
	e.NextFileNumber = num
	e.hasNextFileNumber = true
}

// SetLastSequence persists the sequence allocator.
func (e *VersionEdit) SetLastSequence(seq uint64) {
	e.LastSequence = seq
	e.hasLastSequence = true
}

// SetCompactPointer updates a level's round-robin cursor.
func (e *VersionEdit) SetCompactPointer(level int, key []byte) {
	e.CompactPointers = append(e.CompactPointers, CompactPointer{Level: level, Key: key})
}

// DeleteFile removes a file from a level.
func (e *VersionEdit) DeleteFile(level int, number uint64) {
	e.DeletedFiles = append(e.DeletedFiles, DeletedFile{Level: level, Number: number})
}

// AddFile places a file at a level.
func (e *VersionEdit) AddFile(level int, meta *FileMetadata) {
	e.NewFiles = append(e.NewFiles, NewFile{Level: level, Meta: meta})
}

// Encode serializes the edit as a MANIFEST record payload.
func (e *VersionEdit) Encode() []byte {
	var buf []byte
	put := func(v uint64) { buf = binary.AppendUvarint(buf, v) }
	putBytes := func(b []byte) {
		put(uint64(len(b)))
		buf = append(buf, b...)
	}

	if e.hasComparatorName {
		put(tagComparator)
		putBytes([]byte(e.ComparatorName))
	}
	if e.hasLogNumber {
		put(tagLogNumber)
		put(e.LogNumber)
	}
	if e.hasPrevLogNumber {
		put(tagPrevLogNumber)
		put(e.PrevLogNumber)
	}
	if e.hasNextFileNumber {
		put(tagNextFileNumber)
		put(e.NextFileNumber)
	}
	if e.hasLastSequence {
		put(tagLastSequence)
		put(e.LastSequence)
	}
	for _, cp := range e.CompactPointers {
		put(tagCompactPointer)
		put(uint64(cp.Level))
		putBytes(cp.Key)
	}
	for _, df := range e.DeletedFiles {
		put(tagDeletedFile)
		put(uint64(df.Level))
		put(df.Number)
	}
	for _, nf := range e.NewFiles {
		put(tagNewFile)
		put(uint64(nf.Level))
		put(nf.Meta.Number)
		put(nf.Meta.Size)
		putBytes(nf.Meta.Smallest)
		putBytes(nf.Meta.Largest)
	}
	return buf
}

// DecodeEdit parses a MANIFEST record payload.
func DecodeEdit(data []byte) (*VersionEdit, error) {
	e := &VersionEdit{}
	get := func() (uint64, error) {
		v, n := binary.Uvarint(data)
		if n <= 0 {
			return 0, fmt.Errorf("truncated varint in version edit")
		}
		data = data[n:]
		return v, nil
	}
	getBytes := func() ([]byte, error) {
		n, err := get()
		if err != nil {
			return nil, err
		}
		if n > uint64(len(data)) {
			return nil, fmt.Errorf("truncated byte string in version edit")
		}
		b := append([]byte(nil), data[:n]...)
		data = data[n:]
		return b, nil
	}
	getLevel := func() (int, error) {
		v, err := get()
		if err != nil {
			return 0, err
		}
		if v >= NumLevels {
			return 0, fmt.Errorf("version edit names level %d (max %d)", v, NumLevels-1)
		}
		return int(v), nil
	}

	for len(data) > 0 {
		tag, err := get()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagComparator:
			b, err := getBytes()
			if err != nil {
				return nil, err
			}
			e.SetComparatorName(string(b))
		case tagLogNumber:
			v, err := get()
			if err != nil {
				return nil, err
			}
			e.SetLogNumber(v)
		case tagPrevLogNumber:
			v, err := get()
			if err != nil {
				return nil, err
			}
			e.SetPrevLogNumber(v)
		case tagNextFileNumber:
			v, err := get()
			if err != nil {
				return nil, err
			}
			e.SetNextFileNumber(v)
		case tagLastSequence:
			v, err := get()
			if err != nil {
				return nil, err
			}
			e.SetLastSequence(v)
		case tagCompactPointer:
			level, err := getLevel()
			if err != nil {
				return nil, err
			}
			key, err := getBytes()
			if err != nil {
				return nil, err
			}
			e.SetCompactPointer(level, key)
		case tagDeletedFile:
			level, err := getLevel()
			if err != nil {
				return nil, err
			}
			num, err := get()
			if err != nil {
				return nil, err
			}
			e.DeleteFile(level, num)
		case tagNewFile:
			level, err := getLevel()
			if err != nil {
				return nil, err
			}
			meta := &FileMetadata{}
			if meta.Number, err = get(); err != nil {
				return nil, err
			}
			if meta.Size, err = get(); err != nil {
				return nil, err
			}
			if meta.Smallest, err = getBytes(); err != nil {
				return nil, err
			}
			if meta.Largest, err = getBytes(); err != nil {
				return nil, err
			}
			meta.InitAllowedSeeks()
			e.AddFile(level, meta)
		default:
			return nil, fmt.Errorf("unknown version edit tag %d", tag)
		}
	}
	return e, nil
}
