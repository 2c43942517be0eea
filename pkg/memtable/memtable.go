// Package memtable provides the in-memory ordered buffer backing the
// write-ahead log: a skiplist over internal keys with lock-free reads and
// a single external writer.
package memtable

import (
	"sync/atomic"

	"github.com/dd0wney/cluso-leveldb/pkg/iter"
	"github.com/dd0wney/cluso-leveldb/pkg/keys"
)

// MemTable maps internal keys to values. Inserts must be serialized by
// the caller; reads and iteration are safe concurrently with one
// inserter.
type MemTable struct {
	cmp   keys.InternalComparator
	list  *skiplist
	arena *arena
	// approximate key+value+node bytes, for flush decisions
	size atomic.Int64
}

// New creates an empty memtable ordered by cmp.
func New(cmp keys.InternalComparator) *MemTable {
	return &MemTable{
		cmp:   cmp,
		list:  newSkiplist(cmp.Compare),
		arena: newArena(),
	}
}

// Add inserts an entry for (userKey, seq, kind). Deletions carry an empty
// value.
func (m *MemTable) Add(seq uint64, kind keys.Kind, userKey, value []byte) {
	// Build the internal key directly in arena space; the append stays
	// within the allocation's capacity.
	buf := m.arena.alloc(len(userKey) + keys.TagBytes)
	stableKey := keys.MakeInternalKey(buf[:0], userKey, seq, kind)
	stableValue := m.arena.copyBytes(value)
	m.list.insert(stableKey, stableValue)

	const nodeOverhead = 96 // tower pointers + slice headers, rounded up
	m.size.Add(int64(len(stableKey) + len(stableValue) + nodeOverhead))
}

// Get looks up userKey as of sequence seq. ok reports whether any entry
// for the user key is visible; kind distinguishes a live value from a
// tombstone.
func (m *MemTable) Get(userKey []byte, seq uint64) (value []byte, kind keys.Kind, ok bool) {
	it := m.list.iterator()
	it.Seek(keys.LookupKey(userKey, seq))
	if !it.Valid() {
		return nil, 0, false
	}
	ukey, _, k, err := keys.ParseInternalKey(it.Key())
	if err != nil || m.cmp.User.Compare(ukey, userKey) != 0 {
		return nil, 0, false
	}
	return it.Value(), k, true
}

// NewIterator walks the memtable in internal key order. Keys returned are
// internal keys.
func (m *MemTable) NewIterator() iter.Iterator {
	return m.list.iterator()
}

// ApproximateMemoryUsage returns the bytes consumed by entries plus node
// overhead.
func (m *MemTable) ApproximateMemoryUsage() int64 {
	return m.size.Load()
}

// Empty reports whether no entries have been added.
func (m *MemTable) Empty() bool {
	return m.size.Load() == 0
}
