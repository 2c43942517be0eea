// Package cache provides the sharded LRU used for decoded data blocks and
// open table handles. Entries are reference-counted: eviction skips
// pinned entries, and an entry removed while pinned (by Erase, EvictFile
// or a replacing Insert) keeps its value alive until the last reference
// is released, so readers never observe a recycled buffer.
package cache

import (
	"container/list"
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const numShards = 16

// Key addresses a cache entry: the owning file number plus an offset
// (block caches) or zero (table caches).
type Key struct {
	FileNum uint64
	Offset  uint64
}

func (k Key) hash() uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], k.FileNum)
	binary.LittleEndian.PutUint64(buf[8:], k.Offset)
	return xxhash.Sum64(buf[:])
}

// Value is anything the cache can hold. Deleter runs once the entry is
// both evicted and unreferenced.
type Value any

// Deleter is called when an entry's memory can be reclaimed.
type Deleter func(key Key, value Value)

// Handle pins one cache entry. Release must be called exactly once.
type Handle struct {
	shard *shard
	entry *entry
}

// Value returns the pinned value.
func (h *Handle) Value() Value {
	return h.entry.value
}

// Release drops the pin. The handle is unusable afterwards.
func (h *Handle) Release() {
	h.shard.unref(h.entry)
}

// Cache is a sharded LRU bounded by the sum of entry charges.
type Cache struct {
	shards [numShards]shard
}

// New creates a cache bounded by capacity. The charge unit is the
// caller's: bytes for block caches, a plain count for table caches.
func New(capacity int64) *Cache {
	c := &Cache{}
	per := capacity / numShards
	if per < 1 {
		per = 1
	}
	for i := range c.shards {
		c.shards[i].init(per)
	}
	return c
}

// Insert adds value under key with the given charge, evicting cold
// entries as needed, and returns a handle pinning it.
func (c *Cache) Insert(key Key, value Value, charge int64, deleter Deleter) *Handle {
	return c.shard(key).insert(key, value, charge, deleter)
}

// Lookup returns a handle for key, or nil on miss.
func (c *Cache) Lookup(key Key) *Handle {
	return c.shard(key).lookup(key)
}

// Erase drops key from the cache. Outstanding handles stay valid.
func (c *Cache) Erase(key Key) {
	c.shard(key).erase(key)
}

// EvictFile drops every entry belonging to fileNum. Used when a table
// file is deleted after compaction.
func (c *Cache) EvictFile(fileNum uint64) {
	for i := range c.shards {
		c.shards[i].evictFile(fileNum)
	}
}

// Stats reports cumulative hits and misses across shards.
func (c *Cache) Stats() (hits, misses int64) {
	for i := range c.shards {
		h, m := c.shards[i].stats()
		hits += h
		misses += m
	}
	return hits, misses
}

func (c *Cache) shard(key Key) *shard {
	return &c.shards[key.hash()%numShards]
}

// entry is one cached item. refs counts the cache's own reference (while
// resident) plus one per outstanding handle.
type entry struct {
	key     Key
	value   Value
	charge  int64
	deleter Deleter
	refs    int
	resident bool
	elem    *list.Element
}

type shard struct {
	mu       sync.Mutex
	capacity int64
	usage    int64
	table    map[Key]*entry
	lru      *list.List // front = most recent
	hits     int64
	misses   int64
	pending  []func()
}

func (s *shard) init(capacity int64) {
	s.capacity = capacity
	s.table = make(map[Key]*entry)
	s.lru = list.New()
}

func (s *shard) insert(key Key, value Value, charge int64, deleter Deleter) *Handle {
	s.mu.Lock()
	defer s.runPending()
	defer s.mu.Unlock()

	if old, ok := s.table[key]; ok {
		s.removeLocked(old)
	}

	e := &entry{
		key:     key,
		value:   value,
		charge:  charge,
		deleter: deleter,
		refs:    2, // one for the cache, one for the returned handle
		resident: true,
	}
	e.elem = s.lru.PushFront(e)
	s.table[key] = e
	s.usage += charge

	s.evictLocked()
	return &Handle{shard: s, entry: e}
}

func (s *shard) lookup(key Key) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.table[key]
	if !ok {
		s.misses++
		return nil
	}
	s.hits++
	s.lru.MoveToFront(e.elem)
	e.refs++
	return &Handle{shard: s, entry: e}
}

func (s *shard) erase(key Key) {
	s.mu.Lock()
	defer s.runPending()
	defer s.mu.Unlock()
	if e, ok := s.table[key]; ok {
		s.removeLocked(e)
	}
}

func (s *shard) evictFile(fileNum uint64) {
	s.mu.Lock()
	defer s.runPending()
	defer s.mu.Unlock()
	var victims []*entry
	for key, e := range s.table {
		if key.FileNum == fileNum {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		s.removeLocked(e)
	}
}

func (s *shard) stats() (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}

// evictLocked trims cold unpinned entries until usage fits capacity.
// Entries pinned by handles are skipped and stay resident and charged;
// once unpinned they become candidates for a later eviction pass.
func (s *shard) evictLocked() {
	for s.usage > s.capacity {
		evicted := false
		for elem := s.lru.Back(); elem != nil; elem = elem.Prev() {
			e := elem.Value.(*entry)
			if e.refs == 1 { // only the cache holds it
				s.removeLocked(e)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

// removeLocked detaches an entry from the table and LRU list, dropping
// the cache's reference.
func (s *shard) removeLocked(e *entry) {
	if !e.resident {
		return
	}
	e.resident = false
	delete(s.table, e.key)
	s.lru.Remove(e.elem)
	s.usage -= e.charge
	s.unrefLocked(e)
}

func (s *shard) unref(e *entry) {
	s.mu.Lock()
	defer s.runPending()
	defer s.mu.Unlock()
	s.unrefLocked(e)
}

// unrefLocked drops one reference. Deleters are queued and run by
// runPending after the shard lock is released, because a deleter may be
// arbitrary caller code (closing a table handle).
func (s *shard) unrefLocked(e *entry) {
	e.refs--
	if e.refs == 0 && e.deleter != nil {
		deleter, key, value := e.deleter, e.key, e.value
		s.pending = append(s.pending, func() { deleter(key, value) })
	}
}

// runPending executes queued deleters. Must be called without the lock.
func (s *shard) runPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}
