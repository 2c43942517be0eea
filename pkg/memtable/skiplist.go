package memtable

import (
	"math/rand"
	"sync/atomic"

	"github.com/dd0wney/cluso-leveldb/pkg/iter"
)

const (
	maxHeight = 12
	// branching controls tower height: each level is kept with
	// probability 1/branching.
	branching = 4
)

// node is one skiplist tower. key and value are arena-backed and
// immutable once the node is published.
type node struct {
	key   []byte
	value []byte
	next  [maxHeight]atomic.Pointer[node]
}

// skiplist is an ordered map over byte keys with one writer and any
// number of concurrent readers. Insertion publishes nodes with atomic
// stores; readers traverse with atomic loads and need no locks. Nodes
// are never unlinked or freed individually.
type skiplist struct {
	cmp    iter.Compare
	head   *node
	height atomic.Int32
	rnd    *rand.Rand
}

func newSkiplist(cmp iter.Compare) *skiplist {
	s := &skiplist{
		cmp:  cmp,
		head: &node{},
		rnd:  rand.New(rand.NewSource(0xdeadbeef)),
	}
	s.height.Store(1)
	return s
}

func (s *skiplist) randomHeight() int {
	h := 1
	for h < maxHeight && s.rnd.Intn(branching) == 0 {
		h++
	}
	return h
}

// findGreaterOrEqual returns the first node with key >= target, filling
// prev with the rightmost node before target at every level when
// requested.
func (s *skiplist) findGreaterOrEqual(target []byte, prev *[maxHeight]*node) *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && s.cmp(next.key, target) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node with key < target, or head.
func (s *skiplist) findLessThan(target []byte) *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && s.cmp(next.key, target) < 0 {
			x = next
			continue
		}
		if level == 0 {
			return x
		}
		level--
	}
}

// findLast returns the final node, or head when empty.
func (s *skiplist) findLast() *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			return x
		}
		level--
	}
}

// insert adds a key/value pair. Keys must be unique; the memtable
// guarantees this by embedding the sequence number in every key. Callers
// serialize insert externally (the engine's write mutex); concurrent
// readers are safe throughout.
func (s *skiplist) insert(key, value []byte) {
	var prev [maxHeight]*node
	s.findGreaterOrEqual(key, &prev)

	height := s.randomHeight()
	if cur := int(s.height.Load()); height > cur {
		for i := cur; i < height; i++ {
			prev[i] = s.head
		}
		// Readers that observe the old height simply skip the new
		// levels; readers that observe the new height before the node
		// is linked see nil next pointers from head, which is valid.
		s.height.Store(int32(height))
	}

	n := &node{key: key, value: value}
	for i := 0; i < height; i++ {
		// Order matters: n's forward pointer must be visible before n
		// itself is reachable.
		n.next[i].Store(prev[i].next[i].Load())
		prev[i].next[i].Store(n)
	}
}

// contains reports whether key is present.
func (s *skiplist) contains(key []byte) bool {
	n := s.findGreaterOrEqual(key, nil)
	return n != nil && s.cmp(n.key, key) == 0
}

// skiplistIter satisfies iter.Iterator over a snapshot-consistent view:
// entries inserted after a positioning call may or may not be observed,
// which is fine because visibility is governed by sequence numbers, not
// by iterator timing.
type skiplistIter struct {
	list *skiplist
	n    *node
}

func (s *skiplist) iterator() iter.Iterator {
	return &skiplistIter{list: s}
}

func (i *skiplistIter) Valid() bool { return i.n != nil }

func (i *skiplistIter) SeekToFirst() {
	i.n = i.list.head.next[0].Load()
}

func (i *skiplistIter) SeekToLast() {
	if last := i.list.findLast(); last != i.list.head {
		i.n = last
	} else {
		i.n = nil
	}
}

func (i *skiplistIter) Seek(target []byte) {
	i.n = i.list.findGreaterOrEqual(target, nil)
}

func (i *skiplistIter) Next() {
	if i.n != nil {
		i.n = i.n.next[0].Load()
	}
}

func (i *skiplistIter) Prev() {
	if i.n == nil {
		return
	}
	if prev := i.list.findLessThan(i.n.key); prev != i.list.head {
		i.n = prev
	} else {
		i.n = nil
	}
}

func (i *skiplistIter) Key() []byte {
	if i.n == nil {
		return nil
	}
	return i.n.key
}

func (i *skiplistIter) Value() []byte {
	if i.n == nil {
		return nil
	}
	return i.n.value
}

func (i *skiplistIter) Err() error   { return nil }
func (i *skiplistIter) Close() error { return nil }
