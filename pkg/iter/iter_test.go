package iter

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceIter is a trivial in-memory iterator for exercising the merge and
// two-level layers.
type sliceIter struct {
	keys, vals [][]byte
	pos        int
	closed     bool
}

func newSliceIter(pairs ...string) *sliceIter {
	it := &sliceIter{pos: -1}
	for i := 0; i+1 < len(pairs); i += 2 {
		it.keys = append(it.keys, []byte(pairs[i]))
		it.vals = append(it.vals, []byte(pairs[i+1]))
	}
	return it
}

func (s *sliceIter) Valid() bool  { return s.pos >= 0 && s.pos < len(s.keys) }
func (s *sliceIter) SeekToFirst() { s.pos = 0 }
func (s *sliceIter) SeekToLast()  { s.pos = len(s.keys) - 1 }
func (s *sliceIter) Seek(target []byte) {
	s.pos = sort.Search(len(s.keys), func(i int) bool {
		return bytes.Compare(s.keys[i], target) >= 0
	})
}
func (s *sliceIter) Next() { s.pos++ }
func (s *sliceIter) Prev() { s.pos-- }
func (s *sliceIter) Key() []byte {
	if !s.Valid() {
		return nil
	}
	return s.keys[s.pos]
}
func (s *sliceIter) Value() []byte {
	if !s.Valid() {
		return nil
	}
	return s.vals[s.pos]
}
func (s *sliceIter) Err() error { return nil }
func (s *sliceIter) Close() error {
	s.closed = true
	return nil
}

func collectForward(t *testing.T, it Iterator) []string {
	t.Helper()
	var out []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		out = append(out, string(it.Key())+"="+string(it.Value()))
	}
	require.NoError(t, it.Err())
	return out
}

func collectReverse(t *testing.T, it Iterator) []string {
	t.Helper()
	var out []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		out = append(out, string(it.Key())+"="+string(it.Value()))
	}
	require.NoError(t, it.Err())
	return out
}

func TestMergingForwardAndReverse(t *testing.T) {
	m := NewMerging(bytes.Compare,
		newSliceIter("a", "1", "d", "4", "g", "7"),
		newSliceIter("b", "2", "e", "5"),
		newSliceIter("c", "3", "f", "6"),
	)
	defer m.Close()

	assert.Equal(t, []string{"a=1", "b=2", "c=3", "d=4", "e=5", "f=6", "g=7"}, collectForward(t, m))
	assert.Equal(t, []string{"g=7", "f=6", "e=5", "d=4", "c=3", "b=2", "a=1"}, collectReverse(t, m))
}

func TestMergingEqualKeysChildOrder(t *testing.T) {
	// Equal keys must surface from earlier children first: the engine
	// relies on this to let memtables shadow tables.
	m := NewMerging(bytes.Compare,
		newSliceIter("k", "new"),
		newSliceIter("k", "old"),
	)
	defer m.Close()

	m.SeekToFirst()
	require.True(t, m.Valid())
	assert.Equal(t, "new", string(m.Value()))
	m.Next()
	require.True(t, m.Valid())
	assert.Equal(t, "old", string(m.Value()))
}

func TestMergingSeek(t *testing.T) {
	m := NewMerging(bytes.Compare,
		newSliceIter("a", "1", "e", "5"),
		newSliceIter("c", "3", "g", "7"),
	)
	defer m.Close()

	m.Seek([]byte("b"))
	require.True(t, m.Valid())
	assert.Equal(t, "c", string(m.Key()))

	m.Seek([]byte("z"))
	assert.False(t, m.Valid())
}

func TestMergingDirectionSwitch(t *testing.T) {
	m := NewMerging(bytes.Compare,
		newSliceIter("a", "1", "c", "3"),
		newSliceIter("b", "2", "d", "4"),
	)
	defer m.Close()

	m.Seek([]byte("b"))
	require.True(t, m.Valid())
	assert.Equal(t, "b", string(m.Key()))

	m.Prev()
	require.True(t, m.Valid())
	assert.Equal(t, "a", string(m.Key()))

	m.Next()
	require.True(t, m.Valid())
	assert.Equal(t, "b", string(m.Key()))
}

func TestMergingCloseClosesChildren(t *testing.T) {
	a := newSliceIter("a", "1")
	b := newSliceIter("b", "2")
	m := NewMerging(bytes.Compare, a, b)
	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestTwoLevel(t *testing.T) {
	// Index values name one of three "blocks".
	blocks := map[string]*sliceIter{
		"b0": newSliceIter("a", "1", "b", "2"),
		"b1": newSliceIter("c", "3"),
		"b2": newSliceIter("d", "4", "e", "5"),
	}
	index := newSliceIter("b", "b0", "c", "b1", "e", "b2")
	opened := 0
	it := NewTwoLevel(index, func(v []byte) (Iterator, error) {
		opened++
		blk, ok := blocks[string(v)]
		if !ok {
			return nil, fmt.Errorf("no block %q", v)
		}
		return newSliceIter(flatten(blk)...), nil
	})
	defer it.Close()

	assert.Equal(t, []string{"a=1", "b=2", "c=3", "d=4", "e=5"}, collectForward(t, it))
	assert.Equal(t, []string{"e=5", "d=4", "c=3", "b=2", "a=1"}, collectReverse(t, it))

	it.Seek([]byte("d"))
	require.True(t, it.Valid())
	assert.Equal(t, "d", string(it.Key()))
}

func TestTwoLevelEmptyIndex(t *testing.T) {
	it := NewTwoLevel(newSliceIter(), func(v []byte) (Iterator, error) {
		t.Fatal("open must not be called for an empty index")
		return nil, nil
	})
	defer it.Close()

	it.SeekToFirst()
	assert.False(t, it.Valid())
	it.Seek([]byte("x"))
	assert.False(t, it.Valid())
}

func flatten(s *sliceIter) []string {
	var out []string
	for i := range s.keys {
		out = append(out, string(s.keys[i]), string(s.vals[i]))
	}
	return out
}

func TestEmptyIterator(t *testing.T) {
	e := Empty(nil)
	e.SeekToFirst()
	assert.False(t, e.Valid())
	assert.NoError(t, e.Err())
	assert.NoError(t, e.Close())
}
