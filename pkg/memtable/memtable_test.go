package memtable

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-leveldb/pkg/keys"
)

func newTestMemTable() *MemTable {
	return New(keys.InternalComparator{User: keys.BytewiseComparator()})
}

func TestMemTableGetNewestVisible(t *testing.T) {
	m := newTestMemTable()
	m.Add(1, keys.KindSet, []byte("k"), []byte("v1"))
	m.Add(5, keys.KindSet, []byte("k"), []byte("v5"))
	m.Add(9, keys.KindSet, []byte("k"), []byte("v9"))

	// Reads see the newest entry at or below their sequence.
	v, kind, ok := m.Get([]byte("k"), 100)
	require.True(t, ok)
	assert.Equal(t, keys.KindSet, kind)
	assert.Equal(t, "v9", string(v))

	v, _, ok = m.Get([]byte("k"), 5)
	require.True(t, ok)
	assert.Equal(t, "v5", string(v))

	v, _, ok = m.Get([]byte("k"), 4)
	require.True(t, ok)
	assert.Equal(t, "v1", string(v))

	_, _, ok = m.Get([]byte("k"), 0)
	assert.False(t, ok, "nothing visible below the first write")
}

func TestMemTableTombstone(t *testing.T) {
	m := newTestMemTable()
	m.Add(1, keys.KindSet, []byte("k"), []byte("v"))
	m.Add(2, keys.KindDelete, []byte("k"), nil)

	_, kind, ok := m.Get([]byte("k"), 10)
	require.True(t, ok)
	assert.Equal(t, keys.KindDelete, kind, "tombstone must be visible to the engine")

	v, kind, ok := m.Get([]byte("k"), 1)
	require.True(t, ok)
	assert.Equal(t, keys.KindSet, kind)
	assert.Equal(t, "v", string(v))
}

func TestMemTableGetMissing(t *testing.T) {
	m := newTestMemTable()
	m.Add(1, keys.KindSet, []byte("b"), []byte("v"))

	_, _, ok := m.Get([]byte("a"), 10)
	assert.False(t, ok)
	_, _, ok = m.Get([]byte("c"), 10)
	assert.False(t, ok)
}

func TestMemTableIteratorOrder(t *testing.T) {
	m := newTestMemTable()
	userKeys := []string{"delta", "alpha", "echo", "bravo", "charlie"}
	for i, k := range userKeys {
		m.Add(uint64(i+1), keys.KindSet, []byte(k), []byte(k+"-value"))
	}

	it := m.NewIterator()
	defer it.Close()

	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		ukey, _, _, err := keys.ParseInternalKey(it.Key())
		require.NoError(t, err)
		got = append(got, string(ukey))
	}
	want := append([]string(nil), userKeys...)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestMemTableIteratorReverse(t *testing.T) {
	m := newTestMemTable()
	for i := 0; i < 10; i++ {
		m.Add(uint64(i+1), keys.KindSet, []byte(fmt.Sprintf("k%02d", i)), []byte("v"))
	}

	it := m.NewIterator()
	defer it.Close()

	n := 9
	for it.SeekToLast(); it.Valid(); it.Prev() {
		ukey, _, _, err := keys.ParseInternalKey(it.Key())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("k%02d", n), string(ukey))
		n--
	}
	assert.Equal(t, -1, n)
}

func TestMemTableApproximateSize(t *testing.T) {
	m := newTestMemTable()
	assert.True(t, m.Empty())

	before := m.ApproximateMemoryUsage()
	m.Add(1, keys.KindSet, []byte("key"), bytes.Repeat([]byte("v"), 1000))
	after := m.ApproximateMemoryUsage()
	assert.Greater(t, after, before+1000)
	assert.False(t, m.Empty())
}

// TestMemTableConcurrentReaders exercises the lock-free read protocol: a
// single writer inserts while readers get and iterate. Run with -race.
func TestMemTableConcurrentReaders(t *testing.T) {
	m := newTestMemTable()
	const total = 5000

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// Point reads at arbitrary visibility horizons.
				if v, kind, ok := m.Get([]byte("key-002500"), keys.MaxSequence); ok && kind == keys.KindSet {
					if string(v) != "value-002500" {
						t.Errorf("torn read: %q", v)
						return
					}
				}
				// Full scans must always be ordered.
				it := m.NewIterator()
				var prev []byte
				for it.SeekToFirst(); it.Valid(); it.Next() {
					if prev != nil && bytes.Compare(prev, it.Key()) >= 0 {
						t.Error("iterator out of order during concurrent insert")
						return
					}
					prev = append(prev[:0], it.Key()...)
				}
				it.Close()
			}
		}()
	}

	for i := 0; i < total; i++ {
		key := fmt.Sprintf("key-%06d", i)
		m.Add(uint64(i+1), keys.KindSet, []byte(key), []byte("value-"+key[4:]))
	}
	close(stop)
	wg.Wait()

	// Everything is visible after the writer finishes.
	for i := 0; i < total; i += 97 {
		key := fmt.Sprintf("key-%06d", i)
		v, kind, ok := m.Get([]byte(key), keys.MaxSequence)
		require.True(t, ok, key)
		require.Equal(t, keys.KindSet, kind)
		require.Equal(t, "value-"+key[4:], string(v))
	}
}

func TestSkiplistOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("iteration is sorted and complete", prop.ForAll(
		func(raw []string) bool {
			s := newSkiplist(bytes.Compare)
			seen := map[string]bool{}
			for i, k := range raw {
				// Unique-ify: the skiplist requires distinct keys.
				key := fmt.Sprintf("%s#%04d", k, i)
				s.insert([]byte(key), []byte("v"))
				seen[key] = true
			}

			var got []string
			it := s.iterator()
			for it.SeekToFirst(); it.Valid(); it.Next() {
				got = append(got, string(it.Key()))
			}
			if len(got) != len(seen) {
				return false
			}
			return sort.StringsAreSorted(got)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestSkiplistSeek(t *testing.T) {
	s := newSkiplist(bytes.Compare)
	for _, k := range []string{"b", "d", "f"} {
		s.insert([]byte(k), nil)
	}

	it := s.iterator()
	it.Seek([]byte("c"))
	require.True(t, it.Valid())
	assert.Equal(t, "d", string(it.Key()))

	it.Seek([]byte("g"))
	assert.False(t, it.Valid())

	assert.True(t, s.contains([]byte("d")))
	assert.False(t, s.contains([]byte("c")))
}

func TestArenaStability(t *testing.T) {
	a := newArena()
	var slices [][]byte
	for i := 0; i < 10000; i++ {
		b := a.copyBytes([]byte(fmt.Sprintf("payload-%d", i)))
		slices = append(slices, b)
	}
	// Later allocations must never move earlier ones.
	for i, b := range slices {
		require.Equal(t, fmt.Sprintf("payload-%d", i), string(b))
	}
	assert.Positive(t, a.size())
}
