package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheHitMiss(t *testing.T) {
	c := New(1 << 20)

	h := c.Insert(Key{FileNum: 1, Offset: 0}, "v1", 10, nil)
	h.Release()

	got := c.Lookup(Key{FileNum: 1, Offset: 0})
	require.NotNil(t, got)
	assert.Equal(t, "v1", got.Value())
	got.Release()

	assert.Nil(t, c.Lookup(Key{FileNum: 1, Offset: 999}))

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCacheEviction(t *testing.T) {
	// Single-shard-sized capacity so eviction is deterministic per shard:
	// use keys that all land in one shard by construction is fiddly, so
	// instead overfill the whole cache and check the total bound.
	c := New(16 * 100) // 100 charge units per shard

	for i := 0; i < 1000; i++ {
		h := c.Insert(Key{FileNum: uint64(i)}, i, 10, nil)
		h.Release()
	}

	var usage int64
	for i := range c.shards {
		c.shards[i].mu.Lock()
		usage += c.shards[i].usage
		c.shards[i].mu.Unlock()
	}
	assert.LessOrEqual(t, usage, int64(16*100))
}

func TestCachePinnedEntrySurvivesEviction(t *testing.T) {
	deleted := make(map[uint64]bool)
	var mu sync.Mutex
	deleter := func(key Key, _ Value) {
		mu.Lock()
		deleted[key.FileNum] = true
		mu.Unlock()
	}

	c := New(16) // one charge unit per shard

	pinned := c.Insert(Key{FileNum: 1}, "keep", 1, deleter)

	// Flood the cache to force eviction everywhere.
	for i := uint64(2); i < 200; i++ {
		h := c.Insert(Key{FileNum: i}, "x", 1, deleter)
		h.Release()
	}

	// The pinned entry may have been evicted from the table, but its
	// value must still be readable and undeleted.
	mu.Lock()
	assert.False(t, deleted[1])
	mu.Unlock()
	assert.Equal(t, "keep", pinned.Value())

	pinned.Release()
	mu.Lock()
	wasDeleted := deleted[1]
	mu.Unlock()
	// After the last release the deleter runs if the entry was evicted;
	// either way the value is no longer pinned. If it is still resident,
	// erase it and confirm the deleter fires.
	if !wasDeleted {
		c.Erase(Key{FileNum: 1})
		mu.Lock()
		assert.True(t, deleted[1])
		mu.Unlock()
	}
}

func TestCacheInsertReplaces(t *testing.T) {
	c := New(1 << 20)

	h1 := c.Insert(Key{FileNum: 7}, "old", 1, nil)
	h1.Release()
	h2 := c.Insert(Key{FileNum: 7}, "new", 1, nil)
	h2.Release()

	got := c.Lookup(Key{FileNum: 7})
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Value())
	got.Release()
}

func TestCacheErase(t *testing.T) {
	c := New(1 << 20)
	h := c.Insert(Key{FileNum: 3}, "v", 1, nil)
	h.Release()

	c.Erase(Key{FileNum: 3})
	assert.Nil(t, c.Lookup(Key{FileNum: 3}))
}

func TestCacheEvictFile(t *testing.T) {
	c := New(1 << 20)
	for off := uint64(0); off < 10; off++ {
		h := c.Insert(Key{FileNum: 5, Offset: off}, "v", 1, nil)
		h.Release()
	}
	h := c.Insert(Key{FileNum: 6, Offset: 0}, "other", 1, nil)
	h.Release()

	c.EvictFile(5)
	for off := uint64(0); off < 10; off++ {
		assert.Nil(t, c.Lookup(Key{FileNum: 5, Offset: off}))
	}
	assert.NotNil(t, c.Lookup(Key{FileNum: 6, Offset: 0}))
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New(1 << 16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := Key{FileNum: uint64(i % 64), Offset: uint64(g)}
				if h := c.Lookup(key); h != nil {
					_ = h.Value()
					h.Release()
				} else {
					h := c.Insert(key, fmt.Sprintf("%d-%d", g, i), 16, nil)
					h.Release()
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestBlockCacheAdapter(t *testing.T) {
	bc := NewBlockCache(New(1 << 20))

	_, _, ok := bc.Get(1, 0)
	assert.False(t, ok)

	release := bc.Insert(1, 0, []byte("block-bytes"))
	release()

	data, release, ok := bc.Get(1, 0)
	require.True(t, ok)
	assert.Equal(t, []byte("block-bytes"), data)
	release()

	bc.EvictFile(1)
	_, _, ok = bc.Get(1, 0)
	assert.False(t, ok)
}
