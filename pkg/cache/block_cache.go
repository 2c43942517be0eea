package cache

// BlockCache adapts Cache to the byte-slice interface the table reader
// consumes. Charges are payload lengths, so the cache bound is in bytes.
type BlockCache struct {
	c *Cache
}

// NewBlockCache wraps c for use as a table reader block cache.
func NewBlockCache(c *Cache) *BlockCache {
	return &BlockCache{c: c}
}

// Get returns the cached payload for (fileNum, offset) and a release
// function for the pin.
func (b *BlockCache) Get(fileNum, offset uint64) ([]byte, func(), bool) {
	h := b.c.Lookup(Key{FileNum: fileNum, Offset: offset})
	if h == nil {
		return nil, nil, false
	}
	return h.Value().([]byte), h.Release, true
}

// Insert caches a decoded payload and returns the caller's release
// function.
func (b *BlockCache) Insert(fileNum, offset uint64, data []byte) func() {
	h := b.c.Insert(Key{FileNum: fileNum, Offset: offset}, data, int64(len(data)), nil)
	return h.Release
}

// EvictFile drops every cached block of fileNum.
func (b *BlockCache) EvictFile(fileNum uint64) {
	b.c.EvictFile(fileNum)
}

// Stats reports hit/miss counts.
func (b *BlockCache) Stats() (hits, misses int64) {
	return b.c.Stats()
}
