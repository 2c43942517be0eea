package table

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dd0wney/cluso-leveldb/pkg/compress"
	"github.com/dd0wney/cluso-leveldb/pkg/filter"
	"github.com/dd0wney/cluso-leveldb/pkg/iter"
	"github.com/dd0wney/cluso-leveldb/pkg/keys"
	"github.com/dd0wney/cluso-leveldb/pkg/pools"
)

// BlockCache is the table reader's view of the shared block cache. The
// returned release function unpins the cached bytes; callers must invoke
// it exactly once when done.
type BlockCache interface {
	// Get looks up the decoded payload of the block at offset in fileNum.
	Get(fileNum, offset uint64) (data []byte, release func(), ok bool)

	// Insert caches a decoded payload and returns a release function for
	// the caller's own pin.
	Insert(fileNum, offset uint64, data []byte) (release func())
}

// ReaderOptions configures table opening.
type ReaderOptions struct {
	// Comparator must match the writer's.
	Comparator keys.Comparator

	// Compressors resolves block trailer tags. Blocks naming an
	// unregistered tag fail individually with compress.ErrUnknownTag.
	Compressors *compress.Registry

	// FilterPolicy enables consultation of the table's filter block when
	// its name matches. Nil disables filtering.
	FilterPolicy filter.Policy

	// VerifyChecksums rechecks block CRCs on every read, not just on
	// open. Index and meta blocks are always verified.
	VerifyChecksums bool

	// BlockCache, when set, caches decoded data blocks keyed by FileNum
	// and block offset.
	BlockCache BlockCache

	// FileNum identifies this table in the block cache.
	FileNum uint64

	// Pool, when set, supplies scratch buffers for raw block reads that
	// are discarded after decompression.
	Pool *pools.BytePool
}

// Reader provides point lookups and iteration over one immutable table
// file. It is safe for concurrent use.
type Reader struct {
	r    io.ReaderAt
	size int64
	opts ReaderOptions

	index      *Block
	filterData *filterBlockReader
}

// NewReader opens a table: it reads the footer, loads the index block, and
// (when a policy is configured) the filter block.
func NewReader(r io.ReaderAt, size int64, opts ReaderOptions) (*Reader, error) {
	if size < FooterLen {
		return nil, fmt.Errorf("table file too small: %d bytes", size)
	}
	var footerBuf [FooterLen]byte
	if _, err := r.ReadAt(footerBuf[:], size-FooterLen); err != nil {
		return nil, fmt.Errorf("read footer: %w", err)
	}
	footer, err := DecodeFooter(footerBuf[:])
	if err != nil {
		return nil, err
	}

	t := &Reader{r: r, size: size, opts: opts}

	indexData, err := t.readBlockRaw(footer.Index, true)
	if err != nil {
		return nil, fmt.Errorf("read index block: %w", err)
	}
	if t.index, err = NewBlock(indexData, nil); err != nil {
		return nil, fmt.Errorf("index block: %w", err)
	}

	if opts.FilterPolicy != nil {
		if err := t.readFilter(footer.MetaIndex); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// readFilter locates the filter named by the configured policy in the
// meta-index block. A missing filter entry simply disables filtering.
func (t *Reader) readFilter(metaBH BlockHandle) error {
	metaData, err := t.readBlockRaw(metaBH, true)
	if err != nil {
		return fmt.Errorf("read meta-index block: %w", err)
	}
	meta, err := NewBlock(metaData, nil)
	if err != nil {
		return fmt.Errorf("meta-index block: %w", err)
	}
	name := []byte("filter." + t.opts.FilterPolicy.Name())
	it := meta.Iter(t.opts.Comparator.Compare, false)
	defer it.Close()
	it.Seek(name)
	if !it.Valid() || string(it.Key()) != string(name) {
		return nil
	}
	fbh, _, err := DecodeHandle(it.Value())
	if err != nil {
		return fmt.Errorf("filter block handle: %w", err)
	}
	filterData, err := t.readBlockRaw(fbh, true)
	if err != nil {
		return fmt.Errorf("read filter block: %w", err)
	}
	fr, err := newFilterBlockReader(t.opts.FilterPolicy, filterData)
	if err != nil {
		return fmt.Errorf("filter block: %w", err)
	}
	t.filterData = fr
	return nil
}

// readBlockRaw reads, verifies, and decompresses the block at bh without
// touching the cache.
func (t *Reader) readBlockRaw(bh BlockHandle, verify bool) ([]byte, error) {
	n := int(bh.Size) + blockTrailerLen
	var raw []byte
	if t.opts.Pool != nil {
		raw = t.opts.Pool.GetSized(n)
	} else {
		raw = make([]byte, n)
	}
	if _, err := t.r.ReadAt(raw, int64(bh.Offset)); err != nil {
		return nil, fmt.Errorf("read %d bytes at %d: %w", n, bh.Offset, err)
	}
	payload := raw[:bh.Size]
	tag := raw[bh.Size]

	if verify {
		want := UnmaskCRC(binary.LittleEndian.Uint32(raw[bh.Size+1:]))
		got := ExtendCRC(NewCRC(payload), []byte{tag})
		if got != want {
			return nil, fmt.Errorf("block checksum mismatch at offset %d: got %#x want %#x",
				bh.Offset, got, want)
		}
	}

	if tag == compress.TagNone {
		// The payload aliases raw, so the buffer cannot go back to the
		// pool; it now belongs to the block.
		return payload, nil
	}
	if t.opts.Compressors == nil {
		return nil, fmt.Errorf("block at offset %d: %w: %d", bh.Offset, compress.ErrUnknownTag, tag)
	}
	c, err := t.opts.Compressors.Get(tag)
	if err != nil {
		return nil, fmt.Errorf("block at offset %d: %w", bh.Offset, err)
	}
	out, err := c.Decompress(make([]byte, 0, bh.Size*3), payload)
	if t.opts.Pool != nil {
		t.opts.Pool.Put(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("decompress block at offset %d: %w", bh.Offset, err)
	}
	return out, nil
}

// readDataBlock fetches a data block through the cache.
func (t *Reader) readDataBlock(bh BlockHandle) (*Block, error) {
	cache := t.opts.BlockCache
	if cache == nil {
		data, err := t.readBlockRaw(bh, t.opts.VerifyChecksums)
		if err != nil {
			return nil, err
		}
		return NewBlock(data, nil)
	}
	if data, release, ok := cache.Get(t.opts.FileNum, bh.Offset); ok {
		return NewBlock(data, release)
	}
	data, err := t.readBlockRaw(bh, t.opts.VerifyChecksums)
	if err != nil {
		return nil, err
	}
	release := cache.Insert(t.opts.FileNum, bh.Offset, data)
	return NewBlock(data, release)
}

// Get returns the first entry at or after key, honoring the filter block
// for fast negatives. ok is false when the table holds no entry >= key or
// the filter excludes the key.
func (t *Reader) Get(key []byte) (rkey, rvalue []byte, ok bool, err error) {
	indexIter := t.index.Iter(t.opts.Comparator.Compare, false)
	defer indexIter.Close()

	indexIter.Seek(key)
	if !indexIter.Valid() {
		return nil, nil, false, indexIter.Err()
	}
	bh, _, err := DecodeHandle(indexIter.Value())
	if err != nil {
		return nil, nil, false, fmt.Errorf("index entry handle: %w", err)
	}

	if t.filterData != nil && !t.filterData.mayContain(bh.Offset, key) {
		return nil, nil, false, nil
	}

	blk, err := t.readDataBlock(bh)
	if err != nil {
		return nil, nil, false, err
	}
	defer blk.Release()

	it := blk.Iter(t.opts.Comparator.Compare, false)
	defer it.Close()
	it.Seek(key)
	if !it.Valid() {
		return nil, nil, false, it.Err()
	}
	// The returned slices alias the block, which may be evicted once
	// released; copy out.
	rkey = append([]byte(nil), it.Key()...)
	rvalue = append([]byte(nil), it.Value()...)
	return rkey, rvalue, true, nil
}

// NewIterator walks the whole table in key order.
func (t *Reader) NewIterator() iter.Iterator {
	indexIter := t.index.Iter(t.opts.Comparator.Compare, false)
	return iter.NewTwoLevel(indexIter, func(handleEnc []byte) (iter.Iterator, error) {
		bh, _, err := DecodeHandle(handleEnc)
		if err != nil {
			return nil, fmt.Errorf("index entry handle: %w", err)
		}
		blk, err := t.readDataBlock(bh)
		if err != nil {
			return nil, err
		}
		return blk.Iter(t.opts.Comparator.Compare, true), nil
	})
}

// ApproximateOffset estimates the file offset at which key would reside,
// using the index block. Used for size estimation between range bounds.
func (t *Reader) ApproximateOffset(key []byte) uint64 {
	indexIter := t.index.Iter(t.opts.Comparator.Compare, false)
	defer indexIter.Close()
	indexIter.Seek(key)
	if indexIter.Valid() {
		if bh, _, err := DecodeHandle(indexIter.Value()); err == nil {
			return bh.Offset
		}
	}
	// Past the last block: everything but the footer precedes key.
	return uint64(t.size) - FooterLen
}
