package table

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/dd0wney/cluso-leveldb/pkg/iter"
)

// Block is a decoded, immutable block payload (restart array included).
// Blocks are shared through the block cache, so they carry no mutable
// state; all cursor state lives in blockIter.
type Block struct {
	data        []byte
	restartsOff int
	numRestarts int
	// release unpins the cache handle holding data, if any.
	release func()
}

// NewBlock validates the restart trailer of a raw block payload.
func NewBlock(data []byte, release func()) (*Block, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("block too short: %d bytes", len(data))
	}
	numRestarts := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	restartsOff := len(data) - 4 - numRestarts*4
	if numRestarts < 1 || restartsOff < 0 {
		return nil, fmt.Errorf("block restart array malformed (%d restarts, %d bytes)",
			numRestarts, len(data))
	}
	return &Block{
		data:        data,
		restartsOff: restartsOff,
		numRestarts: numRestarts,
		release:     release,
	}, nil
}

// Release unpins the block's backing storage. Safe to call once per block.
func (b *Block) Release() {
	if b.release != nil {
		b.release()
		b.release = nil
	}
}

func (b *Block) restartOffset(i int) int {
	return int(binary.LittleEndian.Uint32(b.data[b.restartsOff+4*i:]))
}

// Iter returns a cursor over the block. cmp orders the stored keys.
// closeRelease controls whether closing the iterator releases the block.
func (b *Block) Iter(cmp iter.Compare, closeRelease bool) iter.Iterator {
	return &blockIter{
		block:        b,
		cmp:          cmp,
		closeRelease: closeRelease,
		offset:       -1,
	}
}

// blockIter walks the prefix-compressed entries of one block. Restart
// points make Seek a binary search followed by a bounded linear scan;
// Prev re-scans forward from the nearest restart.
type blockIter struct {
	block        *Block
	cmp          iter.Compare
	closeRelease bool

	offset     int // offset of current entry, -1 when invalid
	nextOffset int
	key        []byte
	value      []byte
	err        error
}

func (i *blockIter) Valid() bool {
	return i.err == nil && i.offset >= 0
}

func (i *blockIter) SeekToFirst() {
	i.seekToRestart(0)
	i.parseNext()
}

func (i *blockIter) SeekToLast() {
	i.seekToRestart(i.block.numRestarts - 1)
	// Scan to the final entry of the block.
	for i.parseNext() && i.nextOffset < i.block.restartsOff {
	}
}

func (i *blockIter) Seek(target []byte) {
	// Binary search the restart array for the last restart whose key is
	// < target, then scan forward.
	left := sort.Search(i.block.numRestarts, func(n int) bool {
		key, _, ok := i.keyAtRestart(n)
		return ok && i.cmp(key, target) >= 0
	}) - 1
	if left < 0 {
		left = 0
	}
	i.seekToRestart(left)
	for i.parseNext() {
		if i.cmp(i.key, target) >= 0 {
			return
		}
	}
}

func (i *blockIter) Next() {
	if !i.Valid() {
		return
	}
	i.parseNext()
}

func (i *blockIter) Prev() {
	if !i.Valid() {
		return
	}
	target := i.offset
	// Find the last restart strictly before the current entry.
	r := i.block.numRestarts - 1
	for r > 0 && i.block.restartOffset(r) >= target {
		r--
	}
	if i.block.restartOffset(r) >= target {
		// Current entry is the first in the block.
		i.invalidate()
		return
	}
	i.seekToRestart(r)
	for i.parseNext() && i.nextOffset < target {
	}
}

func (i *blockIter) Key() []byte   { return i.key }
func (i *blockIter) Value() []byte { return i.value }
func (i *blockIter) Err() error    { return i.err }

func (i *blockIter) Close() error {
	if i.closeRelease {
		i.block.Release()
	}
	i.invalidate()
	return nil
}

func (i *blockIter) invalidate() {
	i.offset = -1
	i.key = i.key[:0]
	i.value = nil
}

func (i *blockIter) seekToRestart(r int) {
	i.offset = -1
	i.key = i.key[:0]
	i.value = nil
	i.nextOffset = i.block.restartOffset(r)
}

// keyAtRestart decodes the full key stored at restart r without moving the
// cursor.
func (i *blockIter) keyAtRestart(r int) ([]byte, int, bool) {
	off := i.block.restartOffset(r)
	data := i.block.data[:i.block.restartsOff]
	if off >= len(data) {
		return nil, 0, false
	}
	shared, n0 := binary.Uvarint(data[off:])
	nonShared, n1 := binary.Uvarint(data[off+n0:])
	_, n2 := binary.Uvarint(data[off+n0+n1:])
	if n0 <= 0 || n1 <= 0 || n2 <= 0 || shared != 0 {
		return nil, 0, false
	}
	start := off + n0 + n1 + n2
	if start+int(nonShared) > len(data) {
		return nil, 0, false
	}
	return data[start : start+int(nonShared)], start, true
}

// parseNext decodes the entry at nextOffset into the cursor. Returns false
// at the end of the block or on corruption.
func (i *blockIter) parseNext() bool {
	data := i.block.data[:i.block.restartsOff]
	if i.nextOffset >= len(data) {
		i.invalidate()
		return false
	}
	off := i.nextOffset
	shared, n0 := binary.Uvarint(data[off:])
	nonShared, n1 := binary.Uvarint(data[off+n0:])
	valueLen, n2 := binary.Uvarint(data[off+n0+n1:])
	if n0 <= 0 || n1 <= 0 || n2 <= 0 {
		i.corrupt(off)
		return false
	}
	keyStart := off + n0 + n1 + n2
	valStart := keyStart + int(nonShared)
	end := valStart + int(valueLen)
	if int(shared) > len(i.key) || end > len(data) {
		i.corrupt(off)
		return false
	}

	i.key = append(i.key[:shared], data[keyStart:valStart]...)
	i.value = data[valStart:end]
	i.offset = off
	i.nextOffset = end
	return true
}

func (i *blockIter) corrupt(off int) {
	i.err = fmt.Errorf("corrupt block entry at offset %d", off)
	i.offset = -1
}
