package table

import (
	"encoding/binary"
	"fmt"

	"github.com/dd0wney/cluso-leveldb/pkg/filter"
)

// Every LevelDB implementation hardcodes one filter per 2 KiB of file
// offset; the base is still recorded in the block so readers need not
// assume it.
const filterBaseLg = 11

// filterBlockBuilder accumulates the keys of each data block and emits one
// filter per 2 KiB window of file offsets. Layout:
//
//	[filter 0]...[filter N-1]
//	[offset of filter 0 (4B LE)]...[offset of filter N-1]
//	[offset of offset array (4B LE)]
//	[baseLg (1B)]
type filterBlockBuilder struct {
	policy  filter.Policy
	keys    [][]byte
	result  []byte
	offsets []uint32
}

func newFilterBlockBuilder(policy filter.Policy) *filterBlockBuilder {
	return &filterBlockBuilder{policy: policy}
}

// startBlock is called with the file offset of each new data block before
// its keys are added.
func (b *filterBlockBuilder) startBlock(blockOffset uint64) {
	index := blockOffset >> filterBaseLg
	for uint64(len(b.offsets)) < index {
		b.generate()
	}
}

func (b *filterBlockBuilder) addKey(key []byte) {
	b.keys = append(b.keys, append([]byte(nil), key...))
}

func (b *filterBlockBuilder) finish() []byte {
	if len(b.keys) > 0 {
		b.generate()
	}
	arrayOffset := uint32(len(b.result))
	for _, off := range b.offsets {
		b.result = binary.LittleEndian.AppendUint32(b.result, off)
	}
	b.result = binary.LittleEndian.AppendUint32(b.result, arrayOffset)
	return append(b.result, filterBaseLg)
}

func (b *filterBlockBuilder) generate() {
	b.offsets = append(b.offsets, uint32(len(b.result)))
	if len(b.keys) == 0 {
		return
	}
	b.result = b.policy.Append(b.result, b.keys)
	b.keys = b.keys[:0]
}

// filterBlockReader probes the filter covering a given data block offset.
type filterBlockReader struct {
	policy  filter.Policy
	data    []byte
	offsets []byte // the offset array
	num     int
	baseLg  uint
}

func newFilterBlockReader(policy filter.Policy, data []byte) (*filterBlockReader, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("filter block too short: %d bytes", len(data))
	}
	baseLg := uint(data[len(data)-1])
	arrayOffset := binary.LittleEndian.Uint32(data[len(data)-5:])
	if int(arrayOffset) > len(data)-5 {
		return nil, fmt.Errorf("filter block offset array out of range")
	}
	return &filterBlockReader{
		policy:  policy,
		data:    data,
		offsets: data[arrayOffset : len(data)-5],
		num:     (len(data) - 5 - int(arrayOffset)) / 4,
		baseLg:  baseLg,
	}, nil
}

// mayContain reports whether key may be present in the data block starting
// at blockOffset. Errors in the filter degrade to "maybe".
func (r *filterBlockReader) mayContain(blockOffset uint64, key []byte) bool {
	index := int(blockOffset >> r.baseLg)
	if index >= r.num {
		return true
	}
	start := binary.LittleEndian.Uint32(r.offsets[index*4:])
	var limit uint32
	if index+1 < r.num {
		limit = binary.LittleEndian.Uint32(r.offsets[(index+1)*4:])
	} else {
		limit = uint32(len(r.data) - len(r.offsets) - 5)
	}
	if start == limit {
		// Empty filter covers no keys.
		return false
	}
	if start > limit || int(limit) > len(r.data) {
		return true
	}
	return r.policy.MayContain(r.data[start:limit], key)
}
