package db

import (
	"encoding/binary"
	"fmt"

	"github.com/dd0wney/cluso-leveldb/pkg/keys"
	"github.com/dd0wney/cluso-leveldb/pkg/memtable"
)

// batchHeaderLen is the fixed prefix of a batch: sequence (8, LE) and
// entry count (4, LE).
const batchHeaderLen = 12

// Batch collects puts and deletes that commit atomically: all entries
// reach the WAL in one record and the memtable under consecutive
// sequence numbers, or none do.
//
// A Batch is not safe for concurrent use.
type Batch struct {
	rep []byte
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{rep: make([]byte, batchHeaderLen)}
}

// Put queues a key/value store.
func (b *Batch) Put(key, value []byte) {
	b.init()
	b.setCount(b.Count() + 1)
	b.rep = append(b.rep, byte(keys.KindSet))
	b.rep = binary.AppendUvarint(b.rep, uint64(len(key)))
	b.rep = append(b.rep, key...)
	b.rep = binary.AppendUvarint(b.rep, uint64(len(value)))
	b.rep = append(b.rep, value...)
}

// Delete queues a key removal.
func (b *Batch) Delete(key []byte) {
	b.init()
	b.setCount(b.Count() + 1)
	b.rep = append(b.rep, byte(keys.KindDelete))
	b.rep = binary.AppendUvarint(b.rep, uint64(len(key)))
	b.rep = append(b.rep, key...)
}

// Clear empties the batch for reuse.
func (b *Batch) Clear() {
	b.init()
	b.rep = b.rep[:batchHeaderLen]
	for i := range b.rep {
		b.rep[i] = 0
	}
}

// Count returns the number of queued entries.
func (b *Batch) Count() uint32 {
	b.init()
	return binary.LittleEndian.Uint32(b.rep[8:batchHeaderLen])
}

// ApproximateSize returns the encoded size of the batch.
func (b *Batch) ApproximateSize() int {
	b.init()
	return len(b.rep)
}

// Append adds every entry of other to b.
func (b *Batch) Append(other *Batch) error {
	b.init()
	other.init()
	count := other.Count()
	b.setCount(b.Count() + count)
	b.rep = append(b.rep, other.rep[batchHeaderLen:]...)
	return nil
}

// Iterate replays the batch through fn in insertion order; sequence i is
// base+i for entry i.
func (b *Batch) Iterate(fn func(kind keys.Kind, key, value []byte) error) error {
	b.init()
	data := b.rep[batchHeaderLen:]
	var n uint32
	for len(data) > 0 {
		kind := keys.Kind(data[0])
		data = data[1:]
		key, rest, err := getLengthPrefixed(data)
		if err != nil {
			return corruption("batch entry %d: %v", n, err)
		}
		data = rest
		var value []byte
		switch kind {
		case keys.KindSet:
			value, rest, err = getLengthPrefixed(data)
			if err != nil {
				return corruption("batch entry %d: %v", n, err)
			}
			data = rest
		case keys.KindDelete:
		default:
			return corruption("batch entry %d has unknown kind %d", n, kind)
		}
		if err := fn(kind, key, value); err != nil {
			return err
		}
		n++
	}
	if n != b.Count() {
		return corruption("batch count %d does not match entries %d", b.Count(), n)
	}
	return nil
}

// sequence returns the base sequence encoded in the header.
func (b *Batch) sequence() uint64 {
	b.init()
	return binary.LittleEndian.Uint64(b.rep[:8])
}

// setSequence stamps the base sequence; done by the engine at commit.
func (b *Batch) setSequence(seq uint64) {
	b.init()
	binary.LittleEndian.PutUint64(b.rep[:8], seq)
}

func (b *Batch) setCount(n uint32) {
	binary.LittleEndian.PutUint32(b.rep[8:batchHeaderLen], n)
}

func (b *Batch) init() {
	if len(b.rep) < batchHeaderLen {
		b.rep = make([]byte, batchHeaderLen)
	}
}

// contents exposes the wire form appended to the WAL.
func (b *Batch) contents() []byte {
	b.init()
	return b.rep
}

// setContents adopts a wire-form batch recovered from the WAL.
func (b *Batch) setContents(data []byte) error {
	if len(data) < batchHeaderLen {
		return corruption("batch record of %d bytes is shorter than the header", len(data))
	}
	b.rep = data
	return nil
}

// applyTo inserts the batch into mem starting at its base sequence.
func (b *Batch) applyTo(mem *memtable.MemTable) error {
	seq := b.sequence()
	return b.Iterate(func(kind keys.Kind, key, value []byte) error {
		mem.Add(seq, kind, key, value)
		seq++
		return nil
	})
}

func getLengthPrefixed(data []byte) ([]byte, []byte, error) {
	n, w := binary.Uvarint(data)
	if w <= 0 {
		return nil, nil, fmt.Errorf("bad varint length")
	}
	data = data[w:]
	if n > uint64(len(data)) {
		return nil, nil, fmt.Errorf("length %d overruns record", n)
	}
	return data[:n], data[n:], nil
}
