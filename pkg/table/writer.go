package table

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dd0wney/cluso-leveldb/pkg/compress"
	"github.com/dd0wney/cluso-leveldb/pkg/filter"
	"github.com/dd0wney/cluso-leveldb/pkg/keys"
)

// DefaultBlockSize is the uncompressed size at which a data block is cut.
const DefaultBlockSize = 4 * 1024

// WriterOptions configures table construction. The zero value is not
// usable; fill in at least Comparator.
type WriterOptions struct {
	// Comparator orders keys and shortens index separators. Must match
	// the comparator the keys were sorted with.
	Comparator keys.Comparator

	// BlockSize is the uncompressed payload threshold for cutting a data
	// block. Defaults to DefaultBlockSize.
	BlockSize int

	// RestartInterval is the entry count between restart points.
	// Defaults to DefaultRestartInterval.
	RestartInterval int

	// Compression selects the trailer tag applied to blocks. TagNone
	// disables compression.
	Compression uint8

	// Compressors resolves the Compression tag. Required when
	// Compression != TagNone.
	Compressors *compress.Registry

	// FilterPolicy, when set, adds a filter meta block.
	FilterPolicy filter.Policy
}

func (o *WriterOptions) sanitize() {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.RestartInterval <= 0 {
		o.RestartInterval = DefaultRestartInterval
	}
}

// Writer builds an immutable sorted table from keys added in strictly
// increasing order. The output is written through an io.Writer; the caller
// owns syncing and closing the underlying file.
type Writer struct {
	w    io.Writer
	opts WriterOptions

	dataBlock  *blockBuilder
	indexBlock *blockBuilder
	filter     *filterBlockBuilder

	offset       uint64
	numEntries   int
	lastKey      []byte
	pendingIndex bool
	pendingBH    BlockHandle

	compressBuf []byte
	err         error
}

// NewWriter begins a new table written to w.
func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	opts.sanitize()
	tw := &Writer{
		w:          w,
		opts:       opts,
		dataBlock:  newBlockBuilder(opts.RestartInterval),
		indexBlock: newBlockBuilder(1),
	}
	if opts.FilterPolicy != nil {
		tw.filter = newFilterBlockBuilder(opts.FilterPolicy)
		tw.filter.startBlock(0)
	}
	return tw
}

// Add appends an entry. Keys must arrive in strictly increasing order
// under the writer's comparator.
func (t *Writer) Add(key, value []byte) error {
	if t.err != nil {
		return t.err
	}
	if t.numEntries > 0 && t.opts.Comparator.Compare(key, t.lastKey) <= 0 {
		t.err = fmt.Errorf("keys added out of order")
		return t.err
	}

	t.maybeFlushPendingIndex(key)

	if t.filter != nil {
		t.filter.addKey(key)
	}
	t.dataBlock.add(key, value)
	t.lastKey = append(t.lastKey[:0], key...)
	t.numEntries++

	if t.dataBlock.estimatedSize() >= t.opts.BlockSize {
		if err := t.finishDataBlock(); err != nil {
			return err
		}
	}
	return nil
}

// maybeFlushPendingIndex emits the deferred index entry for the previous
// data block, using the next key to pick a short separator.
func (t *Writer) maybeFlushPendingIndex(nextKey []byte) {
	if !t.pendingIndex {
		return
	}
	sep := t.opts.Comparator.FindShortSeparator(t.lastKey, nextKey)
	t.indexBlock.add(sep, t.pendingBH.EncodeTo(nil))
	t.pendingIndex = false
}

func (t *Writer) finishDataBlock() error {
	if t.dataBlock.empty() {
		return nil
	}
	bh, err := t.writeBlock(t.dataBlock.finish())
	if err != nil {
		t.err = err
		return err
	}
	t.dataBlock.reset()
	t.pendingIndex = true
	t.pendingBH = bh
	if t.filter != nil {
		t.filter.startBlock(t.offset)
	}
	return nil
}

// writeBlock compresses the payload if that pays off, appends the trailer,
// and writes the result, returning the block's handle.
func (t *Writer) writeBlock(payload []byte) (BlockHandle, error) {
	tag := compress.TagNone
	out := payload

	if t.opts.Compression != compress.TagNone && t.opts.Compressors != nil {
		c, err := t.opts.Compressors.Get(t.opts.Compression)
		if err != nil {
			return BlockHandle{}, err
		}
		t.compressBuf, err = c.Compress(t.compressBuf[:0], payload)
		if err != nil {
			return BlockHandle{}, fmt.Errorf("compress block: %w", err)
		}
		// Keep the compressed form only when it actually saves space;
		// incompressible blocks are stored raw.
		if len(t.compressBuf) < len(payload)-len(payload)/8 {
			tag = t.opts.Compression
			out = t.compressBuf
		}
	}

	return t.writeRawBlock(out, tag)
}

// writeRawBlock writes an already-encoded payload with its trailer.
func (t *Writer) writeRawBlock(payload []byte, tag uint8) (BlockHandle, error) {
	bh := BlockHandle{Offset: t.offset, Size: uint64(len(payload))}

	crc := NewCRC(payload)
	crc = ExtendCRC(crc, []byte{tag})
	var trailer [blockTrailerLen]byte
	trailer[0] = tag
	binary.LittleEndian.PutUint32(trailer[1:], MaskCRC(crc))

	if _, err := t.w.Write(payload); err != nil {
		return BlockHandle{}, fmt.Errorf("write block: %w", err)
	}
	if _, err := t.w.Write(trailer[:]); err != nil {
		return BlockHandle{}, fmt.Errorf("write block trailer: %w", err)
	}
	t.offset += uint64(len(payload)) + blockTrailerLen
	return bh, nil
}

// EstimatedSize is the number of file bytes written so far plus the
// current data block.
func (t *Writer) EstimatedSize() uint64 {
	return t.offset + uint64(t.dataBlock.estimatedSize())
}

// NumEntries is the count of entries added.
func (t *Writer) NumEntries() int {
	return t.numEntries
}

// Finish flushes the final data block, writes the filter, meta-index, and
// index blocks, and seals the file with the footer.
func (t *Writer) Finish() error {
	if t.err != nil {
		return t.err
	}
	if err := t.finishDataBlock(); err != nil {
		return err
	}

	// Filter block (always written uncompressed).
	var filterBH BlockHandle
	haveFilter := t.filter != nil
	if haveFilter {
		bh, err := t.writeRawBlock(t.filter.finish(), compress.TagNone)
		if err != nil {
			t.err = err
			return err
		}
		filterBH = bh
	}

	// Meta-index block: one entry naming the filter policy.
	metaIndex := newBlockBuilder(t.opts.RestartInterval)
	if haveFilter {
		name := "filter." + t.opts.FilterPolicy.Name()
		metaIndex.add([]byte(name), filterBH.EncodeTo(nil))
	}
	metaBH, err := t.writeBlock(metaIndex.finish())
	if err != nil {
		t.err = err
		return err
	}

	// Index block: flush the pending entry with a short successor of the
	// table's last key.
	if t.pendingIndex {
		succ := t.opts.Comparator.FindShortSuccessor(t.lastKey)
		t.indexBlock.add(succ, t.pendingBH.EncodeTo(nil))
		t.pendingIndex = false
	}
	indexBH, err := t.writeBlock(t.indexBlock.finish())
	if err != nil {
		t.err = err
		return err
	}

	footer := Footer{MetaIndex: metaBH, Index: indexBH}
	if _, err := t.w.Write(footer.Encode()); err != nil {
		t.err = fmt.Errorf("write footer: %w", err)
		return t.err
	}
	t.offset += FooterLen
	return nil
}
