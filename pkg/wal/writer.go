package wal

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dd0wney/cluso-leveldb/pkg/crc"
)

// Syncer is the optional durability hook of the log's destination.
type Syncer interface {
	Sync() error
}

// Writer appends logical records to a log stream. A record larger than
// the space left in the current block is split into FIRST/MIDDLE/LAST
// fragments; blocks with fewer than HeaderSize trailing bytes are
// zero-padded.
//
// Writer is not safe for concurrent use; the engine serializes appends
// under its write mutex.
type Writer struct {
	w io.Writer
	// blockOffset is the write position within the current block.
	blockOffset int
	// typeCRCs are precomputed CRCs of each record type byte, extended
	// over the payload per fragment.
	typeCRCs [TypeLast + 1]uint32
}

// NewWriter starts a log at the beginning of w.
func NewWriter(w io.Writer) *Writer {
	return newWriterAt(w, 0)
}

// NewWriterAt resumes a log whose destination already holds size bytes.
// Used when reopening the tail WAL after recovery.
func NewWriterAt(w io.Writer, size int64) *Writer {
	return newWriterAt(w, int(size%BlockSize))
}

func newWriterAt(w io.Writer, blockOffset int) *Writer {
	lw := &Writer{w: w, blockOffset: blockOffset}
	for t := range lw.typeCRCs {
		lw.typeCRCs[t] = crc.New([]byte{byte(t)})
	}
	return lw
}

// AddRecord appends one logical record. The payload may be empty.
func (w *Writer) AddRecord(payload []byte) error {
	begin := true
	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			// Not enough room for a header: pad and open a new block.
			if leftover > 0 {
				var zeros [HeaderSize - 1]byte
				if _, err := w.w.Write(zeros[:leftover]); err != nil {
					return fmt.Errorf("pad log block: %w", err)
				}
			}
			w.blockOffset = 0
			leftover = BlockSize
		}

		avail := leftover - HeaderSize
		frag := payload
		if len(frag) > avail {
			frag = frag[:avail]
		}
		payload = payload[len(frag):]
		end := len(payload) == 0

		var t RecordType
		switch {
		case begin && end:
			t = TypeFull
		case begin:
			t = TypeFirst
		case end:
			t = TypeLast
		default:
			t = TypeMiddle
		}

		if err := w.emit(t, frag); err != nil {
			return err
		}
		begin = false
		if end {
			return nil
		}
	}
}

func (w *Writer) emit(t RecordType, frag []byte) error {
	var header [HeaderSize]byte
	sum := crc.Mask(crc.Extend(w.typeCRCs[t], frag))
	binary.LittleEndian.PutUint32(header[0:4], sum)
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(frag)))
	header[6] = byte(t)

	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	if _, err := w.w.Write(frag); err != nil {
		return fmt.Errorf("write log fragment: %w", err)
	}
	w.blockOffset += HeaderSize + len(frag)
	return nil
}

// Sync forces the destination to stable storage when it supports it.
func (w *Writer) Sync() error {
	if s, ok := w.w.(Syncer); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("sync log: %w", err)
		}
	}
	return nil
}
