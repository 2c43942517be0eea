package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dd0wney/cluso-leveldb/pkg/crc"
)

// ErrCorrupt reports damage in the middle of a log stream. Damage at the
// very tail (a torn write from a crash) is not an error; the reader
// treats it as end-of-log.
var ErrCorrupt = errors.New("log record corrupt")

// Reader replays logical records from a log stream.
type Reader struct {
	r io.Reader
	// block holds the current physical block; buf is the unread window.
	block [BlockSize]byte
	buf   []byte
	// eof is set once the source returns a short block, meaning the
	// stream's final (possibly truncated) block is in hand.
	eof bool
	// record accumulates fragments of the current logical record.
	record []byte
}

// NewReader replays the log in r from the beginning.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadRecord returns the next logical record. It returns io.EOF at the
// clean end of the log (including a truncated final record, which is the
// signature of a crash mid-append) and ErrCorrupt for damage earlier in
// the stream.
func (r *Reader) ReadRecord() ([]byte, error) {
	r.record = r.record[:0]
	inFragmented := false

	for {
		frag, t, err := r.readFragment()
		if err != nil {
			if errors.Is(err, io.EOF) && inFragmented {
				// The stream ended inside a fragmented record: a torn
				// append at the tail, treated as end-of-log.
				return nil, io.EOF
			}
			return nil, err
		}

		switch t {
		case TypeFull:
			if inFragmented {
				return nil, fmt.Errorf("%w: FULL fragment inside fragmented record", ErrCorrupt)
			}
			return append(r.record, frag...), nil
		case TypeFirst:
			if inFragmented {
				return nil, fmt.Errorf("%w: FIRST fragment inside fragmented record", ErrCorrupt)
			}
			inFragmented = true
			r.record = append(r.record, frag...)
		case TypeMiddle:
			if !inFragmented {
				return nil, fmt.Errorf("%w: MIDDLE fragment without FIRST", ErrCorrupt)
			}
			r.record = append(r.record, frag...)
		case TypeLast:
			if !inFragmented {
				return nil, fmt.Errorf("%w: LAST fragment without FIRST", ErrCorrupt)
			}
			return append(r.record, frag...), nil
		default:
			return nil, fmt.Errorf("%w: unknown fragment type %d", ErrCorrupt, t)
		}
	}
}

// readFragment returns the next physical fragment.
func (r *Reader) readFragment() ([]byte, RecordType, error) {
	for {
		if len(r.buf) < HeaderSize {
			// Remaining bytes are block padding (or a torn header at
			// the tail); move to the next block.
			if r.eof {
				return nil, 0, io.EOF
			}
			if err := r.readBlock(); err != nil {
				return nil, 0, err
			}
			continue
		}

		header := r.buf[:HeaderSize]
		want := binary.LittleEndian.Uint32(header[0:4])
		length := int(binary.LittleEndian.Uint16(header[4:6]))
		t := RecordType(header[6])

		if t == typeZero && want == 0 && length == 0 {
			// Zero-filled padding: skip to the next block.
			r.buf = r.buf[:0]
			continue
		}

		if HeaderSize+length > len(r.buf) {
			// Fragment extends past the bytes we hold.
			if r.eof {
				// Torn write at the tail.
				return nil, 0, io.EOF
			}
			return nil, 0, fmt.Errorf("%w: fragment length %d overflows block", ErrCorrupt, length)
		}

		frag := r.buf[HeaderSize : HeaderSize+length]
		got := crc.Extend(crc.New([]byte{byte(t)}), frag)
		if crc.Unmask(want) != got {
			if r.eof {
				// Checksum damage in the final block: torn tail.
				return nil, 0, io.EOF
			}
			return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
		}

		r.buf = r.buf[HeaderSize+length:]
		return frag, t, nil
	}
}

// readBlock fills the window with the next physical block.
func (r *Reader) readBlock() error {
	n, err := io.ReadFull(r.r, r.block[:])
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		if n == 0 {
			return io.EOF
		}
		r.eof = true
	default:
		return fmt.Errorf("read log block: %w", err)
	}
	r.buf = r.block[:n]
	return nil
}
