package table

import (
	"encoding/binary"
	"fmt"
)

// Fixed geometry of the table file format. The magic number and footer
// length are shared with every LevelDB-family implementation; changing
// either breaks on-disk compatibility.
const (
	// FooterLen is the fixed size of the footer at the tail of every
	// table: two maximally-padded block handles plus the magic number.
	FooterLen = 2*maxHandleLen + 8

	// TableMagic identifies a table file footer (stored little-endian).
	TableMagic = 0xdb4775248b80fb57

	// blockTrailerLen is the compression tag byte plus the masked CRC
	// appended after every block payload.
	blockTrailerLen = 5

	// maxHandleLen is the worst-case varint encoding of a block handle.
	maxHandleLen = 10 + 10
)

// BlockHandle locates a block inside a table file: the byte offset of the
// payload and its length excluding the trailer.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// EncodeTo appends the varint encoding of h to dst.
func (h BlockHandle) EncodeTo(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, h.Offset)
	return binary.AppendUvarint(dst, h.Size)
}

// DecodeHandle parses a block handle from the front of src, returning the
// handle and the number of bytes consumed.
func DecodeHandle(src []byte) (BlockHandle, int, error) {
	offset, n := binary.Uvarint(src)
	if n <= 0 {
		return BlockHandle{}, 0, fmt.Errorf("bad block handle offset")
	}
	size, m := binary.Uvarint(src[n:])
	if m <= 0 {
		return BlockHandle{}, 0, fmt.Errorf("bad block handle size")
	}
	return BlockHandle{Offset: offset, Size: size}, n + m, nil
}

// Footer seals a table file: handles for the meta-index and index blocks,
// padded to fixed length, followed by the magic number.
type Footer struct {
	MetaIndex BlockHandle
	Index     BlockHandle
}

// Encode renders the footer as exactly FooterLen bytes.
func (f Footer) Encode() []byte {
	buf := make([]byte, 0, FooterLen)
	buf = f.MetaIndex.EncodeTo(buf)
	buf = f.Index.EncodeTo(buf)
	for len(buf) < 2*maxHandleLen {
		buf = append(buf, 0)
	}
	var magic [8]byte
	binary.LittleEndian.PutUint64(magic[:], TableMagic)
	return append(buf, magic[:]...)
}

// DecodeFooter parses the final FooterLen bytes of a table file.
func DecodeFooter(src []byte) (Footer, error) {
	if len(src) != FooterLen {
		return Footer{}, fmt.Errorf("footer must be %d bytes, got %d", FooterLen, len(src))
	}
	if magic := binary.LittleEndian.Uint64(src[len(src)-8:]); magic != TableMagic {
		return Footer{}, fmt.Errorf("bad table magic %#x", magic)
	}
	var f Footer
	var n int
	var err error
	if f.MetaIndex, n, err = DecodeHandle(src); err != nil {
		return Footer{}, fmt.Errorf("meta-index handle: %w", err)
	}
	if f.Index, _, err = DecodeHandle(src[n:]); err != nil {
		return Footer{}, fmt.Errorf("index handle: %w", err)
	}
	return f, nil
}
