package compress

import (
	"fmt"

	"github.com/golang/snappy"
)

// snappyCompressor implements tag 1 using the raw (non-framed) snappy
// encoding, matching the reference implementation.
type snappyCompressor struct{}

func (snappyCompressor) ID() uint8    { return TagSnappy }
func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(dst, src []byte) ([]byte, error) {
	// snappy.Encode writes from the start of its destination buffer, so
	// encode into fresh space past len(dst).
	n := len(dst)
	dst = append(dst, make([]byte, snappy.MaxEncodedLen(len(src)))...)
	out := snappy.Encode(dst[n:], src)
	return dst[:n+len(out)], nil
}

func (snappyCompressor) Decompress(dst, src []byte) ([]byte, error) {
	declen, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("snappy: corrupt header: %w", err)
	}
	n := len(dst)
	dst = append(dst, make([]byte, declen)...)
	out, err := snappy.Decode(dst[n:], src)
	if err != nil {
		return nil, fmt.Errorf("snappy: %w", err)
	}
	return dst[:n+len(out)], nil
}
