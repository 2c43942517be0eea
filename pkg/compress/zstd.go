package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstdCompressor implements tag 5. Encoder and decoder are created once and
// reused; both are safe for concurrent use via EncodeAll/DecodeAll.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor() zstdCompressor {
	// Neither constructor can fail without options.
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return zstdCompressor{enc: enc, dec: dec}
}

func (zstdCompressor) ID() uint8    { return TagZstd }
func (zstdCompressor) Name() string { return "zstd" }

func (z zstdCompressor) Compress(dst, src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, dst), nil
}

func (z zstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}
