package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// zlibCompressor implements the two zlib framings used by the Bedrock
// variant: tag 2 carries a raw DEFLATE stream, tag 4 carries the
// zlib-wrapped form with header and adler32 trailer.
type zlibCompressor struct {
	tag uint8
	raw bool
}

func newZlibCompressor(tag uint8, raw bool) zlibCompressor {
	return zlibCompressor{tag: tag, raw: raw}
}

func (z zlibCompressor) ID() uint8 { return z.tag }

func (z zlibCompressor) Name() string {
	if z.raw {
		return "zlib-raw"
	}
	return "zlib"
}

func (z zlibCompressor) Compress(dst, src []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	if z.raw {
		w, err = flate.NewWriter(&buf, flate.DefaultCompression)
	} else {
		w, err = zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", z.Name(), err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("%s: %w", z.Name(), err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s: %w", z.Name(), err)
	}
	return append(dst, buf.Bytes()...), nil
}

func (z zlibCompressor) Decompress(dst, src []byte) ([]byte, error) {
	var r io.ReadCloser
	if z.raw {
		r = flate.NewReader(bytes.NewReader(src))
	} else {
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("zlib: corrupt header: %w", err)
		}
		r = zr
	}
	defer r.Close()

	buf := bytes.NewBuffer(dst)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("%s: %w", z.Name(), err)
	}
	return buf.Bytes(), nil
}
