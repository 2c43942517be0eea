// Package compress provides the pluggable block compressor registry used by
// the table reader and writer. Compressors are identified by the one-byte
// tag stored in each block trailer; databases written by other LevelDB
// implementations are readable as long as a compressor with the matching
// tag is registered.
package compress

import (
	"errors"
	"fmt"
)

// Well-known compressor tags. Tags 2 and 4 are the two zlib framings used
// by the Minecraft Bedrock variant of LevelDB.
const (
	TagNone        uint8 = 0
	TagSnappy      uint8 = 1
	TagZlibRaw     uint8 = 2
	TagZlibWrapped uint8 = 4
	TagZstd        uint8 = 5
)

// ErrUnknownTag is returned when a block names a compressor tag that has no
// registered implementation. The error is scoped to the single block; the
// rest of the database remains readable.
var ErrUnknownTag = errors.New("unknown compression tag")

// Compressor encodes and decodes block payloads for one trailer tag.
// Implementations must be safe for concurrent use.
type Compressor interface {
	// ID is the trailer tag this compressor claims.
	ID() uint8

	// Name is a human-readable identifier for logs and tooling.
	Name() string

	// Compress appends the compressed form of src to dst and returns the
	// extended slice.
	Compress(dst, src []byte) ([]byte, error)

	// Decompress appends the decompressed form of src to dst and returns
	// the extended slice.
	Decompress(dst, src []byte) ([]byte, error)
}

// Registry maps trailer tags to compressors. The zero value is empty; use
// NewRegistry or DefaultRegistry.
type Registry struct {
	byTag [256]Compressor
}

// NewRegistry builds a registry from the given compressors. Duplicate tags
// are an error.
func NewRegistry(compressors ...Compressor) (*Registry, error) {
	r := &Registry{}
	for _, c := range compressors {
		if r.byTag[c.ID()] != nil {
			return nil, fmt.Errorf("duplicate compressor for tag %d (%s vs %s)",
				c.ID(), r.byTag[c.ID()].Name(), c.Name())
		}
		r.byTag[c.ID()] = c
	}
	return r, nil
}

// DefaultRegistry registers every built-in compressor: none, snappy, both
// zlib framings, and zstd.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		noneCompressor{},
		snappyCompressor{},
		newZlibCompressor(TagZlibRaw, true),
		newZlibCompressor(TagZlibWrapped, false),
		newZstdCompressor(),
	)
	if err != nil {
		// Built-in tags are distinct constants.
		panic(err)
	}
	return r
}

// Get returns the compressor for tag, or ErrUnknownTag.
func (r *Registry) Get(tag uint8) (Compressor, error) {
	if c := r.byTag[tag]; c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
}

// Has reports whether a compressor is registered for tag.
func (r *Registry) Has(tag uint8) bool {
	return r.byTag[tag] != nil
}

// noneCompressor stores payloads verbatim under tag 0.
type noneCompressor struct{}

func (noneCompressor) ID() uint8    { return TagNone }
func (noneCompressor) Name() string { return "none" }

func (noneCompressor) Compress(dst, src []byte) ([]byte, error) {
	return append(dst, src...), nil
}

func (noneCompressor) Decompress(dst, src []byte) ([]byte, error) {
	return append(dst, src...), nil
}
