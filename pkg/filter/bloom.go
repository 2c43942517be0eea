// Package filter provides the pluggable per-table filter policy. The
// builtin bloom policy reproduces the reference LevelDB bit layout so
// filters written by other implementations verify correctly.
package filter

import (
	"encoding/binary"
)

// Policy builds and probes per-block filters. Implementations must be
// stateless or safe for concurrent use.
type Policy interface {
	// Name is persisted in the table's meta-index block; a reader only
	// consults a filter whose name matches its configured policy.
	Name() string

	// Append creates a filter covering keys and appends it to dst.
	Append(dst []byte, keys [][]byte) []byte

	// MayContain reports whether key is possibly covered by filter.
	// False positives are allowed; false negatives are not.
	MayContain(filter, key []byte) bool
}

// NewBloomPolicy returns the builtin bloom filter policy. bitsPerKey
// trades filter size against false-positive rate; 10 gives roughly a 1%
// false-positive rate.
func NewBloomPolicy(bitsPerKey int) Policy {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	// k = bitsPerKey * ln(2), clamped to a sane probe count.
	k := uint8(float64(bitsPerKey) * 0.69)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return bloomPolicy{bitsPerKey: bitsPerKey, k: k}
}

type bloomPolicy struct {
	bitsPerKey int
	k          uint8
}

func (bloomPolicy) Name() string {
	return "leveldb.BuiltinBloomFilter2"
}

func (p bloomPolicy) Append(dst []byte, keys [][]byte) []byte {
	bits := len(keys) * p.bitsPerKey
	// Tiny filters have a high false-positive rate regardless; 64 bits
	// keeps the probe arithmetic out of degenerate territory.
	if bits < 64 {
		bits = 64
	}
	nBytes := (bits + 7) / 8
	bits = nBytes * 8

	start := len(dst)
	dst = append(dst, make([]byte, nBytes)...)
	array := dst[start:]

	for _, key := range keys {
		// Double hashing: derive k probe positions from one hash by
		// repeatedly adding a rotated delta.
		h := bloomHash(key)
		delta := h>>17 | h<<15
		for i := uint8(0); i < p.k; i++ {
			pos := h % uint32(bits)
			array[pos/8] |= 1 << (pos % 8)
			h += delta
		}
	}
	// The probe count rides along in the final byte so readers built with
	// a different bitsPerKey still probe correctly.
	return append(dst, p.k)
}

func (p bloomPolicy) MayContain(filter, key []byte) bool {
	if len(filter) < 2 {
		return false
	}
	bits := uint32(len(filter)-1) * 8
	k := filter[len(filter)-1]
	if k > 30 {
		// Reserved for future encodings; treat as a match rather than
		// wrongly excluding a key.
		return true
	}

	h := bloomHash(key)
	delta := h>>17 | h<<15
	for i := uint8(0); i < k; i++ {
		pos := h % bits
		if filter[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

// bloomHash is the reference implementation's hash function (a Murmur
// variant) with its fixed bloom seed. The exact function is part of the
// on-disk format.
func bloomHash(key []byte) uint32 {
	return hash(key, 0xbc9f1d34)
}

func hash(data []byte, seed uint32) uint32 {
	const (
		m = uint32(0xc6a4a793)
		r = 24
	)
	h := seed ^ uint32(len(data))*m

	for len(data) >= 4 {
		h += binary.LittleEndian.Uint32(data)
		h *= m
		h ^= h >> 16
		data = data[4:]
	}

	switch len(data) {
	case 3:
		h += uint32(data[2]) << 16
		fallthrough
	case 2:
		h += uint32(data[1]) << 8
		fallthrough
	case 1:
		h += uint32(data[0])
		h *= m
		h ^= h >> r
	}
	return h
}
