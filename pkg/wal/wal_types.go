// Package wal implements the write-ahead log record format: an append-only
// stream cut into fixed physical blocks, each record carried by one or
// more checksummed fragments. Every batch of mutations is appended here
// before it touches the memtable.
package wal

// RecordType tags one fragment of a logical record.
type RecordType uint8

const (
	// typeZero marks the zero-filled tail of a block; never written
	// explicitly.
	typeZero RecordType = 0

	TypeFull   RecordType = 1
	TypeFirst  RecordType = 2
	TypeMiddle RecordType = 3
	TypeLast   RecordType = 4
)

const (
	// BlockSize is the physical block the stream is cut into.
	BlockSize = 32 * 1024

	// HeaderSize is the per-fragment header: checksum (4, LE), payload
	// length (2, LE), type (1).
	HeaderSize = 7
)
