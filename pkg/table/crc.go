package table

import (
	"github.com/dd0wney/cluso-leveldb/pkg/crc"
)

// The table format shares its checksum primitives with the log format.

// MaskCRC applies the on-disk CRC mask.
func MaskCRC(c uint32) uint32 { return crc.Mask(c) }

// UnmaskCRC reverses MaskCRC.
func UnmaskCRC(c uint32) uint32 { return crc.Unmask(c) }

// NewCRC computes the CRC32C of data.
func NewCRC(data []byte) uint32 { return crc.New(data) }

// ExtendCRC continues a CRC32C over more data.
func ExtendCRC(c uint32, data []byte) uint32 { return crc.Extend(c, data) }
