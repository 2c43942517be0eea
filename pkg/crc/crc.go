// Package crc implements the CRC32C checksums shared by the table and log
// formats, including the mask applied before checksums are stored on disk.
package crc

import (
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const maskDelta = 0xa282ead8

// Mask transforms a raw CRC32C so that storing it inside data that is
// itself checksummed cannot collapse to a degenerate constant.
func Mask(c uint32) uint32 {
	return (c>>15 | c<<17) + maskDelta
}

// Unmask reverses Mask.
func Unmask(c uint32) uint32 {
	c -= maskDelta
	return c>>17 | c<<15
}

// New computes the CRC32C of data.
func New(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Extend continues a CRC32C over more data.
func Extend(c uint32, data []byte) uint32 {
	return crc32.Update(c, castagnoli, data)
}
