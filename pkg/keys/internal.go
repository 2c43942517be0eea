package keys

import (
	"encoding/binary"
	"fmt"
)

// Kind distinguishes live values from deletion tombstones inside internal
// keys. Deletions must sort after values at the same sequence, which the
// numeric ordering of the tag already provides (Delete < Set, and the tag
// is compared descending).
type Kind uint8

const (
	KindDelete Kind = 0
	KindSet    Kind = 1

	// KindSeek is the kind used when constructing lookup keys. It is the
	// largest valid kind so a lookup key sorts before every entry with the
	// same user key and sequence.
	KindSeek = KindSet
)

// MaxSequence is the largest representable sequence number. Sequences are
// packed into 56 bits alongside the 8-bit kind.
const MaxSequence = uint64(1)<<56 - 1

// TagBytes is the length of the internal key trailer.
const TagBytes = 8

// PackTag combines a sequence number and kind into the 64-bit trailer.
func PackTag(seq uint64, kind Kind) uint64 {
	return seq<<8 | uint64(kind)
}

// UnpackTag splits a trailer into sequence number and kind.
func UnpackTag(tag uint64) (uint64, Kind) {
	return tag >> 8, Kind(tag & 0xff)
}

// MakeInternalKey appends the encoded internal key for (userKey, seq, kind)
// to dst and returns the extended slice.
func MakeInternalKey(dst, userKey []byte, seq uint64, kind Kind) []byte {
	dst = append(dst, userKey...)
	var trailer [TagBytes]byte
	binary.LittleEndian.PutUint64(trailer[:], PackTag(seq, kind))
	return append(dst, trailer[:]...)
}

// UserKey strips the trailer from an internal key.
func UserKey(ikey []byte) []byte {
	return ikey[:len(ikey)-TagBytes]
}

// ParseInternalKey splits an internal key into its parts. It returns an
// error for keys too short to carry a trailer or with an unknown kind.
func ParseInternalKey(ikey []byte) (ukey []byte, seq uint64, kind Kind, err error) {
	if len(ikey) < TagBytes {
		return nil, 0, 0, fmt.Errorf("internal key too short: %d bytes", len(ikey))
	}
	tag := binary.LittleEndian.Uint64(ikey[len(ikey)-TagBytes:])
	seq, kind = UnpackTag(tag)
	if kind > KindSet {
		return nil, 0, 0, fmt.Errorf("invalid internal key kind: %d", kind)
	}
	return ikey[:len(ikey)-TagBytes], seq, kind, nil
}

// InternalComparator orders internal keys: user keys ascending under the
// wrapped user comparator, then sequence numbers descending so the newest
// entry for a user key is encountered first.
type InternalComparator struct {
	User Comparator
}

func (c InternalComparator) Compare(a, b []byte) int {
	if r := c.User.Compare(UserKey(a), UserKey(b)); r != 0 {
		return r
	}
	atag := binary.LittleEndian.Uint64(a[len(a)-TagBytes:])
	btag := binary.LittleEndian.Uint64(b[len(b)-TagBytes:])
	switch {
	case atag > btag:
		return -1
	case atag < btag:
		return 1
	}
	return 0
}

func (c InternalComparator) Name() string {
	return "leveldb.InternalKeyComparator"
}

// FindShortSeparator shortens the user-key portion when possible, then
// reattaches a maximal trailer so the separator still sorts before every
// entry of the successor user key.
func (c InternalComparator) FindShortSeparator(a, b []byte) []byte {
	ua, ub := UserKey(a), UserKey(b)
	sep := c.User.FindShortSeparator(ua, ub)
	if len(sep) < len(ua) && c.User.Compare(ua, sep) < 0 {
		return MakeInternalKey(nil, sep, MaxSequence, KindSeek)
	}
	return a
}

func (c InternalComparator) FindShortSuccessor(a []byte) []byte {
	ua := UserKey(a)
	succ := c.User.FindShortSuccessor(ua)
	if len(succ) < len(ua) && c.User.Compare(ua, succ) < 0 {
		return MakeInternalKey(nil, succ, MaxSequence, KindSeek)
	}
	return a
}

// LookupKey is the probe key for point reads: the requested user key with
// the snapshot sequence and a maximal kind, so the first entry at or after
// it is the newest entry visible to that snapshot.
func LookupKey(userKey []byte, seq uint64) []byte {
	return MakeInternalKey(make([]byte, 0, len(userKey)+TagBytes), userKey, seq, KindSeek)
}
