package keys

import (
	"bytes"
)

// Comparator defines a total order over user keys. Implementations must be
// deterministic and consistent: Compare(a, b) == 0 must imply that a and b
// are byte-for-byte identical, because index separators and restart points
// are derived from key bytes.
//
// The comparator's Name is persisted in the MANIFEST. Opening a database
// with a comparator whose name differs from the persisted one is an error.
type Comparator interface {
	// Compare returns -1, 0, or +1 if a sorts before, equal to, or after b.
	Compare(a, b []byte) int

	// Name identifies the ordering. Changing the ordering without changing
	// the name corrupts any existing database.
	Name() string

	// FindShortSeparator returns a key k with a <= k < b under this
	// ordering, preferably shorter than a. Used to shorten index entries
	// between data blocks. Returning a unchanged is always valid.
	FindShortSeparator(a, b []byte) []byte

	// FindShortSuccessor returns a key k >= a, preferably shorter than a.
	// Used for the final index entry of a table. Returning a unchanged is
	// always valid.
	FindShortSuccessor(a []byte) []byte
}

// BytewiseComparator orders keys lexicographically by unsigned byte value.
// Its name matches the reference implementation so databases written by
// either are interchangeable.
func BytewiseComparator() Comparator {
	return bytewiseComparator{}
}

type bytewiseComparator struct{}

func (bytewiseComparator) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

func (bytewiseComparator) Name() string {
	return "leveldb.BytewiseComparator"
}

func (bytewiseComparator) FindShortSeparator(a, b []byte) []byte {
	// Find the length of the common prefix.
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	if i >= n {
		// One key is a prefix of the other; a cannot be shortened.
		return a
	}
	if c := a[i]; c < 0xff && c+1 < b[i] {
		sep := make([]byte, i+1)
		copy(sep, a)
		sep[i] = c + 1
		return sep
	}
	return a
}

func (bytewiseComparator) FindShortSuccessor(a []byte) []byte {
	for i, c := range a {
		if c != 0xff {
			succ := make([]byte, i+1)
			copy(succ, a)
			succ[i] = c + 1
			return succ
		}
	}
	// All 0xff: a is its own successor.
	return a
}
