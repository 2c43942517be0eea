// Package iter defines the iterator contract shared by memtables, table
// readers, and the merge layer, plus the N-way merging iterator the engine
// composes its read path from.
package iter

// Iterator walks an ordered sequence of key/value entries. Before the
// first positioning call the iterator is invalid. Key and Value are only
// meaningful while Valid returns true, and the returned slices are only
// guaranteed stable until the next positioning call.
//
// Iterators are not safe for concurrent use.
type Iterator interface {
	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool

	// SeekToFirst positions at the first entry.
	SeekToFirst()

	// SeekToLast positions at the last entry.
	SeekToLast()

	// Seek positions at the first entry with key >= target.
	Seek(target []byte)

	// Next advances to the next entry.
	Next()

	// Prev moves back to the previous entry.
	Prev()

	// Key returns the current entry's key.
	Key() []byte

	// Value returns the current entry's value.
	Value() []byte

	// Err returns the first error the iterator encountered, if any. An
	// iterator with a pending error reports Valid() == false.
	Err() error

	// Close releases any resources pinned by the iterator (cache handles,
	// table references). The iterator is unusable afterwards.
	Close() error
}

// Empty returns an iterator over nothing, optionally carrying err.
func Empty(err error) Iterator {
	return &emptyIterator{err: err}
}

type emptyIterator struct {
	err error
}

func (i *emptyIterator) Valid() bool      { return false }
func (i *emptyIterator) SeekToFirst()     {}
func (i *emptyIterator) SeekToLast()      {}
func (i *emptyIterator) Seek([]byte)      {}
func (i *emptyIterator) Next()            {}
func (i *emptyIterator) Prev()            {}
func (i *emptyIterator) Key() []byte      { return nil }
func (i *emptyIterator) Value() []byte    { return nil }
func (i *emptyIterator) Err() error       { return i.err }
func (i *emptyIterator) Close() error     { return nil }
