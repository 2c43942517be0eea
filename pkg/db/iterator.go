package db

import (
	"github.com/dd0wney/cluso-leveldb/pkg/iter"
	"github.com/dd0wney/cluso-leveldb/pkg/keys"
	"github.com/dd0wney/cluso-leveldb/pkg/version"
)

// dbIterator converts the merged internal-key stream into the
// user-visible view: entries above the snapshot sequence are skipped,
// only the newest entry per user key survives, tombstoned keys are
// hidden, and optional bounds clip the range.
type dbIterator struct {
	d        *DB
	input    iter.Iterator
	ver      *version.Version
	seq      uint64
	lower    []byte // inclusive, nil = unbounded
	upper    []byte // exclusive, nil = unbounded

	valid     bool
	direction direction
	// key/value hold the current user entry. In reverse iteration the
	// merged iterator has already moved before them, so they are copies.
	key   []byte
	value []byte
	err   error
}

type direction int

const (
	dirForward direction = iota
	dirReverse
)

func newDBIterator(d *DB, input iter.Iterator, ver *version.Version, seq uint64, lower, upper []byte) *dbIterator {
	return &dbIterator{
		d:     d,
		input: input,
		ver:   ver,
		seq:   seq,
		lower: lower,
		upper: upper,
	}
}

func (i *dbIterator) Valid() bool { return i.valid && i.err == nil }
func (i *dbIterator) Key() []byte {
	if !i.Valid() {
		return nil
	}
	return i.key
}
func (i *dbIterator) Value() []byte {
	if !i.Valid() {
		return nil
	}
	return i.value
}

func (i *dbIterator) Err() error {
	if i.err != nil {
		return i.err
	}
	return i.input.Err()
}

func (i *dbIterator) Close() error {
	err := i.input.Close()
	if i.ver != nil {
		i.d.mu.Lock()
		i.ver.Unref()
		i.d.mu.Unlock()
		i.ver = nil
	}
	i.valid = false
	return err
}

func (i *dbIterator) SeekToFirst() {
	i.direction = dirForward
	if i.lower != nil {
		i.input.Seek(keys.LookupKey(i.lower, i.seq))
	} else {
		i.input.SeekToFirst()
	}
	i.findNextUserEntry(false, nil)
}

func (i *dbIterator) SeekToLast() {
	i.direction = dirReverse
	if i.upper != nil {
		// Position before the first entry at or past the upper bound.
		i.input.Seek(keys.MakeInternalKey(nil, i.upper, keys.MaxSequence, keys.KindSeek))
		if i.input.Valid() {
			i.input.Prev()
		} else {
			i.input.SeekToLast()
		}
	} else {
		i.input.SeekToLast()
	}
	i.findPrevUserEntry()
}

func (i *dbIterator) Seek(target []byte) {
	i.direction = dirForward
	if i.lower != nil && i.d.icmp.User.Compare(target, i.lower) < 0 {
		target = i.lower
	}
	i.input.Seek(keys.LookupKey(target, i.seq))
	i.findNextUserEntry(false, nil)
}

func (i *dbIterator) Next() {
	if !i.Valid() {
		return
	}
	if i.direction == dirReverse {
		// The merged iterator sits before the current entry; move to
		// the first entry at or after it, then past its user key.
		i.direction = dirForward
		if !i.input.Valid() {
			i.input.SeekToFirst()
		} else {
			i.input.Next()
		}
		for i.input.Valid() {
			ukey, _, _, err := keys.ParseInternalKey(i.input.Key())
			if err == nil && i.d.icmp.User.Compare(ukey, i.key) > 0 {
				break
			}
			i.input.Next()
		}
		skip := append([]byte(nil), i.key...)
		i.findNextUserEntry(true, skip)
		return
	}
	skip := append([]byte(nil), i.key...)
	i.input.Next()
	i.findNextUserEntry(true, skip)
}

func (i *dbIterator) Prev() {
	if !i.Valid() {
		return
	}
	if i.direction == dirForward {
		// The merged iterator sits on the current entry; back it off to
		// before the current user key.
		for {
			i.input.Prev()
			if !i.input.Valid() {
				break
			}
			ukey, _, _, err := keys.ParseInternalKey(i.input.Key())
			if err == nil && i.d.icmp.User.Compare(ukey, i.key) < 0 {
				break
			}
		}
		i.direction = dirReverse
	}
	i.findPrevUserEntry()
}

// findNextUserEntry scans forward to the newest visible, undeleted entry
// of the next acceptable user key. When skipping, entries with user key
// <= skip are hidden.
func (i *dbIterator) findNextUserEntry(skipping bool, skip []byte) {
	for i.input.Valid() {
		ukey, seq, kind, err := keys.ParseInternalKey(i.input.Key())
		if err != nil {
			i.err = corruption("iterator: %v", err)
			i.valid = false
			return
		}
		if seq <= i.seq {
			switch {
			case kind == keys.KindDelete:
				// Everything older for this user key is deleted.
				skip = append(skip[:0], ukey...)
				skipping = true
			case skipping && i.d.icmp.User.Compare(ukey, skip) <= 0:
				// Shadowed by a newer entry already surfaced or deleted.
			default:
				if i.upper != nil && i.d.icmp.User.Compare(ukey, i.upper) >= 0 {
					i.valid = false
					return
				}
				i.valid = true
				i.key = append(i.key[:0], ukey...)
				i.value = append(i.value[:0], i.input.Value()...)
				return
			}
		}
		i.input.Next()
	}
	i.valid = false
}

// findPrevUserEntry scans backward. Walking in reverse, the newest entry
// of each user key is seen last, so the scan keeps the most recent
// accepted entry and emits it when the user key changes.
func (i *dbIterator) findPrevUserEntry() {
	valueKind := keys.KindDelete // nothing accepted yet

	for i.input.Valid() {
		ukey, seq, kind, err := keys.ParseInternalKey(i.input.Key())
		if err != nil {
			i.err = corruption("iterator: %v", err)
			i.valid = false
			return
		}
		if seq <= i.seq {
			if valueKind != keys.KindDelete && i.d.icmp.User.Compare(ukey, i.key) < 0 {
				// Crossed into an older user key with a live entry in
				// hand: surface it.
				i.valid = true
				return
			}
			if i.lower != nil && i.d.icmp.User.Compare(ukey, i.lower) < 0 {
				break
			}
			valueKind = kind
			if kind == keys.KindDelete {
				i.key = i.key[:0]
			} else {
				i.key = append(i.key[:0], ukey...)
				i.value = append(i.value[:0], i.input.Value()...)
			}
		}
		i.input.Prev()
	}

	if valueKind == keys.KindDelete {
		i.valid = false
		i.direction = dirForward
		return
	}
	i.valid = true
}
