package iter

// Compare orders the keys flowing through a merging iterator. It must
// implement a strict total order; for the engine this is the internal key
// comparator.
type Compare func(a, b []byte) int

type direction int

const (
	forward direction = iota
	reverse
)

// NewMerging combines children into a single ordered stream. Entries with
// equal keys are yielded in child order, so callers must place newer
// sources (memtables) before older ones (tables).
func NewMerging(cmp Compare, children ...Iterator) Iterator {
	if len(children) == 1 {
		return children[0]
	}
	return &mergingIterator{
		cmp:      cmp,
		children: children,
	}
}

// mergingIterator tracks the current child rather than maintaining a
// separate heap structure: with the handful of children a database
// iterator composes (two memtables, a few L0 tables, one iterator per
// deeper level) a linear scan over children is cheaper than heap
// bookkeeping, and direction switches stay simple.
type mergingIterator struct {
	cmp      Compare
	children []Iterator
	current  Iterator
	dir      direction
	err      error
}

func (m *mergingIterator) Valid() bool {
	return m.err == nil && m.current != nil && m.current.Valid()
}

func (m *mergingIterator) SeekToFirst() {
	for _, child := range m.children {
		child.SeekToFirst()
	}
	m.dir = forward
	m.findSmallest()
}

func (m *mergingIterator) SeekToLast() {
	for _, child := range m.children {
		child.SeekToLast()
	}
	m.dir = reverse
	m.findLargest()
}

func (m *mergingIterator) Seek(target []byte) {
	for _, child := range m.children {
		child.Seek(target)
	}
	m.dir = forward
	m.findSmallest()
}

func (m *mergingIterator) Next() {
	if !m.Valid() {
		return
	}
	// After a direction switch every non-current child sits at its last
	// entry <= key; move each to the first entry > key before advancing.
	if m.dir != forward {
		key := m.Key()
		for _, child := range m.children {
			if child == m.current {
				continue
			}
			child.Seek(key)
			if child.Valid() && m.cmp(key, child.Key()) == 0 {
				child.Next()
			}
		}
		m.dir = forward
	}
	m.current.Next()
	m.findSmallest()
}

func (m *mergingIterator) Prev() {
	if !m.Valid() {
		return
	}
	if m.dir != reverse {
		key := m.Key()
		for _, child := range m.children {
			if child == m.current {
				continue
			}
			child.Seek(key)
			if child.Valid() {
				// Child is at the first entry >= key; step back to the
				// last entry strictly before key.
				child.Prev()
			} else {
				// All child entries are < key.
				child.SeekToLast()
			}
		}
		m.dir = reverse
	}
	m.current.Prev()
	m.findLargest()
}

func (m *mergingIterator) Key() []byte {
	if m.current == nil {
		return nil
	}
	return m.current.Key()
}

func (m *mergingIterator) Value() []byte {
	if m.current == nil {
		return nil
	}
	return m.current.Value()
}

func (m *mergingIterator) Err() error {
	if m.err != nil {
		return m.err
	}
	for _, child := range m.children {
		if err := child.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (m *mergingIterator) Close() error {
	var first error
	for _, child := range m.children {
		if err := child.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *mergingIterator) findSmallest() {
	var smallest Iterator
	for _, child := range m.children {
		if !child.Valid() {
			continue
		}
		if smallest == nil || m.cmp(child.Key(), smallest.Key()) < 0 {
			smallest = child
		}
	}
	m.current = smallest
}

func (m *mergingIterator) findLargest() {
	var largest Iterator
	for i := len(m.children) - 1; i >= 0; i-- {
		child := m.children[i]
		if !child.Valid() {
			continue
		}
		if largest == nil || m.cmp(child.Key(), largest.Key()) > 0 {
			largest = child
		}
	}
	m.current = largest
}
