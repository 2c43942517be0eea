package iter

// OpenFunc materializes the sub-iterator named by an index entry's value:
// a data block for a table's index, or a table for a level's file list.
type OpenFunc func(indexValue []byte) (Iterator, error)

// NewTwoLevel chains an index iterator to the sub-iterators its entries
// describe, presenting the concatenation as one ordered stream. Both the
// table reader (index block -> data blocks) and the level read path (file
// metadata -> tables) are built from this.
func NewTwoLevel(index Iterator, open OpenFunc) Iterator {
	return &twoLevelIterator{index: index, open: open}
}

type twoLevelIterator struct {
	index Iterator
	open  OpenFunc
	data  Iterator
	// dataHandle remembers which index value the data iterator was opened
	// from, so repositioning the index does not reopen an identical block.
	dataHandle []byte
	err        error
}

func (t *twoLevelIterator) Valid() bool {
	return t.err == nil && t.data != nil && t.data.Valid()
}

func (t *twoLevelIterator) SeekToFirst() {
	t.index.SeekToFirst()
	t.initData()
	if t.data != nil {
		t.data.SeekToFirst()
	}
	t.skipEmptyForward()
}

func (t *twoLevelIterator) SeekToLast() {
	t.index.SeekToLast()
	t.initData()
	if t.data != nil {
		t.data.SeekToLast()
	}
	t.skipEmptyBackward()
}

func (t *twoLevelIterator) Seek(target []byte) {
	t.index.Seek(target)
	t.initData()
	if t.data != nil {
		t.data.Seek(target)
	}
	t.skipEmptyForward()
}

func (t *twoLevelIterator) Next() {
	if !t.Valid() {
		return
	}
	t.data.Next()
	t.skipEmptyForward()
}

func (t *twoLevelIterator) Prev() {
	if !t.Valid() {
		return
	}
	t.data.Prev()
	t.skipEmptyBackward()
}

func (t *twoLevelIterator) Key() []byte {
	if t.data == nil {
		return nil
	}
	return t.data.Key()
}

func (t *twoLevelIterator) Value() []byte {
	if t.data == nil {
		return nil
	}
	return t.data.Value()
}

func (t *twoLevelIterator) Err() error {
	if t.err != nil {
		return t.err
	}
	if err := t.index.Err(); err != nil {
		return err
	}
	if t.data != nil {
		return t.data.Err()
	}
	return nil
}

func (t *twoLevelIterator) Close() error {
	err := t.index.Close()
	if t.data != nil {
		if derr := t.closeData(); err == nil {
			err = derr
		}
	}
	return err
}

// initData (re)opens the sub-iterator for the index's current entry.
func (t *twoLevelIterator) initData() {
	if !t.index.Valid() {
		t.closeData()
		return
	}
	handle := t.index.Value()
	if t.data != nil && string(handle) == string(t.dataHandle) {
		return
	}
	t.closeData()
	data, err := t.open(handle)
	if err != nil {
		t.err = err
		return
	}
	t.data = data
	t.dataHandle = append(t.dataHandle[:0], handle...)
}

func (t *twoLevelIterator) closeData() error {
	var err error
	if t.data != nil {
		err = t.data.Close()
		t.data = nil
		t.dataHandle = t.dataHandle[:0]
	}
	return err
}

// skipEmptyForward advances the index past exhausted sub-iterators.
func (t *twoLevelIterator) skipEmptyForward() {
	for t.err == nil && (t.data == nil || !t.data.Valid()) {
		if t.data != nil && t.data.Err() != nil {
			t.err = t.data.Err()
			return
		}
		if !t.index.Valid() {
			t.closeData()
			return
		}
		t.index.Next()
		t.initData()
		if t.data != nil {
			t.data.SeekToFirst()
		}
	}
}

func (t *twoLevelIterator) skipEmptyBackward() {
	for t.err == nil && (t.data == nil || !t.data.Valid()) {
		if t.data != nil && t.data.Err() != nil {
			t.err = t.data.Err()
			return
		}
		if !t.index.Valid() {
			t.closeData()
			return
		}
		t.index.Prev()
		t.initData()
		if t.data != nil {
			t.data.SeekToLast()
		}
	}
}
