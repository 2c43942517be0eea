package db

import (
	"errors"
	"io/fs"

	"github.com/dd0wney/cluso-leveldb/pkg/cache"
	"github.com/dd0wney/cluso-leveldb/pkg/iter"
	"github.com/dd0wney/cluso-leveldb/pkg/table"
	"github.com/dd0wney/cluso-leveldb/pkg/version"
	"github.com/dd0wney/cluso-leveldb/pkg/vfs"
)

// tableCache keeps open table readers keyed by file number, bounded by
// MaxOpenFiles. It implements version.TableOps. Evicted entries close
// their file handle once the last iterator drops its pin.
type tableCache struct {
	dir  string
	fsys vfs.FS
	c    *cache.Cache
	ropt table.ReaderOptions
}

// openTable pairs a reader with its file handle for cleanup.
type openTable struct {
	reader *table.Reader
	file   vfs.RandomFile
}

func newTableCache(dir string, fsys vfs.FS, maxOpen int, ropt table.ReaderOptions) *tableCache {
	return &tableCache{
		dir:  dir,
		fsys: fsys,
		c:    cache.New(int64(maxOpen)),
		ropt: ropt,
	}
}

// find returns a pinned handle to the open table for fileNum.
func (tc *tableCache) find(fileNum, fileSize uint64) (*cache.Handle, error) {
	key := cache.Key{FileNum: fileNum}
	if h := tc.c.Lookup(key); h != nil {
		return h, nil
	}

	name := vfs.TableFileName(tc.dir, fileNum)
	f, err := tc.fsys.OpenRandom(name)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		// Databases written before the .ldb rename use .sst.
		name = vfs.SSTTableFileName(tc.dir, fileNum)
		f, err = tc.fsys.OpenRandom(name)
	}
	if err != nil {
		return nil, fileErr("open table", name, err)
	}

	ropt := tc.ropt
	ropt.FileNum = fileNum
	r, err := table.NewReader(f, int64(fileSize), ropt)
	if err != nil {
		f.Close()
		return nil, fileErr("open table", name, corruption("%v", err))
	}

	h := tc.c.Insert(key, &openTable{reader: r, file: f}, 1, func(_ cache.Key, v cache.Value) {
		v.(*openTable).file.Close()
	})
	return h, nil
}

// Get implements version.TableOps.
func (tc *tableCache) Get(f *version.FileMetadata, ikey []byte) (rkey, rvalue []byte, ok bool, err error) {
	h, err := tc.find(f.Number, f.Size)
	if err != nil {
		return nil, nil, false, err
	}
	defer h.Release()
	return h.Value().(*openTable).reader.Get(ikey)
}

// NewIterator implements version.TableOps. The iterator pins the table
// handle until closed.
func (tc *tableCache) NewIterator(f *version.FileMetadata) iter.Iterator {
	h, err := tc.find(f.Number, f.Size)
	if err != nil {
		return iter.Empty(err)
	}
	return &pinnedIterator{
		Iterator: h.Value().(*openTable).reader.NewIterator(),
		handle:   h,
	}
}

// ApproximateOffset implements version.TableOps.
func (tc *tableCache) ApproximateOffset(f *version.FileMetadata, ikey []byte) uint64 {
	h, err := tc.find(f.Number, f.Size)
	if err != nil {
		return 0
	}
	defer h.Release()
	return h.Value().(*openTable).reader.ApproximateOffset(ikey)
}

// evict drops the open handle for a deleted table file.
func (tc *tableCache) evict(fileNum uint64) {
	tc.c.Erase(cache.Key{FileNum: fileNum})
}

// stats returns cumulative hit/miss counts.
func (tc *tableCache) stats() (hits, misses int64) {
	return tc.c.Stats()
}

// pinnedIterator keeps a cache handle alive for the iterator's lifetime.
type pinnedIterator struct {
	iter.Iterator
	handle *cache.Handle
}

func (p *pinnedIterator) Close() error {
	err := p.Iterator.Close()
	if p.handle != nil {
		p.handle.Release()
		p.handle = nil
	}
	return err
}
