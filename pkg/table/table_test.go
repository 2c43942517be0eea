package table

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-leveldb/pkg/compress"
	"github.com/dd0wney/cluso-leveldb/pkg/filter"
	"github.com/dd0wney/cluso-leveldb/pkg/keys"
)

func buildTable(t *testing.T, wopts WriterOptions, pairs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, wopts)
	for i := 0; i+1 < len(pairs); i += 2 {
		require.NoError(t, w.Add([]byte(pairs[i]), []byte(pairs[i+1])))
	}
	require.NoError(t, w.Finish())
	return buf.Bytes()
}

func defaultWriterOptions() WriterOptions {
	return WriterOptions{
		Comparator:  keys.BytewiseComparator(),
		Compressors: compress.DefaultRegistry(),
	}
}

func defaultReaderOptions() ReaderOptions {
	return ReaderOptions{
		Comparator:      keys.BytewiseComparator(),
		Compressors:     compress.DefaultRegistry(),
		VerifyChecksums: true,
	}
}

func TestTableRoundTrip(t *testing.T) {
	for _, compression := range []uint8{
		compress.TagNone, compress.TagSnappy, compress.TagZlibRaw,
		compress.TagZlibWrapped, compress.TagZstd,
	} {
		t.Run(fmt.Sprintf("tag%d", compression), func(t *testing.T) {
			wopts := defaultWriterOptions()
			wopts.Compression = compression
			wopts.BlockSize = 64 // force multiple blocks

			var pairs []string
			for i := 0; i < 200; i++ {
				pairs = append(pairs, fmt.Sprintf("key-%04d", i), fmt.Sprintf("value-%04d", i))
			}
			data := buildTable(t, wopts, pairs...)

			r, err := NewReader(bytes.NewReader(data), int64(len(data)), defaultReaderOptions())
			require.NoError(t, err)

			it := r.NewIterator()
			defer it.Close()
			n := 0
			for it.SeekToFirst(); it.Valid(); it.Next() {
				assert.Equal(t, fmt.Sprintf("key-%04d", n), string(it.Key()))
				assert.Equal(t, fmt.Sprintf("value-%04d", n), string(it.Value()))
				n++
			}
			require.NoError(t, it.Err())
			assert.Equal(t, 200, n)
		})
	}
}

func TestTableGet(t *testing.T) {
	wopts := defaultWriterOptions()
	wopts.BlockSize = 32
	wopts.FilterPolicy = filter.NewBloomPolicy(10)

	var pairs []string
	for i := 0; i < 100; i++ {
		pairs = append(pairs, fmt.Sprintf("k%03d", i*2), fmt.Sprintf("v%03d", i*2))
	}
	data := buildTable(t, wopts, pairs...)

	ropts := defaultReaderOptions()
	ropts.FilterPolicy = filter.NewBloomPolicy(10)
	r, err := NewReader(bytes.NewReader(data), int64(len(data)), ropts)
	require.NoError(t, err)

	// Present key.
	k, v, ok, err := r.Get([]byte("k050"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "k050", string(k))
	assert.Equal(t, "v050", string(v))

	// Absent key between entries: Get returns the next entry; callers
	// compare keys themselves.
	k, _, ok, err = r.Get([]byte("k051"))
	require.NoError(t, err)
	if ok {
		assert.NotEqual(t, "k051", string(k))
	}

	// Past the end.
	_, _, ok, err = r.Get([]byte("z"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTableDeterministicBuild(t *testing.T) {
	wopts := defaultWriterOptions()
	wopts.Compression = compress.TagSnappy
	wopts.FilterPolicy = filter.NewBloomPolicy(10)
	wopts.BlockSize = 128

	var pairs []string
	for i := 0; i < 500; i++ {
		pairs = append(pairs, fmt.Sprintf("key-%05d", i), fmt.Sprintf("value-%05d", i))
	}
	a := buildTable(t, wopts, pairs...)
	b := buildTable(t, wopts, pairs...)
	assert.Equal(t, a, b, "same input and options must produce identical bytes")
}

func TestTableOutOfOrderAdd(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, defaultWriterOptions())
	require.NoError(t, w.Add([]byte("b"), []byte("1")))
	assert.Error(t, w.Add([]byte("a"), []byte("2")))
	assert.Error(t, w.Add([]byte("b"), []byte("3")), "duplicate keys rejected")
}

func TestTableBadMagic(t *testing.T) {
	data := buildTable(t, defaultWriterOptions(), "a", "1")
	data[len(data)-1] ^= 0xff
	_, err := NewReader(bytes.NewReader(data), int64(len(data)), defaultReaderOptions())
	assert.Error(t, err)
}

func TestTableTooSmall(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil), 0, defaultReaderOptions())
	assert.Error(t, err)
}

func TestTableChecksumMismatch(t *testing.T) {
	wopts := defaultWriterOptions()
	wopts.BlockSize = 32
	var pairs []string
	for i := 0; i < 50; i++ {
		pairs = append(pairs, fmt.Sprintf("k%03d", i), "v")
	}
	data := buildTable(t, wopts, pairs...)

	// Flip a byte in the first data block; only reads touching that block
	// should fail.
	data[2] ^= 0xff

	r, err := NewReader(bytes.NewReader(data), int64(len(data)), defaultReaderOptions())
	require.NoError(t, err, "index block is intact, open must succeed")

	_, _, _, err = r.Get([]byte("k000"))
	assert.Error(t, err)
}

func TestTableUnknownCompressionTagScoped(t *testing.T) {
	wopts := defaultWriterOptions()
	wopts.BlockSize = 32
	wopts.Compression = compress.TagZstd
	var pairs []string
	for i := 0; i < 50; i++ {
		// Compressible values so blocks keep the compression tag.
		pairs = append(pairs, fmt.Sprintf("k%03d", i), "vvvvvvvvvvvvvvvvvvvvvvvvvvvvvv")
	}
	data := buildTable(t, wopts, pairs...)

	// Reader without a zstd compressor: opening works (index is written
	// by this writer uncompressed only if small; so tolerate open error
	// here only if it names the unknown tag).
	ropts := defaultReaderOptions()
	reg, err := compress.NewRegistry()
	require.NoError(t, err)
	ropts.Compressors = reg

	r, err := NewReader(bytes.NewReader(data), int64(len(data)), ropts)
	if err != nil {
		assert.ErrorIs(t, err, compress.ErrUnknownTag)
		return
	}
	_, _, _, err = r.Get([]byte("k000"))
	assert.ErrorIs(t, err, compress.ErrUnknownTag)
}

func TestApproximateOffsetMonotonic(t *testing.T) {
	wopts := defaultWriterOptions()
	wopts.BlockSize = 64
	var pairs []string
	for i := 0; i < 200; i++ {
		pairs = append(pairs, fmt.Sprintf("k%04d", i), fmt.Sprintf("v%04d", i))
	}
	data := buildTable(t, wopts, pairs...)

	r, err := NewReader(bytes.NewReader(data), int64(len(data)), defaultReaderOptions())
	require.NoError(t, err)

	last := uint64(0)
	for i := 0; i < 200; i += 20 {
		off := r.ApproximateOffset([]byte(fmt.Sprintf("k%04d", i)))
		assert.GreaterOrEqual(t, off, last)
		last = off
	}
	end := r.ApproximateOffset([]byte("zzz"))
	assert.LessOrEqual(t, end, uint64(len(data)))
	assert.GreaterOrEqual(t, end, last)
}
