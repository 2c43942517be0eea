package wal

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecords(t *testing.T, records ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range records {
		require.NoError(t, w.AddRecord(rec))
	}
	return buf.Bytes()
}

func readAll(data []byte) ([][]byte, error) {
	r := NewReader(bytes.NewReader(data))
	var out [][]byte
	for {
		rec, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, append([]byte(nil), rec...))
	}
}

func TestLogRoundTrip(t *testing.T) {
	records := [][]byte{
		[]byte("first"),
		[]byte(""),
		[]byte("third record"),
	}
	data := writeRecords(t, records...)

	got, err := readAll(data)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "first", string(got[0]))
	assert.Empty(t, got[1])
	assert.Equal(t, "third record", string(got[2]))
}

func TestLogFragmentedRecord(t *testing.T) {
	// Spans several physical blocks, forcing FIRST/MIDDLE/LAST.
	big := bytes.Repeat([]byte("0123456789abcdef"), 3*BlockSize/16)
	data := writeRecords(t, []byte("small"), big, []byte("after"))

	got, err := readAll(data)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "small", string(got[0]))
	assert.True(t, bytes.Equal(big, got[1]))
	assert.Equal(t, "after", string(got[2]))
}

func TestLogBlockBoundaryPadding(t *testing.T) {
	// Leave fewer than HeaderSize bytes in the first block so the writer
	// must zero-pad and continue in the next.
	first := make([]byte, BlockSize-HeaderSize-3)
	data := writeRecords(t, first, []byte("second"))

	got, err := readAll(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got[0], len(first))
	assert.Equal(t, "second", string(got[1]))
}

func TestLogExactBlockFit(t *testing.T) {
	// A record that exactly fills a block's payload space.
	exact := make([]byte, BlockSize-HeaderSize)
	data := writeRecords(t, exact, []byte("next"))

	got, err := readAll(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got[0], BlockSize-HeaderSize)
	assert.Equal(t, "next", string(got[1]))
}

func TestLogTruncatedTailTolerated(t *testing.T) {
	data := writeRecords(t, []byte("complete"), bytes.Repeat([]byte("x"), 5000))

	// Chop the stream mid-record: recovery keeps everything before the
	// torn append.
	for _, cut := range []int{len(data) - 1, len(data) - 100, len(data) - 4000} {
		got, err := readAll(data[:cut])
		require.NoError(t, err, "cut at %d", cut)
		require.Len(t, got, 1, "cut at %d", cut)
		assert.Equal(t, "complete", string(got[0]))
	}
}

func TestLogMidStreamCorruptionReported(t *testing.T) {
	var records [][]byte
	for i := 0; i < 100; i++ {
		records = append(records, bytes.Repeat([]byte{byte(i)}, 2000))
	}
	data := writeRecords(t, records...)
	require.Greater(t, len(data), 2*BlockSize, "need multiple blocks")

	// Damage a payload byte in the first block; later blocks exist, so
	// this is not a torn tail.
	data[HeaderSize+10] ^= 0xff

	_, err := readAll(data)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLogResumeAppending(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.AddRecord([]byte("one")))

	// Reopen at the current size, as recovery does for the tail WAL.
	w2 := NewWriterAt(&buf, int64(buf.Len()))
	require.NoError(t, w2.AddRecord([]byte("two")))

	got, err := readAll(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "one", string(got[0]))
	assert.Equal(t, "two", string(got[1]))
}

type syncRecorder struct {
	strings.Builder
	synced int
}

func (s *syncRecorder) Sync() error {
	s.synced++
	return nil
}

func TestLogSyncPassthrough(t *testing.T) {
	rec := &syncRecorder{}
	w := NewWriter(rec)
	require.NoError(t, w.AddRecord([]byte("r")))
	require.NoError(t, w.Sync())
	assert.Equal(t, 1, rec.synced)

	// Destinations without Sync are fine.
	var plain bytes.Buffer
	w2 := NewWriter(&plain)
	require.NoError(t, w2.AddRecord([]byte("r")))
	assert.NoError(t, w2.Sync())
}
