package db

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-leveldb/pkg/keys"
	"github.com/dd0wney/cluso-leveldb/pkg/memtable"
)

func TestBatchIterate(t *testing.T) {
	b := NewBatch()
	b.Put([]byte("k1"), []byte("v1"))
	b.Delete([]byte("k2"))
	b.Put([]byte("k3"), []byte("v3"))
	assert.Equal(t, uint32(3), b.Count())

	type entry struct {
		kind keys.Kind
		k, v string
	}
	var got []entry
	require.NoError(t, b.Iterate(func(kind keys.Kind, key, value []byte) error {
		got = append(got, entry{kind, string(key), string(value)})
		return nil
	}))
	assert.Equal(t, []entry{
		{keys.KindSet, "k1", "v1"},
		{keys.KindDelete, "k2", ""},
		{keys.KindSet, "k3", "v3"},
	}, got)
}

func TestBatchSequenceAssignment(t *testing.T) {
	b := NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	b.setSequence(100)

	mem := memtable.New(keys.InternalComparator{User: keys.BytewiseComparator()})
	require.NoError(t, b.applyTo(mem))

	// Entry i carries sequence base+i.
	_, _, ok := mem.Get([]byte("a"), 100)
	assert.True(t, ok)
	_, _, ok = mem.Get([]byte("b"), 100)
	assert.False(t, ok, "second entry has sequence 101")
	_, _, ok = mem.Get([]byte("b"), 101)
	assert.True(t, ok)
}

func TestBatchAppend(t *testing.T) {
	a := NewBatch()
	a.Put([]byte("x"), []byte("1"))
	b := NewBatch()
	b.Put([]byte("y"), []byte("2"))
	b.Delete([]byte("z"))

	require.NoError(t, a.Append(b))
	assert.Equal(t, uint32(3), a.Count())
}

func TestBatchClear(t *testing.T) {
	b := NewBatch()
	b.Put([]byte("k"), []byte("v"))
	b.Clear()
	assert.Equal(t, uint32(0), b.Count())
	assert.Equal(t, batchHeaderLen, b.ApproximateSize())
}

func TestBatchCorruptContents(t *testing.T) {
	b := &Batch{}
	assert.Error(t, b.setContents([]byte("short")))

	// Valid header claiming one entry, but no entry bytes.
	bad := make([]byte, batchHeaderLen)
	bad[8] = 1
	b2 := &Batch{}
	require.NoError(t, b2.setContents(bad))
	err := b2.Iterate(func(keys.Kind, []byte, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestBatchRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("encode/iterate preserves entries", prop.ForAll(
		func(kvs map[string]string, deletes []string) bool {
			b := NewBatch()
			want := 0
			for k, v := range kvs {
				b.Put([]byte(k), []byte(v))
				want++
			}
			for _, k := range deletes {
				b.Delete([]byte(k))
				want++
			}

			got := 0
			err := b.Iterate(func(kind keys.Kind, key, value []byte) error {
				got++
				return nil
			})
			return err == nil && got == want && b.Count() == uint32(want)
		},
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
