package keys

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytewiseSeparator(t *testing.T) {
	cmp := BytewiseComparator()

	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"shortens at diverging byte", "hello world", "hp", "hf"},
		{"prefix cannot shorten", "abc", "abcdef", "abc"},
		{"adjacent bytes keep a", "abc1", "abc2", "abc1"},
		{"identical keys", "same", "same", "same"},
		{"0xff not incremented", "\xff\xff1", "\xff\xff9", "\xff\xff2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cmp.FindShortSeparator([]byte(tt.a), []byte(tt.b))
			assert.Equal(t, []byte(tt.want), got)
			// The separator contract: a <= sep < b when a < b.
			if cmp.Compare([]byte(tt.a), []byte(tt.b)) < 0 {
				assert.LessOrEqual(t, cmp.Compare([]byte(tt.a), got), 0)
				assert.Less(t, cmp.Compare(got, []byte(tt.b)), 0)
			}
		})
	}
}

func TestBytewiseSuccessor(t *testing.T) {
	cmp := BytewiseComparator()

	assert.Equal(t, []byte("i"), cmp.FindShortSuccessor([]byte("hello")))
	assert.Equal(t, []byte{0xff, 0xff, 'g'}, cmp.FindShortSuccessor([]byte("\xff\xfff")))
	// All 0xff keys are their own successor.
	all := []byte{0xff, 0xff, 0xff}
	assert.Equal(t, all, cmp.FindShortSuccessor(all))
}

func TestInternalKeyRoundTrip(t *testing.T) {
	ikey := MakeInternalKey(nil, []byte("user-key"), 42, KindSet)
	require.Len(t, ikey, len("user-key")+TagBytes)

	ukey, seq, kind, err := ParseInternalKey(ikey)
	require.NoError(t, err)
	assert.Equal(t, []byte("user-key"), ukey)
	assert.Equal(t, uint64(42), seq)
	assert.Equal(t, KindSet, kind)
}

func TestParseInternalKeyErrors(t *testing.T) {
	_, _, _, err := ParseInternalKey([]byte("short"))
	assert.Error(t, err)

	bad := MakeInternalKey(nil, []byte("k"), 1, Kind(7))
	_, _, _, err = ParseInternalKey(bad)
	assert.Error(t, err)
}

func TestInternalOrdering(t *testing.T) {
	icmp := InternalComparator{User: BytewiseComparator()}

	a1 := MakeInternalKey(nil, []byte("a"), 1, KindSet)
	a9 := MakeInternalKey(nil, []byte("a"), 9, KindSet)
	b1 := MakeInternalKey(nil, []byte("b"), 1, KindSet)

	// Same user key: higher sequence sorts first.
	assert.Negative(t, icmp.Compare(a9, a1))
	// Different user keys: user order wins regardless of sequence.
	assert.Negative(t, icmp.Compare(a1, b1))
	assert.Negative(t, icmp.Compare(a9, b1))
	assert.Zero(t, icmp.Compare(a1, a1))
}

func TestLookupKeySortsFirst(t *testing.T) {
	icmp := InternalComparator{User: BytewiseComparator()}

	lk := LookupKey([]byte("k"), 100)
	for _, seq := range []uint64{100, 50, 1} {
		for _, kind := range []Kind{KindSet, KindDelete} {
			entry := MakeInternalKey(nil, []byte("k"), seq, kind)
			assert.LessOrEqual(t, icmp.Compare(lk, entry), 0,
				"lookup key must sort at or before entry seq=%d kind=%d", seq, kind)
		}
	}
	// Entries above the snapshot sort before the lookup key.
	newer := MakeInternalKey(nil, []byte("k"), 101, KindSet)
	assert.Positive(t, icmp.Compare(lk, newer))
}

// TestInternalOrderProperties verifies the ordering laws hold for arbitrary
// keys and sequences, not just hand-picked ones.
func TestInternalOrderProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	icmp := InternalComparator{User: BytewiseComparator()}

	properties.Property("user key order dominates", prop.ForAll(
		func(ka, kb string, sa, sb uint64) bool {
			if ka == kb {
				return true
			}
			a := MakeInternalKey(nil, []byte(ka), sa%MaxSequence, KindSet)
			b := MakeInternalKey(nil, []byte(kb), sb%MaxSequence, KindSet)
			return icmp.Compare(a, b) == bytes.Compare([]byte(ka), []byte(kb))
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.Property("tag round-trips", prop.ForAll(
		func(seq uint64) bool {
			seq %= MaxSequence
			for _, kind := range []Kind{KindSet, KindDelete} {
				gotSeq, gotKind := UnpackTag(PackTag(seq, kind))
				if gotSeq != seq || gotKind != kind {
					return false
				}
			}
			return true
		},
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
