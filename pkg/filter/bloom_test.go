package filter

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(i int) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(i))
	return b[:]
}

func TestBloomEmptyFilter(t *testing.T) {
	p := NewBloomPolicy(10)
	f := p.Append(nil, nil)
	// Even an empty filter carries the minimum array plus probe count.
	require.NotEmpty(t, f)
	assert.False(t, p.MayContain(f, []byte("hello")))
	assert.False(t, p.MayContain(f, []byte("world")))
}

func TestBloomSmall(t *testing.T) {
	p := NewBloomPolicy(10)
	f := p.Append(nil, [][]byte{[]byte("hello"), []byte("world")})

	assert.True(t, p.MayContain(f, []byte("hello")))
	assert.True(t, p.MayContain(f, []byte("world")))
	assert.False(t, p.MayContain(f, []byte("x")))
	assert.False(t, p.MayContain(f, []byte("foo")))
}

// TestBloomVaryingLengths mirrors the reference implementation's torture
// test: growing key sets must keep zero false negatives and a bounded
// false-positive rate.
func TestBloomVaryingLengths(t *testing.T) {
	p := NewBloomPolicy(10)

	nextLength := func(n int) int {
		switch {
		case n < 10:
			return n + 1
		case n < 100:
			return n + 10
		case n < 1000:
			return n + 100
		default:
			return n + 1000
		}
	}

	mediocre, good := 0, 0
	for n := 1; n <= 10000; n = nextLength(n) {
		keys := make([][]byte, n)
		for i := range keys {
			keys[i] = testKey(i)
		}
		f := p.Append(nil, keys)
		assert.LessOrEqual(t, len(f), n*10/8+40, "filter too large at n=%d", n)

		// No false negatives, ever.
		for i := 0; i < n; i++ {
			require.True(t, p.MayContain(f, testKey(i)), "false negative at n=%d i=%d", n, i)
		}

		// Check the false positive rate against keys never added.
		fp := 0
		for i := 0; i < 10000; i++ {
			if p.MayContain(f, testKey(i+1000000000)) {
				fp++
			}
		}
		rate := float64(fp) / 10000
		require.Less(t, rate, 0.02, "false positive rate %f too high at n=%d", rate, n)
		if rate > 0.0125 {
			mediocre++
		} else {
			good++
		}
	}
	assert.LessOrEqual(t, mediocre, good/5, "too many mediocre filters")
}

func TestBloomProbeCountClamp(t *testing.T) {
	for _, bpk := range []int{-1, 0, 1, 10, 100} {
		p := NewBloomPolicy(bpk).(bloomPolicy)
		assert.GreaterOrEqual(t, p.k, uint8(1), fmt.Sprintf("bitsPerKey=%d", bpk))
		assert.LessOrEqual(t, p.k, uint8(30), fmt.Sprintf("bitsPerKey=%d", bpk))
	}
}

func TestBloomUnknownProbeCountMatches(t *testing.T) {
	p := NewBloomPolicy(10)
	// A filter claiming 31 probes is from a future encoding; it must not
	// exclude anything.
	f := append(make([]byte, 8), 31)
	assert.True(t, p.MayContain(f, []byte("anything")))
}

func TestBloomHashGolden(t *testing.T) {
	// The format-defining hash returns the seed unchanged for empty input;
	// the other checks cover determinism and a one-byte change.
	assert.Equal(t, uint32(0xbc9f1d34), hash(nil, 0xbc9f1d34))
	h1 := bloomHash([]byte("hello"))
	h2 := bloomHash([]byte("hello"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, bloomHash([]byte("hello")), bloomHash([]byte("hellp")))
}
