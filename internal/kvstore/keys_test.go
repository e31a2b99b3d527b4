package kvstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempograph/internal/ir"
)

func TestFactKey_RoundTrip(t *testing.T) {
	f := ir.Fact{
		Ref:    ir.EdgeRef("g", "a", "b", -3),
		Key:    "weight",
		Branch: "alt",
		Turn:   -2,
		Tick:   7,
		Seq:    42,
	}
	key, err := factKey(f)
	require.NoError(t, err)

	got, err := parseFactKey(key)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestFactKey_ByteOrderMatchesTime(t *testing.T) {
	ref := ir.NodeRef("g", "n")
	times := [][2]int64{{-5, 0}, {-1, 9}, {0, 0}, {0, 1}, {1, 0}, {300, 2}}
	var prev []byte
	for _, tt := range times {
		key, err := factKey(ir.Fact{Ref: ref, Key: "k", Branch: "trunk", Turn: tt[0], Tick: tt[1]})
		require.NoError(t, err)
		if prev != nil {
			assert.Negative(t, bytes.Compare(prev, key), "key for %v should sort after the previous one", tt)
		}
		prev = key
	}
}
