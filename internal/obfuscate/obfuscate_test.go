package obfuscate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	coder := New("test-secret")

	ids := []int64{0, 1, 2, 7, 42, 999, 12345, 1<<31 - 1, 1 << 31, 1 << 40, maxID}
	for _, id := range ids {
		t.Run(fmt.Sprintf("id_%d", id), func(t *testing.T) {
			hidden := coder.Hide(id)
			got, err := coder.Show(hidden)
			require.NoError(t, err)
			assert.Equal(t, id, got)
		})
	}
}

func TestRoundTripSequentialRange(t *testing.T) {
	coder := New("another-secret")

	for id := int64(0); id < 5000; id++ {
		got, err := coder.Show(coder.Hide(id))
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
}

func TestHideScattersSequentialIDs(t *testing.T) {
	coder := New("test-secret")

	seen := make(map[string]struct{})
	for id := int64(1); id <= 1000; id++ {
		h := coder.Hide(id)
		_, dup := seen[h]
		require.False(t, dup, "collision at id %d", id)
		seen[h] = struct{}{}
	}

	assert.NotEqual(t, coder.Hide(1), coder.Hide(2))
}

func TestHideUniformWidth(t *testing.T) {
	coder := New("test-secret")

	assert.Len(t, coder.Hide(0), 19)
	assert.Len(t, coder.Hide(1), 19)
	assert.Len(t, coder.Hide(maxID), 19)
}

func TestShowMalformed(t *testing.T) {
	coder := New("test-secret")

	// The last case is numeric and 19 digits but above the permutation's
	// 2^62 domain, so it cannot be the output of Hide.
	for _, s := range []string{"", "abc", "-5", "99999999999999999999999", "4800000000000000000"} {
		_, err := coder.Show(s)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", s)
	}
}

func TestDifferentKeysDiffer(t *testing.T) {
	a := New("key-a")
	b := New("key-b")

	assert.NotEqual(t, a.Hide(12345), b.Hide(12345))
}
