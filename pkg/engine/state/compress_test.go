package state

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressor_RoundTrip(t *testing.T) {
	c, err := NewCompressor(10)
	require.NoError(t, err)
	defer c.Close()

	s := New()
	// Highly repetitive payload compresses well.
	require.NoError(t, s.Set("text", String(strings.Repeat("the quick brown fox ", 500))))

	data, compressed, err := c.MarshalState(s)
	require.NoError(t, err)
	assert.True(t, compressed)

	got, err := c.UnmarshalState(data, compressed)
	require.NoError(t, err)

	want, _ := s.TryGetValue("text")
	have, ok := got.TryGetValue("text")
	require.True(t, ok)
	assert.True(t, want.Equal(have))
}

func TestCompressor_SkipsTinyPayloads(t *testing.T) {
	c, err := NewCompressor(10)
	require.NoError(t, err)
	defer c.Close()

	s := New()
	require.NoError(t, s.Set("k", String("v")))

	_, compressed, err := c.MarshalState(s)
	require.NoError(t, err)
	assert.False(t, compressed)
}

func TestCompressor_DisablesOnPoorBenefit(t *testing.T) {
	c, err := NewCompressor(3)
	require.NoError(t, err)
	defer c.Close()

	// Feed the rolling window ratios below the benefit floor, as a run of
	// incompressible states would.
	c.mu.Lock()
	for i := 0; i < 3; i++ {
		c.recordRatio(0.02)
	}
	c.mu.Unlock()

	assert.Less(t, c.AverageRatio(), 0.10)

	// A compressible payload now passes through uncompressed because the
	// adaptive policy backed off.
	s := New()
	require.NoError(t, s.Set("text", String(strings.Repeat("aaaa", 2000))))
	_, compressed, err := c.MarshalState(s)
	require.NoError(t, err)
	assert.False(t, compressed)
}
