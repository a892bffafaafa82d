package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodingForModel(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"gpt-4", "cl100k_base"},
		{"gpt-4o", "o200k_base"},
		{"gemini-2.5-flash", "cl100k_base"},
		{"gemini-1.5-pro", "cl100k_base"},
		{"some-unknown-model", "cl100k_base"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EncodingForModel(tc.model), tc.model)
	}
}

func TestTokenCounter(t *testing.T) {
	tc, err := NewTokenCounter("cl100k_base")
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}

	assert.Equal(t, 0, tc.Count(""))
	assert.Equal(t, "cl100k_base", tc.EncodingName())

	n := tc.Count("hello world")
	require.Greater(t, n, 0)

	// Counting is stable and monotone in input length.
	assert.Equal(t, n, tc.Count("hello world"))
	assert.Greater(t, tc.Count("hello world, here is a longer sentence"), n)
}

func TestNewTokenCounterRejectsUnknownEncoding(t *testing.T) {
	_, err := NewTokenCounter("no_such_encoding")
	assert.Error(t, err)
}
