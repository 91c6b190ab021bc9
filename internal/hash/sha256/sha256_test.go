package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawHashMatchesKnownDigest(t *testing.T) {
	t.Parallel()

	got, err := (&Hasher{Raw: true}).Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestHashIgnoresLayoutWhitespace(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("<p>Write\n\n   Go.</p>"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("  <p>Write Go.</p>\n"))
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := h.Hash([]byte("<p>Write Rust.</p>"))
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}
