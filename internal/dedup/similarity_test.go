package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, "JOHNASMITH", Normalize("John A. Smith"))
	require.Equal(t, "15550100", Normalize("+1 (555) 0100"))
	require.Equal(t, "ACMELTD", Normalize("acme ltd."))
	require.Equal(t, "", Normalize("  --  "))
	require.Equal(t, "", Normalize(""))
}

func TestLevenshtein(t *testing.T) {
	require.Equal(t, 0, Levenshtein("SMITH", "SMITH"))
	require.Equal(t, 1, Levenshtein("SMITH", "SMYTH"))
	require.Equal(t, 5, Levenshtein("SMITH", ""))
	require.Equal(t, 5, Levenshtein("", "SMYTH"))
	require.Equal(t, 3, Levenshtein("KITTEN", "SITTING"))
}

func TestNameSimilarity(t *testing.T) {
	// Identical after normalization
	require.InDelta(t, 1.0, NameSimilarity("John A. Smith", "john a smith"), 0.001)

	// One edit over ten runes
	require.InDelta(t, 0.9, NameSimilarity("JOHN SMITH", "JOHN SMYTH"), 0.001)

	// Nothing in common
	require.InDelta(t, 0.0, NameSimilarity("AB", "XYZW"), 0.001)

	// Both empty after normalization
	require.InDelta(t, 1.0, NameSimilarity("--", "  "), 0.001)
}

func TestExactMatch(t *testing.T) {
	require.True(t, exactMatch("john@example.com", "JOHN@EXAMPLE.COM"))
	require.False(t, exactMatch("john@example.com", "jane@example.com"))

	// Case is forgiven, formatting is not: these are distinct addresses
	// and distinct phone spellings.
	require.False(t, exactMatch("a.b@x.com", "ab@x.com"))
	require.False(t, exactMatch("+1 555 0100", "15550100"))

	// Missing data is never a match
	require.False(t, exactMatch("", ""))
	require.False(t, exactMatch("john@example.com", ""))
}
