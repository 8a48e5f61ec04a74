package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const article = `Acme launches the Widget Pro today. The Widget Pro ships with faster sync,
better battery life and a redesigned dashboard for teams of every size. Pricing starts
at ten dollars per seat and every plan includes priority support.`

func TestNewDeterministic(t *testing.T) {
	t.Parallel()

	a := New(article)
	b := New(article)
	require.Equal(t, a, b)
	require.Len(t, a.FullHash, 64)
	require.Len(t, a.SimHash, 16)
	require.Len(t, a.PhraseHash, 32)
}

func TestNewIgnoresCaseAndWhitespace(t *testing.T) {
	t.Parallel()

	a := New("Hello   World\n\tAgain")
	b := New("  hello world again ")
	require.Equal(t, a.FullHash, b.FullHash)
	require.Equal(t, 3, a.WordCount)
	require.Equal(t, len("hello world again"), a.CharCount)
}

func TestNewDetectsEdits(t *testing.T) {
	t.Parallel()

	base := New(article)
	tests := []string{
		article + " Updated.",
		"Acme launches the Widget Max today.",
		"Pricing starts at ten dollars per seat!",
		"Pricing starts at ten dollars per seat",
	}
	for _, text := range tests {
		require.NotEqual(t, base.FullHash, New(text).FullHash, text)
	}
	// Punctuation is content for the exact hash.
	require.NotEqual(t, New("price: 10").FullHash, New("price 10").FullHash)
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	long := strings.Repeat(article+" ", 10)
	a := New(long)
	require.Equal(t, 1.0, Similarity(a, a))

	edited := New(long + " Last updated 2026-10-15.")
	require.NotEqual(t, a.FullHash, edited.FullHash)
	sim := Similarity(a, edited)
	require.Greater(t, sim, 0.8)

	unrelated := New("Completely different text about gardening tomatoes in spring and autumn weather patterns.")
	require.Less(t, Similarity(a, unrelated), sim)
}

func TestSimilarityBadSignature(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, Similarity(Fingerprint{SimHash: "zz"}, Fingerprint{SimHash: "00"}))
}

func TestSimhashBitVoting(t *testing.T) {
	t.Parallel()

	require.Equal(t, ^uint64(0), simhash(nil), "no tokens leaves every sum at zero")
	one := simhash([]string{"token"})
	require.Equal(t, one, simhash([]string{"token", "token"}))
}

func TestCommonTrigrams(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"a", "b"}, commonTrigrams([]string{"a", "b"}, 10))

	tokens := []string{"x", "y", "z", "x", "y", "z", "q"}
	got := commonTrigrams(tokens, 2)
	require.Equal(t, []string{"x y z", "y z x"}, got)
}
