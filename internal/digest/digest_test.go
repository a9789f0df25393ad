package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizeDeterministic(t *testing.T) {
	h1 := New()
	h1.Delimiter("a")
	h1.AbsorbString("hello")
	d1 := h1.Finalize()

	h2 := New()
	h2.Delimiter("a")
	h2.AbsorbString("hello")
	d2 := h2.Finalize()

	assert.Equal(t, d1, d2)
	assert.False(t, d1.IsZero())
}

func TestDelimiterPreventsCrossContamination(t *testing.T) {
	// "ab" absorbed as one field must differ from "a" then "b" absorbed
	// as two separately delimited fields under the same label.
	h1 := New()
	h1.Delimiter("field")
	h1.AbsorbString("ab")
	d1 := h1.Finalize()

	h2 := New()
	h2.Delimiter("field")
	h2.AbsorbString("a")
	h2.Delimiter("field")
	h2.AbsorbString("b")
	d2 := h2.Finalize()

	assert.NotEqual(t, d1, d2)
}

func TestDelimiterLabelBoundary(t *testing.T) {
	// A label "ab" with payload "c" must not collide with label "a"
	// and payload "bc" (the classic label/payload boundary-confusion
	// case a prefix-free framing must rule out).
	h1 := New()
	h1.Delimiter("ab")
	h1.AbsorbString("c")
	d1 := h1.Finalize()

	h2 := New()
	h2.Delimiter("a")
	h2.AbsorbString("bc")
	d2 := h2.Finalize()

	assert.NotEqual(t, d1, d2)
}

func TestCopyForksIndependently(t *testing.T) {
	common := New()
	common.Delimiter("shared")
	common.AbsorbString("prefix-data")

	branchA := common.Copy()
	branchA.Delimiter("a")
	branchA.AbsorbString("only-in-a")

	branchB := common.Copy()
	branchB.Delimiter("b")
	branchB.AbsorbString("only-in-b")

	assert.NotEqual(t, branchA.Finalize(), branchB.Finalize())

	// Mutating common after forking must not affect already-taken
	// copies.
	common.AbsorbString("more")
	assert.NotEqual(t, common.Finalize(), branchA.Finalize())
}

func TestHashPrefixChangesDigest(t *testing.T) {
	require.NotEmpty(t, HashPrefix)

	h := New()
	h.Delimiter("x")
	h.AbsorbString("y")
	withPrefix := h.Finalize()

	// Simulate a differently-seeded hasher by skipping New's seed and
	// using a distinct literal prefix.
	raw := &Hasher{}
	raw.Delimiter("prefix")
	raw.AbsorbString("some-other-epoch")
	raw.Delimiter("x")
	raw.AbsorbString("y")

	assert.NotEqual(t, withPrefix, raw.Finalize())
}

func TestParseDigestRoundTrip(t *testing.T) {
	h := New()
	h.Delimiter("x")
	h.AbsorbString("y")
	d := h.Finalize()

	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
	assert.Len(t, d.String(), Size*2)
}

func TestParseDigestRejectsBadInput(t *testing.T) {
	_, err := ParseDigest("not-hex")
	assert.Error(t, err)

	_, err = ParseDigest("abcd")
	assert.Error(t, err)
}

func TestHashReader(t *testing.T) {
	d1, err := HashReader("file", strings.NewReader("content"))
	require.NoError(t, err)

	d2, err := HashReader("file", strings.NewReader("content"))
	require.NoError(t, err)

	assert.Equal(t, d1, d2)

	d3, err := HashReader("file", strings.NewReader("different"))
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}
