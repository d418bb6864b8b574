package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandard_Analyze(t *testing.T) {
	a := Standard()

	tokens, err := a.Analyze("body", "The QUICK brown-fox, jumped 42 times!")
	require.NoError(t, err)

	assert.Equal(t, []string{"the", "quick", "brown", "fox", "jumped", "42", "times"}, tokens)
}

func TestStandard_Analyze_Empty(t *testing.T) {
	a := Standard()

	tokens, err := a.Analyze("body", "")
	require.NoError(t, err)
	assert.Empty(t, tokens)

	tokens, err = a.Analyze("body", "  ... !!! ")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestStandard_Analyze_InvalidUTF8(t *testing.T) {
	a := Standard()

	_, err := a.Analyze("body", "valid then \xff\xfe")
	assert.Error(t, err)
}

func TestStandard_Analyze_Unicode(t *testing.T) {
	a := Standard()

	tokens, err := a.Analyze("body", "Überraschung müde")
	require.NoError(t, err)
	assert.Equal(t, []string{"überraschung", "müde"}, tokens)
}

func TestWhitespace_Analyze(t *testing.T) {
	a := Whitespace()

	tokens, err := a.Analyze("body", "Alpha  Beta\tGamma")
	require.NoError(t, err)

	// No normalization: case is preserved.
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, tokens)
}

func TestTokenSet(t *testing.T) {
	set := TokenSet([]string{"a", "b", "a"})

	assert.Len(t, set, 2)
	_, ok := set["a"]
	assert.True(t, ok)
}
