package decompose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querywatch/querywatch/internal/query"
)

func term(field, text string) query.Term {
	return query.NewTerm(field, text)
}

func TestDecompose_SingleTerm(t *testing.T) {
	d := NewTermDecomposer(0)

	c := d.Decompose(term("body", "alpha"))

	require.False(t, c.MatchAny)
	assert.Equal(t, []query.Term{term("body", "alpha")}, c.Terms)
}

func TestDecompose_Deterministic(t *testing.T) {
	d := NewTermDecomposer(0)
	q := query.And(
		query.Or(term("body", "alpha"), term("body", "beta")),
		term("title", "gamma"),
	)

	first := d.Decompose(q)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, d.Decompose(q), "decomposition must be pure")
	}
}

func TestDecompose_ConjunctionPicksMostSelectiveChild(t *testing.T) {
	d := NewTermDecomposer(0)

	// Longer terms are weighted as more selective.
	c := d.Decompose(query.And(term("body", "ox"), term("body", "elephant")))
	require.False(t, c.MatchAny)
	assert.Equal(t, []query.Term{term("body", "elephant")}, c.Terms)

	// Equal weight: the lexicographic tie-break keeps the choice stable.
	c = d.Decompose(query.And(term("field", "foo"), term("field", "bar")))
	require.False(t, c.MatchAny)
	assert.Equal(t, []query.Term{term("field", "bar")}, c.Terms)
}

func TestDecompose_DisjunctionEmitsEveryBranch(t *testing.T) {
	d := NewTermDecomposer(0)

	c := d.Decompose(query.Or(term("body", "beta"), term("body", "alpha"), term("title", "gamma")))

	require.False(t, c.MatchAny)
	assert.Equal(t, []query.Term{
		term("body", "alpha"),
		term("body", "beta"),
		term("title", "gamma"),
	}, c.Terms)
}

func TestDecompose_NestedConjunctionInsideDisjunction(t *testing.T) {
	d := NewTermDecomposer(0)

	// (a AND b) OR (c AND d): each branch contributes its selected child.
	q := query.Or(
		query.And(term("body", "aa"), term("body", "bbbb")),
		query.And(term("body", "cc"), term("body", "dddd")),
	)
	c := d.Decompose(q)

	require.False(t, c.MatchAny)
	assert.Equal(t, []query.Term{term("body", "bbbb"), term("body", "dddd")}, c.Terms)
}

func TestDecompose_ConjunctionOfDisjunctions(t *testing.T) {
	d := NewTermDecomposer(0)

	// (aa OR bb) AND (ccc OR ddd): the second disjunction has the heavier
	// weakest term, so it is the indexed clause.
	q := query.And(
		query.Or(term("body", "aa"), term("body", "bb")),
		query.Or(term("body", "ccc"), term("body", "ddd")),
	)
	c := d.Decompose(q)

	require.False(t, c.MatchAny)
	assert.Equal(t, []query.Term{term("body", "ccc"), term("body", "ddd")}, c.Terms)
}

func TestDecompose_MustNotNeverSelected(t *testing.T) {
	d := NewTermDecomposer(0)

	c := d.Decompose(query.AndNot(term("body", "aa"), term("body", "verylongterm")))
	require.False(t, c.MatchAny)
	assert.Equal(t, []query.Term{term("body", "aa")}, c.Terms)

	// A query with only negative clauses has no selective representation.
	c = d.Decompose(&query.Boolean{MustNot: []query.Node{term("body", "alpha")}})
	assert.True(t, c.MatchAny)
}

func TestDecompose_MatchAllIsNonSelective(t *testing.T) {
	d := NewTermDecomposer(0)

	assert.True(t, d.Decompose(query.MatchAll{}).MatchAny)
}

func TestDecompose_CapFallsBackToMatchAny(t *testing.T) {
	d := NewTermDecomposer(2)

	within := d.Decompose(query.Or(term("body", "alpha"), term("body", "beta")))
	assert.False(t, within.MatchAny)

	over := d.Decompose(query.Or(
		term("body", "alpha"), term("body", "beta"), term("body", "gamma"),
	))
	assert.True(t, over.MatchAny, "exceeding the cap must fall back, not fail")
	assert.Empty(t, over.Terms)
}

func TestDecompose_UnknownNodeIsNonSelective(t *testing.T) {
	d := NewTermDecomposer(0)

	assert.True(t, d.Decompose(strangeNode{}).MatchAny)
}

type strangeNode struct{}

func (strangeNode) Matches(query.TokenSets) bool { return true }
func (strangeNode) String() string               { return "strange" }

func TestDecompose_DisjunctionWithMatchAnyBranch(t *testing.T) {
	d := NewTermDecomposer(0)

	c := d.Decompose(query.Or(term("body", "alpha"), query.MatchAll{}))
	assert.True(t, c.MatchAny, "one non-selective branch makes the whole disjunction non-selective")
}
