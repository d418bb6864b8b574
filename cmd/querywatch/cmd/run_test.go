package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querywatch/querywatch/internal/query"
)

func TestParseExpr_SingleTerm(t *testing.T) {
	node, err := parseExpr("body:alpha")
	require.NoError(t, err)

	assert.True(t, node.Matches(query.TokenSets{"body": {"alpha": {}}}))
	assert.False(t, node.Matches(query.TokenSets{"body": {"beta": {}}}))
}

func TestParseExpr_Conjunction(t *testing.T) {
	node, err := parseExpr("body:alpha AND title:beta")
	require.NoError(t, err)

	assert.True(t, node.Matches(query.TokenSets{
		"body":  {"alpha": {}},
		"title": {"beta": {}},
	}))
	assert.False(t, node.Matches(query.TokenSets{"body": {"alpha": {}}}))
}

func TestParseExpr_Disjunction(t *testing.T) {
	node, err := parseExpr("body:alpha OR body:beta")
	require.NoError(t, err)

	assert.True(t, node.Matches(query.TokenSets{"body": {"beta": {}}}))
	assert.True(t, node.Matches(query.TokenSets{"body": {"alpha": {}}}))
	assert.False(t, node.Matches(query.TokenSets{"body": {"gamma": {}}}))
}

func TestParseExpr_Negation(t *testing.T) {
	node, err := parseExpr("body:alpha NOT body:beta")
	require.NoError(t, err)

	assert.True(t, node.Matches(query.TokenSets{"body": {"alpha": {}}}))
	assert.False(t, node.Matches(query.TokenSets{"body": {"alpha": {}, "beta": {}}}))
}

func TestParseExpr_LowercasesTerms(t *testing.T) {
	node, err := parseExpr("body:ALPHA")
	require.NoError(t, err)

	assert.True(t, node.Matches(query.TokenSets{"body": {"alpha": {}}}))
}

func TestParseExpr_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"mixed operators":  "body:a AND body:b OR body:c",
		"malformed term":   "body:alpha AND noseparator",
		"only negation":    "NOT body:alpha",
		"only an operator": "AND",
	}
	for name, expr := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseExpr(expr)
			assert.Error(t, err)
		})
	}
}
