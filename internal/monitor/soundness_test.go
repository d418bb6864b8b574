package monitor

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querywatch/querywatch/internal/analysis"
	"github.com/querywatch/querywatch/internal/query"
)

// The presearch stage may over-return but must never drop a true match.
// This exercises the full pipeline against brute-force evaluation over a
// fixed-seed random corpus of queries and documents.
func TestMatch_AgreesWithBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	fields := []string{"body", "title"}
	vocab := []string{
		"alpha", "beta", "gamma", "delta", "epsilon",
		"zeta", "eta", "theta", "iota", "kappa",
	}

	randomTerm := func() query.Term {
		return query.NewTerm(fields[rng.Intn(len(fields))], vocab[rng.Intn(len(vocab))])
	}

	var randomNode func(depth int) query.Node
	randomNode = func(depth int) query.Node {
		if depth <= 0 || rng.Intn(3) == 0 {
			return randomTerm()
		}
		b := &query.Boolean{}
		for i := rng.Intn(2) + 1; i > 0; i-- {
			b.Must = append(b.Must, randomNode(depth-1))
		}
		for i := rng.Intn(3); i > 0; i-- {
			b.Should = append(b.Should, randomNode(depth-1))
		}
		if rng.Intn(4) == 0 {
			b.MustNot = append(b.MustNot, randomTerm())
		}
		return b
	}

	m := newTestMonitor(t, Config{})
	ctx := context.Background()

	queries := make(map[string]query.Node, 60)
	batch := make([]query.MonitorQuery, 0, 60)
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("q%02d", i)
		node := randomNode(3)
		queries[id] = node
		batch = append(batch, query.MonitorQuery{ID: id, Query: node})
	}
	_, err := m.Register(ctx, batch...)
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))

	analyzer := analysis.Standard()
	for i := 0; i < 100; i++ {
		doc := query.Document{}
		for _, f := range fields {
			words := make([]string, 0, 4)
			for j := rng.Intn(5); j > 0; j-- {
				words = append(words, vocab[rng.Intn(len(vocab))])
			}
			doc[f] = strings.Join(words, " ")
		}

		// Brute force: evaluate every registered AST directly.
		tokenSets := make(query.TokenSets, len(fields))
		for f, text := range doc {
			tokens, err := analyzer.Analyze(f, text)
			require.NoError(t, err)
			tokenSets[f] = analysis.TokenSet(tokens)
		}
		expected := make([]string, 0)
		for id, node := range queries {
			if node.Matches(tokenSets) {
				expected = append(expected, id)
			}
		}

		matches, err := m.Match(ctx, doc)
		require.NoError(t, err)
		require.Empty(t, matches.Warnings)
		assert.ElementsMatch(t, expected, matches.QueryIDs(), "document %v", doc)
	}
}
