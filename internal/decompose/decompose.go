// Package decompose converts query ASTs into indexable term clauses for
// presearch candidate selection.
//
// The output clause is a term disjunction: a document is a candidate for a
// query when its token set intersects the clause, or when the clause is
// MatchAny. The decomposition is sound: whenever the query's exact evaluator
// matches a document, that document intersects the clause. False positives
// are fine and are filtered by exact evaluation; false negatives would
// silently drop true matches and are never acceptable.
package decompose

import (
	"strings"

	"github.com/querywatch/querywatch/internal/query"
)

// Clause is the decomposed, indexable form of a query.
type Clause struct {
	// Terms is the ordered disjunctive term set. Sorted by (field, text),
	// free of duplicates.
	Terms []query.Term

	// MatchAny marks queries with no selective representation. They are
	// surfaced as candidates for every document.
	MatchAny bool
}

// anyClause is the non-selective fallback.
var anyClause = Clause{MatchAny: true}

// Decomposer derives a clause from a query AST. Implementations must be pure:
// the same AST always yields the identical clause.
type Decomposer interface {
	Decompose(n query.Node) Clause
}

// TermDecomposer is the default decomposer.
//
// Conjunctions contribute only their most selective required child: a true
// match of the conjunction implies a match of that child alone, so indexing
// just one child preserves soundness while keeping the index footprint small.
// Disjunctions contribute every branch, since omitting one would lose
// candidates. Must-not children are never selectable. If the resulting clause
// would exceed MaxTerms, the decomposer falls back to MatchAny, trading
// presearch selectivity for that one query against correctness.
type TermDecomposer struct {
	// MaxTerms caps the clause size. Zero means DefaultMaxTerms.
	MaxTerms int
}

// DefaultMaxTerms is the default clause-size cap.
const DefaultMaxTerms = 1024

// NewTermDecomposer creates a TermDecomposer with the given cap.
func NewTermDecomposer(maxTerms int) *TermDecomposer {
	if maxTerms <= 0 {
		maxTerms = DefaultMaxTerms
	}
	return &TermDecomposer{MaxTerms: maxTerms}
}

// Decompose implements Decomposer.
func (d *TermDecomposer) Decompose(n query.Node) Clause {
	max := d.MaxTerms
	if max <= 0 {
		max = DefaultMaxTerms
	}
	c := decomposeNode(n)
	if c.MatchAny || len(c.Terms) == 0 || len(c.Terms) > max {
		return anyClause
	}
	c.Terms = query.SortTerms(c.Terms)
	return c
}

func decomposeNode(n query.Node) Clause {
	switch v := n.(type) {
	case query.Term:
		return Clause{Terms: []query.Term{v}}
	case *query.Boolean:
		return decomposeBoolean(v)
	case query.MatchAll:
		return anyClause
	default:
		// Unknown node types have no term representation we can trust.
		return anyClause
	}
}

func decomposeBoolean(b *query.Boolean) Clause {
	// Each Must child, and the disjunction of the Should children taken as a
	// whole, is individually required. Pick the most selective of those
	// required clauses.
	var required []Clause
	for _, child := range b.Must {
		required = append(required, decomposeNode(child))
	}
	if len(b.Should) > 0 {
		required = append(required, unionClauses(b.Should))
	}
	if len(required) == 0 {
		// Pure must-not (or empty) queries carry no positive terms.
		return anyClause
	}
	best := required[0]
	for _, c := range required[1:] {
		if moreSelective(c, best) {
			best = c
		}
	}
	return best
}

// unionClauses merges the clauses of disjunction branches. Any MatchAny
// branch makes the whole disjunction MatchAny.
func unionClauses(branches []query.Node) Clause {
	var terms []query.Term
	for _, child := range branches {
		c := decomposeNode(child)
		if c.MatchAny {
			return anyClause
		}
		terms = append(terms, c.Terms...)
	}
	return Clause{Terms: query.SortTerms(terms)}
}

// moreSelective reports whether a should be preferred over b when choosing
// the indexed clause of a conjunction. A selective clause always beats
// MatchAny. Otherwise clauses are compared by weight (higher wins), then by
// size (smaller disjunctions are cheaper), then by a lexicographic tie-break
// so the choice is deterministic.
func moreSelective(a, b Clause) bool {
	if a.MatchAny {
		return false
	}
	if b.MatchAny {
		return true
	}
	wa, wb := weight(a), weight(b)
	if wa != wb {
		return wa > wb
	}
	if len(a.Terms) != len(b.Terms) {
		return len(a.Terms) < len(b.Terms)
	}
	return clauseKey(a) < clauseKey(b)
}

// weight scores a clause by its weakest term: a disjunction is only as
// selective as its least selective branch. Term weight is term length, on the
// heuristic that longer tokens are rarer.
func weight(c Clause) int {
	w := 0
	for i, t := range c.Terms {
		tw := len(t.Text)
		if i == 0 || tw < w {
			w = tw
		}
	}
	return w
}

func clauseKey(c Clause) string {
	keys := make([]string, len(c.Terms))
	for i, t := range c.Terms {
		keys[i] = t.Key()
	}
	return strings.Join(keys, "\x00")
}
