// Package query defines the query AST, the exact document evaluator, and the
// serializers used to persist queries in the query index.
//
// The query-language parser is not part of this module: callers construct ASTs
// directly (or via their own parser) before registering them with the monitor.
package query

import (
	"fmt"
	"sort"
	"strings"
)

// Document is an ephemeral input document: a mapping from field name to raw
// text. It is never persisted and only lives for the duration of one match
// call.
type Document map[string]string

// TokenSets holds the analyzed token set of each document field.
type TokenSets map[string]map[string]struct{}

// Contains reports whether the given field contains the token.
func (t TokenSets) Contains(field, token string) bool {
	set, ok := t[field]
	if !ok {
		return false
	}
	_, ok = set[token]
	return ok
}

// Node is a query AST node. Matches performs exact evaluation against the
// analyzed token sets of a document.
type Node interface {
	Matches(tokens TokenSets) bool
	String() string
}

// Term matches documents whose named field contains the given token.
type Term struct {
	Field string
	Text  string
}

// NewTerm creates a term node.
func NewTerm(field, text string) Term {
	return Term{Field: field, Text: text}
}

// Matches implements Node.
func (t Term) Matches(tokens TokenSets) bool {
	return tokens.Contains(t.Field, t.Text)
}

func (t Term) String() string {
	return t.Field + ":" + t.Text
}

// Key returns a stable sort key for the term.
func (t Term) Key() string {
	return t.Field + ":" + t.Text
}

// Boolean combines child queries. All Must children are required, at least
// one Should child is required when any are present, and no MustNot child may
// match. A Boolean with no Must and no Should children matches nothing.
type Boolean struct {
	Must    []Node
	Should  []Node
	MustNot []Node
}

// And builds a conjunction of the given children.
func And(children ...Node) *Boolean {
	return &Boolean{Must: children}
}

// Or builds a disjunction of the given children.
func Or(children ...Node) *Boolean {
	return &Boolean{Should: children}
}

// AndNot builds a query matching positive but not negative.
func AndNot(positive, negative Node) *Boolean {
	return &Boolean{Must: []Node{positive}, MustNot: []Node{negative}}
}

// Matches implements Node.
func (b *Boolean) Matches(tokens TokenSets) bool {
	if len(b.Must) == 0 && len(b.Should) == 0 {
		return false
	}
	for _, n := range b.Must {
		if !n.Matches(tokens) {
			return false
		}
	}
	if len(b.Should) > 0 {
		any := false
		for _, n := range b.Should {
			if n.Matches(tokens) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	for _, n := range b.MustNot {
		if n.Matches(tokens) {
			return false
		}
	}
	return true
}

func (b *Boolean) String() string {
	var parts []string
	for _, n := range b.Must {
		parts = append(parts, "+"+n.String())
	}
	for _, n := range b.Should {
		parts = append(parts, n.String())
	}
	for _, n := range b.MustNot {
		parts = append(parts, "-"+n.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// MatchAll matches every document. Useful for queries that monitor the whole
// stream; such queries are never selective at presearch time.
type MatchAll struct{}

// Matches implements Node.
func (MatchAll) Matches(TokenSets) bool { return true }

func (MatchAll) String() string { return "*:*" }

// MonitorQuery is the unit of registration: a query AST plus an identifier
// and free-form metadata. Metadata is copied on registration and again when
// emitted in match results, so callers never share storage with the monitor.
type MonitorQuery struct {
	ID       string
	Query    Node
	Metadata map[string]string
}

// CloneMetadata returns a detached copy of a metadata map.
func CloneMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// SortTerms sorts terms by (field, text) and removes duplicates in place.
func SortTerms(terms []Term) []Term {
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Field != terms[j].Field {
			return terms[i].Field < terms[j].Field
		}
		return terms[i].Text < terms[j].Text
	})
	out := terms[:0]
	for i, t := range terms {
		if i > 0 && t == terms[i-1] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Validate checks that a MonitorQuery can be registered.
func (q MonitorQuery) Validate() error {
	if q.Query == nil {
		return fmt.Errorf("query %q has no AST", q.ID)
	}
	return nil
}
