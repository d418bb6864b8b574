package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/querywatch/querywatch/internal/analysis"
	qerrors "github.com/querywatch/querywatch/internal/errors"
	"github.com/querywatch/querywatch/internal/query"
	"github.com/querywatch/querywatch/internal/store"
)

// MatchResult reports one query confirmed against a document. Metadata is a
// detached snapshot: it stays valid after the stored query is replaced or
// removed.
type MatchResult struct {
	QueryID  string
	Metadata map[string]string
}

// Matches is the outcome of one Match call.
type Matches struct {
	// Results lists confirmed queries in presearch order.
	Results []MatchResult

	// Warnings records fields that were skipped (tokenization failure) and
	// candidates that could not be decoded. A non-empty slice marks the
	// match as partial rather than failed.
	Warnings []string
}

// QueryIDs returns the matched query ids.
func (m *Matches) QueryIDs() []string {
	ids := make([]string, len(m.Results))
	for i, r := range m.Results {
		ids[i] = r.QueryID
	}
	return ids
}

// Has reports whether the given query matched.
func (m *Matches) Has(id string) bool {
	for _, r := range m.Results {
		if r.QueryID == id {
			return true
		}
	}
	return false
}

// Match evaluates a document against all committed queries.
//
// The pipeline: tokenize each field, presearch the query store for
// candidates whose decomposition intersects the document's tokens, then
// confirm each candidate by exact evaluation of its AST. Presearch may
// over-return; exact evaluation filters the false positives. Buffered
// (unflushed) registrations and removals are not observed: the call sees the
// store as of the last commit.
func (m *Monitor) Match(ctx context.Context, doc query.Document) (*Matches, error) {
	if m.isClosed() {
		return nil, qerrors.ErrClosed
	}
	start := time.Now()

	tokenSets, searchTokens, warnings := m.analyzeDocument(doc)
	// Non-selective queries are candidates for every document.
	searchTokens = append(searchTokens, store.AnyToken)

	candidates, err := m.store.Search(ctx, searchTokens)
	if err != nil {
		return nil, fmt.Errorf("presearch: %w", err)
	}
	m.metrics.Candidates.Add(float64(len(candidates)))

	results := make([]*MatchResult, len(candidates))
	var warnMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(m.cfg.MatchParallelism)
	for i := range candidates {
		cand := candidates[i]
		slot := i
		g.Go(func() error {
			node, err := m.decodedQuery(cand)
			if err != nil {
				warnMu.Lock()
				warnings = append(warnings, fmt.Sprintf("query %s skipped: %v", cand.ID, err))
				warnMu.Unlock()
				m.logger.Warn("candidate_decode_failed",
					slog.String("query_id", cand.ID),
					slog.String("error", err.Error()))
				return nil
			}
			if node.Matches(tokenSets) {
				results[slot] = &MatchResult{
					QueryID:  cand.ID,
					Metadata: query.CloneMetadata(cand.Metadata),
				}
			}
			return nil
		})
	}
	// Evaluation goroutines only report through their result slot.
	_ = g.Wait()

	out := &Matches{Warnings: warnings}
	for _, r := range results {
		if r != nil {
			out.Results = append(out.Results, *r)
		}
	}

	m.metrics.Matches.Inc()
	m.metrics.MatchHits.Add(float64(len(out.Results)))
	m.metrics.MatchDuration.Observe(time.Since(start).Seconds())
	return out, nil
}

// analyzeDocument tokenizes every document field. A field whose analysis
// fails is skipped with a warning; the rest of the document still matches.
func (m *Monitor) analyzeDocument(doc query.Document) (query.TokenSets, []string, []string) {
	fields := make([]string, 0, len(doc))
	for field := range doc {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	tokenSets := make(query.TokenSets, len(fields))
	var searchTokens []string
	var warnings []string
	for _, field := range fields {
		tokens, err := m.analyzer.Analyze(field, doc[field])
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("field %q skipped: %v", field, err))
			m.logger.Warn("field_analysis_failed",
				slog.String("field", field),
				slog.String("error", err.Error()))
			continue
		}
		set := analysis.TokenSet(tokens)
		tokenSets[field] = set
		for tok := range set {
			searchTokens = append(searchTokens, store.TokenFor(field, tok))
		}
	}
	return tokenSets, searchTokens, warnings
}

// decodedQuery returns the candidate's AST, via the decode cache when
// possible. The cache keys on the registration version, not the query id: a
// match that raced a replacement flush can only populate the old version's
// slot, which nothing looks up after the commit, so replaced entries simply
// age out of the LRU.
func (m *Monitor) decodedQuery(cand store.Candidate) (query.Node, error) {
	if cand.Version != "" {
		if node, ok := m.cache.Get(cand.Version); ok {
			return node, nil
		}
	}
	mq, err := m.serializer.Decode(cand.Payload)
	if err != nil {
		return nil, err
	}
	if cand.Version != "" {
		m.cache.Add(cand.Version, mq.Query)
	}
	return mq.Query, nil
}
