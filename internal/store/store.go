// Package store persists registered queries in a bleve index.
//
// Each stored query becomes one index document: its decomposition terms are
// indexed as keyword tokens for presearch, and the serialized query plus its
// metadata ride along as stored-only payload fields. The layout is private to
// this package; no other consumer reads the index directly.
package store

import (
	"context"
)

// AnyToken is the indexed token for queries whose decomposition is
// non-selective. Presearch always includes it, so MatchAny queries are
// candidates for every document.
const AnyToken = "__any__"

// TokenFor encodes a (field, token) pair as a single index token. Field names
// must not contain ':'.
func TokenFor(field, token string) string {
	return field + ":" + token
}

// Entry is a query staged for insertion: identifier, presearch tokens,
// serialized payload, and metadata. Version identifies this registration of
// the id; replacing a query assigns a fresh version.
type Entry struct {
	ID       string
	Version  string
	Tokens   []string
	Payload  []byte
	Metadata map[string]string
}

// Record is a committed query as read back from the index.
type Record struct {
	ID       string
	Version  string
	Payload  []byte
	Metadata map[string]string
}

// Candidate is a presearch hit: a record plus the tokens that matched.
// Candidates are transient, produced and consumed within one match call.
type Candidate struct {
	Record
	MatchedTerms []string
}

// Store is the persistent query index.
//
// AddOrReplace and RemoveByID stage operations; they become observable to
// Search only after Commit. Commit is the single consistency boundary.
// Search, Get, Count and Scan are safe for concurrent use with each other
// and with staging; staging and Commit must be serialized by the caller
// (the monitor's flush lock).
type Store interface {
	// AddOrReplace stages entries for insertion. An existing entry with the
	// same ID is fully replaced at commit time.
	AddOrReplace(entries ...Entry) error

	// RemoveByID stages removals. Removing an absent ID is a no-op.
	RemoveByID(ids ...string) error

	// Commit durably applies all staged operations as one atomic batch.
	// On failure the staged operations are kept so an immediate retry
	// reapplies them.
	Commit() error

	// DiscardPending drops all staged, uncommitted operations. Called when
	// the owner gives up on a failed commit, so no later commit publishes
	// operations whose caller was told they failed.
	DiscardPending()

	// Search returns candidates whose token set intersects the given tokens.
	// AnyToken should be included by the caller to pick up non-selective
	// queries. Over-returning is acceptable; under-returning is not.
	Search(ctx context.Context, tokens []string) ([]Candidate, error)

	// Get returns the committed record for id, or nil when absent.
	Get(id string) (*Record, error)

	// Count returns the number of committed queries.
	Count() (uint64, error)

	// Scan visits every committed record. The callback returns false to stop
	// early.
	Scan(ctx context.Context, fn func(Record) bool) error

	// ForceMerge compacts the underlying index segments after bulk removal.
	// Best effort: backends without merge support return nil.
	ForceMerge(ctx context.Context) error

	// Close releases the index and any held locks.
	Close() error
}
