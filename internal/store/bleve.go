package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	qerrors "github.com/querywatch/querywatch/internal/errors"
)

// Index field names. Private to the store.
const (
	fieldTerms   = "terms"
	fieldVersion = "ver"
	fieldPayload = "payload"
	fieldMeta    = "meta"
)

// BleveStore implements Store on a bleve index.
//
// Staged operations accumulate in a bleve batch; Commit executes the batch
// atomically, which is the only point at which they become visible to
// Search. On commit failure the batch is kept so the caller can retry.
type BleveStore struct {
	mu       sync.RWMutex
	idx      bleve.Index
	backend  Backend
	pending  *bleve.Batch
	readOnly bool
	closed   bool
	logger   *slog.Logger
}

// NewBleveStore opens a query store on the given backend. With readOnly set,
// all mutating operations fail with ErrReadOnly; such instances serve match
// traffic for replicas.
func NewBleveStore(backend Backend, readOnly bool, logger *slog.Logger) (*BleveStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx, err := backend.Open(indexMapping())
	if err != nil {
		return nil, err
	}
	s := &BleveStore{
		idx:      idx,
		backend:  backend,
		readOnly: readOnly,
		logger:   logger,
	}
	s.pending = idx.NewBatch()
	return s, nil
}

// indexMapping builds the bleve mapping for query documents: keyword-analyzed
// decomposition tokens with term vectors (so presearch can report which terms
// matched), and stored-only payload and metadata fields.
func indexMapping() mapping.IndexMapping {
	termsField := bleve.NewTextFieldMapping()
	termsField.Analyzer = keyword.Name
	termsField.Store = false
	termsField.IncludeInAll = false
	termsField.IncludeTermVectors = true

	versionField := bleve.NewTextFieldMapping()
	versionField.Index = false
	versionField.Store = true
	versionField.IncludeInAll = false

	payloadField := bleve.NewTextFieldMapping()
	payloadField.Index = false
	payloadField.Store = true
	payloadField.IncludeInAll = false

	metaField := bleve.NewTextFieldMapping()
	metaField.Index = false
	metaField.Store = true
	metaField.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldTerms, termsField)
	doc.AddFieldMappingsAt(fieldVersion, versionField)
	doc.AddFieldMappingsAt(fieldPayload, payloadField)
	doc.AddFieldMappingsAt(fieldMeta, metaField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = keyword.Name
	return im
}

// AddOrReplace implements Store.
func (s *BleveStore) AddOrReplace(entries ...Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID == "" {
			return qerrors.New(qerrors.ErrCodeInvalidQuery, "entry has empty id", nil)
		}
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return qerrors.New(qerrors.ErrCodeSerialization, "metadata encode failed", err)
		}
		doc := map[string]interface{}{
			fieldTerms:   e.Tokens,
			fieldVersion: e.Version,
			fieldPayload: base64.StdEncoding.EncodeToString(e.Payload),
			fieldMeta:    string(metaJSON),
		}
		if err := s.pending.Index(e.ID, doc); err != nil {
			return fmt.Errorf("stage query %s: %w", e.ID, err)
		}
	}
	return nil
}

// RemoveByID implements Store.
func (s *BleveStore) RemoveByID(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	for _, id := range ids {
		s.pending.Delete(id)
	}
	return nil
}

// Commit implements Store.
func (s *BleveStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	if s.pending.Size() == 0 {
		return nil
	}
	if err := s.idx.Batch(s.pending); err != nil {
		// Keep the batch so a retried Commit reapplies the same operations.
		// Callers that give up on the retry must DiscardPending.
		return qerrors.New(qerrors.ErrCodeStoreFatal, "index batch commit failed", err)
	}
	s.pending = s.idx.NewBatch()
	return nil
}

// DiscardPending implements Store.
func (s *BleveStore) DiscardPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = s.idx.NewBatch()
}

// PendingOps returns the number of staged, uncommitted operations.
func (s *BleveStore) PendingOps() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return 0
	}
	return s.pending.Size()
}

// Search implements Store.
func (s *BleveStore) Search(ctx context.Context, tokens []string) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, qerrors.ErrClosed
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	disjuncts := make([]bquery.Query, 0, len(tokens))
	for _, tok := range tokens {
		tq := bleve.NewTermQuery(tok)
		tq.SetField(fieldTerms)
		disjuncts = append(disjuncts, tq)
	}

	count, err := s.idx.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(disjuncts...))
	req.Size = int(count)
	req.Fields = []string{fieldVersion, fieldPayload, fieldMeta}
	req.IncludeLocations = true

	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("presearch failed: %w", err)
	}

	out := make([]Candidate, 0, len(res.Hits))
	for _, hit := range res.Hits {
		rec, err := recordFromFields(hit.ID, hit.Fields)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{
			Record:       *rec,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return out, nil
}

// Get implements Store.
func (s *BleveStore) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, qerrors.ErrClosed
	}
	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Size = 1
	req.Fields = []string{fieldVersion, fieldPayload, fieldMeta}
	res, err := s.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lookup query %s: %w", id, err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}
	return recordFromFields(id, res.Hits[0].Fields)
}

// Count implements Store.
func (s *BleveStore) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, qerrors.ErrClosed
	}
	return s.idx.DocCount()
}

// Scan implements Store.
func (s *BleveStore) Scan(ctx context.Context, fn func(Record) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return qerrors.ErrClosed
	}
	count, err := s.idx.DocCount()
	if err != nil {
		return fmt.Errorf("doc count: %w", err)
	}
	if count == 0 {
		return nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	req.Fields = []string{fieldVersion, fieldPayload, fieldMeta}
	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	for _, hit := range res.Hits {
		rec, err := recordFromFields(hit.ID, hit.Fields)
		if err != nil {
			return err
		}
		if !fn(*rec) {
			return nil
		}
	}
	return nil
}

// forceMergeable is implemented by the scorch index type. Asserted at
// runtime so the store degrades to a no-op on backends without merge
// support.
type forceMergeable interface {
	ForceMerge(ctx context.Context, mo *mergeplan.MergePlanOptions) error
}

// ForceMerge implements Store. It collapses the index to a bounded number of
// segments after bulk removal.
func (s *BleveStore) ForceMerge(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.writable(); err != nil {
		return err
	}
	internal, err := s.idx.Advanced()
	if err != nil {
		return fmt.Errorf("advanced index access: %w", err)
	}
	fm, ok := internal.(forceMergeable)
	if !ok {
		s.logger.Debug("force_merge_unsupported", slog.String("backend", s.backend.Name()))
		return nil
	}
	opts := mergeplan.SingleSegmentMergePlanOptions
	if err := fm.ForceMerge(ctx, &opts); err != nil {
		return fmt.Errorf("force merge: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.idx.Close()
	if rerr := s.backend.Release(); err == nil {
		err = rerr
	}
	return err
}

// writable returns the error blocking mutation, if any. Callers hold s.mu.
func (s *BleveStore) writable() error {
	if s.closed {
		return qerrors.ErrClosed
	}
	if s.readOnly {
		return qerrors.ErrReadOnly
	}
	return nil
}

func recordFromFields(id string, fields map[string]interface{}) (*Record, error) {
	rec := &Record{ID: id}

	if raw, ok := stringField(fields[fieldVersion]); ok {
		rec.Version = raw
	}

	if raw, ok := stringField(fields[fieldPayload]); ok && raw != "" {
		payload, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, qerrors.New(qerrors.ErrCodeCorruptIndex,
				fmt.Sprintf("query %s has undecodable payload", id), err)
		}
		rec.Payload = payload
	}

	if raw, ok := stringField(fields[fieldMeta]); ok && raw != "" {
		var md map[string]string
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			return nil, qerrors.New(qerrors.ErrCodeCorruptIndex,
				fmt.Sprintf("query %s has undecodable metadata", id), err)
		}
		rec.Metadata = md
	}
	return rec, nil
}

// stringField unwraps a stored field value, which bleve may return either as
// a string or as a single-element slice.
func stringField(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []interface{}:
		if len(t) == 1 {
			if s, ok := t[0].(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

func matchedTerms(hit *search.DocumentMatch) []string {
	locs, ok := hit.Locations[fieldTerms]
	if !ok {
		return nil
	}
	terms := make([]string, 0, len(locs))
	for term := range locs {
		terms = append(terms, term)
	}
	return terms
}

// Verify interface implementation.
var _ Store = (*BleveStore)(nil)
