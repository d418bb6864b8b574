// Package monitor implements the continuous query monitor: a reverse-search
// engine that holds a corpus of registered queries and reports, for each
// incoming document, which of them match.
//
// Writes (Register, Remove) stage into an in-memory update buffer and become
// visible to Match only after a flush commits them to the query store. A
// flush happens automatically when the buffer reaches its configured size,
// explicitly via Flush, and as a best effort on Close. Match is read-only and
// safe for unbounded concurrent use; all mutation funnels through a single
// flush lock shared with the purge scheduler.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/querywatch/querywatch/internal/analysis"
	"github.com/querywatch/querywatch/internal/decompose"
	qerrors "github.com/querywatch/querywatch/internal/errors"
	"github.com/querywatch/querywatch/internal/metrics"
	"github.com/querywatch/querywatch/internal/query"
	"github.com/querywatch/querywatch/internal/store"
)

// PurgePredicate decides whether a stored query is stale and should be
// garbage-collected. It sees the query id and a snapshot of its metadata.
type PurgePredicate func(id string, metadata map[string]string) bool

// Config holds the monitor's tunables. Zero values take defaults.
type Config struct {
	// BufferSize is the number of buffered register/remove operations that
	// triggers an automatic flush.
	BufferSize int

	// PurgeFrequency is the interval between purge cycles. The scheduler
	// only runs when a purge predicate is configured.
	PurgeFrequency time.Duration

	// MaxClauseTerms caps the decomposition clause size before the
	// non-selective fallback kicks in.
	MaxClauseTerms int

	// DecodeCacheSize bounds the deserialized-query LRU cache.
	DecodeCacheSize int

	// MatchParallelism bounds concurrent exact evaluations per Match call.
	MatchParallelism int

	// ReadOnly disables all writes; the instance only serves Match. Used by
	// replicas sharing a persistent index built elsewhere.
	ReadOnly bool
}

// DefaultConfig mirrors the defaults of the original system: 5000 buffered
// updates, five-minute purge cycles.
func DefaultConfig() Config {
	return Config{
		BufferSize:       5000,
		PurgeFrequency:   5 * time.Minute,
		MaxClauseTerms:   decompose.DefaultMaxTerms,
		DecodeCacheSize:  4096,
		MatchParallelism: runtime.GOMAXPROCS(0),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.PurgeFrequency <= 0 {
		c.PurgeFrequency = d.PurgeFrequency
	}
	if c.MaxClauseTerms <= 0 {
		c.MaxClauseTerms = d.MaxClauseTerms
	}
	if c.DecodeCacheSize <= 0 {
		c.DecodeCacheSize = d.DecodeCacheSize
	}
	if c.MatchParallelism <= 0 {
		c.MatchParallelism = d.MatchParallelism
	}
	return c
}

// Monitor is the public entry point. It owns the query store, the update
// buffer, and the purge scheduler; none of them outlive it.
type Monitor struct {
	cfg        Config
	store      store.Store
	serializer query.Serializer
	decomposer decompose.Decomposer
	analyzer   analysis.Analyzer
	predicate  PurgePredicate
	logger     *slog.Logger
	metrics    *metrics.Metrics
	retryCfg   qerrors.RetryConfig

	buffer *updateBuffer
	cache  *lru.Cache[string, query.Node]
	purger *purgeScheduler

	// flushMu serializes flush and purge commits: no two commits ever
	// interleave on one store.
	flushMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithStore sets the query store. Defaults to an in-memory bleve store.
func WithStore(s store.Store) Option {
	return func(m *Monitor) { m.store = s }
}

// WithSerializer sets the query serializer. Defaults to msgpack.
func WithSerializer(s query.Serializer) Option {
	return func(m *Monitor) { m.serializer = s }
}

// WithDecomposer sets the query decomposer.
func WithDecomposer(d decompose.Decomposer) Option {
	return func(m *Monitor) { m.decomposer = d }
}

// WithAnalyzer sets the analyzer used for documents at match time. It must
// agree with the analysis applied to query terms at registration time.
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(m *Monitor) { m.analyzer = a }
}

// WithPurgePredicate enables the background purge scheduler.
func WithPurgePredicate(p PurgePredicate) Option {
	return func(m *Monitor) { m.predicate = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithRegisterer registers the monitor's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Monitor) { m.metrics = metrics.New(reg) }
}

// New creates a Monitor. Instances are independent: nothing is shared
// between two monitors beyond what the caller passes in.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	cfg = cfg.withDefaults()
	m := &Monitor{
		cfg:      cfg,
		buffer:   &updateBuffer{},
		retryCfg: qerrors.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop()
	}
	if m.analyzer == nil {
		m.analyzer = analysis.Standard()
	}
	if m.serializer == nil {
		m.serializer = query.MsgpackSerializer{}
	}
	if m.decomposer == nil {
		m.decomposer = decompose.NewTermDecomposer(cfg.MaxClauseTerms)
	}
	if m.store == nil {
		st, err := store.NewBleveStore(store.MemBackend(), cfg.ReadOnly, m.logger)
		if err != nil {
			return nil, err
		}
		m.store = st
	}

	cache, err := lru.New[string, query.Node](cfg.DecodeCacheSize)
	if err != nil {
		return nil, err
	}
	m.cache = cache

	if m.predicate != nil && !cfg.ReadOnly {
		m.purger = newPurgeScheduler(m, cfg.PurgeFrequency)
		m.purger.start()
	}

	m.logger.Debug("monitor_started",
		slog.Int("buffer_size", cfg.BufferSize),
		slog.Duration("purge_frequency", cfg.PurgeFrequency),
		slog.String("serializer", m.serializer.Name()),
		slog.Bool("read_only", cfg.ReadOnly))
	return m, nil
}

// Register adds queries to the monitor, replacing any existing query with the
// same id. Queries with an empty id get a generated one; the assigned ids are
// returned in argument order. Registered queries become visible to Match only
// after the next flush.
func (m *Monitor) Register(ctx context.Context, queries ...query.MonitorQuery) ([]string, error) {
	if err := m.checkWritable(); err != nil {
		return nil, err
	}

	// Serialize and decompose everything up front: a query that cannot be
	// serialized is rejected synchronously and nothing is buffered.
	ops := make([]operation, 0, len(queries))
	ids := make([]string, 0, len(queries))
	for _, q := range queries {
		if err := q.Validate(); err != nil {
			return nil, qerrors.New(qerrors.ErrCodeInvalidQuery, err.Error(), err)
		}
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		payload, err := m.serializer.Encode(q)
		if err != nil {
			return nil, err
		}
		clause := m.decomposer.Decompose(q.Query)
		ops = append(ops, operation{
			id: q.ID,
			entry: store.Entry{
				ID: q.ID,
				// A fresh version per registration: the decode cache keys on
				// it, so a replaced query's cached AST is never served for
				// the replacement.
				Version:  uuid.NewString(),
				Tokens:   clauseTokens(clause),
				Payload:  payload,
				Metadata: query.CloneMetadata(q.Metadata),
			},
		})
		ids = append(ids, q.ID)
	}

	if m.buffer.add(ops...) >= m.cfg.BufferSize {
		if err := m.Flush(ctx); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// Remove deletes queries by id. Removing an unknown id is a no-op. Like
// Register, the removal is visible to Match only after the next flush.
func (m *Monitor) Remove(ctx context.Context, ids ...string) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	ops := make([]operation, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, operation{remove: true, id: id})
	}
	if m.buffer.add(ops...) >= m.cfg.BufferSize {
		return m.Flush(ctx)
	}
	return nil
}

// Flush commits all buffered operations to the query store as one batch.
// On failure the buffered operations are preserved so the caller can retry.
func (m *Monitor) Flush(ctx context.Context) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	return m.flush(ctx)
}

// flush drains the buffer and commits under the shared flush lock. Called
// with the monitor open, and once more from Close after closed is set.
func (m *Monitor) flush(ctx context.Context) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	ops := m.buffer.drain()
	if len(ops) == 0 {
		return nil
	}

	if err := m.stageOps(ops); err != nil {
		m.store.DiscardPending()
		m.buffer.restore(ops)
		return err
	}

	err := qerrors.Retry(ctx, m.retryCfg, m.store.Commit)
	if err != nil {
		// Give up on the staged batch: the buffer keeps the operations, and
		// a later flush re-stages them. Were the batch left in place, the
		// next purge commit would publish operations whose caller was just
		// told the flush failed.
		m.store.DiscardPending()
		m.buffer.restore(ops)
		m.metrics.FlushFailures.Inc()
		m.logger.Error("flush_failed",
			slog.Int("ops", len(ops)),
			slog.String("error", err.Error()))
		return qerrors.New(qerrors.ErrCodeStoreFatal, "flush commit failed", err)
	}

	var added, removed int
	for _, op := range ops {
		if op.remove {
			removed++
		} else {
			added++
		}
	}
	m.metrics.QueriesRegistered.Add(float64(added))
	m.metrics.QueriesRemoved.Add(float64(removed))
	m.metrics.Flushes.Inc()
	m.logger.Debug("flush_complete", slog.Int("ops", len(ops)))
	return nil
}

// stageOps applies buffered operations to the store's pending batch in
// issue order.
func (m *Monitor) stageOps(ops []operation) error {
	for _, op := range ops {
		if op.remove {
			if err := m.store.RemoveByID(op.id); err != nil {
				return err
			}
			continue
		}
		if err := m.store.AddOrReplace(op.entry); err != nil {
			return err
		}
	}
	return nil
}

// QueryCount returns the number of committed queries. Buffered operations
// are not counted until flushed.
func (m *Monitor) QueryCount() (uint64, error) {
	if m.isClosed() {
		return 0, qerrors.ErrClosed
	}
	return m.store.Count()
}

// PendingUpdates returns the number of buffered, uncommitted operations.
func (m *Monitor) PendingUpdates() int {
	return m.buffer.size()
}

// Close stops the purge scheduler, waits for any in-flight flush or purge
// cycle, commits remaining buffered updates as a best effort, and releases
// the store. In-flight Match calls are not interrupted; new calls fail with
// ErrClosed once the store is released.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.purger != nil {
		m.purger.stop()
	}

	if !m.cfg.ReadOnly {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := m.flush(ctx); err != nil {
			m.logger.Warn("close_flush_failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	err := m.store.Close()
	m.logger.Debug("monitor_closed")
	return err
}

func (m *Monitor) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Monitor) checkWritable() error {
	if m.isClosed() {
		return qerrors.ErrClosed
	}
	if m.cfg.ReadOnly {
		return qerrors.ErrReadOnly
	}
	return nil
}

// clauseTokens encodes a decomposition clause as index tokens.
func clauseTokens(c decompose.Clause) []string {
	if c.MatchAny {
		return []string{store.AnyToken}
	}
	tokens := make([]string, 0, len(c.Terms))
	for _, t := range c.Terms {
		tokens = append(tokens, store.TokenFor(t.Field, t.Text))
	}
	return tokens
}

// String describes the monitor for debugging.
func (m *Monitor) String() string {
	count, _ := m.store.Count()
	return fmt.Sprintf("Monitor(queries=%d, pending=%d)", count, m.buffer.size())
}
