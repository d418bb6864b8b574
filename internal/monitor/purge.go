package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	qerrors "github.com/querywatch/querywatch/internal/errors"
	"github.com/querywatch/querywatch/internal/store"
)

// purgeScheduler runs garbage collection of stale queries on a fixed
// interval. It is an explicit background task with its own cancellation:
// Close stops it and joins the goroutine before the store is released.
// Cycles never overlap; a tick arriving while a cycle is still executing is
// skipped.
type purgeScheduler struct {
	mon      *Monitor
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	cycling  atomic.Bool
}

func newPurgeScheduler(m *Monitor, interval time.Duration) *purgeScheduler {
	return &purgeScheduler{
		mon:      m,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (p *purgeScheduler) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx)
}

func (p *purgeScheduler) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.cycling.CompareAndSwap(false, true) {
				p.mon.logger.Debug("purge_tick_skipped")
				continue
			}
			if err := p.mon.Purge(ctx); err != nil && ctx.Err() == nil {
				// Not fatal: the next tick retries.
				p.mon.metrics.PurgeFailures.Inc()
				p.mon.logger.Warn("purge_cycle_failed", slog.String("error", err.Error()))
			}
			p.cycling.Store(false)
		}
	}
}

// stop cancels the scheduler and waits for any in-flight cycle to finish.
func (p *purgeScheduler) stop() {
	p.cancel()
	<-p.done
}

// Purge runs one garbage-collection cycle synchronously: scan the store for
// queries whose purge predicate is true, remove them, commit, and compact.
// Removals share the flush lock, so a purge and a caller-initiated flush
// never commit concurrently, and Match observes each removed query either
// entirely present or entirely gone.
func (m *Monitor) Purge(ctx context.Context) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if m.predicate == nil {
		return nil
	}

	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	start := time.Now()
	var stale []string
	err := m.store.Scan(ctx, func(r store.Record) bool {
		if ctx.Err() != nil {
			return false
		}
		if m.predicate(r.ID, r.Metadata) {
			stale = append(stale, r.ID)
		}
		return true
	})
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(stale) == 0 {
		m.metrics.PurgeCycles.Inc()
		return nil
	}

	if err := m.store.RemoveByID(stale...); err != nil {
		m.store.DiscardPending()
		return err
	}
	if err := qerrors.Retry(ctx, m.retryCfg, m.store.Commit); err != nil {
		// Drop the staged removals rather than letting the next flush
		// publish them; the next cycle re-scans from scratch.
		m.store.DiscardPending()
		return qerrors.New(qerrors.ErrCodeStoreFatal, "purge commit failed", err)
	}

	// Space reclamation is advisory; a failed merge does not fail the cycle.
	if err := m.store.ForceMerge(ctx); err != nil {
		m.logger.Warn("purge_merge_failed", slog.String("error", err.Error()))
	}

	m.metrics.PurgeCycles.Inc()
	m.metrics.QueriesPurged.Add(float64(len(stale)))
	m.logger.Info("purge_complete",
		slog.Int("purged", len(stale)),
		slog.Duration("duration", time.Since(start)))
	return nil
}
