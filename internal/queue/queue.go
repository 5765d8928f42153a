// Package queue implements the bounded, type-partitioned ingestion buffer
// between telemetry producers and the append-only store. Producers are never
// blocked and never see an error: overflow evicts the oldest entry, store
// failures are retried per entry and finally dropped and counted.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/repository"
)

const (
	defaultCapacity      = 10000
	defaultBatchSize     = 100
	defaultMaxRetries    = 3
	defaultFlushInterval = time.Second
	defaultShutdownGrace = 5 * time.Second
)

// Entry wraps a record while it waits in the buffer. Entries are transient
// and never persisted themselves.
type Entry struct {
	Kind       domain.RecordKind
	Record     domain.Record
	Retries    int
	EnqueuedAt time.Time
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	Depth         int    `json:"depth"`
	Capacity      int    `json:"capacity"`
	Draining      bool   `json:"draining"`
	OverflowDrops uint64 `json:"overflow_drops"`
	RetryDrops    uint64 `json:"retry_drops"`
	FlushFailures uint64 `json:"flush_failures"`
}

// Options tune queue behaviour. Zero values fall back to defaults.
type Options struct {
	Capacity      int
	BatchSize     int
	MaxRetries    int
	FlushInterval time.Duration
	ShutdownGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = defaultCapacity
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = defaultShutdownGrace
	}
	return o
}

// Queue is the ingestion buffer. Many producers enqueue concurrently; a
// single Run loop drains.
type Queue struct {
	mu            sync.Mutex
	entries       []Entry
	draining      bool
	overflowDrops uint64
	retryDrops    uint64
	flushFailures uint64

	opts    Options
	store   repository.RecordWriter
	logger  *slog.Logger
	now     func() time.Time
	flushCh chan struct{}

	metricsOnce        sync.Once
	metricsInitialized bool
	overflowCounter    counter
	retryDropCounter   counter
	flushFailCounter   counter
}

// New constructs a Queue. The store may be temporarily unavailable; failures
// surface only as retries and counted drops.
func New(store repository.RecordWriter, logger *slog.Logger, opts Options) *Queue {
	if logger != nil {
		logger = logger.With("component", "ingestion_queue")
	}
	q := &Queue{
		opts:    opts.withDefaults(),
		store:   store,
		logger:  logger,
		now:     time.Now,
		flushCh: make(chan struct{}, 1),
	}
	q.initMetrics()
	return q
}

// Enqueue buffers a record. It never blocks and never panics to the caller.
func (q *Queue) Enqueue(kind domain.RecordKind, record domain.Record) {
	defer func() {
		if r := recover(); r != nil && q.logger != nil {
			q.logger.Error("enqueue panic swallowed", "panic", r)
		}
	}()
	if q == nil || record == nil {
		return
	}
	q.mu.Lock()
	q.entries = append(q.entries, Entry{Kind: kind, Record: record, EnqueuedAt: q.now()})
	if len(q.entries) > q.opts.Capacity {
		// drop-oldest backpressure: producers are never slowed or rejected
		q.entries = q.entries[1:]
		q.overflowDrops++
		q.countOverflow()
	}
	depth := len(q.entries)
	q.mu.Unlock()

	if depth >= q.opts.BatchSize {
		select {
		case q.flushCh <- struct{}{}:
		default:
		}
	}
}

// Run drives the periodic flush until the context is cancelled, then drains
// whatever remains under the shutdown grace deadline.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.Shutdown()
			return
		case <-ticker.C:
			q.Flush(ctx)
		case <-q.flushCh:
			q.Flush(ctx)
		}
	}
}

// Flush drains one batch and persists it, one bulk insert per record kind,
// kinds in parallel. A failed kind re-queues its entries with the retry
// counter bumped; the other kinds are unaffected.
func (q *Queue) Flush(ctx context.Context) {
	batch := q.takeBatch()
	if len(batch) == 0 {
		return
	}
	groups := make(map[domain.RecordKind][]Entry)
	for _, entry := range batch {
		groups[entry.Kind] = append(groups[entry.Kind], entry)
	}

	var wg sync.WaitGroup
	for kind, entries := range groups {
		wg.Add(1)
		go func(kind domain.RecordKind, entries []Entry) {
			defer wg.Done()
			records := make([]domain.Record, len(entries))
			for i, entry := range entries {
				records[i] = entry.Record
			}
			if err := q.store.BulkInsert(ctx, kind, records); err != nil {
				q.handleBatchFailure(kind, entries, err)
			}
		}(kind, entries)
	}
	wg.Wait()
}

// Shutdown performs a final best-effort drain bounded by the grace period.
// It does not guarantee zero loss, only a last attempt.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), q.opts.ShutdownGrace)
	defer cancel()
	for {
		q.mu.Lock()
		depth := len(q.entries)
		q.mu.Unlock()
		if depth == 0 || ctx.Err() != nil {
			break
		}
		q.Flush(ctx)
		if ctx.Err() != nil {
			break
		}
	}
	if q.logger != nil {
		stats := q.Stats()
		if stats.Depth > 0 {
			q.logger.Warn("shutdown drain incomplete", "remaining", stats.Depth)
		} else {
			q.logger.Info("shutdown drain complete")
		}
	}
}

// Stats reports current depth and drop counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:         len(q.entries),
		Capacity:      q.opts.Capacity,
		Draining:      q.draining,
		OverflowDrops: q.overflowDrops,
		RetryDrops:    q.retryDrops,
		FlushFailures: q.flushFailures,
	}
}

func (q *Queue) takeBatch() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	n := len(q.entries)
	if n > q.opts.BatchSize {
		n = q.opts.BatchSize
	}
	batch := make([]Entry, n)
	copy(batch, q.entries[:n])
	q.entries = append(q.entries[:0], q.entries[n:]...)
	return batch
}

// handleBatchFailure re-queues every entry of a failed kind batch. Partial
// insert failures are indistinguishable from transport failures at this
// level, so the whole batch is retried.
func (q *Queue) handleBatchFailure(kind domain.RecordKind, entries []Entry, err error) {
	q.mu.Lock()
	q.flushFailures++
	dropped := 0
	for _, entry := range entries {
		entry.Retries++
		if entry.Retries >= q.opts.MaxRetries {
			q.retryDrops++
			dropped++
			continue
		}
		q.entries = append(q.entries, entry)
		if len(q.entries) > q.opts.Capacity {
			q.entries = q.entries[1:]
			q.overflowDrops++
			q.countOverflow()
		}
	}
	q.mu.Unlock()

	q.countFlushFailure()
	for i := 0; i < dropped; i++ {
		q.countRetryDrop()
	}
	if q.logger != nil {
		q.logger.Warn("bulk insert failed", "kind", kind, "entries", len(entries), "dropped", dropped, "error", err)
	}
}
