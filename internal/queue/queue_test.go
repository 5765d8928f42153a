package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
)

type stubWriter struct {
	mu       sync.Mutex
	inserts  map[domain.RecordKind][][]domain.Record
	failures map[domain.RecordKind]int
}

func newStubWriter() *stubWriter {
	return &stubWriter{
		inserts:  make(map[domain.RecordKind][][]domain.Record),
		failures: make(map[domain.RecordKind]int),
	}
}

func (s *stubWriter) BulkInsert(_ context.Context, kind domain.RecordKind, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[kind] > 0 {
		s.failures[kind]--
		return errors.New("store unavailable")
	}
	batch := make([]domain.Record, len(records))
	copy(batch, records)
	s.inserts[kind] = append(s.inserts[kind], batch)
	return nil
}

func (s *stubWriter) insertedCount(kind domain.RecordKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, batch := range s.inserts[kind] {
		total += len(batch)
	}
	return total
}

func (s *stubWriter) batchCount(kind domain.RecordKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserts[kind])
}

func activityRecord(id string) domain.ActivityRecord {
	return domain.ActivityRecord{
		ID:         id,
		Timestamp:  time.Now().UTC(),
		ActionKind: domain.ActionClick,
		Category:   domain.CategoryActivity,
	}
}

func healthRecord(id string) domain.HealthRecord {
	return domain.HealthRecord{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Component: domain.ComponentSystem,
		Status:    domain.StatusGreen,
	}
}

func TestFlushPartitionsByKind(t *testing.T) {
	writer := newStubWriter()
	q := New(writer, nil, Options{BatchSize: 10})

	for i := 0; i < 3; i++ {
		q.Enqueue(domain.KindActivity, activityRecord(fmt.Sprintf("a-%d", i)))
	}
	for i := 0; i < 2; i++ {
		q.Enqueue(domain.KindHealth, healthRecord(fmt.Sprintf("h-%d", i)))
	}

	q.Flush(context.Background())

	if got := writer.insertedCount(domain.KindActivity); got != 3 {
		t.Fatalf("expected 3 activity records persisted, got %d", got)
	}
	if got := writer.insertedCount(domain.KindHealth); got != 2 {
		t.Fatalf("expected 2 health records persisted, got %d", got)
	}
	if got := writer.batchCount(domain.KindActivity); got != 1 {
		t.Fatalf("expected a single activity bulk insert, got %d", got)
	}
	if depth := q.Stats().Depth; depth != 0 {
		t.Fatalf("expected empty queue after flush, got depth %d", depth)
	}
}

func TestEnqueueOverflowDropsOldest(t *testing.T) {
	writer := newStubWriter()
	q := New(writer, nil, Options{Capacity: 3, BatchSize: 100})

	for i := 0; i < 5; i++ {
		q.Enqueue(domain.KindActivity, activityRecord(fmt.Sprintf("a-%d", i)))
	}

	stats := q.Stats()
	if stats.Depth != 3 {
		t.Fatalf("expected depth capped at 3, got %d", stats.Depth)
	}
	if stats.OverflowDrops != 2 {
		t.Fatalf("expected 2 overflow drops, got %d", stats.OverflowDrops)
	}

	q.Flush(context.Background())
	batch := writer.inserts[domain.KindActivity][0]
	if batch[0].(domain.ActivityRecord).ID != "a-2" {
		t.Fatalf("expected oldest surviving record a-2, got %s", batch[0].(domain.ActivityRecord).ID)
	}
}

func TestFlushRetriesThenDrops(t *testing.T) {
	writer := newStubWriter()
	q := New(writer, nil, Options{BatchSize: 10, MaxRetries: 3})
	// the store recovers right after the retry budget is spent; the entry
	// must be discarded, not persisted by a late success
	writer.failures[domain.KindActivity] = 3

	q.Enqueue(domain.KindActivity, activityRecord("a-1"))

	for i := 0; i < 6; i++ {
		q.Flush(context.Background())
	}

	stats := q.Stats()
	if stats.Depth != 0 {
		t.Fatalf("expected entry dropped after retries, depth %d", stats.Depth)
	}
	if stats.RetryDrops != 1 {
		t.Fatalf("expected 1 retry drop, got %d", stats.RetryDrops)
	}
	if stats.FlushFailures != 3 {
		t.Fatalf("expected 3 flush failures, got %d", stats.FlushFailures)
	}
	if got := writer.insertedCount(domain.KindActivity); got != 0 {
		t.Fatalf("expected nothing persisted after retry exhaustion, got %d", got)
	}
}

func TestFailedKindDoesNotAffectOthers(t *testing.T) {
	writer := newStubWriter()
	q := New(writer, nil, Options{BatchSize: 10, MaxRetries: 3})
	writer.failures[domain.KindActivity] = 1

	q.Enqueue(domain.KindActivity, activityRecord("a-1"))
	q.Enqueue(domain.KindHealth, healthRecord("h-1"))

	q.Flush(context.Background())

	if got := writer.insertedCount(domain.KindHealth); got != 1 {
		t.Fatalf("expected health record persisted despite activity failure, got %d", got)
	}
	if depth := q.Stats().Depth; depth != 1 {
		t.Fatalf("expected failed activity record requeued, depth %d", depth)
	}

	q.Flush(context.Background())
	if got := writer.insertedCount(domain.KindActivity); got != 1 {
		t.Fatalf("expected activity record persisted on retry, got %d", got)
	}
}

func TestBatchThresholdTriggersEarlyFlush(t *testing.T) {
	writer := newStubWriter()
	q := New(writer, nil, Options{BatchSize: 5, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		q.Enqueue(domain.KindActivity, activityRecord(fmt.Sprintf("a-%d", i)))
	}

	deadline := time.After(2 * time.Second)
	for writer.insertedCount(domain.KindActivity) < 5 {
		select {
		case <-deadline:
			t.Fatalf("expected early flush at batch threshold, persisted %d", writer.insertedCount(domain.KindActivity))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestThresholdOverflowDrainsOnNextTick(t *testing.T) {
	writer := newStubWriter()
	q := New(writer, nil, Options{BatchSize: 100, FlushInterval: 20 * time.Millisecond})

	// 150 buffered entries: one full batch flushes immediately, the
	// remaining 50 wait for the ticker
	for i := 0; i < 150; i++ {
		q.Enqueue(domain.KindActivity, activityRecord(fmt.Sprintf("a-%d", i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for writer.insertedCount(domain.KindActivity) < 150 {
		select {
		case <-deadline:
			t.Fatalf("expected 150 records drained, persisted %d", writer.insertedCount(domain.KindActivity))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if got := writer.batchCount(domain.KindActivity); got != 2 {
		t.Fatalf("expected two flushes, got %d", got)
	}
	writer.mu.Lock()
	first := len(writer.inserts[domain.KindActivity][0])
	second := len(writer.inserts[domain.KindActivity][1])
	writer.mu.Unlock()
	if first != 100 || second != 50 {
		t.Fatalf("expected a 100-entry batch then the 50 remainder, got %d and %d", first, second)
	}
	if depth := q.Stats().Depth; depth != 0 {
		t.Fatalf("expected empty queue, depth %d", depth)
	}
}

func TestShutdownDrainsRemainingEntries(t *testing.T) {
	writer := newStubWriter()
	q := New(writer, nil, Options{BatchSize: 2, ShutdownGrace: time.Second})

	for i := 0; i < 7; i++ {
		q.Enqueue(domain.KindActivity, activityRecord(fmt.Sprintf("a-%d", i)))
	}

	q.Shutdown()

	if got := writer.insertedCount(domain.KindActivity); got != 7 {
		t.Fatalf("expected all 7 records drained, got %d", got)
	}
	stats := q.Stats()
	if !stats.Draining {
		t.Fatal("expected draining flag set after shutdown")
	}
	if stats.Depth != 0 {
		t.Fatalf("expected empty queue after drain, depth %d", stats.Depth)
	}
}

func TestEnqueueAfterNilRecordIsIgnored(t *testing.T) {
	writer := newStubWriter()
	q := New(writer, nil, Options{})
	q.Enqueue(domain.KindActivity, nil)
	if depth := q.Stats().Depth; depth != 0 {
		t.Fatalf("expected nil record ignored, depth %d", depth)
	}
}
