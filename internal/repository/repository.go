package repository

import (
	"context"
	"time"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
)

// Page bounds a list query. Page numbers start at 1.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps page parameters to sane values.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = 50
	}
	if p.Size > 500 {
		p.Size = 500
	}
	return p
}

// Offset converts the page to a row offset.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// PageCount computes the number of pages for a total row count.
func (p Page) PageCount(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + p.Size - 1) / p.Size
}

// RecordFilter narrows record list queries. Zero fields match everything.
type RecordFilter struct {
	From    time.Time
	To      time.Time
	Kind    string // action kind, crash type, or performance category
	ActorID string
	Search  string
}

// RecordWriter is the append-only sink consumed by the ingestion queue. One
// bulk insert per record kind; an error covers the whole batch.
type RecordWriter interface {
	BulkInsert(ctx context.Context, kind domain.RecordKind, records []domain.Record) error
}

// ActivityRepository reads persisted activity records.
type ActivityRepository interface {
	ListActivity(ctx context.Context, filter RecordFilter, page Page) ([]domain.ActivityRecord, int, error)
}

// APICallRepository reads persisted API call records.
type APICallRepository interface {
	ListAPICalls(ctx context.Context, filter RecordFilter, page Page) ([]domain.APICallRecord, int, error)
}

// HealthRepository reads persisted health records.
type HealthRepository interface {
	ListHealth(ctx context.Context, component string, page Page) ([]domain.HealthRecord, int, error)
	LatestHealthByComponent(ctx context.Context) ([]domain.HealthRecord, error)
}

// CrashRepository reads crash records and performs the single permitted
// mutation: flipping recovered from false to true. A second call for an
// already-recovered crash is a no-op; an unknown id yields ErrNotFound.
type CrashRepository interface {
	ListCrashes(ctx context.Context, filter RecordFilter, page Page) ([]domain.CrashRecord, int, error)
	GetCrashByID(ctx context.Context, id string) (*domain.CrashRecord, error)
	MarkCrashRecovered(ctx context.Context, id, method string, at time.Time) error
}
