package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/repository"
)

// Repository implements the telemetry persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.RecordWriter       = (*Repository)(nil)
	_ repository.ActivityRepository = (*Repository)(nil)
	_ repository.APICallRepository  = (*Repository)(nil)
	_ repository.HealthRepository   = (*Repository)(nil)
	_ repository.CrashRepository    = (*Repository)(nil)
)

// Ping verifies connectivity, used by the database health probe.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// BulkInsert persists one batch of same-kind records in a single round trip.
// Any statement error fails the whole batch; the queue treats that as a
// transport failure and retries every entry.
func (r *Repository) BulkInsert(ctx context.Context, kind domain.RecordKind, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, record := range records {
		switch rec := record.(type) {
		case domain.ActivityRecord:
			if err := queueActivityInsert(batch, rec); err != nil {
				return err
			}
		case domain.APICallRecord:
			queueAPICallInsert(batch, rec)
		case domain.HealthRecord:
			if err := queueHealthInsert(batch, rec); err != nil {
				return err
			}
		case domain.CrashRecord:
			if err := queueCrashInsert(batch, rec); err != nil {
				return err
			}
		default:
			return fmt.Errorf("bulk insert: unsupported record type %T for kind %s", record, kind)
		}
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("bulk insert %s: %w", kind, err)
		}
	}
	return nil
}

func queueActivityInsert(batch *pgx.Batch, rec domain.ActivityRecord) error {
	element, err := marshalOrNil(rec.Element)
	if err != nil {
		return fmt.Errorf("encode activity element: %w", err)
	}
	entity, err := marshalOrNil(rec.Entity)
	if err != nil {
		return fmt.Errorf("encode activity entity: %w", err)
	}
	metadata, err := marshalOrNil(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode activity metadata: %w", err)
	}
	const query = `INSERT INTO activity_records
		(id, ts, actor_id, actor_role, actor_name, action_kind, route, previous_route,
		 element, entity, metadata, category, session_id, error_message, error_stack, retention_tier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	batch.Queue(query, rec.ID, rec.Timestamp, rec.Actor.UserID, rec.Actor.Role, rec.Actor.DisplayName,
		rec.ActionKind, rec.Route, rec.PreviousRoute, element, entity, metadata,
		rec.Category, rec.SessionID, rec.ErrorMessage, rec.ErrorStack, rec.RetentionTier)
	return nil
}

func queueAPICallInsert(batch *pgx.Batch, rec domain.APICallRecord) {
	const query = `INSERT INTO api_call_records
		(id, ts, method, endpoint, actor_id, actor_role, actor_name, request_bytes, response_bytes,
		 status_code, response_time_ms, is_error, performance_category, bandwidth_in, bandwidth_out, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	batch.Queue(query, rec.ID, rec.Timestamp, rec.Method, rec.Endpoint,
		rec.Actor.UserID, rec.Actor.Role, rec.Actor.DisplayName,
		rec.RequestBytes, rec.ResponseBytes, rec.StatusCode, rec.ResponseTimeMS,
		rec.IsError, rec.PerformanceCategory, rec.BandwidthIn, rec.BandwidthOut, rec.Category)
}

func queueHealthInsert(batch *pgx.Batch, rec domain.HealthRecord) error {
	metrics, err := marshalOrNil(rec.Metrics)
	if err != nil {
		return fmt.Errorf("encode health metrics: %w", err)
	}
	const query = `INSERT INTO health_records
		(id, ts, component, status, response_time_ms, uptime_seconds, message, error_message, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	batch.Queue(query, rec.ID, rec.Timestamp, rec.Component, rec.Status,
		rec.ResponseTimeMS, rec.UptimeSeconds, rec.Message, rec.ErrorMessage, metrics)
	return nil
}

func queueCrashInsert(batch *pgx.Batch, rec domain.CrashRecord) error {
	metadata, err := marshalOrNil(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode crash metadata: %w", err)
	}
	const query = `INSERT INTO crash_records
		(id, ts, crash_type, component, severity, error_message, error_stack, error_code,
		 last_route, last_api_call, active_users, metadata, recovered, recovered_at,
		 recovery_method, affected_sessions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	batch.Queue(query, rec.ID, rec.Timestamp, rec.CrashType, rec.Component, rec.Severity,
		rec.ErrorMessage, rec.ErrorStack, rec.ErrorCode,
		rec.Context.LastRoute, rec.Context.LastAPICall, rec.Context.ActiveUsers,
		metadata, rec.Recovered, rec.RecoveredAt, rec.RecoveryMethod, rec.AffectedSessions)
	return nil
}

// marshalOrNil encodes v as JSONB input, mapping nil-ish values to SQL NULL.
func marshalOrNil(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *domain.UIElement:
		if val == nil {
			return nil, nil
		}
	case *domain.EntityRef:
		if val == nil {
			return nil, nil
		}
	case map[string]string:
		if len(val) == 0 {
			return nil, nil
		}
	case map[string]float64:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
