package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/repository"
)

// filterClause builds the WHERE fragment shared by list queries.
type filterClause struct {
	conds []string
	args  []any
}

func (f *filterClause) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(cond, len(f.args)))
}

func (f *filterClause) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

func buildFilter(filter repository.RecordFilter, kindColumn, searchColumn string) *filterClause {
	f := &filterClause{}
	if !filter.From.IsZero() {
		f.add("ts >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		f.add("ts <= $%d", filter.To)
	}
	if filter.Kind != "" && kindColumn != "" {
		f.add(kindColumn+" = $%d", filter.Kind)
	}
	if filter.ActorID != "" {
		f.add("actor_id = $%d", filter.ActorID)
	}
	if filter.Search != "" && searchColumn != "" {
		f.add(searchColumn+" ILIKE $%d", "%"+filter.Search+"%")
	}
	return f
}

func (r *Repository) countRows(ctx context.Context, table string, f *filterClause) (int, error) {
	query := "SELECT COUNT(1) FROM " + table + f.where()
	var total int
	if err := r.pool.QueryRow(ctx, query, f.args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// ListActivity returns activity records matching the filter, newest first.
func (r *Repository) ListActivity(ctx context.Context, filter repository.RecordFilter, page repository.Page) ([]domain.ActivityRecord, int, error) {
	page = page.Normalize()
	f := buildFilter(filter, "action_kind", "route")
	total, err := r.countRows(ctx, "activity_records", f)
	if err != nil {
		return nil, 0, err
	}
	query := `SELECT id, ts, actor_id, actor_role, actor_name, action_kind, route, previous_route,
			element, entity, metadata, category, session_id, error_message, error_stack, retention_tier
		FROM activity_records` + f.where() +
		fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d OFFSET $%d", len(f.args)+1, len(f.args)+2)
	args := append(f.args, page.Size, page.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]domain.ActivityRecord, 0)
	for rows.Next() {
		var rec domain.ActivityRecord
		var element, entity, metadata []byte
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Actor.UserID, &rec.Actor.Role, &rec.Actor.DisplayName,
			&rec.ActionKind, &rec.Route, &rec.PreviousRoute, &element, &entity, &metadata,
			&rec.Category, &rec.SessionID, &rec.ErrorMessage, &rec.ErrorStack, &rec.RetentionTier); err != nil {
			return nil, 0, err
		}
		if len(element) > 0 {
			rec.Element = &domain.UIElement{}
			if err := json.Unmarshal(element, rec.Element); err != nil {
				return nil, 0, fmt.Errorf("decode activity element: %w", err)
			}
		}
		if len(entity) > 0 {
			rec.Entity = &domain.EntityRef{}
			if err := json.Unmarshal(entity, rec.Entity); err != nil {
				return nil, 0, fmt.Errorf("decode activity entity: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode activity metadata: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// ListAPICalls returns API call records matching the filter, newest first.
func (r *Repository) ListAPICalls(ctx context.Context, filter repository.RecordFilter, page repository.Page) ([]domain.APICallRecord, int, error) {
	page = page.Normalize()
	f := buildFilter(filter, "performance_category", "endpoint")
	total, err := r.countRows(ctx, "api_call_records", f)
	if err != nil {
		return nil, 0, err
	}
	query := `SELECT id, ts, method, endpoint, actor_id, actor_role, actor_name, request_bytes, response_bytes,
			status_code, response_time_ms, is_error, performance_category, bandwidth_in, bandwidth_out, category
		FROM api_call_records` + f.where() +
		fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d OFFSET $%d", len(f.args)+1, len(f.args)+2)
	args := append(f.args, page.Size, page.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]domain.APICallRecord, 0)
	for rows.Next() {
		var rec domain.APICallRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Method, &rec.Endpoint,
			&rec.Actor.UserID, &rec.Actor.Role, &rec.Actor.DisplayName,
			&rec.RequestBytes, &rec.ResponseBytes, &rec.StatusCode, &rec.ResponseTimeMS,
			&rec.IsError, &rec.PerformanceCategory, &rec.BandwidthIn, &rec.BandwidthOut, &rec.Category); err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// ListHealth returns health records for a component (or all), newest first.
func (r *Repository) ListHealth(ctx context.Context, component string, page repository.Page) ([]domain.HealthRecord, int, error) {
	page = page.Normalize()
	f := &filterClause{}
	if component != "" {
		f.add("component = $%d", component)
	}
	total, err := r.countRows(ctx, "health_records", f)
	if err != nil {
		return nil, 0, err
	}
	query := `SELECT id, ts, component, status, response_time_ms, uptime_seconds, message, error_message, metrics
		FROM health_records` + f.where() +
		fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d OFFSET $%d", len(f.args)+1, len(f.args)+2)
	args := append(f.args, page.Size, page.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	records, err := scanHealthRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// LatestHealthByComponent returns the most recent record per component.
func (r *Repository) LatestHealthByComponent(ctx context.Context) ([]domain.HealthRecord, error) {
	const query = `SELECT DISTINCT ON (component)
			id, ts, component, status, response_time_ms, uptime_seconds, message, error_message, metrics
		FROM health_records
		ORDER BY component, ts DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHealthRows(rows)
}

func scanHealthRows(rows pgx.Rows) ([]domain.HealthRecord, error) {
	records := make([]domain.HealthRecord, 0)
	for rows.Next() {
		var rec domain.HealthRecord
		var metrics []byte
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Component, &rec.Status,
			&rec.ResponseTimeMS, &rec.UptimeSeconds, &rec.Message, &rec.ErrorMessage, &metrics); err != nil {
			return nil, err
		}
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &rec.Metrics); err != nil {
				return nil, fmt.Errorf("decode health metrics: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListCrashes returns crash records matching the filter, newest first.
func (r *Repository) ListCrashes(ctx context.Context, filter repository.RecordFilter, page repository.Page) ([]domain.CrashRecord, int, error) {
	page = page.Normalize()
	f := buildFilter(filter, "crash_type", "error_message")
	total, err := r.countRows(ctx, "crash_records", f)
	if err != nil {
		return nil, 0, err
	}
	query := crashSelectColumns + ` FROM crash_records` + f.where() +
		fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d OFFSET $%d", len(f.args)+1, len(f.args)+2)
	args := append(f.args, page.Size, page.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]domain.CrashRecord, 0)
	for rows.Next() {
		rec, err := scanCrashRow(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

const crashSelectColumns = `SELECT id, ts, crash_type, component, severity, error_message, error_stack, error_code,
	last_route, last_api_call, active_users, metadata, recovered, recovered_at, recovery_method, affected_sessions`

// GetCrashByID fetches a single crash record.
func (r *Repository) GetCrashByID(ctx context.Context, id string) (*domain.CrashRecord, error) {
	query := crashSelectColumns + ` FROM crash_records WHERE id = $1`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, repository.ErrNotFound
	}
	rec, err := scanCrashRow(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanCrashRow(rows pgx.Rows) (domain.CrashRecord, error) {
	var rec domain.CrashRecord
	var metadata []byte
	if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.CrashType, &rec.Component, &rec.Severity,
		&rec.ErrorMessage, &rec.ErrorStack, &rec.ErrorCode,
		&rec.Context.LastRoute, &rec.Context.LastAPICall, &rec.Context.ActiveUsers,
		&metadata, &rec.Recovered, &rec.RecoveredAt, &rec.RecoveryMethod, &rec.AffectedSessions); err != nil {
		return domain.CrashRecord{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return domain.CrashRecord{}, fmt.Errorf("decode crash metadata: %w", err)
		}
	}
	return rec, nil
}

// MarkCrashRecovered flips recovered from false to true. The guard on
// recovered = false makes a repeat call a no-op rather than an error.
func (r *Repository) MarkCrashRecovered(ctx context.Context, id, method string, at time.Time) error {
	const query = `UPDATE crash_records
		SET recovered = TRUE, recovered_at = $2, recovery_method = $3
		WHERE id = $1 AND recovered = FALSE`
	tag, err := r.pool.Exec(ctx, query, id, at, method)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetCrashByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return repository.ErrNotFound
			}
			return err
		}
	}
	return nil
}
