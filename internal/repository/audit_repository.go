package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haloedu/ujianku-backend/internal/model"
)

// AuditRepository handles audit event data access.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Insert stores a single audit event.
func (r *AuditRepository) Insert(ctx context.Context, e *model.AuditEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_events (student_id, student_name, event_type, details, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.StudentID, e.StudentName, e.EventType, e.Details, e.RecordedAt)
	return err
}

// BulkInsert stores a batch of audit events via COPY.
func (r *AuditRepository) BulkInsert(ctx context.Context, events []*model.AuditEvent) error {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{e.StudentID, e.StudentName, e.EventType, e.Details, e.RecordedAt})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"audit_events"},
		[]string{"student_id", "student_name", "event_type", "details", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy audit events: %w", err)
	}
	return nil
}

// ListByStudent retrieves a student's audit trail, most recent first.
func (r *AuditRepository) ListByStudent(ctx context.Context, studentID, limit int) ([]model.AuditEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, student_name, event_type, details, recorded_at
		 FROM audit_events
		 WHERE student_id = $1
		 ORDER BY recorded_at DESC
		 LIMIT $2`, studentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		if err := rows.Scan(&e.ID, &e.StudentID, &e.StudentName, &e.EventType, &e.Details, &e.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
