package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haloedu/ujianku-backend/internal/model"
)

// AttemptRow summarizes one student's attempt for admin result listings.
type AttemptRow struct {
	AttemptID      uuid.UUID           `json:"attempt_id"`
	StudentID      int                 `json:"student_id"`
	StudentName    string              `json:"student_name"`
	NISN           string              `json:"nisn"`
	Score          int                 `json:"score"`
	TotalPoints    int                 `json:"total_points"`
	Percentage     float64             `json:"percentage"`
	Passed         bool                `json:"passed"`
	Status         model.AttemptStatus `json:"status"`
	StartedAt      time.Time           `json:"started_at"`
	SubmittedAt    *time.Time          `json:"submitted_at"`
	ElapsedMinutes int                 `json:"elapsed_minutes"`
}

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a fresh in-progress attempt when a session starts.
// ON CONFLICT DO NOTHING keeps a concurrent double-join from creating two
// attempts; the caller detects pgx.ErrNoRows and refetches.
func (r *AttemptRepository) Create(ctx context.Context, a *model.ExamAttempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, student_id, student_name, status, answers)
		 VALUES ($1, $2, $3, $4, '{}'::jsonb)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id, started_at`,
		a.ExamID, a.StudentID, a.StudentName, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.StartedAt)
}

// GetByID retrieves a single attempt.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, student_name, started_at, submitted_at, answers,
		        score, total_points, percentage, passed, elapsed_minutes, cause, status
		 FROM exam_attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StudentName, &a.StartedAt, &a.SubmittedAt, &a.Answers,
		&a.Score, &a.TotalPoints, &a.Percentage, &a.Passed, &a.ElapsedMinutes, &a.Cause, &a.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetByExamAndStudent retrieves an attempt for a specific exam-student pair.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, student_name, started_at, submitted_at, answers,
		        score, total_points, percentage, passed, elapsed_minutes, cause, status
		 FROM exam_attempts WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StudentName, &a.StartedAt, &a.SubmittedAt, &a.Answers,
		&a.Score, &a.TotalPoints, &a.Percentage, &a.Passed, &a.ElapsedMinutes, &a.Cause, &a.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// HasAttempted reports whether a student has a completed attempt for an
// exam. Consulted by the lobby to gate the take-exam action.
func (r *AttemptRepository) HasAttempted(ctx context.Context, examID uuid.UUID, studentID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM exam_attempts
		   WHERE exam_id = $1 AND student_id = $2 AND status = $3
		 )`, examID, studentID, model.AttemptStatusCompleted,
	).Scan(&exists)
	return exists, err
}

// Finalize writes the frozen scoring result of a submitted attempt.
func (r *AttemptRepository) Finalize(ctx context.Context, a *model.ExamAttempt) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET submitted_at = $1, answers = $2, score = $3, total_points = $4,
		     percentage = $5, passed = $6, elapsed_minutes = $7, cause = $8, status = $9
		 WHERE id = $10`,
		a.SubmittedAt, a.Answers, a.Score, a.TotalPoints,
		a.Percentage, a.Passed, a.ElapsedMinutes, a.Cause, model.AttemptStatusCompleted, a.ID)
	return err
}

// SaveAnswers overwrites the autosaved answer map of an in-progress attempt.
func (r *AttemptRepository) SaveAnswers(ctx context.Context, id uuid.UUID, answers map[string]string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET answers = $1
		 WHERE id = $2 AND status = $3`,
		answers, id, model.AttemptStatusInProgress)
	return err
}

// ListByStudent retrieves all attempts for a given student.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]model.ExamAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, student_name, started_at, submitted_at, answers,
		        score, total_points, percentage, passed, elapsed_minutes, cause, status
		 FROM exam_attempts
		 WHERE student_id = $1
		 ORDER BY started_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.ExamAttempt
	for rows.Next() {
		var a model.ExamAttempt
		if err := rows.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StudentName, &a.StartedAt, &a.SubmittedAt, &a.Answers,
			&a.Score, &a.TotalPoints, &a.Percentage, &a.Passed, &a.ElapsedMinutes, &a.Cause, &a.Status); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListByExam retrieves student results for a specific exam with pagination.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]AttemptRow, int, error) {
	offset := (page - 1) * perPage

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE exam_id = $1`, examID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, a.student_name, s.nisn,
		        a.score, a.total_points, a.percentage, a.passed, a.status,
		        a.started_at, a.submitted_at, a.elapsed_minutes
		 FROM exam_attempts a
		 JOIN students s ON a.student_id = s.id
		 WHERE a.exam_id = $1
		 ORDER BY a.percentage DESC, a.student_name ASC
		 LIMIT $2 OFFSET $3`, examID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []AttemptRow
	for rows.Next() {
		var row AttemptRow
		if err := rows.Scan(&row.AttemptID, &row.StudentID, &row.StudentName, &row.NISN,
			&row.Score, &row.TotalPoints, &row.Percentage, &row.Passed, &row.Status,
			&row.StartedAt, &row.SubmittedAt, &row.ElapsedMinutes); err != nil {
			return nil, 0, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return results, total, nil
}
