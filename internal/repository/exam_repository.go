package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haloedu/ujianku-backend/internal/model"
)

// ExamRepository handles exam and question data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam with its ordered question list.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, subject, author_id, duration_minutes, total_points,
		        passing_score, status, start_at, end_at, created_at, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Subject, &e.AuthorID, &e.DurationMinutes, &e.TotalPoints,
		&e.PassingScore, &e.Status, &e.StartAt, &e.EndAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	questions, err := r.ListQuestions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	e.Questions = questions
	return e, nil
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, subject, author_id, duration_minutes, total_points,
		                    passing_score, status, start_at, end_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Subject, e.AuthorID, e.DurationMinutes, e.TotalPoints,
		e.PassingScore, e.Status, e.StartAt, e.EndAt,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// Update modifies an exam's mutable fields.
func (r *ExamRepository) Update(ctx context.Context, e *model.Exam) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams
		 SET title = $1, subject = $2, duration_minutes = $3, total_points = $4,
		     passing_score = $5, start_at = $6, end_at = $7, updated_at = NOW()
		 WHERE id = $8`,
		e.Title, e.Subject, e.DurationMinutes, e.TotalPoints,
		e.PassingScore, e.StartAt, e.EndAt, e.ID)
	return err
}

// UpdateStatus updates an exam's lifecycle status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// Delete removes an exam. Questions cascade at the schema level.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	return err
}

// ListByAuthorPaginated retrieves exams filtered by author with pagination.
// Pass authorID=0 to list all exams (admin).
func (r *ExamRepository) ListByAuthorPaginated(ctx context.Context, authorID, limit, offset int) ([]model.Exam, int, error) {
	countQuery := `SELECT COUNT(*) FROM exams`
	query := `SELECT id, title, subject, author_id, duration_minutes, total_points,
	                 passing_score, status, start_at, end_at, created_at, updated_at
	          FROM exams`

	var args []any
	if authorID > 0 {
		countQuery += ` WHERE author_id = $1`
		query += ` WHERE author_id = $1`
		args = append(args, authorID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Subject, &e.AuthorID, &e.DurationMinutes, &e.TotalPoints,
			&e.PassingScore, &e.Status, &e.StartAt, &e.EndAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}

// ListPublished returns all exams with PUBLISHED status.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, subject, author_id, duration_minutes, total_points,
		        passing_score, status, start_at, end_at, created_at, updated_at
		 FROM exams WHERE status = $1
		 ORDER BY created_at DESC`, model.ExamStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Subject, &e.AuthorID, &e.DurationMinutes, &e.TotalPoints,
			&e.PassingScore, &e.Status, &e.StartAt, &e.EndAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ListQuestions returns an exam's questions in presentation order.
func (r *ExamRepository) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, question_text, question_type, options, correct_answer, points, order_num
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num ASC, id ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.QuestionText, &q.QuestionType,
			&q.Options, &q.CorrectAnswer, &q.Points, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ReplaceQuestions swaps an exam's full question list and its total points
// in a single transaction, so a half-written question set is never visible.
func (r *ExamRepository) ReplaceQuestions(ctx context.Context, examID uuid.UUID, questions []model.Question, totalPoints int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE exam_id = $1`, examID); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}

	if len(questions) > 0 {
		rows := make([][]any, 0, len(questions))
		for _, q := range questions {
			rows = append(rows, []any{
				examID, q.QuestionText, q.QuestionType, q.Options, q.CorrectAnswer, q.Points, q.OrderNum,
			})
		}

		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"questions"},
			[]string{"exam_id", "question_text", "question_type", "options", "correct_answer", "points", "order_num"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("copy questions: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE exams SET total_points = $1, updated_at = NOW() WHERE id = $2`,
		totalPoints, examID); err != nil {
		return fmt.Errorf("update total points: %w", err)
	}

	return tx.Commit(ctx)
}
