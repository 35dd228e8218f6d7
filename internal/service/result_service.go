package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/haloedu/ujianku-backend/internal/exam"
	"github.com/haloedu/ujianku-backend/internal/model"
	"github.com/haloedu/ujianku-backend/internal/repository"
	"github.com/haloedu/ujianku-backend/internal/response"
)

// Result errors.
var ErrAttemptNotFound = errors.New("attempt not found")

// ResultService builds review projections from finalized attempts. Results
// are never stored: each request re-scores the frozen answers against the
// exam definition, which yields the same numbers the submission produced.
type ResultService struct {
	examRepo    *repository.ExamRepository
	attemptRepo *repository.AttemptRepository
	auditRepo   *repository.AuditRepository
}

// NewResultService creates a new ResultService.
func NewResultService(
	examRepo *repository.ExamRepository,
	attemptRepo *repository.AttemptRepository,
	auditRepo *repository.AuditRepository,
) *ResultService {
	return &ResultService{
		examRepo:    examRepo,
		attemptRepo: attemptRepo,
		auditRepo:   auditRepo,
	}
}

// GetStudentResult returns the full per-question review for a student's
// completed attempt.
func (s *ResultService) GetStudentResult(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamResult, error) {
	attempt, err := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status != model.AttemptStatusCompleted {
		return nil, ErrAttemptNotFound
	}

	e, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	return exam.BuildResult(e, attempt), nil
}

// ListStudentHistory returns a student's completed attempts, newest first.
func (s *ResultService) ListStudentHistory(ctx context.Context, studentID int) ([]model.ExamAttempt, error) {
	attempts, err := s.attemptRepo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	completed := make([]model.ExamAttempt, 0, len(attempts))
	for _, a := range attempts {
		if a.Status == model.AttemptStatusCompleted {
			completed = append(completed, a)
		}
	}
	return completed, nil
}

// ListExamResults returns the per-student result rows for an exam,
// paginated, ordered by percentage descending.
func (s *ResultService) ListExamResults(ctx context.Context, examID uuid.UUID, authorID, page, perPage int) ([]repository.AttemptRow, *response.Pagination, error) {
	e, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}
	if authorID != 0 && e.AuthorID != authorID {
		return nil, nil, ErrNotExamAuthor
	}

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	rows, total, err := s.attemptRepo.ListByExam(ctx, examID, page, perPage)
	if err != nil {
		return nil, nil, err
	}

	if rows == nil {
		rows = []repository.AttemptRow{}
	}

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}

	return rows, pagination, nil
}

// ListStudentAuditTrail returns a student's recorded audit events.
func (s *ResultService) ListStudentAuditTrail(ctx context.Context, studentID, limit int) ([]model.AuditEvent, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.auditRepo.ListByStudent(ctx, studentID, limit)
}
