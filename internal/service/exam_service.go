package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/haloedu/ujianku-backend/internal/config"
	"github.com/haloedu/ujianku-backend/internal/model"
	"github.com/haloedu/ujianku-backend/internal/repository"
	"github.com/haloedu/ujianku-backend/internal/response"
)

// Domain errors.
var (
	ErrNotExamAuthor    = errors.New("not the author of this exam")
	ErrNoQuestions      = errors.New("exam has no questions, cannot publish")
	ErrExamNotDraft     = errors.New("exam status is not DRAFT")
	ErrExamNotPublished = errors.New("exam status is not PUBLISHED")
	ErrInvalidAnswerKey = errors.New("correct answer is not one of the question options")
)

// ExamService handles exam authoring, lifecycle, and Redis caching.
type ExamService struct {
	examRepo *repository.ExamRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo *repository.ExamRepository, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam with its questions.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.examRepo.GetByID(ctx, id)
}

// ListByAuthor retrieves exams with pagination. authorID 0 lists all exams.
func (s *ExamService) ListByAuthor(ctx context.Context, authorID, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	limit := perPage
	offset := (page - 1) * perPage

	exams, total, err := s.examRepo.ListByAuthorPaginated(ctx, authorID, limit, offset)
	if err != nil {
		return nil, nil, err
	}

	if exams == nil {
		exams = []model.Exam{}
	}

	totalPages := (total + perPage - 1) / perPage

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
	}

	return exams, pagination, nil
}

// Create inserts a new exam as DRAFT with zero questions.
func (s *ExamService) Create(ctx context.Context, exam *model.Exam) error {
	exam.Status = model.ExamStatusDraft
	exam.TotalPoints = 0
	return s.examRepo.Create(ctx, exam)
}

// Update modifies an existing draft exam's metadata.
func (s *ExamService) Update(ctx context.Context, authorID int, exam *model.Exam) error {
	existing, err := s.examRepo.GetByID(ctx, exam.ID)
	if err != nil {
		return err
	}
	if authorID != 0 && existing.AuthorID != authorID {
		return ErrNotExamAuthor
	}
	if existing.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}
	return s.examRepo.Update(ctx, exam)
}

// Delete removes a draft exam.
func (s *ExamService) Delete(ctx context.Context, id uuid.UUID, authorID int) error {
	existing, err := s.examRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if authorID != 0 && existing.AuthorID != authorID {
		return ErrNotExamAuthor
	}
	if existing.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}
	return s.examRepo.Delete(ctx, id)
}

// ReplaceQuestions swaps a draft exam's question list. The answer key of
// every question is validated here so that bad keys never reach students,
// and total_points is recomputed from the new list, never trusted from
// the client.
func (s *ExamService) ReplaceQuestions(ctx context.Context, examID uuid.UUID, authorID int, reqs []model.AddQuestionRequest) (*model.Exam, error) {
	existing, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if authorID != 0 && existing.AuthorID != authorID {
		return nil, ErrNotExamAuthor
	}
	if existing.Status != model.ExamStatusDraft {
		return nil, ErrExamNotDraft
	}

	questions := make([]model.Question, len(reqs))
	totalPoints := 0
	for i, req := range reqs {
		q := model.Question{
			ID:            uuid.New(),
			ExamID:        examID,
			QuestionText:  req.QuestionText,
			QuestionType:  model.QuestionType(req.QuestionType),
			Options:       req.Options,
			CorrectAnswer: req.CorrectAnswer,
			Points:        req.Points,
			OrderNum:      i + 1,
		}
		if err := validateAnswerKey(&q); err != nil {
			return nil, err
		}
		questions[i] = q
		totalPoints += q.Points
	}

	if err := s.examRepo.ReplaceQuestions(ctx, examID, questions, totalPoints); err != nil {
		return nil, fmt.Errorf("replace questions: %w", err)
	}

	existing.Questions = questions
	existing.TotalPoints = totalPoints
	return existing, nil
}

// validateAnswerKey rejects answer keys that could never be matched by a
// student submission: a multiple-choice key outside the option list, a
// true/false key other than True or False, or a blank key.
func validateAnswerKey(q *model.Question) error {
	key := strings.TrimSpace(q.CorrectAnswer)
	if key == "" {
		return ErrInvalidAnswerKey
	}

	switch q.QuestionType {
	case model.QuestionTypeMultipleChoice:
		for _, opt := range q.Options {
			if strings.EqualFold(strings.TrimSpace(opt), key) {
				return nil
			}
		}
		return ErrInvalidAnswerKey
	case model.QuestionTypeTrueFalse:
		if strings.EqualFold(key, "true") || strings.EqualFold(key, "false") {
			return nil
		}
		return ErrInvalidAnswerKey
	default:
		return nil
	}
}

// Publish changes exam status to PUBLISHED and caches the student payload in
// Redis. This is the path that populates the fast lane before students arrive.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID, authorID int) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}

	if authorID != 0 && exam.AuthorID != authorID {
		return ErrNotExamAuthor
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}
	if len(exam.Questions) == 0 {
		return ErrNoQuestions
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// Archive retires a published exam. Archived exams disappear from the
// student lobby but their attempts remain queryable.
func (s *ExamService) Archive(ctx context.Context, examID uuid.UUID, authorID int) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}

	if authorID != 0 && exam.AuthorID != authorID {
		return ErrNotExamAuthor
	}
	if exam.Status != model.ExamStatusPublished {
		return ErrExamNotPublished
	}

	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusArchived); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	// Drop the cached payload so the exam cannot be fetched anymore.
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, config.CacheKey.ExamPayloadKey(examID.String()))
	pipe.Del(ctx, config.CacheKey.ExamDurationKey(examID.String()))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to evict exam cache")
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam archived")
	return nil
}

// WarmExamCache loads an exam's student payload and duration from PostgreSQL
// into Redis. Used by Publish and PrewarmAllCaches.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	if len(exam.Questions) == 0 {
		return ErrNoQuestions
	}

	// Build student-facing payload (without correct answers).
	studentQuestions := make([]model.QuestionForStudent, len(exam.Questions))
	for i, q := range exam.Questions {
		studentQuestions[i] = model.QuestionForStudent{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			QuestionType: q.QuestionType,
			Options:      q.Options,
			Points:       q.Points,
			OrderNum:     q.OrderNum,
		}
	}

	payload := model.ExamPayload{
		ExamID:       exam.ID,
		Title:        exam.Title,
		Subject:      exam.Subject,
		Duration:     exam.DurationMinutes,
		TotalPoints:  exam.TotalPoints,
		PassingScore: exam.PassingScore,
		Questions:    studentQuestions,
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID.String()), payloadJSON, 0)
	pipe.Set(ctx, config.CacheKey.ExamDurationKey(exam.ID.String()), exam.DurationMinutes, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(exam.Questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
// This prevents any lazy-loading race conditions under thundering herd traffic.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming published exams...")

	warmed := 0
	for i := range exams {
		questions, err := s.examRepo.ListQuestions(ctx, exams[i].ID)
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", exams[i].ID.String()).Msg("Failed to load questions, skipping")
			continue
		}
		exams[i].Questions = questions

		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// GetExamPayload retrieves the cached student payload, falling back to
// PostgreSQL on a cache miss and self-healing the cache.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var payload model.ExamPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &payload, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	// Cache miss. Rebuild from PostgreSQL.
	exam, dbErr := s.examRepo.GetByID(ctx, examID)
	if dbErr != nil {
		return nil, fmt.Errorf("payload not cached and exam not found: %w", dbErr)
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotPublished
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Self-heal cache warm failed")
	}

	studentQuestions := make([]model.QuestionForStudent, len(exam.Questions))
	for i, q := range exam.Questions {
		studentQuestions[i] = model.QuestionForStudent{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			QuestionType: q.QuestionType,
			Options:      q.Options,
			Points:       q.Points,
			OrderNum:     q.OrderNum,
		}
	}

	return &model.ExamPayload{
		ExamID:       exam.ID,
		Title:        exam.Title,
		Subject:      exam.Subject,
		Duration:     exam.DurationMinutes,
		TotalPoints:  exam.TotalPoints,
		PassingScore: exam.PassingScore,
		Questions:    studentQuestions,
	}, nil
}
