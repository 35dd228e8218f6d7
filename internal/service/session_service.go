package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/haloedu/ujianku-backend/internal/config"
	"github.com/haloedu/ujianku-backend/internal/exam"
	"github.com/haloedu/ujianku-backend/internal/model"
	"github.com/haloedu/ujianku-backend/internal/repository"
)

// Session errors.
var (
	ErrExamNotAvailable = errors.New("exam is not available")
	ErrAlreadyAttempted = errors.New("exam has already been attempted")
	ErrNoActiveSession  = errors.New("no active session for this exam")
)

// LobbyStatus represents the concrete state of an exam in the student lobby.
type LobbyStatus string

const (
	LobbyStatusUpcoming   LobbyStatus = "UPCOMING"
	LobbyStatusAvailable  LobbyStatus = "AVAILABLE"
	LobbyStatusInProgress LobbyStatus = "IN_PROGRESS"
	LobbyStatusCompleted  LobbyStatus = "COMPLETED"
)

// LobbyExam represents an exam as displayed in the student lobby. Completed
// exams stay visible with their final score; re-entry is blocked.
type LobbyExam struct {
	ExamID          uuid.UUID   `json:"exam_id"`
	Title           string      `json:"title"`
	Subject         string      `json:"subject"`
	DurationMinutes int         `json:"duration_minutes"`
	TotalPoints     int         `json:"total_points"`
	PassingScore    int         `json:"passing_score"`
	StartAt         *time.Time  `json:"start_at,omitempty"`
	EndAt           *time.Time  `json:"end_at,omitempty"`
	LobbyStatus     LobbyStatus `json:"lobby_status"`
	Percentage      *float64    `json:"percentage,omitempty"`
	Passed          *bool       `json:"passed,omitempty"`
}

// SessionState is the snapshot returned to a reconnecting client.
type SessionState struct {
	ExamID           uuid.UUID         `json:"exam_id"`
	StudentID        int               `json:"student_id"`
	State            string            `json:"state"`
	RemainingSeconds int               `json:"remaining_seconds"`
	AutosavedAnswers map[string]string `json:"autosaved_answers"`
}

// SessionService owns every live exam session in this process. It gates
// entry (published exam, no prior attempt), drives the per-student Session,
// mirrors answers to Redis, and hands finalized attempts to the persistence
// queue. Auto-submitted timeouts go through the same path as manual ones.
type SessionService struct {
	examRepo    *repository.ExamRepository
	attemptRepo *repository.AttemptRepository
	rdb         *redis.Client
	clock       exam.Clock
	log         zerolog.Logger

	sink  exam.AttemptSink
	audit exam.AuditSink

	mu       sync.Mutex
	sessions map[string]*exam.Session
}

// NewSessionService creates a new SessionService backed by the Redis
// persistence queues.
func NewSessionService(
	examRepo *repository.ExamRepository,
	attemptRepo *repository.AttemptRepository,
	rdb *redis.Client,
	clock exam.Clock,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		examRepo:    examRepo,
		attemptRepo: attemptRepo,
		rdb:         rdb,
		clock:       clock,
		log:         log.With().Str("component", "session_service").Logger(),
		sink:        &queueAttemptSink{rdb: rdb},
		audit:       &queueAuditSink{rdb: rdb},
		sessions:    make(map[string]*exam.Session),
	}
}

func sessionKey(examID uuid.UUID, studentID int) string {
	return fmt.Sprintf("%d:%s", studentID, examID)
}

// GetLobby returns published exams with the student's attempt state overlaid.
func (s *SessionService) GetLobby(ctx context.Context, studentID int) ([]LobbyExam, error) {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list published exams: %w", err)
	}

	attempts, err := s.attemptRepo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	attemptMap := make(map[uuid.UUID]*model.ExamAttempt, len(attempts))
	for i := range attempts {
		attemptMap[attempts[i].ExamID] = &attempts[i]
	}

	lobby := make([]LobbyExam, 0, len(exams))
	now := s.clock.Now()

	for i := range exams {
		e := &exams[i]
		entry := LobbyExam{
			ExamID:          e.ID,
			Title:           e.Title,
			Subject:         e.Subject,
			DurationMinutes: e.DurationMinutes,
			TotalPoints:     e.TotalPoints,
			PassingScore:    e.PassingScore,
			StartAt:         e.StartAt,
			EndAt:           e.EndAt,
		}

		if a, ok := attemptMap[e.ID]; ok {
			if a.Status == model.AttemptStatusCompleted {
				entry.LobbyStatus = LobbyStatusCompleted
				entry.Percentage = &a.Percentage
				entry.Passed = &a.Passed
			} else {
				entry.LobbyStatus = LobbyStatusInProgress
			}
		} else {
			switch {
			case e.StartAt != nil && e.StartAt.After(now):
				entry.LobbyStatus = LobbyStatusUpcoming
			case e.EndAt != nil && e.EndAt.Before(now):
				continue // Window closed, never attempted. Hide it.
			default:
				entry.LobbyStatus = LobbyStatusAvailable
			}
		}

		lobby = append(lobby, entry)
	}

	return lobby, nil
}

// StartExam begins (or resumes) a student's attempt. A COMPLETED attempt
// blocks re-entry; an IN_PROGRESS attempt is restored with the original
// start time so the timer keeps counting from where it really began.
func (s *SessionService) StartExam(ctx context.Context, examID uuid.UUID, studentID int, studentName string) (*exam.Session, error) {
	e, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if e.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}

	now := s.clock.Now()
	if e.StartAt != nil && e.StartAt.After(now) {
		return nil, ErrExamNotAvailable
	}
	if e.EndAt != nil && e.EndAt.Before(now) {
		return nil, ErrExamNotAvailable
	}

	key := sessionKey(examID, studentID)

	s.mu.Lock()
	if sess, ok := s.sessions[key]; ok {
		s.mu.Unlock()
		if sess.State() == exam.StateRunning {
			return sess, nil
		}
		return nil, ErrAlreadyAttempted
	}
	s.mu.Unlock()

	// Check for a prior attempt. A COMPLETED one is final.
	existing, err := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}
	if existing != nil && existing.Status == model.AttemptStatusCompleted {
		return nil, ErrAlreadyAttempted
	}

	if existing != nil {
		return s.resume(ctx, e, existing, studentName)
	}

	attempt := &model.ExamAttempt{
		ID:          uuid.New(),
		ExamID:      examID,
		StudentID:   studentID,
		StudentName: studentName,
		StartedAt:   now,
		Status:      model.AttemptStatusInProgress,
	}
	if err := s.attemptRepo.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start raced us through the unique constraint.
			existing, fetchErr := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, fetch failed: %w", fetchErr)
			}
			if existing.Status == model.AttemptStatusCompleted {
				return nil, ErrAlreadyAttempted
			}
			return s.resume(ctx, e, existing, studentName)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	sess := exam.NewSession(e, attempt.ID, studentID, studentName, s.clock, s.sink, s.audit, s.log)
	if err := sess.Start(context.Background()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[key] = sess
	s.mu.Unlock()

	// Cache the start time so GetState stays off PostgreSQL.
	startKey := config.CacheKey.AttemptStartKey(examID.String(), studentID)
	if err := s.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache attempt start time")
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Msg("Attempt started")
	return sess, nil
}

// resume rebuilds a live session for an IN_PROGRESS attempt, restoring the
// autosaved answers and the original start time. The countdown recomputes
// the remaining time; a fully elapsed timer auto-submits within a second.
func (s *SessionService) resume(ctx context.Context, e *model.Exam, attempt *model.ExamAttempt, studentName string) (*exam.Session, error) {
	answers := attempt.Answers
	cached, err := s.rdb.HGetAll(ctx, config.CacheKey.StudentAnswersKey(e.ID.String(), attempt.StudentID)).Result()
	if err == nil && len(cached) > 0 {
		answers = cached
	}

	sess := exam.NewSession(e, attempt.ID, attempt.StudentID, studentName, s.clock, s.sink, s.audit, s.log)
	if err := sess.Restore(context.Background(), attempt.StartedAt, answers); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sessionKey(e.ID, attempt.StudentID)] = sess
	s.mu.Unlock()

	startKey := config.CacheKey.AttemptStartKey(e.ID.String(), attempt.StudentID)
	_ = s.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0).Err()

	s.log.Info().
		Str("exam_id", e.ID.String()).
		Int("student_id", attempt.StudentID).
		Msg("Attempt resumed")
	return sess, nil
}

// Session returns the live session for a student's exam, if any.
func (s *SessionService) Session(examID uuid.UUID, studentID int) (*exam.Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionKey(examID, studentID)]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNoActiveSession
	}
	return sess, nil
}

// SetAnswer records an answer in the live session and mirrors it to the
// Redis autosave buffer plus the persistence queue. The session is the
// source of truth for scoring; the mirrors exist for crash recovery.
func (s *SessionService) SetAnswer(ctx context.Context, examID uuid.UUID, studentID int, questionID, answer string) error {
	sess, err := s.Session(examID, studentID)
	if err != nil {
		return err
	}
	if err := sess.SetAnswer(questionID, answer); err != nil {
		return err
	}

	answersKey := config.CacheKey.StudentAnswersKey(examID.String(), studentID)
	if err := s.rdb.HSet(ctx, answersKey, questionID, answer).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to mirror answer to Redis")
	}

	payload, _ := json.Marshal(map[string]any{
		"student_id": studentID,
		"exam_id":    examID.String(),
		"q_id":       questionID,
		"answer":     answer,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to enqueue answer autosave")
	}

	return nil
}

// Submit finalizes the student's attempt with the given cause. All causes
// funnel into the session's single-shot submission latch.
func (s *SessionService) Submit(ctx context.Context, examID uuid.UUID, studentID int, cause model.SubmitCause) (*model.ExamAttempt, error) {
	sess, err := s.Session(examID, studentID)
	if err != nil {
		return nil, err
	}

	attempt, err := sess.Submit(ctx, cause)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.sessions, sessionKey(examID, studentID))
	s.mu.Unlock()

	return attempt, nil
}

// RecordBackgrounded notes that the exam app left the foreground. The event
// is best-effort: a dead audit queue never blocks the student.
func (s *SessionService) RecordBackgrounded(ctx context.Context, examID uuid.UUID, studentID int, studentName string) {
	event := model.AuditEvent{
		StudentID:   studentID,
		StudentName: studentName,
		EventType:   model.AuditEventTabChange,
		Details:     fmt.Sprintf("exam:%s", examID),
		RecordedAt:  s.clock.Now(),
	}
	if err := s.audit.RecordEvent(ctx, event); err != nil {
		s.log.Warn().Err(err).Int("student_id", studentID).Msg("Failed to record tab change")
	}
}

// GetState rebuilds the session snapshot for a reconnecting client. It
// prefers the live in-process session, then the Redis mirrors, then
// PostgreSQL, self-healing the cache on the way back up.
func (s *SessionService) GetState(ctx context.Context, examID uuid.UUID, studentID int) (*SessionState, error) {
	if sess, err := s.Session(examID, studentID); err == nil {
		return &SessionState{
			ExamID:           examID,
			StudentID:        studentID,
			State:            sess.State().String(),
			RemainingSeconds: sess.Remaining(),
			AutosavedAnswers: sess.Answers(),
		}, nil
	}

	answers, err := s.rdb.HGetAll(ctx, config.CacheKey.StudentAnswersKey(examID.String(), studentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get autosaved answers: %w", err)
	}

	durationStr, err := s.rdb.Get(ctx, config.CacheKey.ExamDurationKey(examID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get exam duration: %w", err)
	}
	durationMinutes, err := strconv.Atoi(durationStr)
	if err != nil {
		return nil, fmt.Errorf("invalid duration format in cache: %w", err)
	}

	var startUnix int64
	startKey := config.CacheKey.AttemptStartKey(examID.String(), studentID)

	val, err := s.rdb.Get(ctx, startKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Cache miss. Fall back to PostgreSQL, then self-heal.
		attempt, dbErr := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
		if dbErr != nil {
			return nil, ErrNoActiveSession
		}
		startUnix = attempt.StartedAt.Unix()
		_ = s.rdb.Set(ctx, startKey, startUnix, 0).Err()
	case err != nil:
		return nil, fmt.Errorf("get start time: %w", err)
	default:
		startUnix, err = strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid start time format in cache: %w", err)
		}
	}

	endTime := time.Unix(startUnix, 0).Add(time.Duration(durationMinutes) * time.Minute)
	remaining := endTime.Sub(s.clock.Now())
	if remaining < 0 {
		remaining = 0
	}

	return &SessionState{
		ExamID:           examID,
		StudentID:        studentID,
		State:            exam.StateRunning.String(),
		RemainingSeconds: int(remaining.Seconds()),
		AutosavedAnswers: answers,
	}, nil
}

// CloseAll stops every live countdown without submitting. Called on
// shutdown; the attempts stay IN_PROGRESS and resume on restart.
func (s *SessionService) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, key)
	}
}

// NewAuditSink returns the Redis-queue-backed audit sink used outside the
// session path (login events and the like).
func NewAuditSink(rdb *redis.Client) exam.AuditSink {
	return &queueAuditSink{rdb: rdb}
}

// queueAttemptSink pushes finalized attempts onto the Redis persistence
// queue consumed by the attempt worker.
type queueAttemptSink struct {
	rdb *redis.Client
}

func (q *queueAttemptSink) PersistAttempt(ctx context.Context, attempt *model.ExamAttempt) error {
	raw, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistAttemptsQueue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue attempt: %w", err)
	}
	return nil
}

// queueAuditSink pushes audit events onto the Redis queue consumed by the
// audit worker.
type queueAuditSink struct {
	rdb *redis.Client
}

func (q *queueAuditSink) RecordEvent(ctx context.Context, event model.AuditEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}
