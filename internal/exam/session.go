package exam

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/haloedu/ujianku-backend/internal/model"
)

// State is the lifecycle of a live exam session.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateSubmitting
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateRunning:
		return "RUNNING"
	case StateSubmitting:
		return "SUBMITTING"
	case StateFinalized:
		return "FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// Domain errors.
var (
	ErrAlreadyStarted   = errors.New("session already started")
	ErrAlreadySubmitted = errors.New("session already submitted")
	ErrNotRunning       = errors.New("session is not running")
)

// AttemptSink persists a finalized attempt. The session guarantees it is
// called at most once per session, so implementations need not dedupe.
type AttemptSink interface {
	PersistAttempt(ctx context.Context, attempt *model.ExamAttempt) error
}

// AuditSink records best-effort audit events. Failures are swallowed by the
// caller; implementations should not block for long.
type AuditSink interface {
	RecordEvent(ctx context.Context, event model.AuditEvent) error
}

// Session drives one student's pass through an exam: answer capture, the
// per-second countdown, and the single-shot submission path. The three
// submission causes (manual, timeout, backgrounded) all funnel through
// Submit, where a compare-and-swap latch serializes them; whichever cause
// wins the swap finalizes the attempt, the rest become no-ops.
type Session struct {
	exam        *model.Exam
	attemptID   uuid.UUID
	studentID   int
	studentName string

	clock Clock
	sink  AttemptSink
	audit AuditSink
	log   zerolog.Logger

	state     atomic.Int32
	submitted atomic.Bool // submission latch
	remaining atomic.Int64
	startedAt time.Time

	mu          sync.Mutex
	answers     map[string]string
	attempt     *model.ExamAttempt
	cancelTimer context.CancelFunc
}

// NewSession creates a session in the NotStarted state.
func NewSession(
	e *model.Exam,
	attemptID uuid.UUID,
	studentID int,
	studentName string,
	clock Clock,
	sink AttemptSink,
	audit AuditSink,
	log zerolog.Logger,
) *Session {
	s := &Session{
		exam:        e,
		attemptID:   attemptID,
		studentID:   studentID,
		studentName: studentName,
		clock:       clock,
		sink:        sink,
		audit:       audit,
		answers:     make(map[string]string),
		log: log.With().
			Str("component", "exam_session").
			Str("exam_id", e.ID.String()).
			Int("student_id", studentID).
			Logger(),
	}
	s.remaining.Store(int64(e.DurationMinutes) * 60)
	return s
}

// Start begins a fresh session: records the start timestamp and launches
// the countdown.
func (s *Session) Start(ctx context.Context) error {
	return s.start(ctx, s.clock.Now(), nil)
}

// Restore resumes a session from a persisted in-progress attempt (page
// reload or server restart). Remaining time is recomputed from the original
// start timestamp; an already-expired session auto-submits on the first tick.
func (s *Session) Restore(ctx context.Context, startedAt time.Time, answers map[string]string) error {
	return s.start(ctx, startedAt, answers)
}

func (s *Session) start(ctx context.Context, startedAt time.Time, answers map[string]string) error {
	if !s.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	s.startedAt = startedAt

	total := int64(s.exam.DurationMinutes) * 60
	elapsed := int64(s.clock.Now().Sub(startedAt) / time.Second)
	rem := total - elapsed
	if rem < 0 {
		rem = 0
	}
	s.remaining.Store(rem)

	timerCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	for k, v := range answers {
		s.answers[k] = v
	}
	s.cancelTimer = cancel
	s.mu.Unlock()

	go s.countdown(timerCtx)

	s.log.Info().Int64("seconds_remaining", rem).Msg("Session started")
	return nil
}

// countdown decrements once per second until it reaches zero, then fires a
// timeout submission exactly once and stops. Cancelation (submission or
// teardown) ends the loop without a tick.
func (s *Session) countdown(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(time.Second):
			if ctx.Err() != nil || s.State() != StateRunning {
				return
			}
			rem := s.remaining.Add(-1)
			if rem > 0 {
				continue
			}
			if rem < 0 {
				s.remaining.Store(0)
			}

			// The persistence context must outlive the timer context,
			// which Submit cancels.
			if _, err := s.Submit(context.Background(), model.SubmitCauseTimeout); err != nil && !errors.Is(err, ErrAlreadySubmitted) {
				s.log.Error().Err(err).Msg("Timeout submission failed")
			}
			return
		}
	}
}

// SetAnswer upserts a submitted answer. Values are stored as-is: the client
// constrains choice inputs, the session does not validate their shape.
func (s *Session) SetAnswer(questionID, value string) error {
	if s.State() != StateRunning {
		return ErrNotRunning
	}
	s.mu.Lock()
	s.answers[questionID] = value
	s.mu.Unlock()
	return nil
}

// Answer returns the captured answer for a question, or the empty string.
func (s *Session) Answer(questionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers[questionID]
}

// Answers returns a copy of the captured answer map.
func (s *Session) Answers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// Remaining returns the seconds left on the countdown. Never negative.
func (s *Session) Remaining() int {
	return int(s.remaining.Load())
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// StartedAt returns the recorded session start time (zero if not started).
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Attempt returns the finalized attempt, or nil while the session is open.
func (s *Session) Attempt() *model.ExamAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Submit finalizes the session for the given cause. At most one submission
// proceeds: later calls (from any cause) return ErrAlreadySubmitted and
// have no effect. On the backgrounded cause a "Tab Change" audit event is
// recorded fire-and-forget before scoring; its failure never blocks
// submission.
func (s *Session) Submit(ctx context.Context, cause model.SubmitCause) (*model.ExamAttempt, error) {
	if !s.submitted.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubmitted
	}
	s.state.Store(int32(StateSubmitting))

	s.mu.Lock()
	cancel := s.cancelTimer
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	now := s.clock.Now()

	if cause == model.SubmitCauseBackgrounded {
		event := model.AuditEvent{
			StudentID:   s.studentID,
			StudentName: s.studentName,
			EventType:   model.AuditEventTabChange,
			Details:     fmt.Sprintf("App left foreground during exam %s", s.exam.ID),
			RecordedAt:  now,
		}
		go func() {
			if err := s.audit.RecordEvent(context.Background(), event); err != nil {
				s.log.Warn().Err(err).Msg("Audit event dropped")
			}
		}()
	}

	startedAt := s.startedAt
	if startedAt.IsZero() {
		// Defensive: approximate the start from the countdown position.
		total := time.Duration(s.exam.DurationMinutes) * time.Minute
		used := total - time.Duration(s.remaining.Load())*time.Second
		startedAt = now.Add(-used)
	}

	elapsed := int(math.Round(now.Sub(startedAt).Minutes()))
	if elapsed < 1 {
		elapsed = 1
	}

	s.mu.Lock()
	answers := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	s.mu.Unlock()

	sum := Score(s.exam, answers)

	attempt := &model.ExamAttempt{
		ID:             s.attemptID,
		ExamID:         s.exam.ID,
		StudentID:      s.studentID,
		StudentName:    s.studentName,
		StartedAt:      startedAt,
		SubmittedAt:    &now,
		Answers:        answers,
		Score:          sum.TotalScore,
		TotalPoints:    s.exam.TotalPoints,
		Percentage:     sum.Percentage,
		Passed:         sum.Passed,
		ElapsedMinutes: elapsed,
		Cause:          cause,
		Status:         model.AttemptStatusCompleted,
	}

	s.mu.Lock()
	s.attempt = attempt
	s.mu.Unlock()
	s.state.Store(int32(StateFinalized))

	if err := s.sink.PersistAttempt(ctx, attempt); err != nil {
		s.log.Error().Err(err).Str("cause", string(cause)).Msg("Persist attempt failed")
		return attempt, fmt.Errorf("persist attempt: %w", err)
	}

	s.log.Info().
		Str("cause", string(cause)).
		Int("score", sum.TotalScore).
		Float64("percentage", sum.Percentage).
		Bool("passed", sum.Passed).
		Int("elapsed_minutes", elapsed).
		Msg("Attempt finalized")

	return attempt, nil
}

// Close stops the countdown without submitting (screen teardown). A
// finalized session is unaffected.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancelTimer
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
