package exam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/haloedu/ujianku-backend/internal/model"
)

// ─── Virtual clock ──────────────────────────────────────────────────

type virtualTimer struct {
	at time.Time
	ch chan time.Time
}

// virtualClock is a deterministic Clock: time only moves when the test
// calls Tick or Advance.
type virtualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*virtualTimer
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Unix(1700000000, 0)}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.timers = append(c.timers, &virtualTimer{at: c.now.Add(d), ch: ch})
	c.mu.Unlock()
	return ch
}

// Tick waits until the countdown has scheduled its next wakeup, then
// advances the clock by d and fires every timer that came due. Waiting
// first keeps successive ticks from outrunning the countdown goroutine.
func (c *virtualClock) Tick(t *testing.T, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.timers) > 0 {
			break
		}
		c.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("no pending timer to fire")
		}
		time.Sleep(time.Millisecond)
	}

	c.now = c.now.Add(d)
	kept := c.timers[:0]
	for _, tm := range c.timers {
		if tm.at.After(c.now) {
			kept = append(kept, tm)
		} else {
			tm.ch <- c.now
		}
	}
	c.timers = kept
	c.mu.Unlock()
}

// Advance moves the clock without firing timers.
func (c *virtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ─── Fake sinks ─────────────────────────────────────────────────────

type fakeAttemptSink struct {
	mu        sync.Mutex
	attempts  []*model.ExamAttempt
	persisted chan *model.ExamAttempt
	err       error
}

func newFakeAttemptSink() *fakeAttemptSink {
	return &fakeAttemptSink{persisted: make(chan *model.ExamAttempt, 8)}
}

func (f *fakeAttemptSink) PersistAttempt(_ context.Context, a *model.ExamAttempt) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, a)
	f.mu.Unlock()
	f.persisted <- a
	return f.err
}

func (f *fakeAttemptSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

type fakeAuditSink struct {
	events chan model.AuditEvent
	err    error
}

func newFakeAuditSink() *fakeAuditSink {
	return &fakeAuditSink{events: make(chan model.AuditEvent, 8)}
}

func (f *fakeAuditSink) RecordEvent(_ context.Context, e model.AuditEvent) error {
	f.events <- e
	return f.err
}

// ─── Helpers ────────────────────────────────────────────────────────

func testExam(qid uuid.UUID, durationMinutes int) *model.Exam {
	return &model.Exam{
		ID:              uuid.New(),
		Title:           "Ulangan Harian",
		Subject:         "Biologi",
		DurationMinutes: durationMinutes,
		PassingScore:    60,
		TotalPoints:     10,
		Questions:       []model.Question{mcQuestion(qid, "B", 10)},
	}
}

func newTestSession(e *model.Exam, clock Clock, sink AttemptSink, audit AuditSink) *Session {
	return NewSession(e, uuid.New(), 42, "Budi", clock, sink, audit, zerolog.Nop())
}

func waitAttempt(t *testing.T, sink *fakeAttemptSink) *model.ExamAttempt {
	t.Helper()
	select {
	case a := <-sink.persisted:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("attempt was not persisted")
		return nil
	}
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestSession_ManualSubmit(t *testing.T) {
	qid := uuid.New()
	clock := newVirtualClock()
	sink := newFakeAttemptSink()
	audit := newFakeAuditSink()

	s := newTestSession(testExam(qid, 30), clock, sink, audit)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	if s.State() != StateRunning {
		t.Fatalf("expected RUNNING, got %s", s.State())
	}

	if err := s.SetAnswer(qid.String(), "b"); err != nil {
		t.Fatalf("set answer: %v", err)
	}

	clock.Advance(5 * time.Minute)

	attempt, err := s.Submit(context.Background(), model.SubmitCauseManual)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if s.State() != StateFinalized {
		t.Fatalf("expected FINALIZED, got %s", s.State())
	}
	if attempt.Score != 10 || attempt.Percentage != 100 || !attempt.Passed {
		t.Fatalf("unexpected scoring: %+v", attempt)
	}
	if attempt.ElapsedMinutes != 5 {
		t.Fatalf("expected elapsed=5, got %d", attempt.ElapsedMinutes)
	}
	if attempt.Cause != model.SubmitCauseManual {
		t.Fatalf("expected cause=manual, got %s", attempt.Cause)
	}
	if attempt.SubmittedAt == nil || attempt.Status != model.AttemptStatusCompleted {
		t.Fatalf("attempt not finalized: %+v", attempt)
	}
	waitAttempt(t, sink)
}

func TestSession_TimeoutAutoSubmitExactlyOnce(t *testing.T) {
	qid := uuid.New()
	clock := newVirtualClock()
	sink := newFakeAttemptSink()
	audit := newFakeAuditSink()

	// 1-minute exam: 60 ticks with no manual submission.
	s := newTestSession(testExam(qid, 1), clock, sink, audit)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 60; i++ {
		clock.Tick(t, time.Second)
	}

	attempt := waitAttempt(t, sink)
	if attempt.Cause != model.SubmitCauseTimeout {
		t.Fatalf("expected cause=timeout, got %s", attempt.Cause)
	}
	if attempt.ElapsedMinutes != 1 {
		t.Fatalf("expected elapsed=1, got %d", attempt.ElapsedMinutes)
	}
	if s.Remaining() != 0 {
		t.Fatalf("expected remaining=0, got %d", s.Remaining())
	}
	if sink.count() != 1 {
		t.Fatalf("expected exactly 1 persisted attempt, got %d", sink.count())
	}

	// Late manual submit is a no-op.
	if _, err := s.Submit(context.Background(), model.SubmitCauseManual); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("latch leaked: %d attempts", sink.count())
	}
}

func TestSession_SubmissionLatchUnderRacingCauses(t *testing.T) {
	qid := uuid.New()
	clock := newVirtualClock()
	sink := newFakeAttemptSink()
	audit := newFakeAuditSink()

	s := newTestSession(testExam(qid, 30), clock, sink, audit)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	causes := []model.SubmitCause{
		model.SubmitCauseManual,
		model.SubmitCauseTimeout,
		model.SubmitCauseBackgrounded,
	}

	var wg sync.WaitGroup
	results := make(chan error, len(causes))
	for _, cause := range causes {
		wg.Add(1)
		go func(c model.SubmitCause) {
			defer wg.Done()
			_, err := s.Submit(context.Background(), c)
			results <- err
		}(cause)
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
		} else if !errors.Is(err, ErrAlreadySubmitted) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly 1 winning submission, got %d", won)
	}
	if sink.count() != 1 {
		t.Fatalf("expected exactly 1 persisted attempt, got %d", sink.count())
	}
}

func TestSession_BackgroundedRecordsTabChange(t *testing.T) {
	qid := uuid.New()
	clock := newVirtualClock()
	sink := newFakeAttemptSink()
	audit := newFakeAuditSink()

	s := newTestSession(testExam(qid, 30), clock, sink, audit)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := s.Submit(context.Background(), model.SubmitCauseBackgrounded); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitAttempt(t, sink)

	select {
	case ev := <-audit.events:
		if ev.EventType != model.AuditEventTabChange {
			t.Fatalf("expected Tab Change event, got %s", ev.EventType)
		}
		if ev.StudentID != 42 || ev.StudentName != "Budi" {
			t.Fatalf("wrong event identity: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audit event not recorded")
	}
}

func TestSession_AuditFailureDoesNotBlockSubmission(t *testing.T) {
	qid := uuid.New()
	clock := newVirtualClock()
	sink := newFakeAttemptSink()
	audit := newFakeAuditSink()
	audit.err = errors.New("audit store down")

	s := newTestSession(testExam(qid, 30), clock, sink, audit)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	attempt, err := s.Submit(context.Background(), model.SubmitCauseBackgrounded)
	if err != nil {
		t.Fatalf("audit failure must not fail submission: %v", err)
	}
	if attempt == nil || attempt.Status != model.AttemptStatusCompleted {
		t.Fatalf("attempt not finalized: %+v", attempt)
	}
	waitAttempt(t, sink)
}

func TestSession_ElapsedMinutesFloor(t *testing.T) {
	qid := uuid.New()
	clock := newVirtualClock()
	sink := newFakeAttemptSink()
	audit := newFakeAuditSink()

	s := newTestSession(testExam(qid, 30), clock, sink, audit)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Submitted within the same second it started.
	attempt, err := s.Submit(context.Background(), model.SubmitCauseManual)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if attempt.ElapsedMinutes != 1 {
		t.Fatalf("expected elapsed floor of 1, got %d", attempt.ElapsedMinutes)
	}
}

func TestSession_SubmitWithoutStartDerivesApproximateStart(t *testing.T) {
	qid := uuid.New()
	clock := newVirtualClock()
	sink := newFakeAttemptSink()
	audit := newFakeAuditSink()

	// Never started: startedAt is unset, the defensive branch derives it
	// from the countdown position.
	s := newTestSession(testExam(qid, 30), clock, sink, audit)

	attempt, err := s.Submit(context.Background(), model.SubmitCauseManual)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if attempt.StartedAt.IsZero() {
		t.Fatal("derived start must not be zero")
	}
	if attempt.ElapsedMinutes != 1 {
		t.Fatalf("expected elapsed=1, got %d", attempt.ElapsedMinutes)
	}
}

func TestSession_SetAnswerAfterFinalizeRejected(t *testing.T) {
	qid := uuid.New()
	clock := newVirtualClock()
	sink := newFakeAttemptSink()
	audit := newFakeAuditSink()

	s := newTestSession(testExam(qid, 30), clock, sink, audit)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Submit(context.Background(), model.SubmitCauseManual); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := s.SetAnswer(qid.String(), "A"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestSession_RestoreRecomputesRemaining(t *testing.T) {
	qid := uuid.New()
	clock := newVirtualClock()
	sink := newFakeAttemptSink()
	audit := newFakeAuditSink()

	s := newTestSession(testExam(qid, 1), clock, sink, audit)

	startedAt := clock.Now().Add(-30 * time.Second)
	saved := map[string]string{qid.String(): "B"}
	if err := s.Restore(context.Background(), startedAt, saved); err != nil {
		t.Fatalf("restore: %v", err)
	}
	defer s.Close()

	if s.Remaining() != 30 {
		t.Fatalf("expected remaining=30, got %d", s.Remaining())
	}
	if s.Answer(qid.String()) != "B" {
		t.Fatal("restored answer lost")
	}

	if err := s.Restore(context.Background(), startedAt, nil); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestSession_AnswerUpsertAndDefault(t *testing.T) {
	qid := uuid.New()
	clock := newVirtualClock()
	sink := newFakeAttemptSink()
	audit := newFakeAuditSink()

	s := newTestSession(testExam(qid, 30), clock, sink, audit)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	if got := s.Answer(qid.String()); got != "" {
		t.Fatalf("expected empty default, got %q", got)
	}

	_ = s.SetAnswer(qid.String(), "A")
	_ = s.SetAnswer(qid.String(), "C")
	if got := s.Answer(qid.String()); got != "C" {
		t.Fatalf("expected upserted value C, got %q", got)
	}

	answers := s.Answers()
	answers[qid.String()] = "mutated"
	if s.Answer(qid.String()) != "C" {
		t.Fatal("Answers must return a copy")
	}
}

func TestSession_CloseStopsCountdownWithoutSubmitting(t *testing.T) {
	qid := uuid.New()
	clock := newVirtualClock()
	sink := newFakeAttemptSink()
	audit := newFakeAuditSink()

	s := newTestSession(testExam(qid, 1), clock, sink, audit)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	s.Close()
	time.Sleep(10 * time.Millisecond)

	if sink.count() != 0 {
		t.Fatalf("teardown must not submit, got %d attempts", sink.count())
	}
	if s.Attempt() != nil {
		t.Fatal("no attempt expected after teardown")
	}
}
