package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates exam attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
)

// SubmitCause is the reason an attempt was finalized.
type SubmitCause string

const (
	SubmitCauseManual       SubmitCause = "manual"
	SubmitCauseTimeout      SubmitCause = "timeout"
	SubmitCauseBackgrounded SubmitCause = "backgrounded"
)

// ExamAttempt is one student's single pass through an exam. It is created
// empty when the session starts, mutated (answers only) while the session
// is open, and frozen exactly once when submission fires. A nil SubmittedAt
// means the attempt is still in progress.
type ExamAttempt struct {
	ID             uuid.UUID         `json:"id"`
	ExamID         uuid.UUID         `json:"exam_id"`
	StudentID      int               `json:"student_id"`
	StudentName    string            `json:"student_name"`
	StartedAt      time.Time         `json:"started_at"`
	SubmittedAt    *time.Time        `json:"submitted_at,omitempty"`
	Answers        map[string]string `json:"answers"`
	Score          int               `json:"score"`
	TotalPoints    int               `json:"total_points"`
	Percentage     float64           `json:"percentage"`
	Passed         bool              `json:"passed"`
	ElapsedMinutes int               `json:"elapsed_minutes"`
	Cause          SubmitCause       `json:"cause,omitempty"`
	Status         AttemptStatus     `json:"status"`
}

// SubmitAttemptRequest is the payload for a client-initiated submission.
type SubmitAttemptRequest struct {
	Cause SubmitCause `json:"cause" binding:"required,oneof=manual backgrounded"`
}

// AnswerRequest is the payload for capturing a single answer.
type AnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Answer     string `json:"answer" binding:"required,max=2000"`
}
