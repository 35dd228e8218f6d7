package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionResult is the per-question outcome of a scored attempt.
type QuestionResult struct {
	QuestionID    uuid.UUID `json:"question_id"`
	QuestionText  string    `json:"question_text"`
	StudentAnswer string    `json:"student_answer"`
	CorrectAnswer string    `json:"correct_answer"`
	Correct       bool      `json:"correct"`
	PointsAwarded int       `json:"points_awarded"`
	MaxPoints     int       `json:"max_points"`
}

// ExamResult is a read-only projection of a finalized attempt for review
// display. It is never stored verbatim: it can be regenerated at any time
// by re-scoring the stored answers against the exam definition.
type ExamResult struct {
	AttemptID      uuid.UUID        `json:"attempt_id"`
	ExamID         uuid.UUID        `json:"exam_id"`
	ExamTitle      string           `json:"exam_title"`
	Subject        string           `json:"subject"`
	StudentID      int              `json:"student_id"`
	StudentName    string           `json:"student_name"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	ElapsedMinutes int              `json:"elapsed_minutes"`
	Score          int              `json:"score"`
	TotalPoints    int              `json:"total_points"`
	Percentage     float64          `json:"percentage"`
	Passed         bool             `json:"passed"`
	Misconfigured  bool             `json:"misconfigured,omitempty"`
	Questions      []QuestionResult `json:"questions"`
}
