package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam represents an exam entity. TotalPoints is recomputed from the
// question list on every create/update, never trusted from the client.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Subject         string     `json:"subject"`
	AuthorID        int        `json:"author_id"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalPoints     int        `json:"total_points"`
	PassingScore    int        `json:"passing_score"`
	Status          ExamStatus `json:"status"`
	StartAt         *time.Time `json:"start_at,omitempty"`
	EndAt           *time.Time `json:"end_at,omitempty"`
	Questions       []Question `json:"questions,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ExamPayload is the Redis-cached payload sent to students (no correct answers).
type ExamPayload struct {
	ExamID       uuid.UUID            `json:"exam_id"`
	Title        string               `json:"title"`
	Subject      string               `json:"subject"`
	Duration     int                  `json:"duration_minutes"`
	TotalPoints  int                  `json:"total_points"`
	PassingScore int                  `json:"passing_score"`
	Questions    []QuestionForStudent `json:"questions"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID    `json:"id"`
	QuestionText string       `json:"question_text"`
	QuestionType QuestionType `json:"question_type"`
	Options      []string     `json:"options,omitempty"`
	Points       int          `json:"points"`
	OrderNum     int          `json:"order_num"`
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title           string     `json:"title" binding:"required,min=3,max=255"`
	Subject         string     `json:"subject" binding:"required,min=2,max=100"`
	DurationMinutes int        `json:"duration_minutes" binding:"required,min=1,max=480"`
	PassingScore    int        `json:"passing_score" binding:"min=0,max=100"`
	StartAt         *time.Time `json:"start_at" binding:"omitempty"`
	EndAt           *time.Time `json:"end_at" binding:"omitempty,gtfield=StartAt"`
}

// UpdateExamRequest is the payload for updating an existing exam.
type UpdateExamRequest struct {
	Title           string     `json:"title" binding:"omitempty,min=3,max=255"`
	Subject         string     `json:"subject" binding:"omitempty,min=2,max=100"`
	DurationMinutes int        `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	PassingScore    *int       `json:"passing_score" binding:"omitempty,min=0,max=100"`
	StartAt         *time.Time `json:"start_at" binding:"omitempty"`
	EndAt           *time.Time `json:"end_at" binding:"omitempty"`
}
