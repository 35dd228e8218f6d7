package model

import (
	"github.com/google/uuid"
)

// QuestionType enumerates supported question types. The correctness rule is
// identical for all of them; the type only drives client-side rendering.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
)

// Question represents a single exam question. Options is only meaningful
// for multiple_choice; true_false implies the "True"/"False" pair.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	ExamID        uuid.UUID    `json:"exam_id"`
	QuestionText  string       `json:"question_text"`
	QuestionType  QuestionType `json:"question_type"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Points        int          `json:"points"`
	OrderNum      int          `json:"order_num"`
}

// AddQuestionRequest is the payload for adding a question to an exam.
type AddQuestionRequest struct {
	QuestionText  string   `json:"question_text" binding:"required,min=1,max=2000"`
	QuestionType  string   `json:"question_type" binding:"required,oneof=multiple_choice true_false short_answer"`
	Options       []string `json:"options" binding:"omitempty,max=10,dive,min=1"`
	CorrectAnswer string   `json:"correct_answer" binding:"required,max=500"`
	Points        int      `json:"points" binding:"required,min=1"`
	OrderNum      int      `json:"order_num" binding:"min=0"`
}

// ReplaceQuestionsRequest is the payload for bulk replacing an exam's questions.
type ReplaceQuestionsRequest struct {
	Questions []AddQuestionRequest `json:"questions" binding:"dive"`
}
