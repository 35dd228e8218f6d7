package service

import (
	"errors"
	"testing"

	"github.com/haloedu/ujianku-backend/internal/model"
)

func TestValidateAnswerKey(t *testing.T) {
	tests := []struct {
		name    string
		q       model.Question
		wantErr bool
	}{
		{
			name: "multiple choice key matches option",
			q: model.Question{
				QuestionType:  model.QuestionTypeMultipleChoice,
				Options:       []string{"3", "4", "5"},
				CorrectAnswer: "4",
			},
		},
		{
			name: "multiple choice key matches case insensitively",
			q: model.Question{
				QuestionType:  model.QuestionTypeMultipleChoice,
				Options:       []string{"Jakarta", "Bandung"},
				CorrectAnswer: "jakarta",
			},
		},
		{
			name: "multiple choice key ignores surrounding whitespace",
			q: model.Question{
				QuestionType:  model.QuestionTypeMultipleChoice,
				Options:       []string{" Jakarta ", "Bandung"},
				CorrectAnswer: "  Jakarta",
			},
		},
		{
			name: "multiple choice key outside options",
			q: model.Question{
				QuestionType:  model.QuestionTypeMultipleChoice,
				Options:       []string{"3", "4", "5"},
				CorrectAnswer: "6",
			},
			wantErr: true,
		},
		{
			name: "true false accepts mixed case",
			q: model.Question{
				QuestionType:  model.QuestionTypeTrueFalse,
				CorrectAnswer: "TRUE",
			},
		},
		{
			name: "true false rejects other values",
			q: model.Question{
				QuestionType:  model.QuestionTypeTrueFalse,
				CorrectAnswer: "yes",
			},
			wantErr: true,
		},
		{
			name: "short answer accepts any non blank key",
			q: model.Question{
				QuestionType:  model.QuestionTypeShortAnswer,
				CorrectAnswer: "photosynthesis",
			},
		},
		{
			name: "blank key rejected for every type",
			q: model.Question{
				QuestionType:  model.QuestionTypeShortAnswer,
				CorrectAnswer: "   ",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAnswerKey(&tt.q)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAnswerKey) {
					t.Fatalf("expected ErrInvalidAnswerKey, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
