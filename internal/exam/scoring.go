package exam

import (
	"strings"
	"time"

	"github.com/haloedu/ujianku-backend/internal/model"
)

// Summary is the aggregate output of scoring an answer map against an exam.
type Summary struct {
	Results    []model.QuestionResult
	TotalScore int
	Percentage float64
	Passed     bool
	// Misconfigured is set for exams whose total points are not positive.
	// Such exams score as 0% / failed instead of dividing by zero.
	Misconfigured bool
}

// Score grades an answer map against an exam definition. It is a pure
// function: scoring the same (exam, answers) pair always produces the same
// Summary, which is what makes stored attempts re-derivable for review.
//
// The correctness rule is the same for every question type: trimmed,
// case-insensitive, full-string equality. Short answers get no keyword or
// partial matching.
func Score(e *model.Exam, answers map[string]string) Summary {
	results := make([]model.QuestionResult, 0, len(e.Questions))
	total := 0

	for _, q := range e.Questions {
		submitted := answers[q.ID.String()] // absent key reads as ""
		correct := answerMatches(submitted, q.CorrectAnswer)

		awarded := 0
		if correct {
			awarded = q.Points
		}
		total += awarded

		results = append(results, model.QuestionResult{
			QuestionID:    q.ID,
			QuestionText:  q.QuestionText,
			StudentAnswer: submitted,
			CorrectAnswer: q.CorrectAnswer,
			Correct:       correct,
			PointsAwarded: awarded,
			MaxPoints:     q.Points,
		})
	}

	s := Summary{Results: results, TotalScore: total}

	if e.TotalPoints <= 0 {
		s.Misconfigured = true
		return s
	}

	s.Percentage = float64(total) / float64(e.TotalPoints) * 100
	s.Passed = s.Percentage >= float64(e.PassingScore)
	return s
}

// answerMatches implements the single correctness rule shared by all
// question types. An empty submission never matches, even against a
// question whose correct answer is itself blank (unscorable question).
func answerMatches(submitted, correct string) bool {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" {
		return false
	}
	return strings.EqualFold(submitted, strings.TrimSpace(correct))
}

// BuildResult packages a finalized attempt into the read-only review
// projection. It re-runs Score against the stored answers, so results
// derived later are identical to those computed at submission time as long
// as the exam definition is unchanged.
func BuildResult(e *model.Exam, a *model.ExamAttempt) *model.ExamResult {
	sum := Score(e, a.Answers)

	var submittedAt time.Time
	if a.SubmittedAt != nil {
		submittedAt = *a.SubmittedAt
	}

	return &model.ExamResult{
		AttemptID:      a.ID,
		ExamID:         e.ID,
		ExamTitle:      e.Title,
		Subject:        e.Subject,
		StudentID:      a.StudentID,
		StudentName:    a.StudentName,
		SubmittedAt:    submittedAt,
		ElapsedMinutes: a.ElapsedMinutes,
		Score:          sum.TotalScore,
		TotalPoints:    e.TotalPoints,
		Percentage:     sum.Percentage,
		Passed:         sum.Passed,
		Misconfigured:  sum.Misconfigured,
		Questions:      sum.Results,
	}
}
