package exam

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/haloedu/ujianku-backend/internal/model"
)

func mcQuestion(id uuid.UUID, correct string, points int) model.Question {
	return model.Question{
		ID:            id,
		QuestionText:  "Pick one",
		QuestionType:  model.QuestionTypeMultipleChoice,
		Options:       []string{"A", "B", "C", "D"},
		CorrectAnswer: correct,
		Points:        points,
	}
}

func singleQuestionExam(q model.Question, passingScore int) *model.Exam {
	return &model.Exam{
		ID:           uuid.New(),
		Title:        "Ulangan Harian",
		Subject:      "Matematika",
		PassingScore: passingScore,
		TotalPoints:  q.Points,
		Questions:    []model.Question{q},
	}
}

func TestScore_SingleQuestion(t *testing.T) {
	qid := uuid.New()

	tests := []struct {
		name       string
		answer     map[string]string
		correct    bool
		total      int
		percentage float64
		passed     bool
	}{
		{name: "exact match", answer: map[string]string{qid.String(): "B"}, correct: true, total: 10, percentage: 100, passed: true},
		{name: "case-insensitive match", answer: map[string]string{qid.String(): "b"}, correct: true, total: 10, percentage: 100, passed: true},
		{name: "whitespace trimmed", answer: map[string]string{qid.String(): "  B  "}, correct: true, total: 10, percentage: 100, passed: true},
		{name: "wrong option", answer: map[string]string{qid.String(): "A"}, correct: false, total: 0, percentage: 0, passed: false},
		{name: "unanswered", answer: map[string]string{}, correct: false, total: 0, percentage: 0, passed: false},
		{name: "nil answer map", answer: nil, correct: false, total: 0, percentage: 0, passed: false},
		{name: "blank answer", answer: map[string]string{qid.String(): "   "}, correct: false, total: 0, percentage: 0, passed: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := singleQuestionExam(mcQuestion(qid, "B", 10), 60)
			sum := Score(e, tc.answer)

			if len(sum.Results) != 1 {
				t.Fatalf("expected 1 result, got %d", len(sum.Results))
			}
			if sum.Results[0].Correct != tc.correct {
				t.Fatalf("expected correct=%v, got=%v", tc.correct, sum.Results[0].Correct)
			}
			if sum.TotalScore != tc.total {
				t.Fatalf("expected total=%d, got=%d", tc.total, sum.TotalScore)
			}
			if sum.Percentage != tc.percentage {
				t.Fatalf("expected percentage=%v, got=%v", tc.percentage, sum.Percentage)
			}
			if sum.Passed != tc.passed {
				t.Fatalf("expected passed=%v, got=%v", tc.passed, sum.Passed)
			}
			if sum.Misconfigured {
				t.Fatal("expected misconfigured=false")
			}
		})
	}
}

func TestScore_SameRuleForAllTypes(t *testing.T) {
	q1 := uuid.New()
	q2 := uuid.New()
	q3 := uuid.New()

	e := &model.Exam{
		ID:           uuid.New(),
		PassingScore: 100,
		TotalPoints:  30,
		Questions: []model.Question{
			mcQuestion(q1, "B", 10),
			{ID: q2, QuestionType: model.QuestionTypeTrueFalse, CorrectAnswer: "True", Points: 10},
			{ID: q3, QuestionType: model.QuestionTypeShortAnswer, CorrectAnswer: "Photosynthesis", Points: 10},
		},
	}

	sum := Score(e, map[string]string{
		q1.String(): " b",
		q2.String(): "TRUE",
		q3.String(): "photosynthesis ",
	})

	for i, r := range sum.Results {
		if !r.Correct {
			t.Fatalf("question %d: expected correct", i)
		}
	}
	if sum.TotalScore != 30 || sum.Percentage != 100 || !sum.Passed {
		t.Fatalf("unexpected aggregate: score=%d percentage=%v passed=%v", sum.TotalScore, sum.Percentage, sum.Passed)
	}
}

func TestScore_ShortAnswerNoPartialMatch(t *testing.T) {
	qid := uuid.New()
	e := singleQuestionExam(model.Question{
		ID:            qid,
		QuestionType:  model.QuestionTypeShortAnswer,
		CorrectAnswer: "water cycle",
		Points:        5,
	}, 50)

	sum := Score(e, map[string]string{qid.String(): "water"})
	if sum.Results[0].Correct {
		t.Fatal("partial answer must not match")
	}
	if sum.TotalScore != 0 {
		t.Fatalf("expected score 0, got %d", sum.TotalScore)
	}
}

func TestScore_PartialCreditAggregate(t *testing.T) {
	q1 := uuid.New()
	q2 := uuid.New()
	e := &model.Exam{
		ID:           uuid.New(),
		PassingScore: 50,
		TotalPoints:  30,
		Questions: []model.Question{
			mcQuestion(q1, "B", 10),
			mcQuestion(q2, "C", 20),
		},
	}

	// Only the 10-point question answered correctly.
	sum := Score(e, map[string]string{q1.String(): "B", q2.String(): "A"})

	if sum.TotalScore != 10 {
		t.Fatalf("expected total=10, got=%d", sum.TotalScore)
	}
	want := float64(10) / float64(30) * 100
	if sum.Percentage != want {
		t.Fatalf("expected percentage=%v, got=%v", want, sum.Percentage)
	}
	if sum.Passed {
		t.Fatal("33.33%% must not pass a 50%% threshold")
	}
}

func TestScore_PassBoundaryInclusive(t *testing.T) {
	qid := uuid.New()
	e := &model.Exam{
		ID:           uuid.New(),
		PassingScore: 50,
		TotalPoints:  20,
		Questions: []model.Question{
			mcQuestion(qid, "B", 10),
			mcQuestion(uuid.New(), "C", 10),
		},
	}

	// Exactly 50% is a pass.
	sum := Score(e, map[string]string{qid.String(): "B"})
	if sum.Percentage != 50 {
		t.Fatalf("expected percentage=50, got=%v", sum.Percentage)
	}
	if !sum.Passed {
		t.Fatal("a percentage equal to the passing score must pass")
	}
}

func TestScore_ZeroTotalPoints(t *testing.T) {
	e := &model.Exam{ID: uuid.New(), PassingScore: 0, TotalPoints: 0}

	sum := Score(e, map[string]string{})

	if sum.Percentage != 0 {
		t.Fatalf("expected defined percentage 0, got %v", sum.Percentage)
	}
	if sum.Passed {
		t.Fatal("a misconfigured exam must not pass")
	}
	if !sum.Misconfigured {
		t.Fatal("expected misconfigured flag")
	}
}

func TestScore_UnscorableQuestionNeverCorrect(t *testing.T) {
	// A multiple_choice question whose correct answer is blank cannot be
	// answered correctly, not even with a blank submission.
	qid := uuid.New()
	e := singleQuestionExam(mcQuestion(qid, "", 10), 60)

	sum := Score(e, map[string]string{qid.String(): ""})
	if sum.Results[0].Correct {
		t.Fatal("blank submission must not match a blank key")
	}
}

func TestBuildResult_RederivationMatchesSubmissionTime(t *testing.T) {
	q1 := uuid.New()
	q2 := uuid.New()
	e := &model.Exam{
		ID:           uuid.New(),
		Title:        "UTS Fisika",
		Subject:      "Fisika",
		PassingScore: 60,
		TotalPoints:  30,
		Questions: []model.Question{
			mcQuestion(q1, "B", 10),
			{ID: q2, QuestionType: model.QuestionTypeShortAnswer, CorrectAnswer: "inertia", Points: 20},
		},
	}

	answers := map[string]string{q1.String(): "b", q2.String(): "Inertia"}
	atSubmit := Score(e, answers)

	now := time.Now()
	attempt := &model.ExamAttempt{
		ID:             uuid.New(),
		ExamID:         e.ID,
		StudentID:      7,
		StudentName:    "Siti",
		StartedAt:      now.Add(-10 * time.Minute),
		SubmittedAt:    &now,
		Answers:        answers,
		Score:          atSubmit.TotalScore,
		TotalPoints:    e.TotalPoints,
		Percentage:     atSubmit.Percentage,
		Passed:         atSubmit.Passed,
		ElapsedMinutes: 10,
		Status:         model.AttemptStatusCompleted,
	}

	// Re-deriving later must reproduce the submission-time computation.
	result := BuildResult(e, attempt)

	if result.Score != atSubmit.TotalScore || result.Percentage != atSubmit.Percentage || result.Passed != atSubmit.Passed {
		t.Fatalf("aggregate mismatch: %+v vs %+v", result, atSubmit)
	}
	if len(result.Questions) != len(atSubmit.Results) {
		t.Fatalf("result count mismatch: %d vs %d", len(result.Questions), len(atSubmit.Results))
	}
	for i := range result.Questions {
		if result.Questions[i] != atSubmit.Results[i] {
			t.Fatalf("question %d mismatch: %+v vs %+v", i, result.Questions[i], atSubmit.Results[i])
		}
	}
	if result.ExamTitle != e.Title || result.StudentName != attempt.StudentName {
		t.Fatalf("metadata mismatch: %+v", result)
	}
}
