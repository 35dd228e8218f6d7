package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/haloedu/ujianku-backend/internal/exam"
	"github.com/haloedu/ujianku-backend/internal/middleware"
	"github.com/haloedu/ujianku-backend/internal/model"
	"github.com/haloedu/ujianku-backend/internal/response"
	"github.com/haloedu/ujianku-backend/internal/service"
	"github.com/haloedu/ujianku-backend/internal/validator"
)

// StudentPortalHandler handles student-facing endpoints (lobby, exam taking,
// results).
type StudentPortalHandler struct {
	sessionService *service.SessionService
	examService    *service.ExamService
	resultService  *service.ResultService
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	sessionService *service.SessionService,
	examService *service.ExamService,
	resultService *service.ResultService,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		sessionService: sessionService,
		examService:    examService,
		resultService:  resultService,
	}
}

// GetLobby godoc
// GET /api/v1/student/lobby
// Returns published exams with the student's attempt state overlaid.
func (h *StudentPortalHandler) GetLobby(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	lobby, err := h.sessionService.GetLobby(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if lobby == nil {
		lobby = []service.LobbyExam{}
	}

	response.Success(c, http.StatusOK, gin.H{"exams": lobby})
}

// StartExam godoc
// POST /api/v1/student/exams/:exam_id/start
// Starts (or resumes) the student's attempt and launches the countdown.
// Idempotent while the attempt is in progress; rejected once completed.
func (h *StudentPortalHandler) StartExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, err := h.sessionService.StartExam(c.Request.Context(), examID, claims.UserID, claims.Name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExamNotAvailable):
			response.Fail(c, http.StatusBadRequest, response.ErrExamNotAvailable)
		case errors.Is(err, service.ErrAlreadyAttempted):
			response.Fail(c, http.StatusConflict, response.ErrAlreadyAttempted)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"state":             sess.State().String(),
		"started_at":        sess.StartedAt(),
		"remaining_seconds": sess.Remaining(),
		"answers":           sess.Answers(),
	})
}

// GetExamPaper godoc
// GET /api/v1/student/exams/:exam_id/paper
// Returns the cached exam payload (questions without answer keys).
// Requires a live session so papers cannot be pulled before starting.
func (h *StudentPortalHandler) GetExamPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if _, err := h.sessionService.Session(examID, claims.UserID); err != nil {
		response.Fail(c, http.StatusForbidden, response.ErrNoActiveSession)
		return
	}

	payload, err := h.examService.GetExamPayload(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrExamNotPublished)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// SetAnswer godoc
// PUT /api/v1/student/exams/:exam_id/answers
// Records one answer (create or overwrite) in the live session.
func (h *StudentPortalHandler) SetAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err = h.sessionService.SetAnswer(c.Request.Context(), examID, claims.UserID, req.QuestionID, req.Answer)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoActiveSession), errors.Is(err, exam.ErrNotRunning):
			response.Fail(c, http.StatusConflict, response.ErrNoActiveSession)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// SubmitExam godoc
// POST /api/v1/student/exams/:exam_id/submit
// Finalizes the attempt. The cause is manual or backgrounded; the timeout
// cause only ever originates from the server-side countdown.
func (h *StudentPortalHandler) SubmitExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.sessionService.Submit(c.Request.Context(), examID, claims.UserID, req.Cause)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoActiveSession):
			response.Fail(c, http.StatusConflict, response.ErrNoActiveSession)
		case errors.Is(err, exam.ErrAlreadySubmitted):
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"attempt_id":      attempt.ID,
		"score":           attempt.Score,
		"total_points":    attempt.TotalPoints,
		"percentage":      attempt.Percentage,
		"passed":          attempt.Passed,
		"elapsed_minutes": attempt.ElapsedMinutes,
		"cause":           attempt.Cause,
	})
}

// GetExamState godoc
// GET /api/v1/student/exams/:exam_id/state
// Returns the live snapshot for a reconnecting client: remaining time and
// autosaved answers.
func (h *StudentPortalHandler) GetExamState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.sessionService.GetState(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// GetExamResult godoc
// GET /api/v1/student/exams/:exam_id/result
// Returns the per-question review of the student's completed attempt.
func (h *StudentPortalHandler) GetExamResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.resultService.GetStudentResult(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrAttemptNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetHistory godoc
// GET /api/v1/student/history
// Returns the student's completed attempts, newest first.
func (h *StudentPortalHandler) GetHistory(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempts, err := h.resultService.ListStudentHistory(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}
