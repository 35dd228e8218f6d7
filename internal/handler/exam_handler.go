package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/haloedu/ujianku-backend/internal/middleware"
	"github.com/haloedu/ujianku-backend/internal/model"
	"github.com/haloedu/ujianku-backend/internal/repository"
	"github.com/haloedu/ujianku-backend/internal/response"
	"github.com/haloedu/ujianku-backend/internal/service"
	"github.com/haloedu/ujianku-backend/internal/validator"
)

// ExamHandler handles exam authoring and result endpoints.
type ExamHandler struct {
	examService   *service.ExamService
	resultService *service.ResultService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, resultService *service.ResultService) *ExamHandler {
	return &ExamHandler{
		examService:   examService,
		resultService: resultService,
	}
}

// authorFilter returns 0 (no filter) for full admins, the admin's own ID
// for teachers.
func authorFilter(claims *service.Claims) int {
	if claims.Role == model.AdminRoleAdmin {
		return 0
	}
	return claims.UserID
}

// ListExams godoc
// GET /api/v1/admin/exams
// Lists exams with pagination. Admins see all; teachers see only their own.
func (h *ExamHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	exams, pagination, err := h.examService.ListByAuthor(c.Request.Context(), authorFilter(claims), page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// GetExam godoc
// GET /api/v1/admin/exams/:exam_id
// Returns one exam with its full question list (answer keys included).
func (h *ExamHandler) GetExam(c *gin.Context) {
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

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
		return
	}
	if filter := authorFilter(claims); filter != 0 && exam.AuthorID != filter {
		response.Fail(c, http.StatusForbidden, response.ErrNotExamAuthor)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// CreateExam godoc
// POST /api/v1/admin/exams
// Creates a new draft exam without questions.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam := &model.Exam{
		Title:           req.Title,
		Subject:         req.Subject,
		AuthorID:        claims.UserID,
		DurationMinutes: req.DurationMinutes,
		PassingScore:    req.PassingScore,
		StartAt:         req.StartAt,
		EndAt:           req.EndAt,
	}

	if err := h.examService.Create(c.Request.Context(), exam); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// UpdateExam godoc
// PUT /api/v1/admin/exams/:exam_id
// Updates a draft exam's metadata.
func (h *ExamHandler) UpdateExam(c *gin.Context) {
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

	var req model.UpdateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	existing, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
		return
	}

	if req.Title != "" {
		existing.Title = req.Title
	}
	if req.Subject != "" {
		existing.Subject = req.Subject
	}
	if req.DurationMinutes > 0 {
		existing.DurationMinutes = req.DurationMinutes
	}
	if req.PassingScore != nil {
		existing.PassingScore = *req.PassingScore
	}
	if req.StartAt != nil {
		existing.StartAt = req.StartAt
	}
	if req.EndAt != nil {
		existing.EndAt = req.EndAt
	}

	if err := h.examService.Update(c.Request.Context(), authorFilter(claims), existing); err != nil {
		h.failExamError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": existing})
}

// DeleteExam godoc
// DELETE /api/v1/admin/exams/:exam_id
// Removes a draft exam.
func (h *ExamHandler) DeleteExam(c *gin.Context) {
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

	if err := h.examService.Delete(c.Request.Context(), examID, authorFilter(claims)); err != nil {
		h.failExamError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ReplaceQuestions godoc
// PUT /api/v1/admin/exams/:exam_id/questions
// Replaces a draft exam's question list. Answer keys are validated and
// total points recomputed.
func (h *ExamHandler) ReplaceQuestions(c *gin.Context) {
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

	var req model.ReplaceQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.ReplaceQuestions(c.Request.Context(), examID, authorFilter(claims), req.Questions)
	if err != nil {
		h.failExamError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// PublishExam godoc
// POST /api/v1/admin/exams/:exam_id/publish
// Publishes an exam: warms the Redis payload cache, changes status.
func (h *ExamHandler) PublishExam(c *gin.Context) {
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

	if err := h.examService.Publish(c.Request.Context(), examID, authorFilter(claims)); err != nil {
		h.failExamError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "exam published successfully"})
}

// ArchiveExam godoc
// POST /api/v1/admin/exams/:exam_id/archive
// Retires a published exam from the student lobby.
func (h *ExamHandler) ArchiveExam(c *gin.Context) {
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

	if err := h.examService.Archive(c.Request.Context(), examID, authorFilter(claims)); err != nil {
		h.failExamError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "exam archived successfully"})
}

// GetExamResults godoc
// GET /api/v1/admin/exams/:exam_id/results
// Returns paginated per-student results for an exam, best scores first.
func (h *ExamHandler) GetExamResults(c *gin.Context) {
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

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	rows, pagination, err := h.resultService.ListExamResults(c.Request.Context(), examID, authorFilter(claims), page, perPage)
	if err != nil {
		h.failExamError(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": rows}, pagination)
}

// failExamError maps service-level exam errors to response codes.
func (h *ExamHandler) failExamError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotExamAuthor):
		response.Fail(c, http.StatusForbidden, response.ErrNotExamAuthor)
	case errors.Is(err, service.ErrExamNotDraft):
		response.Fail(c, http.StatusConflict, response.ErrExamNotDraft)
	case errors.Is(err, service.ErrExamNotPublished):
		response.Fail(c, http.StatusConflict, response.ErrExamNotPublished)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusBadRequest, response.ErrNoQuestions)
	case errors.Is(err, service.ErrInvalidAnswerKey):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidAnswerKey)
	case errors.Is(err, repository.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
