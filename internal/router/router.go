package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/haloedu/ujianku-backend/internal/config"
	"github.com/haloedu/ujianku-backend/internal/handler"
	"github.com/haloedu/ujianku-backend/internal/middleware"
	"github.com/haloedu/ujianku-backend/internal/model"
	"github.com/haloedu/ujianku-backend/internal/response"
	"github.com/haloedu/ujianku-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth          *handler.AuthHandler
	StudentPortal *handler.StudentPortalHandler
	StudentMgmt   *handler.StudentManagementHandler
	Exam          *handler.ExamHandler
	WS            *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally; exam payloads compress well.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes. 60/min per IP leaves headroom for a full
	// class logging in from one school NAT address.
	authLimiter := middleware.NewRateLimiter(60, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)
		auth.POST("/admin/login", handlers.Auth.AdminLogin)

		// Authenticated profile routes
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
		auth.GET("/admin/me", middleware.RequireAdminJWT(authService), handlers.Auth.GetAdminProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.GET("/lobby", handlers.StudentPortal.GetLobby)
		studentAPI.GET("/history", handlers.StudentPortal.GetHistory)
		studentAPI.POST("/exams/:exam_id/start", handlers.StudentPortal.StartExam)
		studentAPI.GET("/exams/:exam_id/paper", handlers.StudentPortal.GetExamPaper)
		studentAPI.GET("/exams/:exam_id/state", handlers.StudentPortal.GetExamState)
		studentAPI.PUT("/exams/:exam_id/answers", handlers.StudentPortal.SetAnswer)
		studentAPI.POST("/exams/:exam_id/submit", handlers.StudentPortal.SubmitExam)
		studentAPI.GET("/exams/:exam_id/result", handlers.StudentPortal.GetExamResult)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.ExamStream)
	}

	// ─── 4. Admin Group (JWT + Role Checks) ────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		// Exam management (admins and teachers; teachers see only their own)
		adminAPI.GET("/exams", handlers.Exam.ListExams)
		adminAPI.POST("/exams", handlers.Exam.CreateExam)
		adminAPI.GET("/exams/:exam_id", handlers.Exam.GetExam)
		adminAPI.PUT("/exams/:exam_id", handlers.Exam.UpdateExam)
		adminAPI.DELETE("/exams/:exam_id", handlers.Exam.DeleteExam)
		adminAPI.PUT("/exams/:exam_id/questions", handlers.Exam.ReplaceQuestions)
		adminAPI.POST("/exams/:exam_id/publish", handlers.Exam.PublishExam)
		adminAPI.POST("/exams/:exam_id/archive", handlers.Exam.ArchiveExam)
		adminAPI.GET("/exams/:exam_id/results", handlers.Exam.GetExamResults)

		// Student management (full admins only)
		students := adminAPI.Group("/students")
		students.Use(middleware.RequireRole(model.AdminRoleAdmin))
		{
			students.GET("", handlers.StudentMgmt.ListStudents)
			students.POST("", handlers.StudentMgmt.CreateStudent)
			students.GET("/:student_id", handlers.StudentMgmt.GetStudent)
			students.PUT("/:student_id", handlers.StudentMgmt.UpdateStudent)
			students.DELETE("/:student_id", handlers.StudentMgmt.DeleteStudent)
			students.POST("/:student_id/reset-session", handlers.StudentMgmt.ResetStudentSession)
		}

		// Audit trail is readable by teachers too.
		adminAPI.GET("/students/:student_id/audit", handlers.StudentMgmt.GetStudentAuditTrail)
	}

	return router
}
