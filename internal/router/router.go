package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/examdesk/examdesk-backend/internal/config"
	"github.com/examdesk/examdesk-backend/internal/engine"
	"github.com/examdesk/examdesk-backend/internal/handler"
	"github.com/examdesk/examdesk-backend/internal/middleware"
	"github.com/examdesk/examdesk-backend/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	ExamSession *handler.ExamSessionHandler
	Ops         *handler.OpsHandler
	WS          *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	handlers *Handlers,
	manager *engine.Manager,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check. Reports the live engine count so an orchestrator can
	// drain the node before taking it down.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{
			"status":          "ok",
			"active_sessions": manager.Active(),
		})
	})

	// ─── Student Group (JWT) ───────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(cfg.JWTSecret))
	{
		studentAPI.POST("/exams/:exam_id/session", handlers.ExamSession.CreateSession)
		studentAPI.GET("/exams/:exam_id/paper", handlers.ExamSession.GetPaper)
		studentAPI.GET("/exams/:exam_id/state", handlers.ExamSession.GetState)
		studentAPI.GET("/exams/:exam_id/submission", handlers.ExamSession.GetSubmission)
	}

	// ─── Ops Group (Ops JWT) ───────────────────────────────────────────
	opsAPI := router.Group("/api/v1/ops")
	opsAPI.Use(middleware.RequireOpsJWT(cfg.JWTSecret))
	{
		opsAPI.POST("/exams/:exam_id/publish", handlers.Ops.PublishExam)
		opsAPI.GET("/exams/:exam_id/monitor", handlers.Ops.MonitorExam)
	}

	// ─── WebSocket Group (Student WS Auth) ─────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(cfg.JWTSecret))
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.ExamSessionStream)
	}

	return router
}
