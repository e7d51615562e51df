package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/examdesk/examdesk-backend/internal/model"
	"github.com/examdesk/examdesk-backend/internal/response"
	"github.com/examdesk/examdesk-backend/internal/service"
	"github.com/examdesk/examdesk-backend/internal/validator"
)

// OpsHandler handles operational endpoints: publishing and cache refresh.
// Exam authoring itself lives in a separate system; this service only flips
// the switch and warms its own cache.
type OpsHandler struct {
	examService    *service.ExamService
	monitorService *service.MonitorService
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(examService *service.ExamService, monitorService *service.MonitorService) *OpsHandler {
	return &OpsHandler{
		examService:    examService,
		monitorService: monitorService,
	}
}

// PublishExam godoc
// POST /api/v1/ops/exams/:exam_id/publish
// Publishes or re-warms an exam per the request mode.
func (h *OpsHandler) PublishExam(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.PublishExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	switch req.Mode {
	case "publish":
		err = h.examService.Publish(c.Request.Context(), examID)
	case "refresh":
		err = h.examService.RefreshCache(c.Request.Context(), examID)
	}
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrNoQuestions):
			response.Fail(c, http.StatusBadRequest, response.ErrNoQuestions)
		case errors.Is(err, service.ErrExamNotPublished):
			response.Fail(c, http.StatusBadRequest, response.ErrExamNotPublished)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

// MonitorExam godoc
// GET /api/v1/ops/exams/:exam_id/monitor
// Returns the current monitoring snapshot for an exam. Live incidents stream
// over the Redis monitor channel; this serves the initial view.
func (h *OpsHandler) MonitorExam(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	snapshot, err := h.monitorService.Snapshot(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, snapshot)
}
