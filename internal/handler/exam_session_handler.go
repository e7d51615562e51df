package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/examdesk/examdesk-backend/internal/engine"
	"github.com/examdesk/examdesk-backend/internal/middleware"
	"github.com/examdesk/examdesk-backend/internal/model"
	"github.com/examdesk/examdesk-backend/internal/response"
	"github.com/examdesk/examdesk-backend/internal/service"
)

// ExamSource provides published exam payloads.
type ExamSource interface {
	Payload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error)
}

// SessionSource exposes the session reads and creation backing the REST
// endpoints.
type SessionSource interface {
	ValidateOrCreate(ctx context.Context, payload *model.ExamPayload, studentID int) (*model.Session, error)
	GetSession(ctx context.Context, examID uuid.UUID, studentID int) (*model.Session, error)
	GetResult(ctx context.Context, examID uuid.UUID, studentID int) (*model.Session, error)
}

// ExamSessionHandler handles the student-facing REST endpoints around a
// session: creation, the paper, reload state and the final submission. The
// live lifecycle itself runs over the WebSocket stream.
type ExamSessionHandler struct {
	examService    ExamSource
	sessionService SessionSource
}

// NewExamSessionHandler creates a new ExamSessionHandler.
func NewExamSessionHandler(
	examService ExamSource,
	sessionService SessionSource,
) *ExamSessionHandler {
	return &ExamSessionHandler{
		examService:    examService,
		sessionService: sessionService,
	}
}

// CreateSession godoc
// POST /api/v1/student/exams/:exam_id/session
// Validates availability and returns the student's session, creating one when
// absent. Idempotent: repeating the call returns the same session.
func (h *ExamSessionHandler) CreateSession(c *gin.Context) {
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

	payload, err := h.examService.Payload(c.Request.Context(), examID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExamNotPublished):
			response.Fail(c, http.StatusNotFound, response.ErrExamNotPublished)
		case errors.Is(err, service.ErrExamNotAvailable):
			response.Fail(c, http.StatusBadRequest, response.ErrExamNotAvailable)
		case errors.Is(err, pgx.ErrNoRows):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	session, err := h.sessionService.ValidateOrCreate(c.Request.Context(), payload, claims.UserID)
	if err != nil {
		if errors.Is(err, engine.ErrAlreadyCompleted) {
			response.Fail(c, http.StatusConflict, response.ErrSessionCompleted)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// GetPaper godoc
// GET /api/v1/student/exams/:exam_id/paper
// Returns the published payload from Redis. Requires a session for this exam
// so students cannot pull papers they never opened.
func (h *ExamSessionHandler) GetPaper(c *gin.Context) {
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

	if _, err := h.sessionService.GetSession(c.Request.Context(), examID, claims.UserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	payload, err := h.examService.Payload(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrExamNotPublished)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// GetState godoc
// GET /api/v1/student/exams/:exam_id/state
// Returns the durable session row: status, elapsed time, saved answers and
// violation count. Covers page reload before the WebSocket reattaches.
func (h *ExamSessionHandler) GetState(c *gin.Context) {
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

	session, err := h.sessionService.GetSession(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// GetSubmission godoc
// GET /api/v1/student/exams/:exam_id/submission
// Returns the finished session with its score. Fails while the session is
// still running; result rendering is the caller's concern.
func (h *ExamSessionHandler) GetSubmission(c *gin.Context) {
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

	session, err := h.sessionService.GetResult(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrNotFinished):
			response.Fail(c, http.StatusBadRequest, response.ErrSessionNotFinished)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}
