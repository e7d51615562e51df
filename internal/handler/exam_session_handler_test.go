package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/examdesk/examdesk-backend/internal/middleware"
	"github.com/examdesk/examdesk-backend/internal/model"
	"github.com/examdesk/examdesk-backend/internal/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeExamSource struct {
	payload *model.ExamPayload
	err     error
}

func (f *fakeExamSource) Payload(_ context.Context, _ uuid.UUID) (*model.ExamPayload, error) {
	return f.payload, f.err
}

type fakeSessionSource struct {
	session    *model.Session
	sessionErr error
	result     *model.Session
	resultErr  error
}

func (f *fakeSessionSource) ValidateOrCreate(_ context.Context, _ *model.ExamPayload, _ int) (*model.Session, error) {
	return f.session, f.sessionErr
}

func (f *fakeSessionSource) GetSession(_ context.Context, _ uuid.UUID, _ int) (*model.Session, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.session, nil
}

func (f *fakeSessionSource) GetResult(_ context.Context, _ uuid.UUID, _ int) (*model.Session, error) {
	return f.result, f.resultErr
}

func studentContext(t *testing.T, examID uuid.UUID) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "exam_id", Value: examID.String()}}
	c.Set(middleware.ContextKeyClaims, &middleware.Claims{UserID: 42, TokenType: middleware.TokenTypeStudent})
	return c, w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error == nil {
		t.Fatal("response carries no error body")
	}
	return body.Error.Code
}

// ─── GetPaper ───────────────────────────────────────────────────────

func TestGetPaperSessionLookupErrors(t *testing.T) {
	examID := uuid.New()
	payload := &model.ExamPayload{ExamID: examID, Mode: model.ExamModePractice, DurationMinutes: 10}

	cases := []struct {
		name       string
		sessionErr error
		wantStatus int
		wantCode   response.ErrCode
	}{
		{"missing session is forbidden", pgx.ErrNoRows, http.StatusForbidden, response.ErrForbidden},
		{"database failure is internal", errors.New("connection refused"), http.StatusInternalServerError, response.ErrInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewExamSessionHandler(
				&fakeExamSource{payload: payload},
				&fakeSessionSource{sessionErr: tc.sessionErr},
			)
			c, w := studentContext(t, examID)
			h.GetPaper(c)

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			if code := errorCode(t, w); code != tc.wantCode {
				t.Fatalf("error code = %s, want %s", code, tc.wantCode)
			}
		})
	}
}

func TestGetPaperReturnsPayloadWithSession(t *testing.T) {
	examID := uuid.New()
	h := NewExamSessionHandler(
		&fakeExamSource{payload: &model.ExamPayload{ExamID: examID, Mode: model.ExamModeStrict, DurationMinutes: 30}},
		&fakeSessionSource{session: &model.Session{
			ID:        uuid.New(),
			ExamID:    examID,
			StudentID: 42,
			Status:    model.SessionStatusInProgress,
		}},
	)
	c, w := studentContext(t, examID)
	h.GetPaper(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
