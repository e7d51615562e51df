package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/examdesk/examdesk-backend/internal/model"
	"github.com/examdesk/examdesk-backend/internal/progress"
)

// Domain errors surfaced by the engine. Handlers map these onto response
// codes; none of them are retried internally.
var (
	// ErrAlreadyCompleted means the student finished this strict exam in a
	// prior attempt. Terminal — never retriable.
	ErrAlreadyCompleted = errors.New("exam session already completed")
	// ErrSessionActive means another live connection already drives this
	// session (single writer per session).
	ErrSessionActive = errors.New("session already active on another connection")
	// ErrNotInProgress rejects actions outside the in-progress state.
	ErrNotInProgress = errors.New("session is not in progress")
	// ErrConfirmationRequired rejects an unconfirmed strict-mode submit.
	ErrConfirmationRequired = errors.New("submission requires confirmation")
	// ErrAcknowledgementRequired rejects starting a strict exam without the
	// rules acknowledgement.
	ErrAcknowledgementRequired = errors.New("starting a strict exam requires acknowledgement")
	// ErrUnknownQuestion rejects answers for questions outside the session's
	// presentation order.
	ErrUnknownQuestion = errors.New("question is not part of this session")
	// ErrUnknownOption rejects option keys the question does not carry.
	ErrUnknownOption = errors.New("option key is not valid for this question")
)

// ExamProvider supplies published exam snapshots with normalized questions.
// Implemented by the exam service over the Redis payload cache.
type ExamProvider interface {
	Payload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error)
}

// SubmitRequest carries the full terminal state for the one-shot submission.
type SubmitRequest struct {
	SessionID         uuid.UUID
	ExamID            uuid.UUID
	StudentID         int
	Answers           model.AnswerMap
	ElapsedSeconds    int
	ViolationCount    int
	TerminationReason string
}

// SubmitResult reports the outcome of a submission.
type SubmitResult struct {
	Status           model.SessionStatus
	Score            float64
	AlreadySubmitted bool
}

// SessionStore is the durable session record boundary. Implementations must
// make Submit idempotent: a second submission for the same session returns
// the stored outcome with AlreadySubmitted set instead of re-grading.
type SessionStore interface {
	// ValidateOrCreate returns the student's session for the exam, creating
	// one when absent. Strict exams with a finished session fail with
	// ErrAlreadyCompleted; practice exams get a fresh session instead.
	ValidateOrCreate(ctx context.Context, payload *model.ExamPayload, studentID int) (*model.Session, error)
	// Start stamps the server-side start time and persists the presentation
	// order snapshot. Idempotent for an already-started session.
	Start(ctx context.Context, sessionID uuid.UUID, order model.PresentationOrder) (time.Time, error)
	// Submit finalizes the session and grades it.
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	// RecordViolation persists an integrity incident. Best-effort; the
	// engine never blocks on it.
	RecordViolation(ctx context.Context, ev model.ViolationEvent, terminated bool)
}

// ProgressStore mirrors in-flight state between the session and durable
// storage. Implemented by the progress package.
type ProgressStore interface {
	Load(ctx context.Context, examID uuid.UUID, studentID int, durable *model.Session) (*progress.Record, error)
	Save(ctx context.Context, rec *progress.Record) error
	Clear(ctx context.Context, examID uuid.UUID, studentID int) error
}
