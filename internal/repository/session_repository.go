package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examdesk/examdesk-backend/internal/model"
)

// SessionRepository handles exam session data access. One row per
// (exam, student) pair; the presentation order and answers live on the row as
// JSONB so a session survives server restarts intact.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, exam_id, student_id, status, elapsed_seconds,
	question_order, answers, violation_count, started_at, finished_at,
	final_score, termination_reason`

func scanSession(row pgx.Row) (*model.Session, error) {
	s := &model.Session{}
	var reason *string
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Status, &s.ElapsedSeconds,
		&s.Order, &s.Answers, &s.ViolationCount, &s.StartedAt, &s.FinishedAt,
		&s.FinalScore, &reason)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		s.TerminationReason = *reason
	}
	return s, nil
}

// GetByExamAndStudent retrieves the session for an exam-student combination.
func (r *SessionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	))
}

// GetByID retrieves a session by its id.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE id = $1`, id,
	))
}

// Create inserts a fresh NOT_STARTED session. On a concurrent duplicate the
// insert is skipped and pgx.ErrNoRows comes back; callers re-read the existing
// row in that case.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id`,
		s.ExamID, s.StudentID, model.SessionStatusNotStarted,
	).Scan(&s.ID)
}

// Delete removes a session. Used to reset a finished practice attempt before
// creating the next one.
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM exam_sessions WHERE id = $1`, id)
	return err
}

// Start stamps the server-side start time and persists the presentation order
// snapshot. Idempotent: an already-started session keeps its original stamp
// and order.
func (r *SessionRepository) Start(ctx context.Context, id uuid.UUID, order model.PresentationOrder) (time.Time, error) {
	var startedAt time.Time
	err := r.pool.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET status = $1,
		     started_at = COALESCE(started_at, NOW()),
		     question_order = CASE WHEN started_at IS NULL THEN $2::jsonb ELSE question_order END
		 WHERE id = $3 AND status IN ($4, $1)
		 RETURNING started_at`,
		model.SessionStatusInProgress, order, id, model.SessionStatusNotStarted,
	).Scan(&startedAt)
	if err != nil {
		return time.Time{}, err
	}
	return startedAt, nil
}

// Finalize closes the session with its terminal status, grade and final state.
// The status guard makes it a no-op for an already-closed session, reported
// through the returned row count so the caller can serve the stored outcome
// instead of re-grading.
func (r *SessionRepository) Finalize(ctx context.Context, s *model.Session) (bool, error) {
	var reason *string
	if s.TerminationReason != "" {
		reason = &s.TerminationReason
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, final_score = $2, finished_at = NOW(),
		     elapsed_seconds = $3, answers = $4, violation_count = $5,
		     termination_reason = $6
		 WHERE id = $7 AND status NOT IN ($8, $9)`,
		s.Status, s.FinalScore, s.ElapsedSeconds, s.Answers, s.ViolationCount,
		reason, s.ID, model.SessionStatusSubmitted, model.SessionStatusTerminated)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
