package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examdesk/examdesk-backend/internal/config"
	"github.com/examdesk/examdesk-backend/internal/engine"
	"github.com/examdesk/examdesk-backend/internal/model"
	"github.com/examdesk/examdesk-backend/internal/repository"
)

// MonitorEvent is one entry on an exam's proctor feed, published over Redis
// PubSub. The proctor notifier and any live dashboard subscribe to these.
type MonitorEvent struct {
	Type       string    `json:"type"` // violation | terminated | submitted
	ExamID     string    `json:"exam_id"`
	SessionID  string    `json:"session_id"`
	StudentID  int       `json:"student_id"`
	Kind       string    `json:"kind,omitempty"`
	Count      int       `json:"count,omitempty"`
	Score      float64   `json:"score,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SessionService owns the durable side of the session lifecycle: attempt
// validation, the start stamp, grading and finalization, and the violation
// audit trail. It is the engine's SessionStore.
type SessionService struct {
	sessionRepo *repository.SessionRepository
	scorer      Scorer
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessionRepo *repository.SessionRepository,
	scorer Scorer,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		scorer:      scorer,
		rdb:         rdb,
		log:         log.With().Str("component", "session_service").Logger(),
	}
}

// ValidateOrCreate returns the student's session for the exam, creating one
// when absent. A finished strict session fails with ErrAlreadyCompleted; a
// finished practice session is replaced with a fresh attempt.
func (s *SessionService) ValidateOrCreate(ctx context.Context, payload *model.ExamPayload, studentID int) (*model.Session, error) {
	sess, err := s.sessionRepo.GetByExamAndStudent(ctx, payload.ExamID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if sess != nil && sess.Status.Terminal() {
		if payload.Mode == model.ExamModeStrict {
			return nil, engine.ErrAlreadyCompleted
		}
		// Practice attempts are unlimited; the old attempt makes way.
		if err := s.sessionRepo.Delete(ctx, sess.ID); err != nil {
			return nil, fmt.Errorf("reset practice session: %w", err)
		}
		sess = nil
	}

	if sess != nil {
		return sess, nil
	}

	fresh := &model.Session{
		ExamID:    payload.ExamID,
		StudentID: studentID,
		Status:    model.SessionStatusNotStarted,
		Answers:   model.AnswerMap{},
	}
	err = s.sessionRepo.Create(ctx, fresh)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost a create race; the winner's row is ours to use.
		return s.sessionRepo.GetByExamAndStudent(ctx, payload.ExamID, studentID)
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info().
		Str("session_id", fresh.ID.String()).
		Str("exam_id", payload.ExamID.String()).
		Int("student_id", studentID).
		Msg("Session created")
	return fresh, nil
}

// Start stamps the server-side start time and persists the presentation
// order.
func (s *SessionService) Start(ctx context.Context, sessionID uuid.UUID, order model.PresentationOrder) (time.Time, error) {
	startedAt, err := s.sessionRepo.Start(ctx, sessionID, order)
	if err != nil {
		return time.Time{}, fmt.Errorf("start session: %w", err)
	}
	return startedAt, nil
}

// Submit grades and finalizes the session. Idempotent: a session that already
// reached a terminal status returns its stored outcome with AlreadySubmitted
// set instead of being re-graded.
func (s *SessionService) Submit(ctx context.Context, req engine.SubmitRequest) (*engine.SubmitResult, error) {
	score, err := s.scorer.Score(ctx, req.ExamID, req.Answers)
	if err != nil {
		return nil, fmt.Errorf("score session: %w", err)
	}

	status := model.SessionStatusSubmitted
	if req.TerminationReason != "" {
		status = model.SessionStatusTerminated
	}

	closed, err := s.sessionRepo.Finalize(ctx, &model.Session{
		ID:                req.SessionID,
		Status:            status,
		ElapsedSeconds:    req.ElapsedSeconds,
		Answers:           req.Answers,
		ViolationCount:    req.ViolationCount,
		FinalScore:        &score,
		TerminationReason: req.TerminationReason,
	})
	if err != nil {
		return nil, fmt.Errorf("finalize session: %w", err)
	}
	if !closed {
		stored, err := s.sessionRepo.GetByID(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("read finalized session: %w", err)
		}
		res := &engine.SubmitResult{Status: stored.Status, AlreadySubmitted: true}
		if stored.FinalScore != nil {
			res.Score = *stored.FinalScore
		}
		return res, nil
	}

	eventType := "submitted"
	if status == model.SessionStatusTerminated {
		eventType = "terminated"
	}
	s.publishMonitorEvent(ctx, MonitorEvent{
		Type:       eventType,
		ExamID:     req.ExamID.String(),
		SessionID:  req.SessionID.String(),
		StudentID:  req.StudentID,
		Score:      score,
		Reason:     req.TerminationReason,
		RecordedAt: time.Now(),
	})

	s.log.Info().
		Str("session_id", req.SessionID.String()).
		Str("status", string(status)).
		Float64("score", score).
		Msg("Session finalized")
	return &engine.SubmitResult{Status: status, Score: score}, nil
}

// RecordViolation queues the incident for the violation worker and feeds the
// proctor monitor channel. Best-effort: the session never blocks or fails on
// audit-trail trouble.
func (s *SessionService) RecordViolation(ctx context.Context, ev model.ViolationEvent, terminated bool) {
	raw, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Marshal violation event")
		return
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, raw).Err(); err != nil {
		s.log.Warn().Err(err).
			Str("session_id", ev.SessionID.String()).
			Msg("Violation enqueue failed")
	}

	s.publishMonitorEvent(ctx, MonitorEvent{
		Type:       "violation",
		ExamID:     ev.ExamID.String(),
		SessionID:  ev.SessionID.String(),
		StudentID:  ev.StudentID,
		Kind:       string(ev.Kind),
		Count:      ev.Count,
		RecordedAt: ev.RecordedAt,
	})
}

// GetResult returns the finished session for the result screen. Sessions that
// are not terminal yet come back as ErrNotFinished.
var ErrNotFinished = errors.New("session is not finished")

func (s *SessionService) GetResult(ctx context.Context, examID uuid.UUID, studentID int) (*model.Session, error) {
	sess, err := s.sessionRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.Terminal() {
		return nil, ErrNotFinished
	}
	return sess, nil
}

// GetSession returns the raw session row for the state endpoint.
func (s *SessionService) GetSession(ctx context.Context, examID uuid.UUID, studentID int) (*model.Session, error) {
	return s.sessionRepo.GetByExamAndStudent(ctx, examID, studentID)
}

func (s *SessionService) publishMonitorEvent(ctx context.Context, ev MonitorEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID), raw).Err(); err != nil {
		s.log.Debug().Err(err).Msg("Monitor publish failed")
	}
}
