// Package progress persists in-flight exam session state across two tiers:
// a Redis record rewritten wholesale on every save (fast, survives reloads)
// and the durable session row in PostgreSQL, flushed asynchronously by the
// progress worker. Redis is written synchronously; the durable flush is
// best-effort and retried by the worker, so an autosave never blocks or
// fails the session event loop.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examdesk/examdesk-backend/internal/config"
	"github.com/examdesk/examdesk-backend/internal/model"
)

// Record is the full progress state of one session, overwritten wholesale on
// each save. Duplicate saves are harmless; the Version stamp orders them.
type Record struct {
	SessionID      string                  `json:"session_id"`
	ExamID         string                  `json:"exam_id"`
	StudentID      int                     `json:"student_id"`
	Mode           model.ExamMode          `json:"mode"`
	Answers        model.AnswerMap         `json:"answers"`
	ElapsedSeconds int                     `json:"elapsed_seconds"`
	CurrentIndex   int                     `json:"current_index"`
	Order          model.PresentationOrder `json:"order"`
	ViolationCount int                     `json:"violation_count"`
	Version        int64                   `json:"version"`
}

// FlushPayload is what the progress worker pops off the persist queue.
type FlushPayload struct {
	SessionID      string          `json:"session_id"`
	ExamID         string          `json:"exam_id"`
	StudentID      int             `json:"student_id"`
	Answers        model.AnswerMap `json:"answers"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	CurrentIndex   int             `json:"current_index"`
	ViolationCount int             `json:"violation_count"`
	Version        int64           `json:"version"`
}

// Store is the two-tier progress store.
type Store struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewStore creates a progress store.
func NewStore(rdb *redis.Client, log zerolog.Logger) *Store {
	return &Store{
		rdb: rdb,
		log: log.With().Str("component", "progress_store").Logger(),
	}
}

// Load reconciles the cached record with the durable session row. The cache
// wins for answers, elapsed time and position only when it was written by the
// same session — a stale record from a different attempt (or another exam
// sharing the student) must never leak in. Returns a record derived from the
// durable row when the cache is empty or mismatched.
func (s *Store) Load(ctx context.Context, examID uuid.UUID, studentID int, durable *model.Session) (*Record, error) {
	rec := &Record{
		SessionID:      durable.ID.String(),
		ExamID:         examID.String(),
		StudentID:      studentID,
		Answers:        durable.Answers.Clone(),
		ElapsedSeconds: durable.ElapsedSeconds,
		Order:          durable.Order,
		ViolationCount: durable.ViolationCount,
	}
	if rec.Answers == nil {
		rec.Answers = model.AnswerMap{}
	}

	raw, err := s.rdb.Get(ctx, config.CacheKey.ProgressKey(examID.String(), studentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return rec, nil
	}
	if err != nil {
		// Cache trouble is not fatal; the durable row still resumes the
		// session, just possibly a little behind.
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Int("student_id", studentID).
			Msg("Progress cache read failed, resuming from durable row")
		return rec, nil
	}

	var cached Record
	if err := json.Unmarshal(raw, &cached); err != nil {
		s.log.Warn().Err(err).Msg("Discarding corrupt progress record")
		return rec, nil
	}

	if cached.SessionID != rec.SessionID {
		s.log.Info().
			Str("cached_session", cached.SessionID).
			Str("durable_session", rec.SessionID).
			Msg("Progress cache belongs to a different session, ignoring")
		return rec, nil
	}

	cached.Order = rec.Order
	if cached.ElapsedSeconds < rec.ElapsedSeconds {
		cached.ElapsedSeconds = rec.ElapsedSeconds
	}
	if cached.ViolationCount < rec.ViolationCount {
		cached.ViolationCount = rec.ViolationCount
	}
	if cached.Answers == nil {
		cached.Answers = model.AnswerMap{}
	}
	return &cached, nil
}

// Save writes the record to Redis synchronously and queues the durable flush.
// Remote-tier failures are logged and swallowed: the cache is the resilience
// backstop and the worker retries the queue.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	key := config.CacheKey.ProgressKey(rec.ExamID, rec.StudentID)
	if err := s.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("cache progress: %w", err)
	}

	flush, _ := json.Marshal(FlushPayload{
		SessionID:      rec.SessionID,
		ExamID:         rec.ExamID,
		StudentID:      rec.StudentID,
		Answers:        rec.Answers,
		ElapsedSeconds: rec.ElapsedSeconds,
		CurrentIndex:   rec.CurrentIndex,
		ViolationCount: rec.ViolationCount,
		Version:        rec.Version,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistProgressQueue, flush).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", rec.SessionID).
			Msg("Durable flush enqueue failed, cache holds latest state")
	}
	return nil
}

// Clear removes the cached record. Called only after a confirmed terminal
// submission; the durable row is closed by the submit transaction.
func (s *Store) Clear(ctx context.Context, examID uuid.UUID, studentID int) error {
	return s.rdb.Del(ctx, config.CacheKey.ProgressKey(examID.String(), studentID)).Err()
}
