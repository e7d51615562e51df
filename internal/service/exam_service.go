package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examdesk/examdesk-backend/internal/config"
	"github.com/examdesk/examdesk-backend/internal/model"
	"github.com/examdesk/examdesk-backend/internal/repository"
	"github.com/examdesk/examdesk-backend/internal/shuffle"
)

// Domain errors
var (
	ErrExamNotPublished = errors.New("exam is not published")
	ErrExamNotAvailable = errors.New("exam is outside its scheduling window")
	ErrNoQuestions      = errors.New("exam has no questions, cannot publish")
)

// ExamService handles exam business logic and the Redis payload cache. The
// cached payload is the published snapshot students work against: questions
// normalized to keyed options, stripped of correctness data.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.examRepo.GetByID(ctx, id)
}

// Publish changes exam status to PUBLISHED and caches the payload + answer
// key in Redis. Once published, later question edits never affect a session
// that already loaded the snapshot.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	if exam.Status == model.ExamStatusArchived {
		return ErrExamNotPublished
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}
	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// RefreshCache re-warms the payload and answer key for an already-published
// exam.
func (s *ExamService) RefreshCache(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusPublished {
		return ErrExamNotPublished
	}
	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}
	s.log.Info().Str("exam_id", examID.String()).Msg("Cache refreshed")
	return nil
}

// WarmExamCache normalizes the exam's questions and loads the student payload
// and answer key from PostgreSQL into Redis. A question whose options cannot
// be normalized fails the whole warm; a half-published exam is worse than an
// unpublished one.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	studentQuestions := make([]model.QuestionForStudent, len(questions))
	answerKey := make(map[string]any, len(questions))
	for i := range questions {
		q := &questions[i]
		sq, err := shuffle.NormalizeQuestion(q)
		if err != nil {
			return fmt.Errorf("normalize question %s: %w", q.ID, err)
		}
		studentQuestions[i] = sq

		keys, err := json.Marshal(q.CorrectKeys)
		if err != nil {
			return fmt.Errorf("marshal answer key: %w", err)
		}
		answerKey[q.ID.String()] = keys
	}

	payload := model.ExamPayload{
		ExamID:           exam.ID,
		Title:            exam.Title,
		Subject:          exam.Subject,
		Mode:             exam.Mode,
		DurationMinutes:  exam.DurationMinutes,
		NotificationText: exam.NotificationText,
		Questions:        studentQuestions,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID.String()), payloadJSON, 0)
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(exam.ID.String()))
	pipe.HSet(ctx, config.CacheKey.ExamAnswerKey(exam.ID.String()), answerKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published exams into Redis on application
// startup, so the first student in never races a lazy warm.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}
	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// Payload returns the published snapshot for a student session, checking
// status and the scheduling window against the exam row first. A cache miss
// on a published exam self-heals by re-warming.
func (s *ExamService) Payload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotPublished
	}
	if !exam.AvailableAt(time.Now()) {
		return nil, ErrExamNotAvailable
	}

	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		s.log.Warn().Str("exam_id", examID.String()).Msg("Payload cache miss, re-warming")
		if err := s.WarmExamCache(ctx, exam); err != nil {
			return nil, err
		}
		data, err = s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
		if err != nil {
			return nil, fmt.Errorf("get payload after warm: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// CachedPayload reads the payload straight from the cache without the status
// and window checks. Grading uses this: a submission at the window boundary
// must still find its snapshot.
func (s *ExamService) CachedPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	if err != nil {
		return nil, fmt.Errorf("get payload: %w", err)
	}
	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// AnswerKey retrieves the cached answer key for grading: question id to the
// set of correct option keys.
func (s *ExamService) AnswerKey(ctx context.Context, examID uuid.UUID) (map[string][]string, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKey(examID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("answer key not cached")
	}

	key := make(map[string][]string, len(raw))
	for qid, encoded := range raw {
		var keys []string
		if err := json.Unmarshal([]byte(encoded), &keys); err != nil {
			return nil, fmt.Errorf("unmarshal answer key for %s: %w", qid, err)
		}
		key[qid] = keys
	}
	return key, nil
}
